// Package coordinator implements the per-token supervisor that drives
// Init -> Probe -> ArchivePhase -> LivePhase <-> Paused. One
// coordinator task runs per configured token, scheduled on a shared
// bounded pool.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/balance"
	"github.com/icrc-indexer/indexer/internal/ledger"
	"github.com/icrc-indexer/indexer/internal/lock"
	"github.com/icrc-indexer/indexer/internal/model"
	"github.com/icrc-indexer/indexer/internal/store"
	syncpkg "github.com/icrc-indexer/indexer/internal/sync"
)

// State is the coordinator's lifecycle state.
type State string

const (
	StateInit         State = "init"
	StateProbe        State = "probe"
	StateArchivePhase State = "archive_phase"
	StateLivePhase    State = "live_phase"
	StatePaused       State = "paused"
)

// decodeFailureLimit is the number of consecutive failed archive-phase
// passes before the coordinator pauses. Every archive-phase error
// counts, decode or fetch alike; failures are not tracked per index,
// and live-phase ticks do not count.
const decodeFailureLimit = 5

// lockTTL is the advisory lock's heartbeat TTL.
const lockTTL = 15 * time.Second

// Status is the coordinator's externally observable state, useful for
// the (out-of-scope) query service's health surface.
type Status struct {
	Token   string
	State   State
	Cursor  model.Cursor
	FatalErr error
}

// Coordinator supervises sync for a single token.
type Coordinator struct {
	descriptor model.TokenDescriptor
	client     ledger.Client
	store      *store.Store
	lock       *lock.Lock
	logger     *zap.Logger

	archive *syncpkg.ArchiveSyncer
	live    *syncpkg.LedgerSyncer
}

// New builds a Coordinator for one token.
func New(descriptor model.TokenDescriptor, client ledger.Client, st *store.Store, redisClient *redis.Client, logger *zap.Logger) *Coordinator {
	ownerID := processOwnerID()
	l := lock.New(redisClient, logger, descriptor.Symbol, ownerID, lockTTL)
	archiveSyncer := syncpkg.NewArchiveSyncer(client, st, logger)
	liveSyncer := syncpkg.NewLedgerSyncer(client, st, archiveSyncer, logger)

	return &Coordinator{
		descriptor: descriptor,
		client:     client,
		store:      st,
		lock:       l,
		logger:     logger.With(zap.String("token", descriptor.Symbol)),
		archive:    archiveSyncer,
		live:       liveSyncer,
	}
}

func processOwnerID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// Registry is the lock-free token -> Coordinator/Status map an
// external status query can consult.
type Registry struct {
	coordinators *xsync.Map[string, *Coordinator]
	statuses     *xsync.Map[string, Status]
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		coordinators: xsync.NewMap[string, *Coordinator](),
		statuses:     xsync.NewMap[string, Status](),
	}
}

func (r *Registry) register(c *Coordinator) {
	r.coordinators.Store(c.descriptor.Symbol, c)
}

func (r *Registry) setStatus(token string, s Status) {
	r.statuses.Store(token, s)
}

// Status returns the last observed status for token, if known.
func (r *Registry) Status(token string) (Status, bool) {
	return r.statuses.Load(token)
}

// Get returns the coordinator for token, if registered.
func (r *Registry) Get(token string) (*Coordinator, bool) {
	return r.coordinators.Load(token)
}

// Supervisor runs one coordinator task per configured token on a
// shared bounded worker pool.
type Supervisor struct {
	pool     pond.Pool
	registry *Registry
	logger   *zap.Logger
}

// NewSupervisor builds a Supervisor with a pool sized to tokenCount
// (one slot per token, matching "one task per token" exactly rather
// than over- or under-provisioning).
func NewSupervisor(tokenCount int, logger *zap.Logger) *Supervisor {
	if tokenCount < 1 {
		tokenCount = 1
	}
	return &Supervisor{
		pool:     pond.NewPool(tokenCount),
		registry: NewRegistry(),
		logger:   logger,
	}
}

// Registry exposes the supervisor's coordinator registry.
func (sv *Supervisor) Registry() *Registry { return sv.registry }

// Start schedules c's run loop on the shared pool. A fatal error in
// one token's coordinator does not affect others.
func (sv *Supervisor) Start(ctx context.Context, c *Coordinator) {
	sv.registry.register(c)
	sv.pool.Submit(func() {
		c.Run(ctx, sv.registry)
	})
}

// StopAndWait drains the pool, letting in-flight coordinator
// iterations finish their current suspension point.
func (sv *Supervisor) StopAndWait() {
	sv.pool.StopAndWait()
}

// Run executes the Init -> Probe -> ArchivePhase -> LivePhase loop
// for this coordinator's token until ctx is cancelled or a fatal
// error pauses it.
func (c *Coordinator) Run(ctx context.Context, registry *Registry) {
	c.setState(registry, StateInit, model.Cursor{}, nil)

	if err := c.lock.Acquire(ctx); err != nil {
		c.logger.Error("failed to acquire single-writer lock", zap.Error(err))
		c.setState(registry, StatePaused, model.Cursor{}, err)
		return
	}
	lost := c.lock.StartHeartbeat(ctx)
	defer c.lock.Release(context.Background())

	cursor, err := c.init(ctx)
	if err != nil {
		c.logger.Error("init failed", zap.Error(err))
		c.setState(registry, StatePaused, cursor, err)
		return
	}

	state := balance.NewState()
	consecutiveDecodeFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case lockErr := <-lost:
			c.logger.Error("lock lost, pausing", zap.Error(lockErr))
			c.setState(registry, StatePaused, cursor, lockErr)
			return
		default:
		}

		if !cursor.ArchivePhaseComplete {
			c.setState(registry, StateArchivePhase, cursor, nil)
			newCursor, newState, _, err := c.archive.Run(ctx, c.descriptor.Symbol, c.descriptor.CanisterID, cursor, state)
			if err != nil {
				consecutiveDecodeFailures++
				c.logger.Error("archive phase failed", zap.Error(err), zap.Int("consecutive_failures", consecutiveDecodeFailures))
				if consecutiveDecodeFailures >= decodeFailureLimit {
					c.setState(registry, StatePaused, cursor, err)
					return
				}
				continue
			}
			consecutiveDecodeFailures = 0
			cursor, state = newCursor, newState
			continue
		}

		c.setState(registry, StateLivePhase, cursor, nil)
		ticker := time.NewTicker(syncpkg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case lockErr := <-lost:
				c.logger.Error("lock lost, pausing", zap.Error(lockErr))
				c.setState(registry, StatePaused, cursor, lockErr)
				return
			case <-ticker.C:
				newCursor, newState, err := c.live.Tick(ctx, c.descriptor.Symbol, c.descriptor.CanisterID, cursor, state)
				if err != nil {
					c.logger.Error("live tick failed", zap.Error(err))
					continue
				}
				cursor, state = newCursor, newState
				c.setState(registry, StateLivePhase, cursor, nil)
				c.logger.Debug("live tick advanced",
					zap.Int64("last_indexed", cursor.LastIndexed),
					zap.String("supply", state.Supply.Format(c.descriptor.Decimals)))
			}
		}
	}
}

// init ensures decimals are known, indexes exist, and the cursor is
// loaded or created.
func (c *Coordinator) init(ctx context.Context) (model.Cursor, error) {
	if err := c.store.InitializeToken(ctx, c.descriptor.Symbol); err != nil {
		return model.Cursor{}, fmt.Errorf("init %s: %w", c.descriptor.Symbol, err)
	}

	if c.descriptor.Decimals == 0 {
		md, err := c.client.GetMetadata(ctx, c.descriptor.CanisterID)
		if err != nil {
			return model.Cursor{}, fmt.Errorf("init %s: fetch metadata: %w", c.descriptor.Symbol, err)
		}
		c.descriptor.Decimals = md.Decimals
	}

	cursor, err := c.store.GetCursor(ctx, c.descriptor.Symbol)
	if err == store.ErrNotFound {
		cursor = model.Cursor{
			Token:       c.descriptor.Symbol,
			LastIndexed: -1,
			Phase:       model.PhaseArchive,
			UpdatedAt:   time.Now().UnixNano(),
		}
		if err := c.store.SetCursor(ctx, cursor); err != nil {
			return model.Cursor{}, fmt.Errorf("init %s: create cursor: %w", c.descriptor.Symbol, err)
		}
		return cursor, nil
	}
	if err != nil {
		return model.Cursor{}, fmt.Errorf("init %s: load cursor: %w", c.descriptor.Symbol, err)
	}
	return cursor, nil
}

func (c *Coordinator) setState(registry *Registry, state State, cursor model.Cursor, err error) {
	registry.setStatus(c.descriptor.Symbol, Status{Token: c.descriptor.Symbol, State: state, Cursor: cursor, FatalErr: err})
}
