// Package lock implements the single-writer-per-token advisory lock: a
// CAS on an owner field with a TTL heartbeat, backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrHeld is returned when another process currently owns the lock.
var ErrHeld = errors.New("lock: held by another writer")

const keyPrefix = "icrc-indexer:lock:"

// Lock is a Redis-backed advisory lock for one token's coordinator.
type Lock struct {
	client  *redis.Client
	logger  *zap.Logger
	token   string
	ownerID string
	ttl     time.Duration

	cancelHeartbeat context.CancelFunc
}

// New builds a Lock for token, identified by ownerID (typically
// hostname:pid), with the given TTL.
func New(client *redis.Client, logger *zap.Logger, token, ownerID string, ttl time.Duration) *Lock {
	return &Lock{client: client, logger: logger, token: token, ownerID: ownerID, ttl: ttl}
}

func (l *Lock) key() string {
	return keyPrefix + l.token
}

// Acquire attempts to take the lock via SET NX EX. If already held by
// this ownerID (e.g. after a crash and restart with a stable owner
// id), re-acquiring refreshes the TTL. Returns ErrHeld if another
// owner holds it.
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key(), l.ownerID, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock: acquire %s: %w", l.token, err)
	}
	if ok {
		return nil
	}

	current, err := l.client.Get(ctx, l.key()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: read owner %s: %w", l.token, err)
	}
	if current == l.ownerID {
		if err := l.client.Expire(ctx, l.key(), l.ttl).Err(); err != nil {
			return fmt.Errorf("lock: refresh %s: %w", l.token, err)
		}
		return nil
	}
	return fmt.Errorf("%w: token=%s owner=%s", ErrHeld, l.token, current)
}

// StartHeartbeat refreshes the lock's TTL on an interval until the
// context is cancelled or Release is called. Callers must call this
// after a successful Acquire; if the heartbeat ever fails to extend
// the TTL, the coordinator should treat the lock as lost and pause.
func (l *Lock) StartHeartbeat(ctx context.Context) <-chan error {
	heartbeatCtx, cancel := context.WithCancel(ctx)
	l.cancelHeartbeat = cancel
	lost := make(chan error, 1)

	go func() {
		interval := l.ttl / 3
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				current, err := l.client.Get(heartbeatCtx, l.key()).Result()
				if err != nil || current != l.ownerID {
					l.logger.Error("lock heartbeat lost ownership",
						zap.String("token", l.token), zap.Error(err))
					lost <- fmt.Errorf("%w: token=%s", ErrHeld, l.token)
					return
				}
				if err := l.client.Expire(heartbeatCtx, l.key(), l.ttl).Err(); err != nil {
					l.logger.Error("lock heartbeat refresh failed",
						zap.String("token", l.token), zap.Error(err))
					lost <- fmt.Errorf("lock: heartbeat refresh %s: %w", l.token, err)
					return
				}
			}
		}
	}()

	return lost
}

// Release gives up the lock if still held by this owner, and stops
// the heartbeat goroutine.
func (l *Lock) Release(ctx context.Context) error {
	if l.cancelHeartbeat != nil {
		l.cancelHeartbeat()
	}
	current, err := l.client.Get(ctx, l.key()).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock: release read %s: %w", l.token, err)
	}
	if current != l.ownerID {
		return nil
	}
	return l.client.Del(ctx, l.key()).Err()
}
