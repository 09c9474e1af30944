package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/retry"
)

// callTimeout is the hard per-call timeout; exceeding it counts as one
// retry attempt.
const callTimeout = 60 * time.Second

// HTTPClient talks to the IC's canister HTTP gateway. It wraps every
// request in a token-bucket limiter and a per-endpoint circuit
// breaker, tuned for a single base URL (one IC boundary node).
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	mu               sync.Mutex
	failures         int
	openedUntil      time.Time
	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts configures an HTTPClient.
type Opts struct {
	BaseURL         string
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
}

// NewHTTPClient builds an HTTPClient against the IC URL from config.
func NewHTTPClient(o Opts, logger *zap.Logger) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: callTimeout}
	}

	c := &HTTPClient{
		baseURL:          o.BaseURL,
		client:           client,
		logger:           logger,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

func (c *HTTPClient) acquire() {
	for {
		c.refill()
		if atomic.LoadInt64(&c.tokens) > 0 {
			atomic.AddInt64(&c.tokens, -1)
			return
		}
		time.Sleep(c.refillEvery / 2)
	}
}

func (c *HTTPClient) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openedUntil.IsZero() {
		return false
	}
	if time.Now().After(c.openedUntil) {
		c.openedUntil = time.Time{}
		c.failures = 0
		return false
	}
	return true
}

func (c *HTTPClient) noteFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.breakerThreshold {
		c.openedUntil = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.openedUntil = time.Time{}
}

// call performs one request/decode, honoring the circuit breaker and
// token bucket. It does not retry; retries are layered on top by the
// Client methods using the shared backoff policy.
func (c *HTTPClient) call(ctx context.Context, path string, payload, out any) error {
	if c.isOpen() {
		return fmt.Errorf("ledger: circuit open for %s", c.baseURL)
	}
	c.acquire()

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ledger: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.noteFailure()
		return fmt.Errorf("ledger: request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 500 {
		c.noteFailure()
		return fmt.Errorf("ledger: server error %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ledger: http %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ledger: decode response: %w", err)
		}
	}

	c.noteSuccess()
	return nil
}

func drainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

func (c *HTTPClient) withRetry(ctx context.Context, operation string, fn func() error) error {
	cfg := retry.LedgerDefaults()
	if err := retry.WithBackoff(ctx, cfg, c.logger, operation, fn); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type listArchivesResponse struct {
	Archives []struct {
		CanisterID string `json:"canister_id"`
		From       uint64 `json:"from"`
		To         uint64 `json:"to"`
	} `json:"archives"`
}

func (c *HTTPClient) ListArchives(ctx context.Context, canisterID string) ([]ArchiveDescriptor, error) {
	var resp listArchivesResponse
	err := c.withRetry(ctx, "list_archives", func() error {
		return c.call(ctx, "/canister/"+canisterID+"/archives", nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	out := make([]ArchiveDescriptor, 0, len(resp.Archives))
	for _, a := range resp.Archives {
		out = append(out, ArchiveDescriptor{CanisterID: a.CanisterID, From: a.From, To: a.To})
	}
	return out, nil
}

type getTransactionsRequest struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
}

type getTransactionsResponse struct {
	Transactions   []json.RawMessage `json:"transactions"`
	ArchivedRanges []struct {
		CallbackCanisterID string `json:"canister_id"`
		Start              uint64 `json:"start"`
		Length             uint64 `json:"length"`
	} `json:"archived_transactions"`
}

func (c *HTTPClient) GetTransactions(ctx context.Context, canisterID string, from, length uint64) (TransactionsResponse, error) {
	if length > BatchMax {
		length = BatchMax
	}
	var resp getTransactionsResponse
	err := c.withRetry(ctx, "get_transactions", func() error {
		return c.call(ctx, "/canister/"+canisterID+"/get_transactions",
			getTransactionsRequest{Start: from, Length: length}, &resp)
	})
	if err != nil {
		return TransactionsResponse{}, err
	}

	ranges := make([]ArchivedRange, 0, len(resp.ArchivedRanges))
	for _, r := range resp.ArchivedRanges {
		ranges = append(ranges, ArchivedRange{CanisterID: r.CallbackCanisterID, From: r.Start, Length: r.Length})
	}
	return TransactionsResponse{Transactions: resp.Transactions, ArchivedRanges: ranges}, nil
}

type getMetadataResponse struct {
	Decimals    uint8  `json:"decimals"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	TotalSupply string `json:"total_supply"`
}

func (c *HTTPClient) GetMetadata(ctx context.Context, canisterID string) (Metadata, error) {
	var resp getMetadataResponse
	err := c.withRetry(ctx, "get_metadata", func() error {
		return c.call(ctx, "/canister/"+canisterID+"/metadata", nil, &resp)
	})
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Decimals: resp.Decimals, Symbol: resp.Symbol, Name: resp.Name, TotalSupply: resp.TotalSupply}, nil
}

type getTipResponse struct {
	Length uint64 `json:"length"`
}

func (c *HTTPClient) GetTipLength(ctx context.Context, canisterID string) (uint64, error) {
	var resp getTipResponse
	err := c.withRetry(ctx, "get_tip_length", func() error {
		return c.call(ctx, "/canister/"+canisterID+"/tip", nil, &resp)
	})
	if err != nil {
		return 0, err
	}
	return resp.Length, nil
}
