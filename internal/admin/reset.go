// Package admin implements operator-triggered maintenance operations
// reachable only via the local CLI.
package admin

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/icrc-indexer/indexer/internal/store"
)

// Reset drops all per-token collections and the sync_status row for
// every symbol in tokens. It does not restart any coordinator; the
// caller is expected to start coordinators fresh afterward, which will
// rebuild from index 0 via Init.
func Reset(ctx context.Context, st *store.Store, logger *zap.Logger, tokens []string) error {
	for _, symbol := range tokens {
		logger.Info("resetting token", zap.String("token", symbol))
		if err := st.Reset(ctx, symbol); err != nil {
			return fmt.Errorf("admin: reset %s: %w", symbol, err)
		}
	}
	return nil
}
