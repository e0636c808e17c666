package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PedroDosS/janode/config"
)

// DialFunc attempts to establish one concrete channel to one address.
type DialFunc func(ctx context.Context, addr config.ServerAddress) error

// OpenWithRetry walks the address pool until a dial succeeds or the retry
// budget is spent. After every failed attempt the pool advances, so the
// next attempt (and the pool position a caller observes afterwards) moves
// circularly through the configured endpoints. At most maxRetries+1
// attempts are made; between attempts the loop waits retryTime.
//
// Cancelling ctx — which adapters do from Close — aborts the loop, so a
// close during the retry wait transitions straight to closed instead of
// leaving a dial pending in the background.
func OpenWithRetry(ctx context.Context, pool *config.AddressPool, maxRetries int, retryTime time.Duration, logger zerolog.Logger, dial DialFunc) error {
	attempts := 0
	for {
		addr := pool.Current()
		err := dial(ctx, addr)
		if err == nil {
			return nil
		}

		attempts++
		pool.Next()
		if attempts >= maxRetries+1 {
			logger.Error().Err(err).Int("attempts", attempts).Msg("giving up opening transport")
			return err
		}

		logger.Warn().Err(err).Str("url", addr.URL).Dur("retry_in", retryTime).Msg("transport open failed, retrying")
		select {
		case <-time.After(retryTime):
		case <-ctx.Done():
			return fmt.Errorf("transport closed during retry: %w", ctx.Err())
		}
	}
}
