package oauth

import (
	"context"
	"math"
	"math/rand"
	"time"

	"pollux-go/internal/constants"
	apperrors "pollux-go/internal/errors"
)

func nextBackoff(attempt int) time.Duration {
	base := float64(constants.RefreshBackoffMin)
	max := float64(constants.RefreshBackoffMax)
	dur := base * math.Pow(2, float64(attempt))
	if dur > max {
		dur = max
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(dur * jitter)
}

// withRetry runs fn up to RefreshMaxAttempts times, backing off between
// attempts. Only retryable failures (transport, 5xx) loop; OAuth server
// verdicts return immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < constants.RefreshMaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			return err
		}
		if attempt == constants.RefreshMaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(nextBackoff(attempt)):
		}
	}
	return err
}
