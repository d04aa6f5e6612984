package constants

import "time"

// Credential pool scheduling parameters.
const (
	// ExpirySkew is subtracted from a token's expiry when deciding whether
	// an access token is still usable at assignment time.
	ExpirySkew = 30 * time.Second
	// DefaultRateLimitCooldown applies when a 429 carries no usable
	// quotaResetTimeStamp.
	DefaultRateLimitCooldown = 60 * time.Second
)

// Refresh pipeline sizing.
const (
	// RefreshQueueCapacity caps pending refresh jobs; enqueue past this
	// fails fast instead of blocking the coordinator.
	RefreshQueueCapacity = 1000
	// RefreshRateInterval spaces token-endpoint calls (10 per minute).
	RefreshRateInterval = 6 * time.Second
	// RefreshRateBurst allows a cold pipeline to serve the first jobs
	// without waiting out the interval.
	RefreshRateBurst = 10
	// MinRefreshConcurrency floors the configured worker count.
	MinRefreshConcurrency = 1
)

// CoordinatorMailboxSize buffers messages to the coordinator goroutine.
const CoordinatorMailboxSize = 1024
