package constants

import "time"

// Retry policy for OAuth token and onboarding calls. Only transport errors
// and upstream 5xx are retried; OAuth server 4xx verdicts are final.
const (
	RefreshMaxAttempts = 3
	RefreshBackoffMin  = 1 * time.Second
	RefreshBackoffMax  = 3 * time.Second
)

// Retry policy for the Code Assist data plane. Responses with any status,
// including 429/401/403, are returned to the caller for classification.
const (
	UpstreamMaxAttempts = 3
	UpstreamBackoffMin  = 1 * time.Second
	UpstreamBackoffMax  = 3 * time.Second
)
