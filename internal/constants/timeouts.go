package constants

import "time"

const (
	// UpstreamStreamTimeout enforces max duration for streaming requests.
	UpstreamStreamTimeout = 180 * time.Second
	// UpstreamGenerateTimeout enforces max duration for non-stream requests.
	UpstreamGenerateTimeout = 180 * time.Second
	// RefreshConnectTimeout bounds dialing the OAuth token endpoint.
	RefreshConnectTimeout = 5 * time.Second
	// RefreshRequestTimeout bounds a whole token/onboard request.
	RefreshRequestTimeout = 15 * time.Second
	// StorageOpTimeout bounds individual database statements.
	StorageOpTimeout = 5 * time.Second
	// ServerShutdownTimeout bounds graceful HTTP server shutdown.
	ServerShutdownTimeout = 30 * time.Second
	// ServerGracefulWait defines post-shutdown wait window for cleanup.
	ServerGracefulWait = 2 * time.Second
	// OAuthSessionTTL bounds the browser consent round-trip.
	OAuthSessionTTL = 15 * time.Minute
)
