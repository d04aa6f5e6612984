package constants

const (
	// SSEScannerInitialBufferSize defines the initial buffer for SSE scanners (64KB).
	SSEScannerInitialBufferSize = 64 * 1024
	// SSEScannerMaxBufferSize defines the max buffer size for SSE scanners (4MB).
	SSEScannerMaxBufferSize = 4 * 1024 * 1024
	// MaxRequestBodyBytes caps proxied request bodies (30 MiB).
	MaxRequestBodyBytes = 30 * 1024 * 1024
)
