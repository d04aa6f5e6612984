package constants

// Version information (injected at build time via -ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetFullVersion returns the human-readable version line used at startup.
func GetFullVersion() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
