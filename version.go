package cognigate

// Version information for the Cognigate runtime.
const (
	// Version is the current runtime version.
	Version = "development"

	// BuildDate is set during build time.
	BuildDate = "development"

	// GitCommit is set during build time.
	GitCommit = "unknown"
)
