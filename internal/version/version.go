package version

// Set at build time via ldflags.
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"
	// Commit is the git commit hash
	Commit = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns a formatted version string
func GetFullVersion() string {
	return Version + " (commit: " + Commit + ")"
}
