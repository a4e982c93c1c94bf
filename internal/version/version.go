// Package version exposes build metadata injected via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent identifies the bot in outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("pastel-deals/%s", Version)
}
