// Package version provides build version information for surveychat.
// These variables are set at build time via ldflags.
// Example: go build -ldflags "-X surveychat/pkg/version.Version=v1.2.3".
package version

import "fmt"

//nolint:gochecknoglobals // These must be package-level vars for ldflags injection.
var (
	// Version is the semantic version ("dev" for development builds).
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the build date in ISO format.
	Date = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("surveychat %s (commit %s, built %s)", Version, Commit, Date)
}
