package version

import "fmt"

// Overridden at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

// String renders the full version line.
func String() string {
	return fmt.Sprintf("indexheat %s (%s)", Version, Commit)
}
