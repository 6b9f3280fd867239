// Package version carries build metadata stamped into model artifacts and
// reported by `impact version`. Values are set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag of the binary that trained or serves a model.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return fmt.Sprintf("impact %s (git %s, built %s)", Version, GitSHA, BuildTime)
}
