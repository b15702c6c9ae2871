// Package version holds build-time version information for the server.
package version

import (
	"fmt"
	"os"
)

// Version is the semantic version of the running binary. Overridden at
// build time via -ldflags "-X .../internal/version.Version=...".
var Version = "0.0.0-dev"

// BuildNumber is appended to Version when ORD_INCLUDE_BUILD_NUMBER is set,
// overridden the same way as Version.
var BuildNumber = ""

// String returns the version string, including the build number when the
// ORD_INCLUDE_BUILD_NUMBER environment variable is truthy.
func String() string {
	if BuildNumber == "" {
		return Version
	}
	if v := os.Getenv("ORD_INCLUDE_BUILD_NUMBER"); v == "1" || v == "true" {
		return fmt.Sprintf("%s+%s", Version, BuildNumber)
	}
	return Version
}
