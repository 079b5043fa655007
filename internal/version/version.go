package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags "-X github.com/memohai/expander/internal/version.Version=v1.0.0".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetInfo returns a one-line build description.
func GetInfo() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
