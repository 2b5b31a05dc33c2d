package security

import (
	"fmt"
	"os"
)

// HardenProcess prepares the daemon process for holding typing
// statistics in memory: core dumps are disabled and new files default to
// owner-only permissions. Problems are returned as warnings; none of them
// stop the daemon.
func HardenProcess() []string {
	var warnings []string

	if err := DisableCoreDumps(); err != nil {
		warnings = append(warnings, fmt.Sprintf("core dumps not disabled: %v", err))
	}
	setUmask(0077)

	if os.Geteuid() == 0 {
		warnings = append(warnings, "running as root; membership in the input group is enough to read keyboards")
	}
	return warnings
}

// DisableCoreDumps sets the core file size limit to zero.
func DisableCoreDumps() error {
	return disableCoreDumps()
}

// CoreDumpsEnabled reports whether the core file size limit allows dumps.
func CoreDumpsEnabled() bool {
	return coreDumpsEnabled()
}
