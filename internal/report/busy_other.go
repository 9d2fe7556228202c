//go:build !windows

package report

// Only Windows enforces exclusive opens; elsewhere a busy file shows up as a
// permission error or an office lock file.
func isSharingViolation(error) bool {
	return false
}
