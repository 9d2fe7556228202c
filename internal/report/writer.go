package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// ErrResourceBusy means the report file is held open by another program
var ErrResourceBusy = errors.New("report file is busy")

const reportMode = 0o644

// WriteFile saves the workbook at path, replacing any previous report.
// The previous file is left untouched when the write fails.
func WriteFile(f *excelize.File, path string) error {
	if lock, ok := lockFileFor(path); ok {
		return busyError(path, fmt.Errorf("lock file %s exists", lock))
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.xlsx")
	if err != nil {
		if isSharingViolation(err) {
			return busyError(path, err)
		}
		return fmt.Errorf("failed to create temporary report: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Chmod(reportMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set report permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		if isBusy(err, path) {
			return busyError(path, err)
		}
		return fmt.Errorf("failed to replace report %s: %w", path, err)
	}
	return nil
}

func busyError(path string, cause error) error {
	return fmt.Errorf("%w: close %s in other programs and try again (%v)", ErrResourceBusy, filepath.Base(path), cause)
}

// lockFileFor finds the marker office suites leave next to an open document
func lockFileFor(path string) (string, bool) {
	dir, name := filepath.Split(path)
	candidates := []string{
		filepath.Join(dir, "~$"+name),
		filepath.Join(dir, ".~lock."+name+"#"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return "", false
}

// isBusy classifies a failed rename over the report. Windows reports an open
// target as access denied, so a permission error counts only when the target
// already exists; an unwritable directory is an ordinary failure.
func isBusy(err error, target string) bool {
	if isSharingViolation(err) {
		return true
	}
	if !errors.Is(err, fs.ErrPermission) {
		return false
	}
	_, statErr := os.Stat(target)
	return statErr == nil
}
