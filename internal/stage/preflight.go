package stage

import (
	"fmt"
	"os"

	"github.com/matchflow-dev/matchflow/internal/results"
)

// MissingInputError reports an absent or empty stage input. It is fatal and
// must be raised before the engine is invoked.
type MissingInputError struct {
	Path   string
	Reason string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("stage: missing input %s: %s", e.Path, e.Reason)
}

// EnsureOutputDir creates the stage output directory. Creation is idempotent:
// a pre-existing directory is not an error.
func EnsureOutputDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("stage: output dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stage: create output dir %s: %w", dir, err)
	}
	return nil
}

func checkInputDir(dir, label string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &MissingInputError{Path: dir, Reason: label + " directory is not readable"}
	}
	if len(entries) == 0 {
		return &MissingInputError{Path: dir, Reason: label + " directory is empty"}
	}
	return nil
}

func checkInputFile(path, label string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &MissingInputError{Path: path, Reason: label + " does not exist"}
	}
	if info.IsDir() {
		return &MissingInputError{Path: path, Reason: label + " is a directory, expected a file"}
	}
	return nil
}

// checkMicrographs requires at least one micrograph matching the pattern.
// An existing but empty directory is just as fatal as a missing one.
func checkMicrographs(dir, pattern string) error {
	if _, err := os.Stat(dir); err != nil {
		return &MissingInputError{Path: dir, Reason: "micrographs directory does not exist"}
	}
	stems, err := results.Stems(dir, pattern)
	if err != nil {
		return err
	}
	if len(stems) == 0 {
		if pattern == "" {
			pattern = results.DefaultPattern
		}
		return &MissingInputError{Path: dir, Reason: fmt.Sprintf("no micrographs match pattern %q", pattern)}
	}
	return nil
}

// checkPriorResults enforces the stage-ordering invariant: a consuming stage
// only starts if its prior-result directory holds files with the suffix the
// producing stage declared.
func checkPriorResults(dir, suffix, label string) error {
	if _, err := os.Stat(dir); err != nil {
		return &MissingInputError{Path: dir, Reason: label + " directory does not exist"}
	}
	ok, err := results.HasSuffixFiles(dir, suffix)
	if err != nil {
		return err
	}
	if !ok {
		return &MissingInputError{
			Path:   dir,
			Reason: fmt.Sprintf("%s directory has no files with suffix %q", label, suffix),
		}
	}
	return nil
}
