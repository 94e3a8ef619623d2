// Package results models the on-disk contract between pipeline stages: one
// tabular result file per micrograph, named <stem><suffix>. Stages join their
// inputs by filename stem, so derivation must stay deterministic.
package results

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Stage-specific result suffixes. The match and refine values are part of the
// engine's output contract; constrained output naming follows the same shape.
const (
	MatchSuffix       = "_results.csv"
	RefineSuffix      = "_refined_results.csv"
	ConstrainedSuffix = "_constrained_results.csv"
)

// DefaultPattern selects dose-weighted micrographs, matching the engine's
// own default.
const DefaultPattern = "*DWS.mrc"

// Stem returns the micrograph identity for a file path: the base name with
// its extension removed.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ResultPath derives the result file path for a micrograph stem inside dir.
func ResultPath(dir, stem, suffix string) string {
	return filepath.Join(dir, stem+suffix)
}

// Stems enumerates micrograph stems in dir matching the glob pattern, sorted
// for stable ordering across runs.
func Stems(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("results: bad pattern %q: %w", pattern, err)
	}
	stems := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		stems = append(stems, Stem(m))
	}
	sort.Strings(stems)
	return stems, nil
}

// Completed reports which of the given stems already have a result file with
// the expected suffix inside dir.
func Completed(dir string, stems []string, suffix string) []string {
	var done []string
	for _, stem := range stems {
		if _, err := os.Stat(ResultPath(dir, stem, suffix)); err == nil {
			done = append(done, stem)
		}
	}
	return done
}

// Missing is the complement of Completed.
func Missing(dir string, stems []string, suffix string) []string {
	var missing []string
	for _, stem := range stems {
		if _, err := os.Stat(ResultPath(dir, stem, suffix)); err != nil {
			missing = append(missing, stem)
		}
	}
	return missing
}

// CountWithSuffix counts regular files in dir carrying the suffix. A missing
// directory counts as zero; stages create their output directories lazily.
func CountWithSuffix(dir, suffix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("results: read %s: %w", dir, err)
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), suffix) {
			n++
		}
	}
	return n, nil
}

// HasSuffixFiles reports whether dir contains at least one file with the
// suffix. Used by stage preflight to enforce that a prior stage's results are
// actually present before the engine starts.
func HasSuffixFiles(dir, suffix string) (bool, error) {
	n, err := CountWithSuffix(dir, suffix)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
