// Package stage models the three pipeline stages as parameter sets with a
// stable command-line contract. Each stage is one delegated engine run; the
// flag names rendered by Args are forwarded verbatim and must not drift.
package stage

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/matchflow-dev/matchflow/internal/results"
)

// Name identifies a pipeline stage.
type Name string

const (
	Match       Name = "match"
	Refine      Name = "refine"
	Constrained Name = "constrained"
)

// Order is the canonical stage sequence. The pipeline never reorders it.
var Order = []Name{Match, Refine, Constrained}

// Engine defaults, matching the external scripts' own argparse defaults.
const (
	DefaultMatchBatch       = 8
	DefaultRefineBatch      = 64
	DefaultConstrainedBatch = 80
	DefaultFalsePositives   = 0.005
)

// ParseName validates a stage name string.
func ParseName(s string) (Name, error) {
	switch Name(strings.TrimSpace(strings.ToLower(s))) {
	case Match:
		return Match, nil
	case Refine:
		return Refine, nil
	case Constrained:
		return Constrained, nil
	}
	return "", fmt.Errorf("stage: unknown stage %q", s)
}

// ParseNames parses a comma-separated stage selection, preserving canonical
// order regardless of how the user wrote it.
func ParseNames(s string) ([]Name, error) {
	if strings.TrimSpace(s) == "" {
		return append([]Name(nil), Order...), nil
	}
	wanted := map[Name]bool{}
	for _, part := range strings.Split(s, ",") {
		name, err := ParseName(part)
		if err != nil {
			return nil, err
		}
		wanted[name] = true
	}
	var names []Name
	for _, name := range Order {
		if wanted[name] {
			names = append(names, name)
		}
	}
	return names, nil
}

// Params is implemented by each stage's parameter set.
type Params interface {
	Stage() Name
	// Validate checks value constraints without touching the filesystem.
	Validate() error
	// Preflight checks filesystem preconditions and creates the output
	// directory. It must fail before any engine invocation can happen.
	Preflight() error
	// Args renders the engine command line. Every declared input is
	// forwarded unmodified.
	Args() []string
	OutputDir() string
	// ResultSuffix is the suffix the stage's result files carry, used for
	// progress accounting.
	ResultSuffix() string
}

// Slice carries the optional work-partitioning parameters the engine accepts
// for SLURM array jobs. Negative values mean unset and are not forwarded.
type Slice struct {
	StartIdx     int
	EndIdx       int
	JobIdx       int
	JobsPerArray int
}

// NoSlice is the unset slice.
func NoSlice() Slice {
	return Slice{StartIdx: -1, EndIdx: -1, JobIdx: -1, JobsPerArray: -1}
}

func (s Slice) args() []string {
	var args []string
	if s.StartIdx >= 0 {
		args = append(args, "--start-idx", strconv.Itoa(s.StartIdx))
	}
	if s.EndIdx >= 0 {
		args = append(args, "--end-idx", strconv.Itoa(s.EndIdx))
	}
	if s.JobIdx >= 0 {
		args = append(args, "--job-idx", strconv.Itoa(s.JobIdx))
	}
	if s.JobsPerArray >= 0 {
		args = append(args, "--jobs-per-array", strconv.Itoa(s.JobsPerArray))
	}
	return args
}

func (s Slice) validate() error {
	if (s.JobIdx >= 0) != (s.JobsPerArray >= 0) {
		return fmt.Errorf("stage: job-idx and jobs-per-array must be set together")
	}
	return nil
}

// Common holds the parameters every stage shares.
type Common struct {
	MicrographsDir string
	TemplateYAML   string
	Output         string
	GPUs           string
	BatchSize      int
	Pattern        string
	Slice          Slice
}

func (c Common) validate(stage Name) error {
	if c.MicrographsDir == "" {
		return fmt.Errorf("stage %s: micrographs dir is required", stage)
	}
	if c.TemplateYAML == "" {
		return fmt.Errorf("stage %s: template yaml is required", stage)
	}
	if c.Output == "" {
		return fmt.Errorf("stage %s: output dir is required", stage)
	}
	if strings.TrimSpace(c.GPUs) == "" {
		return fmt.Errorf("stage %s: gpu device list is required", stage)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("stage %s: batch size must be a positive integer, got %d", stage, c.BatchSize)
	}
	return c.Slice.validate()
}

// MatchParams drives the first-pass template match over a micrograph
// directory.
type MatchParams struct {
	Common
	CTFsDir string
}

func (p MatchParams) Stage() Name          { return Match }
func (p MatchParams) OutputDir() string    { return p.Output }
func (p MatchParams) ResultSuffix() string { return results.MatchSuffix }

func (p MatchParams) Validate() error {
	if err := p.Common.validate(Match); err != nil {
		return err
	}
	if p.CTFsDir == "" {
		return fmt.Errorf("stage match: ctfs dir is required")
	}
	return nil
}

func (p MatchParams) Preflight() error {
	if err := checkMicrographs(p.MicrographsDir, p.Pattern); err != nil {
		return err
	}
	if err := checkInputFile(p.TemplateYAML, "template yaml"); err != nil {
		return err
	}
	if err := checkInputDir(p.CTFsDir, "ctfs dir"); err != nil {
		return err
	}
	return EnsureOutputDir(p.Output)
}

func (p MatchParams) Args() []string {
	args := []string{
		"--micrographs-dir", p.MicrographsDir,
		"--template-yaml", p.TemplateYAML,
		"--ctfs-dir", p.CTFsDir,
		"--output-dir", p.Output,
		"--gpus", p.GPUs,
		"--batch-size", strconv.Itoa(p.BatchSize),
	}
	if p.Pattern != "" {
		args = append(args, "--pattern", p.Pattern)
	}
	return append(args, p.Slice.args()...)
}

// RefineParams drives local refinement of first-pass match results.
type RefineParams struct {
	Common
	MatchResultsDir string
	TemplateVolume  string
	ResultsSuffix   string
	FilterNumbers   string
}

func (p RefineParams) Stage() Name          { return Refine }
func (p RefineParams) OutputDir() string    { return p.Output }
func (p RefineParams) ResultSuffix() string { return results.RefineSuffix }

func (p RefineParams) Validate() error {
	if err := p.Common.validate(Refine); err != nil {
		return err
	}
	if p.MatchResultsDir == "" {
		return fmt.Errorf("stage refine: match results dir is required")
	}
	if p.TemplateVolume == "" {
		return fmt.Errorf("stage refine: template volume is required")
	}
	if p.ResultsSuffix == "" {
		return fmt.Errorf("stage refine: results suffix is required")
	}
	return nil
}

func (p RefineParams) Preflight() error {
	if err := checkMicrographs(p.MicrographsDir, p.Pattern); err != nil {
		return err
	}
	if err := checkInputFile(p.TemplateYAML, "template yaml"); err != nil {
		return err
	}
	if err := checkInputFile(p.TemplateVolume, "template volume"); err != nil {
		return err
	}
	if err := checkPriorResults(p.MatchResultsDir, p.ResultsSuffix, "match results"); err != nil {
		return err
	}
	return EnsureOutputDir(p.Output)
}

func (p RefineParams) Args() []string {
	args := []string{
		"--micrographs-dir", p.MicrographsDir,
		"--template-yaml", p.TemplateYAML,
		"--match-results-dir", p.MatchResultsDir,
		"--template-volume", p.TemplateVolume,
		"--output-dir", p.Output,
		"--results-suffix", p.ResultsSuffix,
		"--gpus", p.GPUs,
		"--batch-size", strconv.Itoa(p.BatchSize),
	}
	if p.Pattern != "" {
		args = append(args, "--pattern", p.Pattern)
	}
	args = append(args, p.Slice.args()...)
	if p.FilterNumbers != "" {
		args = append(args, "--filter-numbers", p.FilterNumbers)
	}
	return args
}

// ConstrainedParams drives the constrained search over refined large-particle
// results and first-pass small-particle results, filtered by an acceptance
// threshold expressed as a false-positive rate.
type ConstrainedParams struct {
	Common
	LargeResultsDir string
	SmallResultsDir string
	TemplateVolume  string
	LargeSuffix     string
	SmallSuffix     string
	FalsePositives  float64
	FilterNumbers   string
	ErrorLog        string
}

func (p ConstrainedParams) Stage() Name          { return Constrained }
func (p ConstrainedParams) OutputDir() string    { return p.Output }
func (p ConstrainedParams) ResultSuffix() string { return results.ConstrainedSuffix }

func (p ConstrainedParams) Validate() error {
	if err := p.Common.validate(Constrained); err != nil {
		return err
	}
	if p.LargeResultsDir == "" {
		return fmt.Errorf("stage constrained: large results dir is required")
	}
	if p.SmallResultsDir == "" {
		return fmt.Errorf("stage constrained: small results dir is required")
	}
	if p.TemplateVolume == "" {
		return fmt.Errorf("stage constrained: template volume is required")
	}
	if p.LargeSuffix == "" || p.SmallSuffix == "" {
		return fmt.Errorf("stage constrained: result suffixes are required")
	}
	if p.FalsePositives <= 0 || p.FalsePositives >= 1 {
		return fmt.Errorf("stage constrained: false-positive rate must be in (0,1), got %g", p.FalsePositives)
	}
	return nil
}

func (p ConstrainedParams) Preflight() error {
	if err := checkMicrographs(p.MicrographsDir, p.Pattern); err != nil {
		return err
	}
	if err := checkInputFile(p.TemplateYAML, "template yaml"); err != nil {
		return err
	}
	if err := checkInputFile(p.TemplateVolume, "template volume"); err != nil {
		return err
	}
	if err := checkPriorResults(p.LargeResultsDir, p.LargeSuffix, "large particle results"); err != nil {
		return err
	}
	if err := checkPriorResults(p.SmallResultsDir, p.SmallSuffix, "small particle results"); err != nil {
		return err
	}
	return EnsureOutputDir(p.Output)
}

func (p ConstrainedParams) Args() []string {
	args := []string{
		"--micrographs-dir", p.MicrographsDir,
		"--template-yaml", p.TemplateYAML,
		"--large-results-dir", p.LargeResultsDir,
		"--small-results-dir", p.SmallResultsDir,
		"--template-volume", p.TemplateVolume,
		"--output-dir", p.Output,
		"--large-suffix", p.LargeSuffix,
		"--small-suffix", p.SmallSuffix,
		"--gpus", p.GPUs,
		"--batch-size", strconv.Itoa(p.BatchSize),
		"--false-positives", strconv.FormatFloat(p.FalsePositives, 'g', -1, 64),
	}
	if p.Pattern != "" {
		args = append(args, "--pattern", p.Pattern)
	}
	args = append(args, p.Slice.args()...)
	if p.FilterNumbers != "" {
		args = append(args, "--filter-numbers", p.FilterNumbers)
	}
	if p.ErrorLog != "" {
		args = append(args, "--error-log", p.ErrorLog)
	}
	return args
}

// Factory builds a stage's parameter set on demand, typically from loaded
// pipeline configuration.
type Factory func() (Params, error)

// Registry maps stage names to factories so callers can resolve an ordered
// subset of the pipeline without hard-wiring stage construction.
type Registry struct {
	mu        sync.RWMutex
	factories map[Name]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[Name]Factory{}}
}

// Register installs a factory. Duplicate registration is an error.
func (r *Registry) Register(name Name, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("stage: factory is required for %s", name)
	}
	if _, err := ParseName(string(name)); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("stage: %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(name Name, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs and validates a stage's parameters by name.
func (r *Registry) Resolve(name Name) (Params, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stage: %s not registered", name)
	}
	params, err := factory()
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// Names returns the registered stage names in canonical order.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []Name
	for _, name := range Order {
		if _, ok := r.factories[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
