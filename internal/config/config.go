// Package config handles pipeline configuration and the .matchflow workspace
// directory. Every project driven by matchflow gets a .matchflow/ folder
// holding logs and persisted run state.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matchflow-dev/matchflow/internal/results"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

const (
	// WorkDirName is the per-project workspace directory.
	WorkDirName = ".matchflow"

	// ConfigFileName is the default pipeline configuration file.
	ConfigFileName = "pipeline.yaml"
)

// Engine script defaults, matching the external package's layout.
const (
	defaultMatchScript       = "process_all_micrographs.py"
	defaultRefineScript      = "process_all_micrographs_refine.py"
	defaultConstrainedScript = "process_all_micrographs_constrained.py"
)

const defaultPipelineYAML = `# matchflow pipeline configuration
version: 1

environment:
  # conda environment holding the template-matching package
  name: leopard-em
  conda: conda

engine:
  python: python
  # directory containing the processing entry points
  scripts_dir: /path/to/python_scripts

# shared inputs
micrographs_dir: /path/to/micrographs
pattern: "*DWS.mrc"
gpus: "0,1,2,3,4,5,6,7"

stages:
  match:
    template_yaml: configs/match.yaml
    ctfs_dir: /path/to/ctfs
    output_dir: results/match
    batch_size: 8
  refine:
    template_yaml: configs/refine.yaml
    template_volume: templates/large.mrc
    match_results_dir: results/match
    output_dir: results/refine
    batch_size: 64
  constrained:
    template_yaml: configs/constrained.yaml
    template_volume: templates/small.mrc
    large_results_dir: results/refine
    small_results_dir: results/match_small
    output_dir: results/constrained
    batch_size: 80
    false_positives: 0.005
`

// EnvironmentConfig names the conda environment stages must run inside.
type EnvironmentConfig struct {
	Name  string `yaml:"name"`
	Conda string `yaml:"conda,omitempty"`
}

// EngineConfig locates the external processing entry points.
type EngineConfig struct {
	Python            string `yaml:"python,omitempty"`
	ScriptsDir        string `yaml:"scripts_dir"`
	MatchScript       string `yaml:"match_script,omitempty"`
	RefineScript      string `yaml:"refine_script,omitempty"`
	ConstrainedScript string `yaml:"constrained_script,omitempty"`
}

// MatchStageConfig models stages.match.
type MatchStageConfig struct {
	TemplateYAML string `yaml:"template_yaml"`
	CTFsDir      string `yaml:"ctfs_dir"`
	OutputDir    string `yaml:"output_dir"`
	BatchSize    int    `yaml:"batch_size,omitempty"`
}

// RefineStageConfig models stages.refine.
type RefineStageConfig struct {
	TemplateYAML    string `yaml:"template_yaml"`
	TemplateVolume  string `yaml:"template_volume"`
	MatchResultsDir string `yaml:"match_results_dir"`
	OutputDir       string `yaml:"output_dir"`
	BatchSize       int    `yaml:"batch_size,omitempty"`
	ResultsSuffix   string `yaml:"results_suffix,omitempty"`
}

// ConstrainedStageConfig models stages.constrained.
type ConstrainedStageConfig struct {
	TemplateYAML    string  `yaml:"template_yaml"`
	TemplateVolume  string  `yaml:"template_volume"`
	LargeResultsDir string  `yaml:"large_results_dir"`
	SmallResultsDir string  `yaml:"small_results_dir"`
	OutputDir       string  `yaml:"output_dir"`
	BatchSize       int     `yaml:"batch_size,omitempty"`
	FalsePositives  float64 `yaml:"false_positives,omitempty"`
	LargeSuffix     string  `yaml:"large_suffix,omitempty"`
	SmallSuffix     string  `yaml:"small_suffix,omitempty"`
	ErrorLog        string  `yaml:"error_log,omitempty"`
}

// StagesConfig groups the per-stage blocks.
type StagesConfig struct {
	Match       MatchStageConfig       `yaml:"match"`
	Refine      RefineStageConfig      `yaml:"refine"`
	Constrained ConstrainedStageConfig `yaml:"constrained"`
}

// PipelineConfig models pipeline.yaml.
type PipelineConfig struct {
	Version        int               `yaml:"version"`
	Environment    EnvironmentConfig `yaml:"environment"`
	Engine         EngineConfig      `yaml:"engine"`
	MicrographsDir string            `yaml:"micrographs_dir"`
	Pattern        string            `yaml:"pattern,omitempty"`
	GPUs           string            `yaml:"gpus,omitempty"`
	Stages         StagesConfig      `yaml:"stages"`
}

// InitWorkdir creates the .matchflow workspace structure in projectDir and
// seeds a template pipeline.yaml when none exists. It is idempotent.
//
// Structure created:
// .matchflow/
// ├── logs/    <- run logs, one append-only file
// └── state/   <- persisted run ledger
func InitWorkdir(projectDir string) error {
	workDir := filepath.Join(projectDir, WorkDirName)
	for _, dir := range []string{
		filepath.Join(workDir, "logs"),
		filepath.Join(workDir, "state"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensurePipelineConfig(filepath.Join(workDir, ConfigFileName))
}

func ensurePipelineConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultPipelineYAML), 0o644)
}

// WorkDir returns projectDir/.matchflow.
func WorkDir(projectDir string) string {
	return filepath.Join(projectDir, WorkDirName)
}

// LogsDir returns the workspace logs directory.
func LogsDir(projectDir string) string {
	return filepath.Join(WorkDir(projectDir), "logs")
}

// LedgerPath returns the persisted run ledger location.
func LedgerPath(projectDir string) string {
	return filepath.Join(WorkDir(projectDir), "state", "ledger.json")
}

// DefaultConfigPath returns the seeded configuration location.
func DefaultConfigPath(projectDir string) string {
	return filepath.Join(WorkDir(projectDir), ConfigFileName)
}

// Load reads, normalizes, and validates a pipeline configuration. Relative
// paths inside the file are resolved against the file's own directory so the
// config can travel with its project.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.normalize(base)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *PipelineConfig) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Environment.Conda == "" {
		c.Environment.Conda = "conda"
	}
	if c.Engine.Python == "" {
		c.Engine.Python = "python"
	}
	if c.Engine.MatchScript == "" {
		c.Engine.MatchScript = defaultMatchScript
	}
	if c.Engine.RefineScript == "" {
		c.Engine.RefineScript = defaultRefineScript
	}
	if c.Engine.ConstrainedScript == "" {
		c.Engine.ConstrainedScript = defaultConstrainedScript
	}
	if c.Pattern == "" {
		c.Pattern = results.DefaultPattern
	}
	if c.GPUs == "" {
		c.GPUs = "0"
	}
	if c.Stages.Match.BatchSize == 0 {
		c.Stages.Match.BatchSize = stage.DefaultMatchBatch
	}
	if c.Stages.Refine.BatchSize == 0 {
		c.Stages.Refine.BatchSize = stage.DefaultRefineBatch
	}
	if c.Stages.Refine.ResultsSuffix == "" {
		c.Stages.Refine.ResultsSuffix = results.MatchSuffix
	}
	if c.Stages.Constrained.BatchSize == 0 {
		c.Stages.Constrained.BatchSize = stage.DefaultConstrainedBatch
	}
	if c.Stages.Constrained.FalsePositives == 0 {
		c.Stages.Constrained.FalsePositives = stage.DefaultFalsePositives
	}
	if c.Stages.Constrained.LargeSuffix == "" {
		c.Stages.Constrained.LargeSuffix = results.RefineSuffix
	}
	if c.Stages.Constrained.SmallSuffix == "" {
		c.Stages.Constrained.SmallSuffix = results.MatchSuffix
	}
}

func (c *PipelineConfig) normalize(base string) {
	c.Environment.Name = strings.TrimSpace(c.Environment.Name)
	c.Environment.Conda = strings.TrimSpace(c.Environment.Conda)
	c.GPUs = strings.TrimSpace(c.GPUs)

	c.Engine.ScriptsDir = resolvePath(base, c.Engine.ScriptsDir)
	c.MicrographsDir = resolvePath(base, c.MicrographsDir)

	c.Stages.Match.TemplateYAML = resolvePath(base, c.Stages.Match.TemplateYAML)
	c.Stages.Match.CTFsDir = resolvePath(base, c.Stages.Match.CTFsDir)
	c.Stages.Match.OutputDir = resolvePath(base, c.Stages.Match.OutputDir)

	c.Stages.Refine.TemplateYAML = resolvePath(base, c.Stages.Refine.TemplateYAML)
	c.Stages.Refine.TemplateVolume = resolvePath(base, c.Stages.Refine.TemplateVolume)
	c.Stages.Refine.MatchResultsDir = resolvePath(base, c.Stages.Refine.MatchResultsDir)
	c.Stages.Refine.OutputDir = resolvePath(base, c.Stages.Refine.OutputDir)

	c.Stages.Constrained.TemplateYAML = resolvePath(base, c.Stages.Constrained.TemplateYAML)
	c.Stages.Constrained.TemplateVolume = resolvePath(base, c.Stages.Constrained.TemplateVolume)
	c.Stages.Constrained.LargeResultsDir = resolvePath(base, c.Stages.Constrained.LargeResultsDir)
	c.Stages.Constrained.SmallResultsDir = resolvePath(base, c.Stages.Constrained.SmallResultsDir)
	c.Stages.Constrained.OutputDir = resolvePath(base, c.Stages.Constrained.OutputDir)
	c.Stages.Constrained.ErrorLog = resolvePath(base, c.Stages.Constrained.ErrorLog)
}

func (c *PipelineConfig) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.Environment.Name == "" {
		return fmt.Errorf("environment.name is required")
	}
	if c.Engine.ScriptsDir == "" {
		return fmt.Errorf("engine.scripts_dir is required")
	}
	if c.MicrographsDir == "" {
		return fmt.Errorf("micrographs_dir is required")
	}
	// Value-level stage validation happens through stage.Params; here only
	// blocks that cannot even be assembled are rejected.
	if c.Stages.Match.TemplateYAML == "" || c.Stages.Match.CTFsDir == "" || c.Stages.Match.OutputDir == "" {
		return fmt.Errorf("stages.match: template_yaml, ctfs_dir, and output_dir are required")
	}
	if c.Stages.Refine.TemplateYAML == "" || c.Stages.Refine.TemplateVolume == "" ||
		c.Stages.Refine.MatchResultsDir == "" || c.Stages.Refine.OutputDir == "" {
		return fmt.Errorf("stages.refine: template_yaml, template_volume, match_results_dir, and output_dir are required")
	}
	cs := c.Stages.Constrained
	if cs.TemplateYAML == "" || cs.TemplateVolume == "" || cs.LargeResultsDir == "" ||
		cs.SmallResultsDir == "" || cs.OutputDir == "" {
		return fmt.Errorf("stages.constrained: template_yaml, template_volume, large_results_dir, small_results_dir, and output_dir are required")
	}
	return nil
}

// Scripts binds each stage to its engine entry point.
func (c *PipelineConfig) Scripts() map[stage.Name]string {
	return map[stage.Name]string{
		stage.Match:       filepath.Join(c.Engine.ScriptsDir, c.Engine.MatchScript),
		stage.Refine:      filepath.Join(c.Engine.ScriptsDir, c.Engine.RefineScript),
		stage.Constrained: filepath.Join(c.Engine.ScriptsDir, c.Engine.ConstrainedScript),
	}
}

func (c *PipelineConfig) common(templateYAML, outputDir string, batch int) stage.Common {
	return stage.Common{
		MicrographsDir: c.MicrographsDir,
		TemplateYAML:   templateYAML,
		Output:         outputDir,
		GPUs:           c.GPUs,
		BatchSize:      batch,
		Pattern:        c.Pattern,
		Slice:          stage.NoSlice(),
	}
}

// MatchParams assembles the match stage from configuration.
func (c *PipelineConfig) MatchParams() stage.MatchParams {
	return stage.MatchParams{
		Common:  c.common(c.Stages.Match.TemplateYAML, c.Stages.Match.OutputDir, c.Stages.Match.BatchSize),
		CTFsDir: c.Stages.Match.CTFsDir,
	}
}

// RefineParams assembles the refine stage from configuration.
func (c *PipelineConfig) RefineParams() stage.RefineParams {
	return stage.RefineParams{
		Common:          c.common(c.Stages.Refine.TemplateYAML, c.Stages.Refine.OutputDir, c.Stages.Refine.BatchSize),
		MatchResultsDir: c.Stages.Refine.MatchResultsDir,
		TemplateVolume:  c.Stages.Refine.TemplateVolume,
		ResultsSuffix:   c.Stages.Refine.ResultsSuffix,
	}
}

// ConstrainedParams assembles the constrained-search stage from configuration.
func (c *PipelineConfig) ConstrainedParams() stage.ConstrainedParams {
	cs := c.Stages.Constrained
	return stage.ConstrainedParams{
		Common:          c.common(cs.TemplateYAML, cs.OutputDir, cs.BatchSize),
		LargeResultsDir: cs.LargeResultsDir,
		SmallResultsDir: cs.SmallResultsDir,
		TemplateVolume:  cs.TemplateVolume,
		LargeSuffix:     cs.LargeSuffix,
		SmallSuffix:     cs.SmallSuffix,
		FalsePositives:  cs.FalsePositives,
		ErrorLog:        cs.ErrorLog,
	}
}

// Registry wires the configured stages into a stage registry so callers can
// resolve an ordered subset for a run.
func (c *PipelineConfig) Registry() *stage.Registry {
	reg := stage.NewRegistry()
	reg.MustRegister(stage.Match, func() (stage.Params, error) { return c.MatchParams(), nil })
	reg.MustRegister(stage.Refine, func() (stage.Params, error) { return c.RefineParams(), nil })
	reg.MustRegister(stage.Constrained, func() (stage.Params, error) { return c.ConstrainedParams(), nil })
	return reg
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
