// internal/config/config.go
//
// This package handles configuration and the .dispatcher-migrate directory.
// Every project that runs a migration gets a .dispatcher-migrate/ folder in
// its root holding the config file, logs and reports.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
)

const (
	// WorkDir is the name of the directory we create in each project
	WorkDir = ".dispatcher-migrate"

	yamlConfigName = "config.yaml"
	tomlConfigName = "config.toml"

	defaultSource = "src"
	defaultTarget = "target"
	defaultReport = WorkDir + "/reports/conversion-report.md"
)

// LogLevelEnv overrides log_level from the config file.
const LogLevelEnv = "DISPATCHER_MIGRATE_LOG_LEVEL"

const defaultProjectConfigYAML = `# dispatcher-migrate configuration
version: 1

# Source tree holding conf.d/ and conf.dispatcher.d/. It is never modified.
source: src
# Migration output. A pristine copy of source is made here before any rule runs.
target: target

# Extra directories searched when an include target is not found next to
# the including file. Relative paths resolve against the project directory.
search_roots: []

# Abort the run on the first failing rule instead of recording it and moving on.
stop_on_error: false

rules:
  # Rule ids to skip, see "dispatcher-migrate rules".
  disabled: []
  # Per-rule options keyed by rule id.
  options: {}
  # Optional YAML catalog replacing the built-in rule order.
  # catalog: migration-catalog.yaml

variables:
  # Variables whose usage is removed from vhost files.
  remove:
    - DISP_ID
  # Variables provided by the runtime; using them is never reported.
  builtin: []

whitelist:
  # Directives allowed in addition to the built-in list.
  extra: []
  # File with one allowed directive per line.
  # file: whitelist.txt

report: .dispatcher-migrate/reports/conversion-report.md
log_level: info
`

// RulesConfig selects and tunes the rules of the catalog.
type RulesConfig struct {
	Disabled []string                  `yaml:"disabled,omitempty" toml:"disabled"`
	Options  map[string]map[string]any `yaml:"options,omitempty" toml:"options"`
	Catalog  string                    `yaml:"catalog,omitempty" toml:"catalog"`
}

// VariablesConfig lists variables handled by the variable rules.
type VariablesConfig struct {
	Remove  []string `yaml:"remove" toml:"remove"`
	Builtin []string `yaml:"builtin" toml:"builtin"`
}

// WhitelistConfig extends the built-in directive allow-list.
type WhitelistConfig struct {
	Extra []string `yaml:"extra,omitempty" toml:"extra"`
	File  string   `yaml:"file,omitempty" toml:"file"`
}

// ProjectConfig models .dispatcher-migrate/config.yaml (or config.toml).
type ProjectConfig struct {
	Version     int             `yaml:"version" toml:"version"`
	Source      string          `yaml:"source" toml:"source"`
	Target      string          `yaml:"target" toml:"target"`
	SearchRoots []string        `yaml:"search_roots,omitempty" toml:"search_roots"`
	StopOnError bool            `yaml:"stop_on_error" toml:"stop_on_error"`
	Rules       RulesConfig     `yaml:"rules" toml:"rules"`
	Variables   VariablesConfig `yaml:"variables" toml:"variables"`
	Whitelist   WhitelistConfig `yaml:"whitelist" toml:"whitelist"`
	Report      string          `yaml:"report" toml:"report"`
	LogLevel    string          `yaml:"log_level" toml:"log_level"`
}

// Config holds the runtime configuration of a migration.
type Config struct {
	// ProjectDir is the directory the tool was started from
	ProjectDir string

	// WorkDir is ProjectDir/.dispatcher-migrate
	WorkDir string

	// File is the config file that was loaded, empty when defaults are used.
	File string

	Project ProjectConfig
}

// InitWorkDir creates the .dispatcher-migrate directory structure in the
// given project directory and seeds config.yaml when no config exists.
//
// Structure created:
// .dispatcher-migrate/
// ├── config.yaml
// ├── logs/       <- zerolog output and the audit journal
// └── reports/    <- conversion-report.md and audit.yaml
func InitWorkDir(projectDir string) error {
	workDir := filepath.Join(projectDir, WorkDir)
	for _, dir := range []string{
		filepath.Join(workDir, "logs"),
		filepath.Join(workDir, "reports"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if fileExists(filepath.Join(workDir, tomlConfigName)) {
		return nil
	}
	return ensureProjectConfig(filepath.Join(workDir, yamlConfigName))
}

// NewConfig creates a Config for projectDir, loading
// .dispatcher-migrate/config.yaml or config.toml when present.
func NewConfig(projectDir string) (*Config, error) {
	cfg := newDefault(projectDir)
	path := cfg.ConfigPath()
	if !fileExists(path) {
		cfg.Project.normalize(cfg.ProjectDir)
		return cfg, cfg.Project.validate()
	}
	if err := cfg.loadProjectConfig(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads an explicit config file. Relative paths inside it resolve
// against projectDir.
func Load(projectDir, path string) (*Config, error) {
	cfg := newDefault(projectDir)
	if err := cfg.loadProjectConfig(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefault(projectDir string) *Config {
	return &Config{
		ProjectDir: projectDir,
		WorkDir:    filepath.Join(projectDir, WorkDir),
		Project:    defaultProjectConfig(),
	}
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.WorkDir, "logs")
}

// ReportsDir returns the path to the reports directory
func (c *Config) ReportsDir() string {
	return filepath.Join(c.WorkDir, "reports")
}

// LogFilePath is where zerolog writes JSON lines.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogsDir(), "dispatcher-migrate.log")
}

// JournalPath is the plain-text audit journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "audit.log")
}

// AuditPath is the machine-readable audit dump.
func (c *Config) AuditPath() string {
	return filepath.Join(c.ReportsDir(), "audit.yaml")
}

// ReportPath is the markdown conversion report.
func (c *Config) ReportPath() string {
	return c.Project.Report
}

// ConfigPath returns the config file in use: config.toml when only that
// exists, config.yaml otherwise.
func (c *Config) ConfigPath() string {
	if c.File != "" {
		return c.File
	}
	yamlPath := filepath.Join(c.WorkDir, yamlConfigName)
	tomlPath := filepath.Join(c.WorkDir, tomlConfigName)
	if !fileExists(yamlPath) && fileExists(tomlPath) {
		return tomlPath
	}
	return yamlPath
}

// SourceDir returns the absolute source tree.
func (c *Config) SourceDir() string {
	return c.Project.Source
}

// TargetDir returns the absolute target tree.
func (c *Config) TargetDir() string {
	return c.Project.Target
}

// SetPaths overrides source and target (for example from CLI flags).
// Empty values keep the configured paths.
func (c *Config) SetPaths(source, target string) error {
	if strings.TrimSpace(source) != "" {
		c.Project.Source = resolvePath(c.ProjectDir, source)
	}
	if strings.TrimSpace(target) != "" {
		c.Project.Target = resolvePath(c.ProjectDir, target)
	}
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RuleDisabled reports whether the rule id is switched off.
func (c *Config) RuleDisabled(id string) bool {
	return contains(c.Project.Rules.Disabled, id)
}

// RuleOptions returns the options configured for a rule (never nil).
func (c *Config) RuleOptions(id string) map[string]any {
	if opts, ok := c.Project.Rules.Options[id]; ok && opts != nil {
		return opts
	}
	return map[string]any{}
}

// Level returns the configured log level. The environment wins over the file.
func (c *Config) Level() zerolog.Level {
	value := c.Project.LogLevel
	if env := strings.TrimSpace(os.Getenv(LogLevelEnv)); env != "" {
		value = env
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || value == "" {
		return zerolog.InfoLevel
	}
	return level
}

// WriteTemplate writes the commented default configuration to path. An
// existing file is only replaced when force is set.
func WriteTemplate(path string, force bool) error {
	if fileExists(path) && !force {
		return fmt.Errorf("config: %s already exists", path)
	}
	return cfgfile.WriteFile(path, []byte(defaultProjectConfigYAML))
}

func (c *Config) loadProjectConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := ProjectConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.File = path
	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:   1,
		Source:    defaultSource,
		Target:    defaultTarget,
		Rules:     RulesConfig{Options: map[string]map[string]any{}},
		Variables: VariablesConfig{Remove: []string{"DISP_ID"}},
		Report:    defaultReport,
		LogLevel:  "info",
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Source) == "" {
		pc.Source = defaultSource
	}
	if strings.TrimSpace(pc.Target) == "" {
		pc.Target = defaultTarget
	}
	if strings.TrimSpace(pc.Report) == "" {
		pc.Report = defaultReport
	}
	if pc.Rules.Options == nil {
		pc.Rules.Options = map[string]map[string]any{}
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Source = resolvePath(base, pc.Source)
	pc.Target = resolvePath(base, pc.Target)
	pc.Report = resolvePath(base, pc.Report)
	pc.Rules.Catalog = resolvePath(base, pc.Rules.Catalog)
	pc.Whitelist.File = resolvePath(base, pc.Whitelist.File)
	for i, root := range pc.SearchRoots {
		pc.SearchRoots[i] = resolvePath(base, root)
	}
	pc.Rules.Disabled = trimAll(pc.Rules.Disabled)
	pc.Variables.Remove = trimAll(pc.Variables.Remove)
	pc.Variables.Builtin = trimAll(pc.Variables.Builtin)
	pc.Whitelist.Extra = trimAll(pc.Whitelist.Extra)
	pc.LogLevel = strings.ToLower(strings.TrimSpace(pc.LogLevel))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Source == "" {
		return fmt.Errorf("source is required")
	}
	if pc.Target == "" {
		return fmt.Errorf("target is required")
	}
	if pc.Source == pc.Target {
		return fmt.Errorf("source and target must differ")
	}
	if within(pc.Source, pc.Target) {
		return fmt.Errorf("target %s must not be inside source %s", pc.Target, pc.Source)
	}
	if within(pc.Target, pc.Source) {
		return fmt.Errorf("source %s must not be inside target %s", pc.Source, pc.Target)
	}
	if pc.LogLevel != "" {
		if _, err := zerolog.ParseLevel(pc.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// within reports whether path lies inside dir.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
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

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
