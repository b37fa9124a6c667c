package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.SourceDir() != filepath.Join(projectDir, "src") || c.TargetDir() != filepath.Join(projectDir, "target") {
		t.Fatalf("unexpected default paths: %s %s", c.SourceDir(), c.TargetDir())
	}
	if c.ReportPath() != filepath.Join(projectDir, ".dispatcher-migrate", "reports", "conversion-report.md") {
		t.Fatalf("unexpected report path %s", c.ReportPath())
	}
}

func TestInitWorkDirSeedsTemplate(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitWorkDir(projectDir); err != nil {
		t.Fatalf("InitWorkDir: %v", err)
	}
	for _, dir := range []string{"logs", "reports"} {
		if info, err := os.Stat(filepath.Join(projectDir, WorkDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s dir: %v", dir, err)
		}
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if c.File == "" || len(c.Project.Variables.Remove) != 1 || c.Project.Variables.Remove[0] != "DISP_ID" {
		t.Fatalf("unexpected template config: %+v", c.Project)
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	workDir := filepath.Join(projectDir, WorkDir)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
source: dispatcher/src
target: out
search_roots:
  - dispatcher/shared
stop_on_error: true
rules:
  disabled:
    - replace-renders
  options:
    remove-non-publish-vhosts:
      markers: [author, preview]
variables:
  remove: [DISP_ID, HOSTADDRESS]
  builtin: [ENVIRONMENT_TYPE]
whitelist:
  extra: ["<Location>"]
log_level: DEBUG
`)
	if err := os.WriteFile(filepath.Join(workDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.SourceDir() != filepath.Join(projectDir, "dispatcher", "src") {
		t.Fatalf("expected source to be resolved, got %s", c.SourceDir())
	}
	if !strings.HasPrefix(c.Project.SearchRoots[0], projectDir) {
		t.Fatalf("expected search root to be absolute, got %s", c.Project.SearchRoots[0])
	}
	if !c.Project.StopOnError || !c.RuleDisabled("Replace-Renders") {
		t.Fatalf("rule selection not parsed: %+v", c.Project.Rules)
	}
	markers, ok := c.RuleOptions("remove-non-publish-vhosts")["markers"].([]any)
	if !ok || len(markers) != 2 {
		t.Fatalf("rule options not parsed: %+v", c.Project.Rules.Options)
	}
	if len(c.RuleOptions("unknown")) != 0 {
		t.Fatalf("expected empty options for unknown rule")
	}
	if c.Level() != zerolog.DebugLevel {
		t.Fatalf("level = %s", c.Level())
	}
}

func TestLoadProjectConfigParsesToml(t *testing.T) {
	projectDir := t.TempDir()
	workDir := filepath.Join(projectDir, WorkDir)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configTOML := strings.TrimSpace(`
version = 1
source = "in"
target = "out"

[variables]
remove = ["HOSTADDRESS"]

[rules.options.consolidate-filters]
canonical = "filters.any"
`)
	if err := os.WriteFile(filepath.Join(workDir, "config.toml"), []byte(configTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if filepath.Base(c.File) != "config.toml" {
		t.Fatalf("expected toml config to be picked, got %s", c.File)
	}
	if c.Project.Variables.Remove[0] != "HOSTADDRESS" {
		t.Fatalf("variables not parsed: %+v", c.Project.Variables)
	}
	if c.RuleOptions("consolidate-filters")["canonical"] != "filters.any" {
		t.Fatalf("options not parsed: %+v", c.Project.Rules.Options)
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	tests := map[string]string{
		"same tree":       "source: src\ntarget: src\n",
		"target inside":   "source: src\ntarget: src/out\n",
		"bad level":       "log_level: chatty\n",
		"version too low": "version: -1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(projectDir, path); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestSetPathsAndEnvLevel(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetPaths("a", "b"); err != nil {
		t.Fatalf("SetPaths: %v", err)
	}
	if c.TargetDir() != filepath.Join(projectDir, "b") {
		t.Fatalf("target = %s", c.TargetDir())
	}
	if err := c.SetPaths("", "a"); err == nil {
		t.Fatalf("expected error for identical source and target")
	}
	t.Setenv(LogLevelEnv, "warn")
	if c.Level() != zerolog.WarnLevel {
		t.Fatalf("env level not applied: %s", c.Level())
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected error when template exists")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced WriteTemplate: %v", err)
	}
}
