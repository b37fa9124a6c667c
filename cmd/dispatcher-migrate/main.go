// cmd/dispatcher-migrate/main.go
//
// Entry point for the dispatcher-migrate CLI. Every command works on a
// project directory (the cwd by default) whose .dispatcher-migrate/ folder
// holds the config, logs and reports.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/config"
	"github.com/kingrea/dispatcher-migrate/internal/logging"
	"github.com/kingrea/dispatcher-migrate/internal/report"
	"github.com/kingrea/dispatcher-migrate/internal/rule"
	"github.com/kingrea/dispatcher-migrate/internal/runner"
	"github.com/kingrea/dispatcher-migrate/internal/tui"
)

var version = "0.1.0-dev"

type globalOptions struct {
	project   string
	config    string
	source    string
	target    string
	logLevel  string
	noColor   bool
	quiet     bool
	logToFile bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "dispatcher-migrate",
		Short: "Migrate an AMS dispatcher configuration to the cloud layout",
		Long: `dispatcher-migrate copies an Apache httpd / AEM dispatcher configuration
tree and applies an ordered catalog of rules to the copy: non-publish
vhosts and farms are removed, enabled files renamed, rule files
consolidated and unsupported directives commented out.

The source tree is never modified. Every change is recorded in an audit
trail and summarised in a markdown conversion report.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.project, "project", "C", "", "project directory (default: current directory)")
	flags.StringVar(&opts.config, "config", "", "config file (default: .dispatcher-migrate/config.yaml)")
	flags.StringVar(&opts.source, "source", "", "source tree, overrides the config")
	flags.StringVar(&opts.target, "target", "", "target tree, overrides the config")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored console output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "only log to the log file")

	// Run command - the full migration
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Copy the source tree and apply the rule catalog to the copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			only, _ := cmd.Flags().GetStringSlice("only")
			return runMigrate(cmd, opts, force, only)
		},
	}
	runCmd.Flags().BoolP("force", "f", false, "replace a non-empty target directory")
	runCmd.Flags().StringSlice("only", nil, "run only these rule ids (comma-separated)")

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rule catalog in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd, opts)
		},
	}

	inlineCmd := &cobra.Command{
		Use:   "inline <file>",
		Short: "Print a config file with every include expanded in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			return runInline(cmd, opts, args[0], format)
		},
	}
	inlineCmd.Flags().String("format", "", "include dialect: farm|vhost (default: from the file extension)")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create .dispatcher-migrate/ with a commented config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return runInit(cmd, opts, force)
		},
	}
	initCmd.Flags().BoolP("force", "f", false, "overwrite an existing config.yaml")

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show the metadata of the last conversion report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := cmd.Flags().GetBool("body")
			return runReport(cmd, opts, body)
		},
	}
	reportCmd.Flags().Bool("body", false, "print the report body as well")

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Review the plan and run the migration interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return runTUI(opts, force)
		},
	}
	tuiCmd.Flags().BoolP("force", "f", false, "replace a non-empty target directory")

	rootCmd.AddCommand(runCmd, rulesCmd, inlineCmd, initCmd, reportCmd, tuiCmd)
	return rootCmd
}

func (o *globalOptions) projectDir() (string, error) {
	dir := o.project
	if strings.TrimSpace(dir) == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = cwd
	}
	return filepath.Abs(dir)
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	projectDir, err := o.projectDir()
	if err != nil {
		return nil, err
	}
	var cfg *config.Config
	if o.config != "" {
		cfg, err = config.Load(projectDir, o.config)
	} else {
		cfg, err = config.NewConfig(projectDir)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.SetPaths(o.source, o.target); err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Project.LogLevel = o.logLevel
	}
	return cfg, nil
}

func (o *globalOptions) logger(cfg *config.Config, console io.Writer) (*logging.Logger, error) {
	if o.quiet {
		console = nil
	}
	file := ""
	if o.logToFile {
		file = cfg.LogFilePath()
	}
	return logging.New("dispatcher-migrate", logging.Options{
		Console: console,
		File:    file,
		Level:   cfg.Level(),
		NoColor: o.noColor,
	})
}

func runMigrate(cmd *cobra.Command, opts *globalOptions, force bool, only []string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := config.InitWorkDir(cfg.ProjectDir); err != nil {
		return fmt.Errorf("init %s: %w", config.WorkDir, err)
	}
	opts.logToFile = true
	log, err := opts.logger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	r := runner.New(cfg, log.Logger)
	r.Force = force
	r.Only = only
	summary, err := r.Run(ctx)
	if summary != nil {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if err != nil {
		return err
	}
	if failed := summary.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d rule(s) failed, see %s", len(failed), summary.ReportPath)
	}
	return nil
}

func printSummary(w io.Writer, s *runner.Summary) {
	fmt.Fprintf(w, "Copied %d files, ran %d rules\n", s.Files, len(s.Steps))
	for _, step := range s.Steps {
		status := string(step.Result.Status)
		if step.Err != nil {
			status = string(rule.StatusFailed)
		}
		fmt.Fprintf(w, "  %-36s %-9s %s\n", step.ID, status, step.Result.Message)
	}
	if review := s.Trail.Review.Items(); len(review) > 0 {
		fmt.Fprintf(w, "%d directives need review\n", len(review))
	}
	fmt.Fprintf(w, "Audit:  %s\nReport: %s\n", s.AuditPath, s.ReportPath)
}

func runRules(cmd *cobra.Command, opts *globalOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	plan, err := runner.New(cfg, zerolog.Nop()).Plan()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for i, p := range plan {
		state := ""
		if !p.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(w, "%2d. %-36s %-6s %s%s\n", i+1, p.Ref.InstanceID(), p.Info.Format, p.Info.Name, state)
		if p.Info.Description != "" {
			fmt.Fprintf(w, "    %s\n", p.Info.Description)
		}
	}
	return nil
}

func runInline(cmd *cobra.Command, opts *globalOptions, file, formatName string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	format, err := inlineFormat(file, formatName)
	if err != nil {
		return err
	}
	path, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	log, err := opts.logger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer log.Close()
	resolver := rule.NewContext(cfg, cfg.SourceDir(), nil, log.Logger).Resolver(format)
	out, err := resolver.Inline(path)
	if err != nil {
		return err
	}
	_, err = io.WriteString(cmd.OutOrStdout(), out)
	return err
}

// inlineFormat picks the include dialect: an explicit name wins, farm
// files (.any, .farm) use the farm dialect and everything else the vhost one.
func inlineFormat(file, name string) (cfgfile.Format, error) {
	if name != "" {
		return rule.FormatOf(name)
	}
	switch strings.ToLower(filepath.Ext(file)) {
	case ".any", ".farm":
		return cfgfile.Farm, nil
	}
	return cfgfile.Vhost, nil
}

func runInit(cmd *cobra.Command, opts *globalOptions, force bool) error {
	projectDir, err := opts.projectDir()
	if err != nil {
		return err
	}
	if err := config.InitWorkDir(projectDir); err != nil {
		return err
	}
	path := filepath.Join(projectDir, config.WorkDir, "config.yaml")
	if force {
		if err := config.WriteTemplate(path, true); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", filepath.Join(projectDir, config.WorkDir))
	return nil
}

func runReport(cmd *cobra.Command, opts *globalOptions, withBody bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	meta, body, err := report.Read(cfg.ReportPath())
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no report at %s, run a migration first", cfg.ReportPath())
	}
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run:     %s\nCreated: %s\nSource:  %s\nTarget:  %s\n",
		meta.RunID, meta.Created.Format("2006-01-02 15:04:05 MST"), meta.Source, meta.Target)
	for _, kind := range []string{"added", "removed", "replaced", "renamed", "warning", "review"} {
		if n, ok := meta.Counts[kind]; ok {
			fmt.Fprintf(w, "  %-8s %d\n", kind, n)
		}
	}
	if withBody {
		fmt.Fprintf(w, "\n%s", body)
	}
	return nil
}

func runTUI(opts *globalOptions, force bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := config.InitWorkDir(cfg.ProjectDir); err != nil {
		return err
	}
	// The alt screen owns the terminal; logs only go to the file.
	opts.quiet = true
	opts.logToFile = true
	log, err := opts.logger(cfg, nil)
	if err != nil {
		return err
	}
	defer log.Close()
	r := runner.New(cfg, log.Logger)
	r.Force = force
	return tui.Run(r)
}
