// Package runner drives a migration: it copies the source tree to a
// pristine target, applies the rule catalog in order and writes the audit
// trail and the conversion report.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/config"
	"github.com/kingrea/dispatcher-migrate/internal/report"
	"github.com/kingrea/dispatcher-migrate/internal/rule"
	"github.com/kingrea/dispatcher-migrate/internal/rules"
)

// EventKind names a progress notification.
type EventKind string

const (
	EventRunStarted   EventKind = "run-started"
	EventStepStarted  EventKind = "step-started"
	EventStepFinished EventKind = "step-finished"
	EventRunFinished  EventKind = "run-finished"
)

// Event reports progress to observers such as the TUI.
type Event struct {
	Kind   EventKind
	Index  int
	Total  int
	RuleID string
	Name   string
	Result rule.Result
	Err    error
	Step   *audit.Step
}

// StepResult is the outcome of one rule.
type StepResult struct {
	ID     string
	Name   string
	Result rule.Result
	Err    error
}

// Summary describes a finished run.
type Summary struct {
	Trail      *audit.Trail
	Steps      []StepResult
	Files      int
	AuditPath  string
	ReportPath string
}

// Failed returns the steps whose rule returned an error.
func (s *Summary) Failed() []StepResult {
	var out []StepResult
	for _, step := range s.Steps {
		if step.Err != nil {
			out = append(out, step)
		}
	}
	return out
}

// PlannedRule is a catalog entry resolved against the configuration.
type PlannedRule struct {
	Ref     RuleRef
	Info    rule.Info
	Enabled bool
}

// Runner applies a rule catalog to a copy of the source tree.
type Runner struct {
	Config   *config.Config
	Registry *rule.Registry
	// Catalog overrides the configured or built-in catalog.
	Catalog *Catalog
	// Force wipes a non-empty target.
	Force bool
	// Only restricts the run to these rule instance IDs.
	Only   []string
	Log    zerolog.Logger
	Events func(Event)
	Clock  func() time.Time
}

// New returns a runner for cfg using the built-in rules.
func New(cfg *config.Config, log zerolog.Logger) *Runner {
	return &Runner{Config: cfg, Registry: rules.NewRegistry(), Log: log}
}

// Plan lists the catalog with each rule's info and whether it will run.
func (r *Runner) Plan() ([]PlannedRule, error) {
	catalog, err := r.catalog()
	if err != nil {
		return nil, err
	}
	only, err := r.only(catalog)
	if err != nil {
		return nil, err
	}
	planned := make([]PlannedRule, 0, len(catalog.Rules))
	for _, ref := range catalog.Rules {
		rl, err := r.registry().Resolve(ref.Rule, ref.Options)
		if err != nil {
			return nil, fmt.Errorf("runner: %s: %w", ref.InstanceID(), err)
		}
		info := rl.Info()
		if ref.Name != "" {
			info.Name = ref.Name
		}
		if ref.Description != "" {
			info.Description = ref.Description
		}
		enabled := r.Config == nil || !r.Config.RuleDisabled(ref.InstanceID())
		if len(only) > 0 && !only[ref.InstanceID()] {
			enabled = false
		}
		planned = append(planned, PlannedRule{Ref: ref, Info: info, Enabled: enabled})
	}
	return planned, nil
}

// Run performs the migration. Rule failures become warnings on their step;
// with stop_on_error the run ends at the first failure. The audit trail and
// the report are written in every case once the target was prepared.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if r.Config == nil {
		return nil, errors.New("runner: config is required")
	}
	cfg := r.Config
	plan, err := r.Plan()
	if err != nil {
		return nil, err
	}
	source, target := cfg.SourceDir(), cfg.TargetDir()
	log := r.Log.With().Str("target", target).Logger()

	if err := PrepareTarget(source, target, r.Force); err != nil {
		return nil, err
	}
	files, err := CopyTree(ctx, source, target)
	if err != nil {
		return nil, err
	}
	log.Info().Str("source", source).Int("files", files).Msg("copied source tree")

	journal, err := audit.NewJournal(cfg.JournalPath())
	if err != nil {
		return nil, err
	}
	journal.WithLogger(log)
	opts := []audit.Option{audit.WithJournal(journal)}
	if r.Clock != nil {
		opts = append(opts, audit.WithClock(r.Clock))
	}
	trail := audit.NewTrail(opts...)
	base := rule.NewContext(cfg, target, trail.Review, log.With().Str("run", trail.RunID).Logger())
	summary := &Summary{Trail: trail, Files: files, AuditPath: cfg.AuditPath(), ReportPath: cfg.ReportPath()}

	var enabled []PlannedRule
	for _, p := range plan {
		if p.Enabled {
			enabled = append(enabled, p)
			continue
		}
		log.Info().Str("rule", p.Ref.InstanceID()).Msg("rule disabled")
	}

	r.emit(Event{Kind: EventRunStarted, Total: len(enabled)})
	var runErr error
	for i, p := range enabled {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		result := r.runOne(base, trail, p, i, len(enabled))
		summary.Steps = append(summary.Steps, result)
		if result.Err != nil && cfg.Project.StopOnError {
			runErr = fmt.Errorf("runner: %s: %w", result.ID, result.Err)
			break
		}
	}

	if err := r.writeOutputs(trail, summary); err != nil && runErr == nil {
		runErr = err
	}
	totals := trail.Totals()
	log.Info().
		Int("steps", len(summary.Steps)).
		Int("failed", len(summary.Failed())).
		Int("warnings", totals[audit.KindWarning]).
		Int("review", len(trail.Review.Items())).
		Msg("migration finished")
	r.emit(Event{Kind: EventRunFinished, Total: len(enabled), Err: runErr})
	return summary, runErr
}

func (r *Runner) runOne(base *rule.Context, trail *audit.Trail, p PlannedRule, index, total int) StepResult {
	id := p.Ref.InstanceID()
	opts := rule.Options{}
	for k, v := range p.Ref.Options {
		opts[k] = v
	}
	for k, v := range r.Config.RuleOptions(id) {
		opts[k] = v
	}
	step := trail.Begin(id, p.Info.Name, p.Info.Description)
	r.emit(Event{Kind: EventStepStarted, Index: index, Total: total, RuleID: id, Name: p.Info.Name, Step: step})

	ctx := base.WithStep(step)
	var res rule.Result
	rl, err := r.registry().Resolve(p.Ref.Rule, opts)
	if err == nil {
		res, err = safeRun(rl, ctx)
	}
	if err != nil {
		res.Status = rule.StatusFailed
		if res.Message == "" {
			res.Message = err.Error()
		}
		step.Warn(".", "rule failed: %v", err)
		ctx.Log.Error().Err(err).Msg("rule failed")
	} else {
		ctx.Log.Info().Str("status", string(res.Status)).Int("operations", len(step.Operations)).Msg(res.Message)
	}
	trail.Finish(step)
	r.emit(Event{Kind: EventStepFinished, Index: index, Total: total, RuleID: id, Name: p.Info.Name, Result: res, Err: err, Step: step})
	return StepResult{ID: id, Name: p.Info.Name, Result: res, Err: err}
}

func safeRun(rl rule.Rule, ctx *rule.Context) (res rule.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("rule panicked: %v", v)
		}
	}()
	return rl.Run(ctx)
}

func (r *Runner) writeOutputs(trail *audit.Trail, summary *Summary) error {
	var buf bytes.Buffer
	if err := trail.WriteYAML(&buf); err != nil {
		return err
	}
	if err := cfgfile.WriteFile(summary.AuditPath, buf.Bytes()); err != nil {
		return err
	}
	if summary.ReportPath == "" {
		return nil
	}
	return report.Write(summary.ReportPath, trail, report.Meta{
		Source: r.Config.SourceDir(),
		Target: r.Config.TargetDir(),
	})
}

func (r *Runner) catalog() (Catalog, error) {
	if r.Catalog != nil {
		return *r.Catalog, r.Catalog.Validate()
	}
	if r.Config != nil && r.Config.Project.Rules.Catalog != "" {
		return LoadCatalogFile(r.Config.Project.Rules.Catalog)
	}
	return DefaultCatalog(), nil
}

func (r *Runner) only(c Catalog) (map[string]bool, error) {
	if len(r.Only) == 0 {
		return nil, nil
	}
	known := map[string]bool{}
	for _, id := range c.IDs() {
		known[id] = true
	}
	only := map[string]bool{}
	for _, id := range r.Only {
		if !known[id] {
			return nil, fmt.Errorf("runner: unknown rule %s", id)
		}
		only[id] = true
	}
	return only, nil
}

func (r *Runner) registry() *rule.Registry {
	if r.Registry == nil {
		r.Registry = rules.NewRegistry()
	}
	return r.Registry
}

func (r *Runner) emit(ev Event) {
	if r.Events != nil {
		r.Events(ev)
	}
}
