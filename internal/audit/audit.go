// Package audit records every mutation the migration performs.
//
// A Trail holds one Step per rule; each Step collects the Operations the
// rule caused. Core packages only see the Sink interface. Redactions that
// need a human decision are additionally collected in a flat ReviewList.
package audit

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Kind classifies an operation.
type Kind string

const (
	KindAdded    Kind = "added"
	KindRemoved  Kind = "removed"
	KindReplaced Kind = "replaced"
	KindRenamed  Kind = "renamed"
	KindWarning  Kind = "warning"
)

// Operation is one observable mutation (or warning) on one path.
type Operation struct {
	Kind        Kind   `yaml:"kind"`
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
	// Label marks entries that must stand out from ordinary operations,
	// for example section rewrites that were skipped.
	Label string `yaml:"label,omitempty"`
}

func (op Operation) String() string {
	if op.Label != "" {
		return fmt.Sprintf("[%s/%s] %s: %s", op.Kind, op.Label, op.Path, op.Description)
	}
	return fmt.Sprintf("[%s] %s: %s", op.Kind, op.Path, op.Description)
}

// Sink receives operations. Every core rewrite accepts a Sink.
type Sink interface {
	Record(op Operation)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Operation) {}

// Step groups the operations of one rule.
type Step struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Started     time.Time   `yaml:"started"`
	Finished    time.Time   `yaml:"finished,omitempty"`
	Operations  []Operation `yaml:"operations"`

	trail *Trail
}

// Record implements Sink.
func (s *Step) Record(op Operation) {
	if s == nil {
		return
	}
	op.Description = oneLine(op.Description)
	if s.trail != nil {
		s.trail.mu.Lock()
		defer s.trail.mu.Unlock()
	}
	s.Operations = append(s.Operations, op)
	if s.trail != nil {
		s.trail.journal.Append(s.ID, op)
	}
}

// Added records a created file or inserted content.
func (s *Step) Added(path, format string, args ...any) {
	s.Record(Operation{Kind: KindAdded, Path: path, Description: fmt.Sprintf(format, args...)})
}

// Removed records a deleted file or line.
func (s *Step) Removed(path, format string, args ...any) {
	s.Record(Operation{Kind: KindRemoved, Path: path, Description: fmt.Sprintf(format, args...)})
}

// Replaced records an in-place rewrite.
func (s *Step) Replaced(path, format string, args ...any) {
	s.Record(Operation{Kind: KindReplaced, Path: path, Description: fmt.Sprintf(format, args...)})
}

// Renamed records a file rename.
func (s *Step) Renamed(path, format string, args ...any) {
	s.Record(Operation{Kind: KindRenamed, Path: path, Description: fmt.Sprintf(format, args...)})
}

// Warn records something the operator must look at.
func (s *Step) Warn(path, format string, args ...any) {
	s.Record(Operation{Kind: KindWarning, Path: path, Description: fmt.Sprintf(format, args...)})
}

// Count returns how many operations of kind the step holds.
func (s *Step) Count(kind Kind) int {
	n := 0
	for _, op := range s.Operations {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Warnings returns the warning operations of the step.
func (s *Step) Warnings() []Operation {
	var out []Operation
	for _, op := range s.Operations {
		if op.Kind == KindWarning {
			out = append(out, op)
		}
	}
	return out
}

// ReviewItem is a redaction that needs human review.
type ReviewItem struct {
	Path      string `yaml:"path"`
	Line      int    `yaml:"line"`
	Directive string `yaml:"directive"`
	Text      string `yaml:"text"`
}

// ReviewList is the flat list of redactions, separate from the steps.
type ReviewList struct {
	mu    sync.Mutex
	items []ReviewItem
}

// Add appends a review item.
func (l *ReviewList) Add(item ReviewItem) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, item)
}

// Items returns a copy of the collected items.
func (l *ReviewList) Items() []ReviewItem {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ReviewItem{}, l.items...)
}

// Trail is the append-only record of a migration run.
type Trail struct {
	RunID   string
	Started time.Time
	Review  *ReviewList

	mu      sync.Mutex
	steps   []*Step
	journal *Journal
	now     func() time.Time
}

// Option customises a Trail.
type Option func(*Trail)

// WithJournal mirrors every operation into a text journal.
func WithJournal(j *Journal) Option {
	return func(t *Trail) {
		t.journal = j
	}
}

// WithClock overrides the clock used for step timestamps.
func WithClock(clock func() time.Time) Option {
	return func(t *Trail) {
		t.now = clock
	}
}

// NewTrail starts a trail with a fresh run identifier.
func NewTrail(opts ...Option) *Trail {
	t := &Trail{
		RunID:  uuid.NewString(),
		Review: &ReviewList{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.Started = t.now().UTC()
	return t
}

// Begin opens a new step.
func (t *Trail) Begin(id, name, description string) *Step {
	step := &Step{ID: id, Name: name, Description: description, Started: t.now().UTC(), trail: t}
	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
	t.journal.Append(id, Operation{Kind: "begin", Description: name})
	return step
}

// Finish stamps the step's completion time.
func (t *Trail) Finish(step *Step) {
	if step == nil {
		return
	}
	t.mu.Lock()
	step.Finished = t.now().UTC()
	t.mu.Unlock()
}

// Steps returns the steps in the order they were begun.
func (t *Trail) Steps() []*Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Step{}, t.steps...)
}

// Totals counts operations by kind across all steps.
func (t *Trail) Totals() map[Kind]int {
	totals := map[Kind]int{}
	for _, step := range t.Steps() {
		for _, op := range step.Operations {
			totals[op.Kind]++
		}
	}
	return totals
}

type trailDocument struct {
	Run     string       `yaml:"run"`
	Started time.Time    `yaml:"started"`
	Steps   []*Step      `yaml:"steps"`
	Review  []ReviewItem `yaml:"review,omitempty"`
}

// WriteYAML dumps the trail in machine-readable form.
func (t *Trail) WriteYAML(w io.Writer) error {
	doc := trailDocument{
		Run:     t.RunID,
		Started: t.Started,
		Steps:   t.Steps(),
		Review:  t.Review.Items(),
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("audit: encode trail: %w", err)
	}
	return enc.Close()
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	return strings.Join(strings.Fields(s), " ")
}
