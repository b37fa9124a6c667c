// Package report renders the audit trail of a migration as a markdown
// document with YAML frontmatter.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("report: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("report: malformed frontmatter")
)

// Meta is the frontmatter of a report.
type Meta struct {
	RunID   string
	Created time.Time
	Source  string
	Target  string
	Counts  map[string]int
}

var kinds = []audit.Kind{audit.KindAdded, audit.KindRemoved, audit.KindReplaced, audit.KindRenamed, audit.KindWarning}

// Render formats the trail as markdown: a summary table, one section per
// step, the review queue and the warnings.
func Render(trail *audit.Trail) []byte {
	var b strings.Builder
	b.WriteString("# Dispatcher migration report\n\n")
	if trail == nil {
		b.WriteString("_No migration recorded._\n")
		return []byte(b.String())
	}
	fmt.Fprintf(&b, "Run `%s` started %s.\n\n", trail.RunID, trail.Started.UTC().Format(timeLayout))

	steps := trail.Steps()
	b.WriteString("## Summary\n\n")
	b.WriteString("| Rule | Added | Removed | Replaced | Renamed | Warnings |\n")
	b.WriteString("|------|------:|--------:|---------:|--------:|---------:|\n")
	for _, step := range steps {
		fmt.Fprintf(&b, "| %s |", cell(step.ID))
		for _, kind := range kinds {
			fmt.Fprintf(&b, " %d |", step.Count(kind))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, step := range steps {
		fmt.Fprintf(&b, "## %s (`%s`)\n\n", step.Name, step.ID)
		if step.Description != "" {
			b.WriteString(step.Description + "\n\n")
		}
		if len(step.Operations) == 0 {
			b.WriteString("_No changes._\n\n")
			continue
		}
		b.WriteString("| Kind | File | Change |\n")
		b.WriteString("|------|------|--------|\n")
		for _, op := range step.Operations {
			desc := op.Description
			if op.Label != "" {
				desc = fmt.Sprintf("[%s] %s", op.Label, desc)
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", op.Kind, cell(op.Path), cell(desc))
		}
		b.WriteString("\n")
	}

	items := trail.Review.Items()
	b.WriteString("## Review\n\n")
	if len(items) == 0 {
		b.WriteString("_Nothing to review._\n\n")
	} else {
		b.WriteString("| File | Line | Directive | Text |\n")
		b.WriteString("|------|-----:|-----------|------|\n")
		for _, item := range items {
			fmt.Fprintf(&b, "| %s | %d | %s | `%s` |\n", cell(item.Path), item.Line, cell(item.Directive), cell(item.Text))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Warnings\n\n")
	warned := false
	for _, step := range steps {
		for _, op := range step.Warnings() {
			warned = true
			fmt.Fprintf(&b, "- `%s` %s: %s\n", step.ID, op.Path, op.Description)
		}
	}
	if !warned {
		b.WriteString("_None._\n")
	}
	return []byte(b.String())
}

// Write renders trail with meta as frontmatter and writes it atomically to
// path. Missing counts are taken from the trail.
func Write(path string, trail *audit.Trail, meta Meta) error {
	if meta.RunID == "" && trail != nil {
		meta.RunID = trail.RunID
	}
	if meta.Created.IsZero() {
		meta.Created = time.Now()
	}
	if meta.Counts == nil && trail != nil {
		meta.Counts = map[string]int{}
		for kind, n := range trail.Totals() {
			meta.Counts[string(kind)] = n
		}
	}
	data, err := WriteFrontMatter(meta, Render(trail))
	if err != nil {
		return err
	}
	return cfgfile.WriteFile(path, data)
}

// Read loads a report written by Write.
func Read(path string) (Meta, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("report: read %s: %w", path, err)
	}
	return ParseFrontMatter(data)
}

// WriteFrontMatter renders meta + body with YAML fences.
func WriteFrontMatter(meta Meta, body []byte) ([]byte, error) {
	if meta.RunID == "" {
		return nil, fmt.Errorf("report: metadata missing run id")
	}
	envelope := migrationEnvelope{}
	envelope.fromMeta(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("report: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

// ParseFrontMatter extracts the metadata block and body from a document
// that starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Meta, []byte, error) {
	if len(content) == 0 {
		return Meta{}, nil, ErrMissingFrontMatter
	}
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Meta{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Meta{}, nil, ErrMalformedFrontMatter
	}
	var envelope migrationEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Meta{}, nil, fmt.Errorf("report: parse frontmatter: %w", err)
	}
	meta, err := envelope.toMeta()
	if err != nil {
		return Meta{}, nil, err
	}
	return meta, bytes.TrimPrefix(parts[1], []byte("\n")), nil
}

type migrationEnvelope struct {
	Migration migrationMetadata `yaml:"migration"`
}

type migrationMetadata struct {
	Run     string         `yaml:"run"`
	Created string         `yaml:"created"`
	Source  string         `yaml:"source,omitempty"`
	Target  string         `yaml:"target,omitempty"`
	Counts  map[string]int `yaml:"counts,omitempty"`
}

func (e migrationEnvelope) toMeta() (Meta, error) {
	if e.Migration.Run == "" {
		return Meta{}, ErrMalformedFrontMatter
	}
	created, err := time.Parse(timeLayout, strings.TrimSpace(e.Migration.Created))
	if err != nil {
		return Meta{}, fmt.Errorf("report: parse created timestamp: %w", err)
	}
	return Meta{
		RunID:   e.Migration.Run,
		Created: created.UTC(),
		Source:  e.Migration.Source,
		Target:  e.Migration.Target,
		Counts:  e.Migration.Counts,
	}, nil
}

func (e *migrationEnvelope) fromMeta(meta Meta) {
	e.Migration.Run = meta.RunID
	e.Migration.Created = meta.Created.UTC().Format(timeLayout)
	e.Migration.Source = meta.Source
	e.Migration.Target = meta.Target
	e.Migration.Counts = meta.Counts
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
