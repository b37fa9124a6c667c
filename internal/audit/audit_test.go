package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

func TestStepRecordsOperationsInOrder(t *testing.T) {
	trail := NewTrail()
	step := trail.Begin("cache", "Consolidate cache rules", "")
	step.Removed("cache/a.any", "deleted")
	step.Renamed("cache/b.any", "renamed to rules.any")
	step.Warn("farm.any", "multi\n  line   warning")
	trail.Finish(step)

	if got := len(step.Operations); got != 3 {
		t.Fatalf("len(Operations) = %d, want 3", got)
	}
	if step.Operations[2].Description != "multi line warning" {
		t.Fatalf("description not collapsed to one line: %q", step.Operations[2].Description)
	}
	if step.Count(KindWarning) != 1 || len(step.Warnings()) != 1 {
		t.Fatalf("warning count mismatch: %+v", step.Operations)
	}
	if step.Finished.IsZero() {
		t.Fatalf("Finish did not stamp the step")
	}
	totals := trail.Totals()
	if totals[KindRemoved] != 1 || totals[KindRenamed] != 1 || totals[KindWarning] != 1 {
		t.Fatalf("unexpected totals: %v", totals)
	}
}

func TestTrailRunIDsAreUnique(t *testing.T) {
	a, b := NewTrail(), NewTrail()
	if a.RunID == "" || a.RunID == b.RunID {
		t.Fatalf("run ids not unique: %q %q", a.RunID, b.RunID)
	}
}

func TestJournalMirrorsOperations(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewJournal(filepath.Join(dir, "logs", "audit.log"))
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	trail := NewTrail(WithJournal(journal))
	step := trail.Begin("filters", "Consolidate filters", "")
	for i := 0; i < 4; i++ {
		step.Removed("filters/f.any", "entry-%d", i)
	}
	lines, total := journal.Tail(2)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5 (begin + 4 ops)", total)
	}
	for idx, want := range []string{"entry-2", "entry-3"} {
		if !strings.Contains(lines[idx], want) || !strings.Contains(lines[idx], "REMOVED") {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestJournalLogsDroppedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	journal, err := NewJournal(path)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	// A directory at the journal path makes every open fail.
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	var buf bytes.Buffer
	journal.WithLogger(zerolog.New(&buf))
	journal.Append("filters", Operation{Kind: KindRemoved, Path: "filters/f.any", Description: "gone"})

	out := buf.String()
	for _, want := range []string{`"level":"warn"`, "journal entry dropped", `"step":"filters"`, path} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
}

func TestWriteYAMLIncludesReviewItems(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trail := NewTrail(WithClock(func() time.Time { return fixed }))
	step := trail.Begin("directives", "Comment directives", "")
	step.Record(Operation{Kind: KindWarning, Path: "a.vhost", Description: "dropped", Label: "dropped-duplicate"})
	trail.Review.Add(ReviewItem{Path: "a.vhost", Line: 3, Directive: "UnknownDirective", Text: "<UnknownDirective>"})

	var buf bytes.Buffer
	if err := trail.WriteYAML(&buf); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	var doc struct {
		Run   string `yaml:"run"`
		Steps []struct {
			ID         string      `yaml:"id"`
			Operations []Operation `yaml:"operations"`
		} `yaml:"steps"`
		Review []ReviewItem `yaml:"review"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if doc.Run != trail.RunID {
		t.Fatalf("run = %q, want %q", doc.Run, trail.RunID)
	}
	if len(doc.Steps) != 1 || doc.Steps[0].Operations[0].Label != "dropped-duplicate" {
		t.Fatalf("unexpected steps: %+v", doc.Steps)
	}
	if len(doc.Review) != 1 || doc.Review[0].Directive != "UnknownDirective" {
		t.Fatalf("unexpected review: %+v", doc.Review)
	}
}
