package report

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
)

func sampleTrail() *audit.Trail {
	clock := func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	trail := audit.NewTrail(audit.WithClock(clock))
	step := trail.Begin("consolidate-filters", "Consolidate filters", "Merge filters.")
	step.Renamed("conf.dispatcher.d/filters/ams_publish_filters.any", "renamed to filters.any")
	step.Replaced("conf.dispatcher.d/enabled_farms/publish.farm", "line 4: include a|b -> filters.any")
	trail.Finish(step)
	other := trail.Begin("comment-non-whitelisted-directives", "Comment directives", "")
	other.Warn("conf.d/available_vhosts/publish.vhost", "line 3: commented out non-whitelisted directive ProxyPass")
	trail.Finish(other)
	trail.Review.Add(audit.ReviewItem{Path: "conf.d/available_vhosts/publish.vhost", Line: 3, Directive: "ProxyPass", Text: "ProxyPass /api http://backend"})
	trail.Begin("replace-renders", "Replace renders", "")
	return trail
}

func TestRenderGroupsOperationsByStep(t *testing.T) {
	out := string(Render(sampleTrail()))
	for _, want := range []string{
		"# Dispatcher migration report",
		"| consolidate-filters | 0 | 0 | 1 | 1 | 0 |",
		"## Consolidate filters (`consolidate-filters`)",
		`include a\|b -> filters.any`,
		"| conf.d/available_vhosts/publish.vhost | 3 | ProxyPass | `ProxyPass /api http://backend` |",
		"- `comment-non-whitelisted-directives` conf.d/available_vhosts/publish.vhost: line 3",
		"## Replace renders (`replace-renders`)\n\n_No changes._",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRoundTripsFrontMatter(t *testing.T) {
	trail := sampleTrail()
	path := filepath.Join(t.TempDir(), "reports", "conversion-report.md")
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := Write(path, trail, Meta{Created: created, Source: "/src", Target: "/out"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	meta, body, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if meta.RunID != trail.RunID || !meta.Created.Equal(created) || meta.Source != "/src" || meta.Target != "/out" {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.Counts["warning"] != 1 || meta.Counts["renamed"] != 1 {
		t.Fatalf("counts = %v", meta.Counts)
	}
	if !strings.HasPrefix(string(body), "# Dispatcher migration report") {
		t.Fatalf("body = %q", body)
	}
}

func TestParseFrontMatterErrors(t *testing.T) {
	if _, _, err := ParseFrontMatter([]byte("# no fence\n")); !errors.Is(err, ErrMissingFrontMatter) {
		t.Fatalf("expected ErrMissingFrontMatter, got %v", err)
	}
	if _, _, err := ParseFrontMatter([]byte("---\nmigration:\n  run: x\n")); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Fatalf("expected ErrMalformedFrontMatter, got %v", err)
	}
	if _, _, err := ParseFrontMatter([]byte("---\nmigration:\n  created: now\n---\nbody")); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Fatalf("expected missing run to be malformed, got %v", err)
	}
	if _, err := WriteFrontMatter(Meta{}, nil); err == nil {
		t.Fatalf("expected missing run id error")
	}
}
