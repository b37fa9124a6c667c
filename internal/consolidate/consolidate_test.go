package consolidate

import (
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/include"
	"github.com/kingrea/dispatcher-migrate/internal/testutil"
)

const defaultRules = "/0000 { /glob \"*\" /type \"allow\" }\n"

func newConsolidator(root string, sink audit.Sink) *Consolidator {
	return &Consolidator{
		Root: root,
		Resolver: &include.Resolver{
			Format:      cfgfile.Farm,
			Roots:       []string{filepath.Join(root, "conf.dispatcher.d")},
			ProjectRoot: root,
		},
		Format: cfgfile.Farm,
		Sink:   sink,
	}
}

func cachePlan() Plan {
	return Plan{
		Dir:       "conf.dispatcher.d/cache",
		Pattern:   "*.any",
		Canonical: "rules.any",
		Parents:   []string{"conf.dispatcher.d/enabled_farms/*.farm"},
		Default:   defaultRules,
	}
}

func farm(includes ...string) string {
	var b strings.Builder
	b.WriteString("/publishfarm {\n  /cache {\n    /rules {\n")
	for _, target := range includes {
		b.WriteString("      $include \"" + target + "\"\n")
	}
	b.WriteString("    }\n  }\n}\n")
	return b.String()
}

func tree(files map[string]string) string {
	var b strings.Builder
	for _, name := range sortedKeys(files) {
		b.WriteString("-- " + name + " --\n" + files[name])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestConsolidateConservesContentAndOrder(t *testing.T) {
	root := testutil.WriteTree(t, `
-- cache/one.any --
1
-- cache/two.any --
2
-- cache/three.any --
3
`)
	step := audit.NewTrail().Begin("cache", "", "")
	c := newConsolidator(root, step)
	sources := []string{
		filepath.Join(root, "cache", "one.any"),
		filepath.Join(root, "cache", "two.any"),
		filepath.Join(root, "cache", "three.any"),
	}
	if err := c.Consolidate(sources, filepath.Join(root, "cache", "rules.any")); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	testutil.WantFile(t, root, "cache/rules.any", "1\n2\n3\n")
	for _, name := range []string{"cache/one.any", "cache/two.any", "cache/three.any"} {
		testutil.WantMissing(t, root, name)
	}
	if step.Count(audit.KindAdded) != 1 || step.Count(audit.KindRemoved) != 3 {
		t.Fatalf("operations = %+v", step.Operations)
	}
}

func TestApplySingleFileRenamesAndRetargets(t *testing.T) {
	root := testutil.WriteTree(t, tree(map[string]string{
		"conf.dispatcher.d/cache/ams_publish_cache.any": defaultRules,
		"conf.dispatcher.d/enabled_farms/publish.farm":  farm("../cache/ams_publish_cache.any"),
		"conf.dispatcher.d/enabled_farms/other.farm":    farm("../cache/ams_publish_cache.any"),
	}))
	step := audit.NewTrail().Begin("cache", "", "")
	got, err := newConsolidator(root, step).Apply(cachePlan())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != OutcomeRenamed {
		t.Fatalf("outcome = %s, want %s", got, OutcomeRenamed)
	}
	testutil.WantMissing(t, root, "conf.dispatcher.d/cache/ams_publish_cache.any")
	testutil.WantFile(t, root, "conf.dispatcher.d/cache/rules.any", defaultRules)
	for _, name := range []string{"publish.farm", "other.farm"} {
		lines := testutil.Lines(testutil.ReadFile(t, root, "conf.dispatcher.d/enabled_farms/"+name))
		if lines[3] != `      $include "../cache/rules.any"` {
			t.Fatalf("%s include line = %q", name, lines[3])
		}
	}
	if step.Count(audit.KindRenamed) != 1 || step.Count(audit.KindReplaced) != 2 {
		t.Fatalf("operations = %+v", step.Operations)
	}
}

func TestApplyManyFilesManyParentsInlines(t *testing.T) {
	root := testutil.WriteTree(t, tree(map[string]string{
		"conf.dispatcher.d/cache/a.any":                "/0000 { /glob \"*\" }\n",
		"conf.dispatcher.d/cache/b.any":                "/0001 { /glob \"*.html\" }\n",
		"conf.dispatcher.d/enabled_farms/publish.farm": farm("../cache/a.any"),
		"conf.dispatcher.d/enabled_farms/other.farm":   farm("../cache/b.any"),
	}))
	got, err := newConsolidator(root, audit.Discard).Apply(cachePlan())
	if err != nil || got != OutcomeInlined {
		t.Fatalf("Apply = %s, %v; want %s", got, err, OutcomeInlined)
	}
	want := "/publishfarm {\n  /cache {\n    /rules {\n      # $include \"../cache/a.any\"\n/0000 { /glob \"*\" }\n    }\n  }\n}\n"
	testutil.WantFile(t, root, "conf.dispatcher.d/enabled_farms/publish.farm", want)
	testutil.WantMissing(t, root, "conf.dispatcher.d/cache/a.any")
	testutil.WantMissing(t, root, "conf.dispatcher.d/cache/b.any")
}

func TestApplyManyFilesOneParentMerges(t *testing.T) {
	root := testutil.WriteTree(t, tree(map[string]string{
		"conf.dispatcher.d/cache/a.any":                "A\n",
		"conf.dispatcher.d/cache/b.any":                "B\n",
		"conf.dispatcher.d/cache/unused.any":           "U\n",
		"conf.dispatcher.d/enabled_farms/publish.farm": farm("../cache/b.any", "../cache/a.any"),
	}))
	step := audit.NewTrail().Begin("cache", "", "")
	got, err := newConsolidator(root, step).Apply(cachePlan())
	if err != nil || got != OutcomeMerged {
		t.Fatalf("Apply = %s, %v; want %s", got, err, OutcomeMerged)
	}
	testutil.WantFile(t, root, "conf.dispatcher.d/cache/rules.any", "B\nA\n")
	testutil.WantFile(t, root, "conf.dispatcher.d/enabled_farms/publish.farm", farm("../cache/rules.any"))
	if files := testutil.Files(t, filepath.Join(root, "conf.dispatcher.d", "cache")); !reflect.DeepEqual(files, []string{"rules.any"}) {
		t.Fatalf("cache dir = %v", files)
	}
	if len(step.Warnings()) != 0 {
		t.Fatalf("unexpected warnings: %+v", step.Warnings())
	}
}

func TestApplyMergeWithCycleLeavesTreeUntouched(t *testing.T) {
	files := map[string]string{
		"conf.dispatcher.d/cache/one.any":              "$include \"two.any\"\n",
		"conf.dispatcher.d/cache/two.any":              "$include \"one.any\"\n",
		"conf.dispatcher.d/cache/orphan.any":           "O\n",
		"conf.dispatcher.d/enabled_farms/publish.farm": farm("../cache/one.any", "../cache/two.any"),
	}
	root := testutil.WriteTree(t, tree(files))
	step := audit.NewTrail().Begin("cache", "", "")
	got, err := newConsolidator(root, step).Apply(cachePlan())
	if err != nil || got != OutcomeSkipped {
		t.Fatalf("Apply = %s, %v; want %s", got, err, OutcomeSkipped)
	}
	for name, content := range files {
		testutil.WantFile(t, root, name, content)
	}
	testutil.WantMissing(t, root, "conf.dispatcher.d/cache/rules.any")
	warnings := step.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0].Description, include.ErrCyclicInclude.Error()) {
		t.Fatalf("warnings = %+v", warnings)
	}
	if len(step.Operations) != 1 {
		t.Fatalf("operations = %+v", step.Operations)
	}
}

func TestApplyManyFilesNoParentIsAmbiguous(t *testing.T) {
	root := testutil.WriteTree(t, tree(map[string]string{
		"conf.dispatcher.d/cache/a.any":                "A\n",
		"conf.dispatcher.d/cache/b.any":                "B\n",
		"conf.dispatcher.d/enabled_farms/publish.farm": farm(),
	}))
	step := audit.NewTrail().Begin("cache", "", "")
	got, err := newConsolidator(root, step).Apply(cachePlan())
	if err != nil || got != OutcomeAmbiguous {
		t.Fatalf("Apply = %s, %v; want %s", got, err, OutcomeAmbiguous)
	}
	testutil.WantFile(t, root, "conf.dispatcher.d/cache/a.any", "A\n")
	testutil.WantFile(t, root, "conf.dispatcher.d/cache/b.any", "B\n")
	warnings := step.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0].Description, ErrAmbiguous.Error()) {
		t.Fatalf("warnings = %+v", warnings)
	}
}

func TestApplyNoFilesInstallsDefault(t *testing.T) {
	tests := []struct {
		name    string
		farms   map[string]string
		want    map[string]string
		changes int
	}{
		{
			name:  "no parents",
			farms: map[string]string{"conf.dispatcher.d/dispatcher.any": "/farms { }\n"},
		},
		{
			name:    "one parent with dangling include",
			farms:   map[string]string{"conf.dispatcher.d/enabled_farms/publish.farm": farm("../cache/gone.any")},
			want:    map[string]string{"conf.dispatcher.d/enabled_farms/publish.farm": farm("../cache/rules.any")},
			changes: 1,
		},
		{
			name: "several parents with empty globs",
			farms: map[string]string{
				"conf.dispatcher.d/enabled_farms/publish.farm": farm("../cache/*.any"),
				"conf.dispatcher.d/enabled_farms/other.farm":   farm("../cache/*_cache.any"),
			},
			want: map[string]string{
				"conf.dispatcher.d/enabled_farms/publish.farm": farm("../cache/rules.any"),
				"conf.dispatcher.d/enabled_farms/other.farm":   farm("../cache/rules.any"),
			},
			changes: 2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := testutil.WriteTree(t, tree(tc.farms))
			step := audit.NewTrail().Begin("cache", "", "")
			got, err := newConsolidator(root, step).Apply(cachePlan())
			if err != nil || got != OutcomeDefaultInstalled {
				t.Fatalf("Apply = %s, %v; want %s", got, err, OutcomeDefaultInstalled)
			}
			testutil.WantFile(t, root, "conf.dispatcher.d/cache/rules.any", defaultRules)
			for name, content := range tc.want {
				testutil.WantFile(t, root, name, content)
			}
			if step.Count(audit.KindAdded) != 1 || step.Count(audit.KindReplaced) != tc.changes {
				t.Fatalf("operations = %+v", step.Operations)
			}
		})
	}
}

func TestApplyIsStableOnCanonicalFile(t *testing.T) {
	root := testutil.WriteTree(t, tree(map[string]string{
		"conf.dispatcher.d/cache/rules.any":            defaultRules,
		"conf.dispatcher.d/enabled_farms/publish.farm": farm("../cache/rules.any"),
	}))
	step := audit.NewTrail().Begin("cache", "", "")
	got, err := newConsolidator(root, step).Apply(cachePlan())
	if err != nil || got != OutcomeRenamed {
		t.Fatalf("Apply = %s, %v", got, err)
	}
	if len(step.Operations) != 0 {
		t.Fatalf("expected no operations, got %+v", step.Operations)
	}
}

func TestApplySkipsExcludedFiles(t *testing.T) {
	root := testutil.WriteTree(t, tree(map[string]string{
		"conf.dispatcher.d/cache/default_invalidate.any": "/0000 { /glob \"*\" /type \"deny\" }\n",
		"conf.dispatcher.d/cache/ams_publish_cache.any":  defaultRules,
		"conf.dispatcher.d/enabled_farms/publish.farm":   farm("../cache/ams_publish_cache.any"),
	}))
	plan := cachePlan()
	plan.Exclude = []string{"*invalidate*.any"}
	got, err := newConsolidator(root, audit.Discard).Apply(plan)
	if err != nil || got != OutcomeRenamed {
		t.Fatalf("Apply = %s, %v; want %s", got, err, OutcomeRenamed)
	}
	files := testutil.Files(t, filepath.Join(root, "conf.dispatcher.d", "cache"))
	if !reflect.DeepEqual(files, []string{"default_invalidate.any", "rules.any"}) {
		t.Fatalf("cache files = %v", files)
	}
	testutil.WantFile(t, root, "conf.dispatcher.d/enabled_farms/publish.farm", farm("../cache/rules.any"))
}
