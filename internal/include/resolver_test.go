package include

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/testutil"
)

const farmTree = `
-- conf.dispatcher.d/enabled_farms/publish.farm --
/publishfarm {
  /cache {
    /rules {
      $include "../cache/rules.any"
    }
  }
}
-- conf.dispatcher.d/cache/rules.any --
/0000 { /glob "*" /type "allow" }
-- conf.dispatcher.d/filters/a.any --
/0001 { /type "deny" }
-- conf.dispatcher.d/filters/b.any --
/0002 { /type "allow" }
-- conf.dispatcher.d/filters/sub/deep.any --
/0003 { /type "allow" }
-- conf.dispatcher.d/clientheaders/default_clientheaders.any --
"X-Forwarded-Proto"
`

func newFarmResolver(root string) *Resolver {
	return &Resolver{
		Format:      cfgfile.Farm,
		Roots:       []string{filepath.Join(root, "conf.dispatcher.d")},
		ProjectRoot: root,
	}
}

func TestResolveLiteralQuotedRelative(t *testing.T) {
	root := testutil.WriteTree(t, farmTree)
	r := newFarmResolver(root)
	base := filepath.Join(root, "conf.dispatcher.d", "enabled_farms")
	got, err := r.Resolve(`      $include "../cache/rules.any"`, base)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{filepath.Join(root, "conf.dispatcher.d", "cache", "rules.any")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve = %v, want %v", got, want)
	}
}

func TestResolveGlobUsesFirstMatchingRoot(t *testing.T) {
	root := testutil.WriteTree(t, farmTree)
	r := newFarmResolver(root)
	base := filepath.Join(root, "conf.dispatcher.d", "enabled_farms")
	got, err := r.Resolve(`$include "filters/*.any"`, base)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{
		filepath.Join(root, "conf.dispatcher.d", "filters", "a.any"),
		filepath.Join(root, "conf.dispatcher.d", "filters", "b.any"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve = %v, want %v", got, want)
	}

	none, err := r.Resolve(`$include "renders/*.any"`, base)
	if err != nil || len(none) != 0 {
		t.Fatalf("unmatched glob = %v, %v; want no paths and no error", none, err)
	}
}

func TestResolveBasenameFallbacks(t *testing.T) {
	root := testutil.WriteTree(t, farmTree)
	r := newFarmResolver(root)
	base := filepath.Join(root, "conf.dispatcher.d", "enabled_farms")

	got, err := r.Resolve(`$include "/etc/httpd/conf.dispatcher.d/filters/deep.any"`, base)
	if err != nil {
		t.Fatalf("Resolve by basename: %v", err)
	}
	if want := filepath.Join(root, "conf.dispatcher.d", "filters", "sub", "deep.any"); got[0] != want {
		t.Fatalf("Resolve = %v, want %s", got, want)
	}

	r.Roots = []string{filepath.Join(root, "conf.dispatcher.d", "cache")}
	got, err = r.Resolve(`$include "default_clientheaders.any"`, base)
	if err != nil {
		t.Fatalf("Resolve project-wide: %v", err)
	}
	if want := filepath.Join(root, "conf.dispatcher.d", "clientheaders", "default_clientheaders.any"); got[0] != want {
		t.Fatalf("Resolve = %v, want %s", got, want)
	}

	if _, err := r.Resolve(`$include "nowhere.any"`, base); !errors.Is(err, ErrMissingFile) {
		t.Fatalf("err = %v, want ErrMissingFile", err)
	}
}

func TestResolveVhostInclude(t *testing.T) {
	root := testutil.WriteTree(t, `
-- conf.d/available_vhosts/site.vhost --
Include conf.d/rewrites/base.rules
-- conf.d/rewrites/base.rules --
RewriteEngine on
`)
	r := &Resolver{Format: cfgfile.Vhost, Roots: []string{root}}
	got, err := r.Resolve("  include conf.d/rewrites/base.rules", filepath.Join(root, "conf.d", "available_vhosts"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(root, "conf.d", "rewrites", "base.rules"); got[0] != want {
		t.Fatalf("Resolve = %v, want %s", got, want)
	}
}

func TestInlineRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "farm.any"), "$include \"a.any\"\n")
	writeFile(t, filepath.Join(dir, "a.any"), "T")
	r := &Resolver{Format: cfgfile.Farm}
	got, err := r.Inline(filepath.Join(dir, "farm.any"))
	if err != nil {
		t.Fatalf("Inline: %v", err)
	}
	if want := "# $include \"a.any\"\nT\n"; got != want {
		t.Fatalf("Inline = %q, want %q", got, want)
	}
}

func TestInlineRecursiveKeepsMissingAndIndentation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "farm.any"), "/rules {\n  $include \"a.any\"\n  $include \"missing.any\"\n}\n")
	writeFile(t, filepath.Join(dir, "a.any"), "/0000 { /glob \"*\" }\n$include \"b.any\"\n")
	writeFile(t, filepath.Join(dir, "b.any"), "/0001 { /glob \"*.html\" }\n")
	r := &Resolver{Format: cfgfile.Farm}
	got, err := r.InlineLines(filepath.Join(dir, "farm.any"))
	if err != nil {
		t.Fatalf("InlineLines: %v", err)
	}
	want := []string{
		"/rules {",
		`  # $include "a.any"`,
		`/0000 { /glob "*" }`,
		`# $include "b.any"`,
		`/0001 { /glob "*.html" }`,
		`  $include "missing.any"`,
		"}",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("InlineLines =\n%q\nwant\n%q", got, want)
	}
}

func TestInlineDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.any"), "$include \"b.any\"\n")
	writeFile(t, filepath.Join(dir, "b.any"), "$include \"a.any\"\n")
	r := &Resolver{Format: cfgfile.Farm}
	_, err := r.Inline(filepath.Join(dir, "a.any"))
	if !errors.Is(err, ErrCyclicInclude) {
		t.Fatalf("err = %v, want ErrCyclicInclude", err)
	}
	var cycle *CycleError
	if !errors.As(err, &cycle) || len(cycle.Chain) != 3 {
		t.Fatalf("cycle chain = %+v", cycle)
	}
}

func TestInlineAllowsDiamond(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.any"), "$include \"left.any\"\n$include \"right.any\"\n")
	writeFile(t, filepath.Join(dir, "left.any"), "$include \"shared.any\"\n")
	writeFile(t, filepath.Join(dir, "right.any"), "$include \"shared.any\"\n")
	writeFile(t, filepath.Join(dir, "shared.any"), "S\n")
	r := &Resolver{Format: cfgfile.Farm}
	got, err := r.Inline(filepath.Join(dir, "top.any"))
	if err != nil {
		t.Fatalf("Inline: %v", err)
	}
	want := "# $include \"left.any\"\n# $include \"shared.any\"\nS\n# $include \"right.any\"\n# $include \"shared.any\"\nS\n"
	if got != want {
		t.Fatalf("Inline = %q, want %q", got, want)
	}
}

func TestScanListsReferences(t *testing.T) {
	root := testutil.WriteTree(t, farmTree)
	r := newFarmResolver(root)
	f, err := cfgfile.Read(filepath.Join(root, "conf.dispatcher.d", "enabled_farms", "publish.farm"))
	if err != nil {
		t.Fatal(err)
	}
	refs := r.Scan(f)
	if len(refs) != 1 || refs[0].Line != 3 || refs[0].Target != "../cache/rules.any" || refs[0].Err != nil {
		t.Fatalf("Scan = %+v", refs)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
