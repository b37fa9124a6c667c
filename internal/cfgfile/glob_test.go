package cfgfile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
)

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"rules.any", "rules.any"},
		{"site[1].any", `site\[1\].any`},
		{"a*b?{c}", `a\*b\?\{c\}`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		got := EscapeGlob(tt.in)
		if got != tt.want {
			t.Fatalf("EscapeGlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if ok, err := doublestar.Match(got, tt.in); err != nil || !ok {
			t.Fatalf("escaped %q does not match itself literally: %v", got, err)
		}
	}
}

func TestGlobTakesRootLiterally(t *testing.T) {
	root := filepath.Join(t.TempDir(), "site[1]{prod}")
	for _, name := range []string{"cache/a.any", "cache/b.any", "cache/sub/c.any", "farms/x.farm"} {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := Glob(root, "cache/*.any")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{filepath.Join(root, "cache", "a.any"), filepath.Join(root, "cache", "b.any")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Glob = %v, want %v", got, want)
	}

	got, err = Glob(filepath.Join(root, "farms"), "../cache/**/*.any")
	if err != nil || len(got) != 3 {
		t.Fatalf("Glob with parent prefix = %v, %v", got, err)
	}

	if got, err := Glob(filepath.Join(root, "missing"), "*.any"); err != nil || len(got) != 0 {
		t.Fatalf("missing root = %v, %v", got, err)
	}
}
