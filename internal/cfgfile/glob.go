package cfgfile

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// EscapeGlob backslash-escapes glob metacharacters so a literal name can
// be embedded in a doublestar pattern.
func EscapeGlob(name string) string {
	if !strings.ContainsAny(name, `\*?[]{}`) {
		return name
	}
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '\\', '*', '?', '[', ']', '{', '}':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Glob returns the regular files under root matching the slash-separated
// doublestar pattern, as sorted native paths. Root is taken literally, so
// metacharacters in directory names above the pattern do not matter.
// Leading "../" elements of the pattern move root up.
func Glob(root, pattern string) ([]string, error) {
	root = filepath.Clean(root)
	pattern = path.Clean(filepath.ToSlash(pattern))
	if path.IsAbs(pattern) {
		root, pattern = string(filepath.Separator), strings.TrimPrefix(pattern, "/")
	}
	for pattern == ".." || strings.HasPrefix(pattern, "../") {
		root = filepath.Dir(root)
		pattern = strings.TrimPrefix(strings.TrimPrefix(pattern, ".."), "/")
	}
	if pattern == "" || pattern == "." {
		return nil, nil
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(root, filepath.FromSlash(m)))
	}
	sort.Strings(out)
	return out, nil
}
