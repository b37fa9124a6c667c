// Package include resolves include directives to concrete files and inlines
// referenced content recursively.
//
// Resolution is deterministic: search directories are tried in order and the
// first one that yields a match wins. Inlining tracks the files on the
// current recursion path and fails with ErrCyclicInclude instead of
// recursing forever.
package include

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/section"
)

var (
	// ErrMissingFile indicates that an include target does not exist.
	ErrMissingFile = errors.New("include: referenced file not found")
	// ErrCyclicInclude indicates that inlining revisited a file on its own
	// recursion path.
	ErrCyclicInclude = errors.New("include: cyclic include")
)

// CycleError reports the include chain that closed a cycle.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", ErrCyclicInclude, strings.Join(e.Chain, " -> "))
}

// Is lets errors.Is match ErrCyclicInclude.
func (e *CycleError) Is(target error) bool {
	return target == ErrCyclicInclude
}

// Resolver turns include directives into file paths.
type Resolver struct {
	Format cfgfile.Format
	// Roots are searched in order after the including file's directory
	// (for file-relative formats).
	Roots []string
	// ProjectRoot is the last-resort tree for basename lookups.
	ProjectRoot string
	Log         zerolog.Logger
}

// Reference is one include directive found in a file.
type Reference struct {
	// Line is the zero-based line index.
	Line   int
	Text   string
	Target string
	Paths  []string
	Err    error
}

// Resolve returns the files referenced by an include line. Files inside
// the including file's directory are resolved against baseDir.
func (r *Resolver) Resolve(line, baseDir string) ([]string, error) {
	target, ok := r.Format.IncludeTarget(line)
	if !ok {
		return nil, fmt.Errorf("include: not an include directive: %q", strings.TrimSpace(line))
	}
	return r.ResolveTarget(target, baseDir)
}

// ResolveTarget resolves an unquoted include path. Wildcard targets expand
// to every match in the first search directory that has any (possibly
// none); literal targets resolve to exactly one file or ErrMissingFile.
func (r *Resolver) ResolveTarget(target, baseDir string) ([]string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("include: empty include target")
	}
	native := filepath.FromSlash(target)
	if cfgfile.HasWildcard(target) {
		return r.glob(native, baseDir)
	}
	for _, candidate := range r.candidates(native, baseDir) {
		if cfgfile.Exists(candidate) {
			return []string{candidate}, nil
		}
	}
	base := filepath.Base(native)
	for _, root := range r.Roots {
		if found := findBasename(root, base); found != "" {
			r.Log.Debug().Str("target", target).Str("found", found).Msg("include resolved by basename")
			return []string{found}, nil
		}
	}
	if r.ProjectRoot != "" {
		if found := findBasename(r.ProjectRoot, base); found != "" {
			r.Log.Debug().Str("target", target).Str("found", found).Msg("include resolved by project-wide basename")
			return []string{found}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingFile, target)
}

// Scan lists the include directives of f together with their resolution.
func (r *Resolver) Scan(f *cfgfile.File) []Reference {
	var refs []Reference
	for i, line := range f.Lines {
		target, ok := r.Format.IncludeTarget(line)
		if !ok {
			continue
		}
		paths, err := r.ResolveTarget(target, filepath.Dir(f.Path))
		refs = append(refs, Reference{Line: i, Text: line, Target: target, Paths: paths, Err: err})
	}
	return refs
}

// Inline returns the content of path with every resolvable include replaced
// by a provenance comment and the referenced content, recursively. Each
// line is newline-terminated.
func (r *Resolver) Inline(path string) (string, error) {
	lines, err := r.InlineLines(path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// InlineLines is Inline returning lines.
func (r *Resolver) InlineLines(path string) ([]string, error) {
	return r.inline(path, nil)
}

// InlineFile expands the includes of an in-memory file.
func (r *Resolver) InlineFile(f *cfgfile.File) ([]string, error) {
	visited := []string{canonical(f.Path)}
	return r.expand(f, visited)
}

func (r *Resolver) inline(path string, visited []string) ([]string, error) {
	key := canonical(path)
	for _, seen := range visited {
		if seen == key {
			chain := append(append([]string{}, visited...), key)
			return nil, &CycleError{Chain: chain}
		}
	}
	f, err := cfgfile.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, path)
		}
		return nil, err
	}
	return r.expand(f, append(visited, key))
}

func (r *Resolver) expand(f *cfgfile.File, visited []string) ([]string, error) {
	out := make([]string, 0, len(f.Lines))
	for _, line := range f.Lines {
		target, ok := r.Format.IncludeTarget(line)
		if !ok {
			out = append(out, line)
			continue
		}
		paths, err := r.ResolveTarget(target, filepath.Dir(f.Path))
		if errors.Is(err, ErrMissingFile) {
			r.Log.Warn().Str("file", f.Path).Str("target", target).Msg("include target missing, keeping directive")
			out = append(out, line)
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			out = append(out, line)
			continue
		}
		out = append(out, Provenance(line))
		for _, p := range paths {
			sub, err := r.inline(p, visited)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

// Provenance renders the comment placed above inlined content.
func Provenance(line string) string {
	return section.Indent(line) + "# " + strings.TrimSpace(line)
}

func (r *Resolver) searchDirs(baseDir string) []string {
	var dirs []string
	seen := map[string]struct{}{}
	add := func(dir string) {
		if dir == "" {
			return
		}
		clean := filepath.Clean(dir)
		if _, ok := seen[clean]; ok {
			return
		}
		seen[clean] = struct{}{}
		dirs = append(dirs, clean)
	}
	if r.Format.FileRelative {
		add(baseDir)
	}
	for _, root := range r.Roots {
		add(root)
	}
	if len(dirs) == 0 {
		add(baseDir)
	}
	return dirs
}

func (r *Resolver) candidates(native, baseDir string) []string {
	if filepath.IsAbs(native) {
		return []string{filepath.Clean(native)}
	}
	dirs := r.searchDirs(baseDir)
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		out = append(out, filepath.Join(dir, native))
	}
	return out
}

func (r *Resolver) glob(native, baseDir string) ([]string, error) {
	dirs := r.searchDirs(baseDir)
	if filepath.IsAbs(native) {
		dirs = []string{string(filepath.Separator)}
	}
	for _, dir := range dirs {
		matches, err := cfgfile.Glob(dir, native)
		if err != nil {
			return nil, fmt.Errorf("include: bad pattern %s: %w", filepath.Join(dir, native), err)
		}
		if len(matches) == 0 {
			continue
		}
		sort.Strings(matches)
		return matches, nil
	}
	return nil, nil
}

func findBasename(root, base string) string {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return ""
	}
	matches, err := cfgfile.Glob(root, "**/"+cfgfile.EscapeGlob(base))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
