// Package rewrite implements the line-level rewrite primitives shared by all
// migration rules.
//
// Every primitive exists twice: as a pure function over a slice of lines
// (ReplaceIncludeLines, RemoveVariableLines, CommentLines,
// ReplaceSectionLines) and as a Rewriter method that applies it to a
// glob-selected file set, writes each changed file back whole and records
// one audit operation per observable mutation.
package rewrite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/include"
	"github.com/kingrea/dispatcher-migrate/internal/section"
)

// Change describes one mutation produced by a pure line transform.
type Change struct {
	Kind audit.Kind
	// Line is the zero-based index in the input, or -1 for file-level changes.
	Line        int
	Description string
	Label       string
	// Directive is set for redactions that need human review.
	Directive string
	Text      string
}

// LineFunc transforms one file. Returning a structural error (see
// IsStructural) leaves the file untouched and records a warning.
type LineFunc func(f *cfgfile.File) ([]string, []Change, error)

// Rewriter applies line transforms to files below Root.
type Rewriter struct {
	Root   string
	Format cfgfile.Format
	Sink   audit.Sink
	Review *audit.ReviewList
	Log    zerolog.Logger
}

// Files returns the regular files matching a Root-relative doublestar
// pattern, sorted.
func (rw *Rewriter) Files(pattern string) ([]string, error) {
	matches, err := cfgfile.Glob(rw.Root, pattern)
	if err != nil {
		return nil, fmt.Errorf("rewrite: bad pattern %s: %w", pattern, err)
	}
	return matches, nil
}

// DeleteMatching removes every file matching pattern and returns how many
// were removed. Running it again finds nothing and records nothing.
func (rw *Rewriter) DeleteMatching(pattern string) (int, error) {
	files, err := rw.Files(pattern)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range files {
		if err := rw.Remove(path, "deleted file"); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Remove deletes one file and records why.
func (rw *Rewriter) Remove(path, reason string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("rewrite: remove %s: %w", path, err)
	}
	rw.record(audit.Operation{Kind: audit.KindRemoved, Path: rw.Rel(path), Description: reason})
	rw.Log.Debug().Str("file", path).Msg("deleted")
	return nil
}

// Rename moves a file and records the rename.
func (rw *Rewriter) Rename(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("rewrite: ensure dir for %s: %w", to, err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("rewrite: rename %s: %w", from, err)
	}
	rw.record(audit.Operation{Kind: audit.KindRenamed, Path: rw.Rel(from), Description: "renamed to " + rw.Rel(to)})
	return nil
}

// Edit applies fn to every file matching pattern and returns the number of
// files written back. Symlinks to a file already in the set are skipped.
func (rw *Rewriter) Edit(pattern, what string, fn LineFunc) (int, error) {
	files, err := rw.Files(pattern)
	if err != nil {
		return 0, err
	}
	files = Distinct(files)
	written := 0
	for _, path := range files {
		changed, err := rw.EditFile(path, what, fn)
		if err != nil {
			return written, err
		}
		if changed {
			written++
		}
	}
	return written, nil
}

// EditFile applies fn to a single file. Structural errors are recorded as
// warnings and leave the file untouched; I/O errors are returned.
func (rw *Rewriter) EditFile(path, what string, fn LineFunc) (bool, error) {
	f, err := cfgfile.Read(path)
	if err != nil {
		return false, err
	}
	lines, changes, err := fn(f)
	if err != nil {
		if IsStructural(err) {
			rw.Log.Warn().Err(err).Str("file", path).Str("operation", what).Msg("file left untouched")
			rw.record(audit.Operation{Kind: audit.KindWarning, Path: rw.Rel(path), Description: fmt.Sprintf("%s skipped, file left untouched: %v", what, err)})
			return false, nil
		}
		return false, err
	}
	changed := f.SetLines(lines)
	if changed {
		if err := f.Write(); err != nil {
			return false, err
		}
		rw.Log.Debug().Str("file", path).Str("operation", what).Int("changes", len(changes)).Msg("rewrote file")
	}
	rw.recordChanges(path, changes)
	return changed, nil
}

// Distinct drops paths that resolve, through symlinks, to a file listed
// earlier.
func Distinct(files []string) []string {
	seen := map[string]bool{}
	out := files[:0:0]
	for _, file := range files {
		real, err := filepath.EvalSymlinks(file)
		if err != nil {
			real = file
		}
		if seen[real] {
			continue
		}
		seen[real] = true
		out = append(out, file)
	}
	return out
}

// Rel returns path relative to Root with forward slashes, for audit entries.
func (rw *Rewriter) Rel(path string) string {
	if rw.Root == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(rw.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// IsStructural reports whether err is a per-file structural condition that
// should be downgraded to a warning.
func IsStructural(err error) bool {
	return errors.Is(err, section.ErrUnterminated) ||
		errors.Is(err, include.ErrMissingFile) ||
		errors.Is(err, include.ErrCyclicInclude)
}

func (rw *Rewriter) recordChanges(path string, changes []Change) {
	rel := rw.Rel(path)
	for _, c := range changes {
		desc := c.Description
		if c.Line >= 0 {
			desc = fmt.Sprintf("line %d: %s", c.Line+1, desc)
		}
		rw.record(audit.Operation{Kind: c.Kind, Path: rel, Description: desc, Label: c.Label})
		if c.Directive != "" {
			rw.Review.Add(audit.ReviewItem{Path: rel, Line: c.Line + 1, Directive: c.Directive, Text: c.Text})
		}
	}
}

func (rw *Rewriter) record(op audit.Operation) {
	if rw.Sink == nil {
		return
	}
	rw.Sink.Record(op)
}
