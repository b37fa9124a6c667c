// Package consolidate merges leftover rule files into one canonical file
// and rewrites the includes that reference them.
//
// Which merge happens depends on how many rule files remain and how many
// parent files reference them; see Apply.
package consolidate

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/include"
	"github.com/kingrea/dispatcher-migrate/internal/rewrite"
)

// ErrAmbiguous indicates several rule files that no parent references, so
// there is nothing to merge them into.
var ErrAmbiguous = errors.New("consolidate: ambiguous consolidation")

// Outcome names the policy branch Apply took.
type Outcome string

const (
	OutcomeRenamed          Outcome = "renamed"
	OutcomeInlined          Outcome = "inlined"
	OutcomeMerged           Outcome = "merged"
	OutcomeDefaultInstalled Outcome = "default-installed"
	OutcomeAmbiguous        Outcome = "ambiguous"
	// OutcomeSkipped means a structural error (cyclic or unterminated
	// content) stopped the consolidation before any file was touched.
	OutcomeSkipped Outcome = "skipped"
)

// Plan describes one consolidation.
type Plan struct {
	// Dir is the Root-relative directory holding the rule files.
	Dir string
	// Pattern selects the rule files inside Dir ("*.any").
	Pattern string
	// Canonical is the basename of the consolidated file ("rules.any").
	Canonical string
	// Parents are Root-relative patterns of the files whose includes
	// reference the rule files.
	Parents []string
	// Exclude lists basename patterns inside Dir that are never
	// consolidated (immutable defaults).
	Exclude []string
	// Default is installed as Canonical when no rule file remains.
	Default string
}

// Consolidator applies plans below Root.
type Consolidator struct {
	Root     string
	Resolver *include.Resolver
	Format   cfgfile.Format
	Sink     audit.Sink
	Log      zerolog.Logger
}

type reference struct {
	include.Reference
	parent string
	// files are the rule files the include resolved to.
	files []string
}

// Apply runs the consolidation policy for plan:
//
//	1 file               rename to Canonical, retarget every include
//	>1 files, >1 parents inline into each parent, delete inlined files
//	>1 files, 1 parent   drop unreferenced files, merge the rest, collapse includes
//	>1 files, 0 parents  ErrAmbiguous warning, nothing touched
//	0 files              install Default, point dangling includes at it
//
// A structural error is recorded as a warning and reported as
// OutcomeSkipped; other errors return an empty outcome.
func (c *Consolidator) Apply(plan Plan) (Outcome, error) {
	if plan.Canonical == "" {
		return "", fmt.Errorf("consolidate: plan for %s has no canonical name", plan.Dir)
	}
	dir := filepath.Join(c.Root, filepath.FromSlash(plan.Dir))
	files, err := c.ruleFiles(dir, plan.Pattern, plan.Exclude)
	if err != nil {
		return "", err
	}
	parents, err := c.parentFiles(plan.Parents, files)
	if err != nil {
		return "", err
	}
	refs, err := c.references(parents, files)
	if err != nil {
		return "", err
	}
	referencing := parentsOf(refs)
	c.Log.Debug().
		Str("dir", plan.Dir).
		Int("files", len(files)).
		Int("parents", len(referencing)).
		Msg("consolidation plan")

	switch {
	case len(files) == 0:
		return c.settle(plan, OutcomeDefaultInstalled, c.installDefault(plan, dir, parents))
	case len(files) == 1:
		return c.settle(plan, OutcomeRenamed, c.rename(plan, dir, files[0], refs))
	case len(referencing) == 0:
		c.record(audit.Operation{
			Kind:        audit.KindWarning,
			Path:        filepath.ToSlash(plan.Dir),
			Description: fmt.Sprintf("%v: %d files match %s but no parent includes them; left untouched", ErrAmbiguous, len(files), plan.Pattern),
		})
		c.Log.Warn().Str("dir", plan.Dir).Int("files", len(files)).Msg("ambiguous consolidation")
		return OutcomeAmbiguous, nil
	case len(referencing) == 1:
		return c.settle(plan, OutcomeMerged, c.merge(plan, dir, files, refs))
	default:
		return c.settle(plan, OutcomeInlined, c.inlinePerParent(refs))
	}
}

func (c *Consolidator) settle(plan Plan, outcome Outcome, err error) (Outcome, error) {
	switch {
	case err == nil:
		return outcome, nil
	case rewrite.IsStructural(err):
		c.record(audit.Operation{
			Kind:        audit.KindWarning,
			Path:        filepath.ToSlash(plan.Dir),
			Description: fmt.Sprintf("consolidation skipped, files left untouched: %v", err),
		})
		c.Log.Warn().Err(err).Str("dir", plan.Dir).Msg("consolidation skipped")
		return OutcomeSkipped, nil
	}
	return "", err
}

// Consolidate writes the recursively inlined content of ruleFiles, in
// order, to target and deletes every source except target itself. Nothing
// is written or deleted when inlining fails.
func (c *Consolidator) Consolidate(ruleFiles []string, target string) error {
	lines, err := c.inlineAll(ruleFiles)
	if err != nil {
		return err
	}
	return c.writeConsolidated(ruleFiles, lines, target)
}

func (c *Consolidator) inlineAll(ruleFiles []string) ([]string, error) {
	var lines []string
	for _, file := range ruleFiles {
		inlined, err := c.Resolver.InlineLines(file)
		if err != nil {
			return nil, fmt.Errorf("consolidate: inline %s: %w", file, err)
		}
		lines = append(lines, inlined...)
	}
	return lines, nil
}

func (c *Consolidator) writeConsolidated(ruleFiles, lines []string, target string) error {
	if err := cfgfile.New(target, lines).Write(); err != nil {
		return err
	}
	names := make([]string, 0, len(ruleFiles))
	for _, file := range ruleFiles {
		names = append(names, filepath.Base(file))
	}
	c.record(audit.Operation{
		Kind:        audit.KindAdded,
		Path:        c.rel(target),
		Description: fmt.Sprintf("consolidated %d files: %s", len(ruleFiles), strings.Join(names, ", ")),
	})
	for _, file := range ruleFiles {
		if sameFile(file, target) {
			continue
		}
		if err := removeFile(file); err != nil {
			return err
		}
		c.record(audit.Operation{Kind: audit.KindRemoved, Path: c.rel(file), Description: "merged into " + filepath.Base(target)})
	}
	return nil
}

func (c *Consolidator) rename(plan Plan, dir, file string, refs []reference) error {
	target := filepath.Join(dir, plan.Canonical)
	if !sameFile(file, target) {
		if err := c.rewriter().Rename(file, target); err != nil {
			return err
		}
	}
	_, err := c.rewriteParents(refs, "retarget include to "+plan.Canonical, func(ref reference, _ bool) ([]string, string, error) {
		newTarget := rewrite.SwapBase(ref.Target, plan.Canonical)
		if newTarget == ref.Target {
			return []string{ref.Text}, "", nil
		}
		line, _ := rewrite.RetargetLine(c.Format, ref.Text, newTarget)
		return []string{line}, fmt.Sprintf("include %s -> %s", ref.Target, newTarget), nil
	})
	return err
}

func (c *Consolidator) merge(plan Plan, dir string, files []string, refs []reference) error {
	var ordered []string
	seen := map[string]bool{}
	for _, ref := range refs {
		for _, file := range ref.files {
			if !seen[file] {
				seen[file] = true
				ordered = append(ordered, file)
			}
		}
	}
	lines, err := c.inlineAll(ordered)
	if err != nil {
		return err
	}
	for _, file := range files {
		if seen[file] {
			continue
		}
		if err := removeFile(file); err != nil {
			return err
		}
		c.record(audit.Operation{Kind: audit.KindRemoved, Path: c.rel(file), Description: "deleted unreferenced rule file"})
	}
	if err := c.writeConsolidated(ordered, lines, filepath.Join(dir, plan.Canonical)); err != nil {
		return err
	}
	_, err = c.rewriteParents(refs, "collapse includes into "+plan.Canonical, func(ref reference, first bool) ([]string, string, error) {
		if !first {
			return nil, "removed include of " + ref.Target, nil
		}
		newTarget := rewrite.SwapBase(ref.Target, plan.Canonical)
		line, _ := rewrite.RetargetLine(c.Format, ref.Text, newTarget)
		if line == ref.Text {
			return []string{line}, "", nil
		}
		return []string{line}, fmt.Sprintf("include %s -> %s", ref.Target, newTarget), nil
	})
	return err
}

func (c *Consolidator) inlinePerParent(refs []reference) error {
	done, err := c.rewriteParents(refs, "inline rule files", func(ref reference, _ bool) ([]string, string, error) {
		out := []string{include.Provenance(ref.Text)}
		for _, file := range ref.files {
			lines, err := c.Resolver.InlineLines(file)
			if err != nil {
				return nil, "", err
			}
			out = append(out, lines...)
		}
		return out, fmt.Sprintf("inlined %s (%d files)", ref.Target, len(ref.files)), nil
	})
	if err != nil {
		return err
	}
	// A file is only deleted once every parent that referenced it was rewritten.
	keep := map[string]bool{}
	for _, ref := range refs {
		if !done[ref.parent] {
			for _, file := range ref.files {
				keep[file] = true
			}
		}
	}
	deleted := map[string]bool{}
	for _, ref := range refs {
		for _, file := range ref.files {
			if keep[file] || deleted[file] {
				continue
			}
			if err := removeFile(file); err != nil {
				return err
			}
			deleted[file] = true
			c.record(audit.Operation{Kind: audit.KindRemoved, Path: c.rel(file), Description: "deleted after inlining"})
		}
	}
	return nil
}

func (c *Consolidator) installDefault(plan Plan, dir string, parents []string) error {
	var dangling []reference
	for _, parent := range parents {
		f, err := cfgfile.Read(parent)
		if err != nil {
			return err
		}
		for _, ref := range c.Resolver.Scan(f) {
			missing := errors.Is(ref.Err, include.ErrMissingFile) || (ref.Err == nil && len(ref.Paths) == 0)
			if missing && c.pointsInto(parent, ref.Target, dir) {
				dangling = append(dangling, reference{Reference: ref, parent: parent})
			}
		}
	}
	target := filepath.Join(dir, plan.Canonical)
	if err := cfgfile.New(target, splitLines(plan.Default)).Write(); err != nil {
		return err
	}
	c.record(audit.Operation{Kind: audit.KindAdded, Path: c.rel(target), Description: "installed default " + plan.Canonical})
	_, err := c.rewriteParents(dangling, "point includes at default "+plan.Canonical, func(ref reference, _ bool) ([]string, string, error) {
		newTarget := rewrite.SwapBase(ref.Target, plan.Canonical)
		line, _ := rewrite.RetargetLine(c.Format, ref.Text, newTarget)
		if line == ref.Text {
			return []string{line}, "", nil
		}
		return []string{line}, fmt.Sprintf("include %s -> %s", ref.Target, newTarget), nil
	})
	return err
}

// rewriteParents replaces every reference line in its parent file with the
// lines returned by replace. first is true for the first reference of each
// parent. It returns the parents that were rewritten.
func (c *Consolidator) rewriteParents(refs []reference, what string, replace func(ref reference, first bool) ([]string, string, error)) (map[string]bool, error) {
	done := map[string]bool{}
	rw := c.rewriter()
	for _, parent := range parentsOf(refs) {
		byLine := map[int]reference{}
		for _, ref := range refs {
			if ref.parent == parent {
				byLine[ref.Line] = ref
			}
		}
		changed, err := rw.EditFile(parent, what, func(f *cfgfile.File) ([]string, []rewrite.Change, error) {
			out := make([]string, 0, len(f.Lines))
			var changes []rewrite.Change
			first := true
			for i, line := range f.Lines {
				ref, ok := byLine[i]
				if !ok || line != ref.Text {
					out = append(out, line)
					continue
				}
				repl, desc, err := replace(ref, first)
				if err != nil {
					return nil, nil, err
				}
				first = false
				out = append(out, repl...)
				if desc != "" {
					kind := audit.KindReplaced
					if len(repl) == 0 {
						kind = audit.KindRemoved
					}
					changes = append(changes, rewrite.Change{Kind: kind, Line: i, Description: desc})
				}
			}
			return out, changes, nil
		})
		if err != nil {
			return done, err
		}
		done[parent] = changed
	}
	return done, nil
}

func (c *Consolidator) ruleFiles(dir, pattern string, exclude []string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	matches, err := cfgfile.Glob(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("consolidate: bad pattern %s: %w", pattern, err)
	}
	files := matches[:0]
	for _, file := range matches {
		if !excluded(filepath.Base(file), exclude) {
			files = append(files, file)
		}
	}
	sort.Strings(files)
	return files, nil
}

func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (c *Consolidator) parentFiles(patterns []string, exclude []string) ([]string, error) {
	skip := map[string]bool{}
	for _, file := range exclude {
		skip[realPath(file)] = true
	}
	rw := c.rewriter()
	var parents []string
	seen := map[string]bool{}
	for _, pattern := range patterns {
		files, err := rw.Files(pattern)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			key := realPath(file)
			if skip[key] || seen[key] {
				continue
			}
			seen[key] = true
			parents = append(parents, file)
		}
	}
	return parents, nil
}

func (c *Consolidator) references(parents, files []string) ([]reference, error) {
	known := map[string]string{}
	for _, file := range files {
		known[abs(file)] = file
	}
	var refs []reference
	for _, parent := range parents {
		f, err := cfgfile.Read(parent)
		if err != nil {
			return nil, err
		}
		for _, ref := range c.Resolver.Scan(f) {
			var hits []string
			for _, p := range ref.Paths {
				if file, ok := known[abs(p)]; ok {
					hits = append(hits, file)
				}
			}
			if len(hits) > 0 {
				refs = append(refs, reference{Reference: ref, parent: parent, files: hits})
			}
		}
	}
	return refs, nil
}

// pointsInto reports whether an include target written in parent names a
// file inside dir.
func (c *Consolidator) pointsInto(parent, target, dir string) bool {
	native := filepath.FromSlash(target)
	want := abs(dir)
	if filepath.IsAbs(native) {
		if abs(filepath.Dir(native)) == want {
			return true
		}
	} else {
		var bases []string
		if c.Format.FileRelative {
			bases = append(bases, filepath.Dir(parent))
		}
		bases = append(bases, c.Resolver.Roots...)
		if len(bases) == 0 {
			bases = append(bases, c.Root)
		}
		for _, base := range bases {
			if abs(filepath.Dir(filepath.Join(base, native))) == want {
				return true
			}
		}
	}
	// Absolute paths from the original host keep the directory name.
	return path.Base(path.Dir(filepath.ToSlash(target))) == filepath.Base(dir)
}

func (c *Consolidator) rewriter() *rewrite.Rewriter {
	return &rewrite.Rewriter{Root: c.Root, Format: c.Format, Sink: c.Sink, Log: c.Log}
}

func (c *Consolidator) rel(p string) string {
	return c.rewriter().Rel(p)
}

func (c *Consolidator) record(op audit.Operation) {
	if c.Sink != nil {
		c.Sink.Record(op)
	}
}

func parentsOf(refs []reference) []string {
	var parents []string
	seen := map[string]bool{}
	for _, ref := range refs {
		if !seen[ref.parent] {
			seen[ref.parent] = true
			parents = append(parents, ref.parent)
		}
	}
	return parents
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func removeFile(p string) error {
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("consolidate: remove %s: %w", p, err)
	}
	return nil
}

func sameFile(a, b string) bool {
	return abs(a) == abs(b)
}

// realPath resolves symlinks so enabled links and their available targets
// count as one parent.
func realPath(p string) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return abs(real)
	}
	return abs(p)
}

func abs(p string) string {
	a, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return a
}
