package rewrite

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
)

// ReplaceInclude retargets every include of oldName in the files matching
// pattern to newName. An empty newName removes the include lines.
func (rw *Rewriter) ReplaceInclude(pattern, oldName, newName string) (int, error) {
	what := "replace include " + oldName
	return rw.Edit(pattern, what, func(f *cfgfile.File) ([]string, []Change, error) {
		lines, changes := ReplaceIncludeLines(rw.Format, f.Lines, oldName, newName)
		return lines, changes, nil
	})
}

// ReplaceIncludeLines rewrites include directives whose target matches
// oldName. Indentation, keyword spelling and quoting are preserved. A
// newName without a slash only swaps the file name and keeps the
// directory of the old target.
func ReplaceIncludeLines(format cfgfile.Format, lines []string, oldName, newName string) ([]string, []Change) {
	out := make([]string, 0, len(lines))
	var changes []Change
	for i, line := range lines {
		keyword, arg, ok := format.SplitInclude(line)
		if !ok || !MatchTarget(cfgfile.Unquote(arg), oldName) {
			out = append(out, line)
			continue
		}
		target := cfgfile.Unquote(arg)
		if newName == "" {
			changes = append(changes, Change{Kind: audit.KindRemoved, Line: i, Description: "removed include of " + target})
			continue
		}
		replacement := newName
		if !strings.Contains(newName, "/") {
			replacement = SwapBase(target, newName)
		}
		updated := retarget(line, keyword, arg, replacement)
		if updated == line {
			out = append(out, line)
			continue
		}
		out = append(out, updated)
		changes = append(changes, Change{
			Kind:        audit.KindReplaced,
			Line:        i,
			Description: fmt.Sprintf("include %s -> %s", target, replacement),
		})
	}
	return out, changes
}

// MatchTarget reports whether an include target refers to name. Targets
// match exactly, by path suffix, or by doublestar pattern when name has
// wildcards.
func MatchTarget(target, name string) bool {
	target = strings.TrimSpace(target)
	name = strings.TrimSpace(name)
	if target == "" || name == "" {
		return false
	}
	if target == name || strings.HasSuffix(target, "/"+name) {
		return true
	}
	if cfgfile.HasWildcard(name) {
		if ok, _ := doublestar.Match(name, target); ok {
			return true
		}
		ok, _ := doublestar.Match(name, path.Base(target))
		return ok
	}
	return false
}

// SwapBase keeps the directory part of an include target and replaces the
// file name. Wildcard directory segments are dropped.
func SwapBase(target, name string) string {
	dir := path.Dir(strings.TrimSpace(target))
	for dir != "." && dir != "/" && cfgfile.HasWildcard(path.Base(dir)) {
		dir = path.Dir(dir)
	}
	return path.Join(dir, name)
}

// RetargetLine points the include directive on line at newTarget, keeping
// indentation, keyword and quoting. ok is false when line is not an include.
func RetargetLine(format cfgfile.Format, line, newTarget string) (updated string, ok bool) {
	keyword, arg, ok := format.SplitInclude(line)
	if !ok {
		return line, false
	}
	return retarget(line, keyword, arg, newTarget), true
}

func retarget(line, keyword, arg, newName string) string {
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	quoted := newName
	if len(arg) > 0 && (arg[0] == '"' || arg[0] == '\'') {
		quoted = string(arg[0]) + newName + string(arg[0])
	}
	return indent + keyword + " " + quoted
}
