package rewrite

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/section"
)

// ErrUndefinedVariable marks a ${NAME} reference with no Define.
var ErrUndefinedVariable = errors.New("rewrite: undefined variable")

var (
	usagePattern  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	definePattern = regexp.MustCompile(`(?i)^\s*Define\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// RemoveVariableUsage deletes every line referencing varName in the files
// matching pattern. Conditional blocks opened by a referencing line are
// removed up to their matching close tag; other tag openers are kept and
// flagged.
func (rw *Rewriter) RemoveVariableUsage(pattern, varName string) (int, error) {
	return rw.Edit(pattern, "remove variable "+varName, func(f *cfgfile.File) ([]string, []Change, error) {
		return RemoveVariableLines(f.Lines, varName)
	})
}

// RemoveVariableLines drops the lines that mention varName as a whole word.
// A matching conditional opener (If, ElseIf, Else, IfDefine) takes its
// whole block with it and yields a single change. Any other tag opener
// stays, since dropping it would unbalance the file, and is reported as a
// warning. A conditional without a matching close tag is an
// ErrUnterminated error and nothing is removed.
func RemoveVariableLines(lines []string, varName string) ([]string, []Change, error) {
	if strings.TrimSpace(varName) == "" {
		return lines, nil, nil
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(varName) + `\b`)
	out := make([]string, 0, len(lines))
	var changes []Change
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if cfgfile.IsComment(trimmed) || !re.MatchString(line) {
			out = append(out, line)
			continue
		}
		if isTagOpener(trimmed) && !isConditional(section.TagName(trimmed)) {
			out = append(out, line)
			changes = append(changes, Change{
				Kind:        audit.KindWarning,
				Line:        i,
				Description: fmt.Sprintf("<%s> references %s and was kept: %s", section.TagName(trimmed), varName, trimmed),
			})
			continue
		}
		if isTagOpener(trimmed) {
			end, err := blockEnd(lines, i)
			if err != nil {
				return lines, nil, fmt.Errorf("%w: %s at line %d", err, trimmed, i+1)
			}
			changes = append(changes, Change{
				Kind:        audit.KindRemoved,
				Line:        i,
				Description: blockDescription(section.TagName(trimmed), trimmed, end-i+1),
			})
			i = end
			continue
		}
		changes = append(changes, Change{Kind: audit.KindRemoved, Line: i, Description: "removed line referencing " + varName + ": " + trimmed})
	}
	return out, changes, nil
}

func isConditional(tag string) bool {
	for _, name := range []string{"If", "ElseIf", "Else", "IfDefine"} {
		if strings.EqualFold(tag, name) {
			return true
		}
	}
	return false
}

func blockDescription(tag, opener string, n int) string {
	if strings.EqualFold(tag, "If") || strings.EqualFold(tag, "ElseIf") {
		return fmt.Sprintf("removed if condition %s (%d lines)", opener, n)
	}
	return fmt.Sprintf("removed <%s> block %s (%d lines)", tag, opener, n)
}

// DefinedVariables returns the names declared with Define in lines.
func DefinedVariables(lines []string) []string {
	var names []string
	for _, line := range lines {
		if m := definePattern.FindStringSubmatch(line); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}

// UsedVariables returns the distinct ${NAME} references in lines, in order
// of first use. Comment lines are ignored.
func UsedVariables(lines []string) []string {
	seen := map[string]bool{}
	var names []string
	for _, line := range lines {
		if cfgfile.IsComment(line) {
			continue
		}
		for _, m := range usagePattern.FindAllStringSubmatch(line, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}

// CheckUndefinedVariables records a warning for every variable used in the
// files matching pattern that is not in defined. It returns the sorted,
// distinct undefined names.
func (rw *Rewriter) CheckUndefinedVariables(pattern string, defined map[string]bool) ([]string, error) {
	files, err := rw.Files(pattern)
	if err != nil {
		return nil, err
	}
	missing := map[string]bool{}
	for _, path := range Distinct(files) {
		f, err := cfgfile.Read(path)
		if err != nil {
			return nil, err
		}
		for _, name := range UsedVariables(f.Lines) {
			if defined[name] {
				continue
			}
			missing[name] = true
			rw.record(audit.Operation{
				Kind:        audit.KindWarning,
				Path:        rw.Rel(path),
				Description: fmt.Sprintf("%v: ${%s}", ErrUndefinedVariable, name),
			})
		}
	}
	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
