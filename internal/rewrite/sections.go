package rewrite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/section"
)

// LabelDroppedDuplicate marks later occurrences of a section that were
// left unchanged because only the first one is rewritten.
const LabelDroppedDuplicate = "dropped-duplicate"

// ReplaceSectionContent replaces the body of the first section introduced
// by header in every file matching pattern with the single line newLine.
func (rw *Rewriter) ReplaceSectionContent(pattern, header, newLine string) (int, error) {
	return rw.Edit(pattern, "replace "+header+" content", func(f *cfgfile.File) ([]string, []Change, error) {
		return ReplaceSectionLines(rw.Format, f.Lines, header, newLine)
	})
}

// ReplaceSectionLines replaces the lines strictly between the opener and
// closer of the first header section with newLine. The header, the opener
// and the closer stay in place. Later sections with the same header are
// reported with LabelDroppedDuplicate and left alone.
func ReplaceSectionLines(format cfgfile.Format, lines []string, header, newLine string) ([]string, []Change, error) {
	scanner := format.Scanner()
	r, err := scanner.Locate(lines, header)
	if errors.Is(err, section.ErrNotFound) {
		return lines, nil, nil
	}
	if err != nil {
		return lines, nil, err
	}
	content := strings.TrimSpace(newLine)

	var out []string
	if r.Open == r.End {
		out, err = splitSingleLine(lines, r, content)
		if err != nil {
			return lines, nil, err
		}
	} else {
		from, to := r.Body()
		if to-from == 1 && strings.TrimSpace(lines[from]) == content {
			return lines, duplicates(scanner, lines, header, r), nil
		}
		body := bodyIndent(lines, r) + content
		out = make([]string, 0, len(lines)-(to-from)+1)
		out = append(out, lines[:from]...)
		out = append(out, body)
		out = append(out, lines[to:]...)
	}

	changes := []Change{{
		Kind:        audit.KindReplaced,
		Line:        r.Start,
		Description: fmt.Sprintf("replaced content of %s (lines %d-%d) with %s", header, r.Start+1, r.End+1, content),
	}}
	return out, append(changes, duplicates(scanner, lines, header, r)...), nil
}

// splitSingleLine expands "/rules { ... }" into opener, body and closer.
func splitSingleLine(lines []string, r section.Range, content string) ([]string, error) {
	line := lines[r.Open]
	open, close := section.BraceSpan(line)
	if open < 0 || close < 0 {
		return nil, fmt.Errorf("%w: no brace pair on line %d", section.ErrUnterminated, r.Open+1)
	}
	out := make([]string, 0, len(lines)+2)
	out = append(out, lines[:r.Open]...)
	out = append(out,
		strings.TrimRight(line[:open+1], " \t"),
		r.Indent+"  "+content,
		r.Indent+line[close:],
	)
	return append(out, lines[r.Open+1:]...), nil
}

func bodyIndent(lines []string, r section.Range) string {
	from, to := r.Body()
	for i := from; i < to; i++ {
		if strings.TrimSpace(lines[i]) != "" {
			return section.Indent(lines[i])
		}
	}
	return r.Indent + "  "
}

func duplicates(scanner section.Scanner, lines []string, header string, first section.Range) []Change {
	var changes []Change
	from := first.End + 1
	for from < len(lines) {
		r, err := scanner.LocateFrom(lines, header, from)
		if err != nil {
			break
		}
		changes = append(changes, Change{
			Kind:        audit.KindWarning,
			Line:        r.Start,
			Label:       LabelDroppedDuplicate,
			Description: fmt.Sprintf("additional %s section left unchanged; only the first occurrence is rewritten", header),
		})
		from = r.End + 1
	}
	return changes
}
