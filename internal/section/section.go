// Package section locates named, delimited blocks inside configuration text.
//
// Two closing strategies are supported: brace balance for dispatcher farm
// files (`/cache { ... }`) and a paired end tag at matching indentation for
// httpd vhost files (`<VirtualHost *:80> ... </VirtualHost>`). The scanner
// works at line granularity and never builds a syntax tree.
package section

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that no line starts with the requested header.
	ErrNotFound = errors.New("section: header not found")
	// ErrUnterminated indicates that a header was found but its closing
	// brace or end tag was not, or that the opening brace is missing.
	ErrUnterminated = errors.New("section: unterminated section")
)

// Strategy selects how the end of a section is determined.
type Strategy int

const (
	// BraceBalance ends a section when the brace depth returns to zero.
	BraceBalance Strategy = iota
	// TagPair ends a section at the end tag with the header's indentation.
	TagPair
)

func (s Strategy) String() string {
	switch s {
	case BraceBalance:
		return "brace-balance"
	case TagPair:
		return "tag-pair"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Range is the inclusive line extent of a section.
type Range struct {
	// Start is the header line.
	Start int
	// Open is the line holding the opening brace. For tag pairs it equals Start.
	Open int
	// End is the line holding the closing brace or end tag.
	End int
	// Indent is the leading whitespace of the header line.
	Indent string
}

// Body returns the half-open interval of lines strictly between the opener
// and the closer.
func (r Range) Body() (from, to int) {
	from = r.Open + 1
	to = r.End
	if to < from {
		to = from
	}
	return from, to
}

// Scanner locates sections with a fixed strategy.
type Scanner struct {
	Strategy Strategy
	// EndTag overrides the derived end tag for TagPair scanning.
	EndTag string
}

// Locate returns the first section introduced by header.
func (s Scanner) Locate(lines []string, header string) (Range, error) {
	return s.LocateFrom(lines, header, 0)
}

// LocateFrom returns the first section introduced by header at or after
// line index from.
func (s Scanner) LocateFrom(lines []string, header string, from int) (Range, error) {
	if strings.TrimSpace(header) == "" {
		return Range{}, fmt.Errorf("section: empty header")
	}
	start := s.findHeader(lines, header, from)
	if start < 0 {
		return Range{}, fmt.Errorf("%w: %s", ErrNotFound, header)
	}
	indent := Indent(lines[start])
	if s.Strategy == TagPair {
		return s.closeTag(lines, header, start, indent)
	}
	return closeBraces(lines, header, start, indent)
}

// LocateAll returns every top-to-bottom occurrence of header. Sections
// found inside an earlier match are skipped.
func (s Scanner) LocateAll(lines []string, header string) ([]Range, error) {
	var ranges []Range
	from := 0
	for from < len(lines) {
		r, err := s.LocateFrom(lines, header, from)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return ranges, err
		}
		ranges = append(ranges, r)
		from = r.End + 1
	}
	return ranges, nil
}

// IsHeader reports whether line introduces a section named header.
func (s Scanner) IsHeader(line, header string) bool {
	return matchesHeader(strings.TrimLeft(line, " \t"), header, s.Strategy == TagPair)
}

func (s Scanner) findHeader(lines []string, header string, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(lines); i++ {
		if s.IsHeader(lines[i], header) {
			return i
		}
	}
	return -1
}

// matchesHeader requires the header to be followed by a delimiter so that
// "/filter" does not match "/filters".
func matchesHeader(trimmed, header string, foldCase bool) bool {
	if len(trimmed) < len(header) {
		return false
	}
	prefix := trimmed[:len(header)]
	if foldCase {
		if !strings.EqualFold(prefix, header) {
			return false
		}
	} else if prefix != header {
		return false
	}
	if len(trimmed) == len(header) {
		return true
	}
	switch trimmed[len(header)] {
	case ' ', '\t', '{', '>', '#', '\r':
		return true
	}
	return false
}

func closeBraces(lines []string, header string, start int, indent string) (Range, error) {
	depth := 0
	open := -1
	for i := start; i < len(lines); i++ {
		if open < 0 && i > start {
			trimmed := strings.TrimSpace(lines[i])
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			if !strings.HasPrefix(trimmed, "{") {
				return Range{}, fmt.Errorf("%w: %s at line %d has no opening brace", ErrUnterminated, header, start+1)
			}
		}
		end := -1
		scanBraces(lines[i], func(c byte, _ int) bool {
			if c == '{' {
				if open < 0 {
					open = i
				}
				depth++
				return true
			}
			if open < 0 {
				// A closer before any opener belongs to an enclosing section.
				return true
			}
			depth--
			if depth == 0 {
				end = i
				return false
			}
			return true
		})
		if end >= 0 {
			return Range{Start: start, Open: open, End: end, Indent: indent}, nil
		}
	}
	return Range{}, fmt.Errorf("%w: %s opened at line %d", ErrUnterminated, header, start+1)
}

func (s Scanner) closeTag(lines []string, header string, start int, indent string) (Range, error) {
	end := s.EndTag
	if end == "" {
		end = EndTagFor(header)
	}
	for i := start + 1; i < len(lines); i++ {
		if Indent(lines[i]) != indent {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(lines[i]), end) {
			return Range{Start: start, Open: start, End: i, Indent: indent}, nil
		}
	}
	return Range{}, fmt.Errorf("%w: %s opened at line %d has no %s", ErrUnterminated, header, start+1, end)
}

// EndTagFor derives the closing tag for a tag header such as "<VirtualHost"
// or "<If \"x\">".
func EndTagFor(header string) string {
	name := TagName(header)
	if name == "" {
		return ""
	}
	return "</" + name + ">"
}

// TagName extracts the element name from a tag line ("<If x>" -> "If",
// "</If>" -> "If"). It returns "" for lines that are not tags.
func TagName(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "<") {
		return ""
	}
	trimmed = strings.TrimPrefix(trimmed, "<")
	trimmed = strings.TrimPrefix(trimmed, "/")
	end := strings.IndexAny(trimmed, " \t>")
	if end < 0 {
		end = len(trimmed)
	}
	return trimmed[:end]
}

// Indent returns the leading whitespace of line.
func Indent(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// Balanced reports whether the braces in lines (outside quotes and
// comments) balance without ever closing more than was opened.
func Balanced(lines []string) bool {
	depth := 0
	ok := true
	for _, line := range lines {
		scanBraces(line, func(c byte, _ int) bool {
			if c == '{' {
				depth++
			} else {
				depth--
			}
			if depth < 0 {
				ok = false
				return false
			}
			return true
		})
		if !ok {
			return false
		}
	}
	return depth == 0
}

// CountBraces returns the number of opening and closing braces in lines,
// ignoring quoted text and comments.
func CountBraces(lines []string) (open, close int) {
	for _, line := range lines {
		scanBraces(line, func(c byte, _ int) bool {
			if c == '{' {
				open++
			} else {
				close++
			}
			return true
		})
	}
	return open, close
}

// BraceSpan returns the byte offsets of the first structural '{' in line
// and of the '}' that balances it. Either is -1 when absent.
func BraceSpan(line string) (open, close int) {
	open, close = -1, -1
	depth := 0
	scanBraces(line, func(c byte, at int) bool {
		if c == '{' {
			if open < 0 {
				open = at
			}
			depth++
			return true
		}
		if open < 0 {
			return true
		}
		depth--
		if depth == 0 {
			close = at
			return false
		}
		return true
	})
	return open, close
}

// scanBraces calls fn for every structural brace in line until fn returns
// false. Braces inside single or double quotes and after an unquoted '#'
// are ignored.
func scanBraces(line string, fn func(c byte, at int) bool) {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			return
		case c == '{' || c == '}':
			if !fn(c, i) {
				return
			}
		}
	}
}
