package rewrite

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/section"
)

// Whitelist is a case-insensitive set of allowed directive names. Section
// directives are written with angle brackets ("<VirtualHost>"), plain
// directives as bare words ("ServerName").
type Whitelist map[string]struct{}

var barewordPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// NewWhitelist builds a whitelist from names.
func NewWhitelist(names ...string) Whitelist {
	w := Whitelist{}
	w.Add(names...)
	return w
}

// LoadWhitelist reads one directive name per line. Blank lines and
// comments are skipped.
func LoadWhitelist(path string) (Whitelist, error) {
	f, err := cfgfile.Read(path)
	if err != nil {
		return nil, err
	}
	w := Whitelist{}
	for _, line := range f.Lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || cfgfile.IsComment(trimmed) {
			continue
		}
		w.Add(trimmed)
	}
	return w, nil
}

// Add inserts names.
func (w Whitelist) Add(names ...string) {
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, "<") && !strings.HasSuffix(name, ">") {
			name += ">"
		}
		w[name] = struct{}{}
	}
}

// Allows reports whether name is whitelisted.
func (w Whitelist) Allows(name string) bool {
	_, ok := w[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names returns the entries, sorted.
func (w Whitelist) Names() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DirectiveName returns the whitelist key for a directive line: the
// lowercased tag in brackets for section lines ("<virtualhost>") and the
// lowercased first word otherwise. Lines that do not start with a
// directive yield "".
func DirectiveName(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || cfgfile.IsComment(trimmed) {
		return ""
	}
	if strings.HasPrefix(trimmed, "<") {
		name := section.TagName(trimmed)
		if name == "" {
			return ""
		}
		return "<" + strings.ToLower(name) + ">"
	}
	word := strings.Fields(trimmed)[0]
	if !barewordPattern.MatchString(word) {
		return ""
	}
	return strings.ToLower(word)
}

// CommentNonWhitelisted comments out every directive not allowed by w in
// the files matching pattern and queues each one for review.
func (rw *Rewriter) CommentNonWhitelisted(pattern string, w Whitelist) (int, error) {
	return rw.Edit(pattern, "comment non-whitelisted directives", func(f *cfgfile.File) ([]string, []Change, error) {
		lines, changes := CommentLines(f.Lines, w)
		return lines, changes, nil
	})
}

// CommentLines prefixes non-whitelisted directives with '#' after their
// indentation. A rejected section is commented up to its close tag, or
// just its opener when the close tag is missing. Continuation lines
// follow their directive.
func CommentLines(lines []string, w Whitelist) ([]string, []Change) {
	out := make([]string, 0, len(lines))
	var changes []Change
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		name := DirectiveName(line)
		if name == "" || w.Allows(name) {
			out = append(out, line)
			for continues(lines[i]) && i+1 < len(lines) {
				i++
				out = append(out, lines[i])
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		end := i
		if isTagOpener(trimmed) {
			if e, err := blockEnd(lines, i); err == nil {
				end = e
			}
		} else {
			for continues(lines[end]) && end+1 < len(lines) {
				end++
			}
		}
		for j := i; j <= end; j++ {
			out = append(out, commentOut(lines[j]))
		}
		directive := strings.Fields(trimmed)[0]
		if strings.HasPrefix(trimmed, "<") {
			directive = section.TagName(trimmed)
		}
		desc := "commented out non-whitelisted directive " + directive
		if end > i {
			desc = fmt.Sprintf("%s (%d lines)", desc, end-i+1)
		}
		changes = append(changes, Change{
			Kind:        audit.KindWarning,
			Line:        i,
			Description: desc,
			Directive:   directive,
			Text:        trimmed,
		})
		i = end
	}
	return out, changes
}

func continues(line string) bool {
	return strings.HasSuffix(strings.TrimRight(line, " \t"), `\`)
}

func commentOut(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return line
	}
	return line[:len(line)-len(trimmed)] + "#" + trimmed
}
