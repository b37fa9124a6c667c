package cfgfile

import (
	"strings"

	"github.com/kingrea/dispatcher-migrate/internal/section"
)

// Format describes the dialect of a configuration file: how it includes
// other files and how its sections close.
type Format struct {
	Name string
	// IncludeKeywords lists the directives that pull in other files. The
	// first entry is used when new include lines are written.
	IncludeKeywords []string
	// QuoteIncludes wraps newly written include targets in double quotes.
	QuoteIncludes bool
	// FileRelative resolves relative include targets against the including
	// file's directory before trying the search roots.
	FileRelative bool
	Strategy     section.Strategy
}

var (
	// Farm is the brace-delimited dispatcher dialect (*.any, *.farm).
	Farm = Format{
		Name:            "farm",
		IncludeKeywords: []string{"$include"},
		QuoteIncludes:   true,
		FileRelative:    true,
		Strategy:        section.BraceBalance,
	}
	// Vhost is the tag-delimited httpd dialect (*.vhost, *.conf, *.rules, *.vars).
	Vhost = Format{
		Name:            "vhost",
		IncludeKeywords: []string{"Include", "IncludeOptional"},
		Strategy:        section.TagPair,
	}
)

// Scanner returns a section scanner using the format's closing strategy.
func (f Format) Scanner() section.Scanner {
	return section.Scanner{Strategy: f.Strategy}
}

// IncludeKeyword returns the keyword written on new include lines.
func (f Format) IncludeKeyword() string {
	if len(f.IncludeKeywords) == 0 {
		return ""
	}
	return f.IncludeKeywords[0]
}

// IncludeLine renders an include directive for target with the given
// indentation.
func (f Format) IncludeLine(indent, target string) string {
	if f.QuoteIncludes {
		target = `"` + target + `"`
	}
	return indent + f.IncludeKeyword() + " " + target
}

// SplitInclude reports whether line is an include directive and returns
// the keyword as written together with the raw (possibly quoted) argument.
func (f Format) SplitInclude(line string) (keyword, arg string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || IsComment(trimmed) {
		return "", "", false
	}
	end := strings.IndexAny(trimmed, " \t")
	if end < 0 {
		return "", "", false
	}
	word := trimmed[:end]
	for _, kw := range f.IncludeKeywords {
		// httpd directives are case-insensitive, dispatcher ones are not.
		if word == kw || (f.Strategy == section.TagPair && strings.EqualFold(word, kw)) {
			return word, strings.TrimSpace(trimmed[end:]), true
		}
	}
	return "", "", false
}

// IncludeTarget returns the unquoted path of an include directive.
func (f Format) IncludeTarget(line string) (string, bool) {
	_, arg, ok := f.SplitInclude(line)
	if !ok {
		return "", false
	}
	return Unquote(arg), true
}

// Unquote trims surrounding whitespace and one pair of matching single or
// double quotes.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// IsComment reports whether the trimmed line is a comment.
func IsComment(trimmed string) bool {
	return strings.HasPrefix(strings.TrimSpace(trimmed), "#")
}

// HasWildcard reports whether a path contains glob metacharacters.
func HasWildcard(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
