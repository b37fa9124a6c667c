package rewrite

import (
	"strings"

	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/section"
)

func isTagOpener(trimmed string) bool {
	return strings.HasPrefix(trimmed, "<") && !strings.HasPrefix(trimmed, "</") && section.TagName(trimmed) != ""
}

func isTagCloser(trimmed string) bool {
	return strings.HasPrefix(trimmed, "</")
}

// blockEnd returns the index of the close tag matching the opener at
// start. Open tags are kept on a stack; a close tag pops back to the
// nearest opener with the same name and stray closers are ignored.
func blockEnd(lines []string, start int) (int, error) {
	stack := []string{section.TagName(lines[start])}
	for j := start + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" || cfgfile.IsComment(trimmed) {
			continue
		}
		name := section.TagName(trimmed)
		if name == "" {
			continue
		}
		if !isTagCloser(trimmed) {
			stack = append(stack, name)
			continue
		}
		for k := len(stack) - 1; k >= 0; k-- {
			if strings.EqualFold(stack[k], name) {
				stack = stack[:k]
				break
			}
		}
		if len(stack) == 0 {
			return j, nil
		}
	}
	return -1, section.ErrUnterminated
}
