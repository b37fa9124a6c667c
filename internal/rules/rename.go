package rules

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/rule"
)

func baseName(file string) string {
	return filepath.Base(file)
}

// withSuffix swaps the extension of name for suffix. Names without an
// extension get suffix appended.
func withSuffix(name, suffix string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + suffix
}

// renameEnabled gives every file in dir the suffix and retargets literal
// includes of the old name in the files matching parents.
func renameEnabled(b *builtin, ctx *rule.Context, dir, suffix, parents string) (rule.Result, error) {
	suffix = b.opts.String("suffix", suffix)
	rw := ctx.Rewriter(b.format())
	files, err := rw.Files(dir + "/*")
	if err != nil {
		return failed(err)
	}
	renamed := 0
	for _, file := range files {
		name := baseName(file)
		if strings.HasSuffix(name, suffix) || strings.HasPrefix(name, ".") {
			continue
		}
		newName := withSuffix(name, suffix)
		to := filepath.Join(filepath.Dir(file), newName)
		if cfgfile.Exists(to) {
			ctx.Step.Warn(rw.Rel(file), "not renamed: %s already exists", newName)
			continue
		}
		if err := rw.Rename(file, to); err != nil {
			return failed(err)
		}
		renamed++
		if _, err := rw.ReplaceInclude(parents, path.Base(dir)+"/"+name, newName); err != nil {
			return failed(err)
		}
	}
	return rule.Completed(ctx, "renamed %d files to *%s", renamed, suffix), nil
}
