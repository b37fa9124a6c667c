package rules

import (
	"fmt"
	"strings"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/rewrite"
	"github.com/kingrea/dispatcher-migrate/internal/rule"
	"github.com/kingrea/dispatcher-migrate/internal/section"
)

// Root-relative locations in the Apache tree.
const (
	vhostDirs      = "conf.d/{available_vhosts,enabled_vhosts}"
	vhostFiles     = vhostDirs + "/*.vhost"
	enabledVhosts  = "conf.d/enabled_vhosts"
	topLevelConfs  = "conf.d/*.conf"
	vhostSources   = "conf.d/**/*.{vhost,conf,rules,vars}"
	whitelistFiles = "conf.d/whitelists/*"
)

var vhostParents = []string{
	"conf.d/available_vhosts/*.vhost",
	"conf.d/enabled_vhosts/*.vhost",
	topLevelConfs,
}

func vhostRules() []definition {
	info := func(id, name, desc string) rule.Info {
		return rule.Info{ID: id, Name: name, Description: desc, Version: version, Format: cfgfile.Vhost.Name}
	}
	return []definition{
		{
			info: info("remove-non-publish-vhosts", "Remove non-publish vhosts",
				"Delete author, health check, flush and lc vhost files."),
			run: func(b *builtin, ctx *rule.Context) (rule.Result, error) {
				return removeMarked(b, ctx, vhostDirs+"/*")
			},
		},
		{
			info: info("rename-enabled-vhosts", "Rename enabled vhosts",
				"Give every enabled vhost the .vhost suffix and follow the includes."),
			run: func(b *builtin, ctx *rule.Context) (rule.Result, error) {
				return renameEnabled(b, ctx, enabledVhosts, ".vhost", topLevelConfs)
			},
		},
		{
			info: info("remove-non-port80-virtualhosts", "Remove non port 80 virtual hosts",
				"Delete <VirtualHost> sections that do not listen on port 80."),
			run: removeNonPort80,
		},
		{
			info: info("consolidate-rewrites", "Consolidate rewrite rules",
				"Merge conf.d/rewrites/*.rules into rewrite.rules."),
			run: consolidateRule(consolidation{
				dir:       "conf.d/rewrites",
				pattern:   "*.rules",
				canonical: "rewrite.rules",
				exclude:   []string{"default_rewrite.rules"},
				parents:   vhostParents,
				template:  defaultRewriteRules,
			}),
		},
		{
			info: info("consolidate-variables", "Consolidate variables",
				"Merge conf.d/variables/*.vars into custom.vars."),
			run: consolidateRule(consolidation{
				dir:       "conf.d/variables",
				pattern:   "*.vars",
				canonical: "custom.vars",
				exclude:   []string{"global.vars", "default.vars"},
				parents:   vhostParents,
				template:  defaultCustomVars,
			}),
		},
		{
			info: info("remove-undefined-variables", "Remove undefined variables",
				"Remove configured variables and report variables that are never defined."),
			run: removeUndefinedVariables,
		},
		{
			info: info("remove-whitelists", "Remove whitelists",
				"Delete conf.d/whitelists and the includes that load it."),
			run: removeWhitelists,
		},
		{
			info: info("comment-non-whitelisted-directives", "Comment non-whitelisted directives",
				"Comment out directives outside the allow-list and queue them for review."),
			run: commentNonWhitelisted,
		},
	}
}

func removeNonPort80(b *builtin, ctx *rule.Context) (rule.Result, error) {
	rw := ctx.Rewriter(cfgfile.Vhost)
	n, err := rw.Edit(b.opts.String("files", vhostFiles), "remove non port 80 virtual hosts", func(f *cfgfile.File) ([]string, []rewrite.Change, error) {
		return dropNonPort80(f.Lines)
	})
	if err != nil {
		return failed(err)
	}
	return rule.Completed(ctx, "rewrote %d vhost files", n), nil
}

// dropNonPort80 deletes the VirtualHost sections whose addresses all name
// a port other than 80.
func dropNonPort80(lines []string) ([]string, []rewrite.Change, error) {
	ranges, err := cfgfile.Vhost.Scanner().LocateAll(lines, "<VirtualHost")
	if err != nil {
		return lines, nil, err
	}
	var drop []section.Range
	for _, r := range ranges {
		if !listensOn80(lines[r.Start]) {
			drop = append(drop, r)
		}
	}
	if len(drop) == 0 {
		return lines, nil, nil
	}
	out := make([]string, 0, len(lines))
	var changes []rewrite.Change
	next := 0
	for _, r := range drop {
		out = append(out, lines[next:r.Start]...)
		changes = append(changes, rewrite.Change{
			Kind:        audit.KindRemoved,
			Line:        r.Start,
			Description: fmt.Sprintf("removed %s (lines %d-%d)", strings.TrimSpace(lines[r.Start]), r.Start+1, r.End+1),
		})
		next = r.End + 1
	}
	out = append(out, lines[next:]...)
	return out, changes, nil
}

// listensOn80 reports whether a <VirtualHost ...> header may serve port 80.
// Addresses without a port, with a wildcard port or with a variable are
// kept.
func listensOn80(header string) bool {
	trimmed := strings.TrimSpace(header)
	trimmed = strings.TrimSuffix(trimmed, ">")
	fields := strings.Fields(trimmed)
	if len(fields) < 2 {
		return true
	}
	for _, addr := range fields[1:] {
		i := strings.LastIndex(addr, ":")
		if i < 0 || strings.HasSuffix(addr, "]") {
			return true
		}
		port := addr[i+1:]
		if port == "80" || port == "*" || strings.Contains(port, "$") {
			return true
		}
	}
	return false
}

func removeUndefinedVariables(b *builtin, ctx *rule.Context) (rule.Result, error) {
	rw := ctx.Rewriter(cfgfile.Vhost)
	files := b.opts.String("files", vhostSources)

	remove := b.opts.Strings("remove", nil)
	builtins := append([]string{}, defaultBuiltinVariables...)
	if ctx.Config != nil {
		remove = append(remove, ctx.Config.Project.Variables.Remove...)
		builtins = append(builtins, ctx.Config.Project.Variables.Builtin...)
	}
	for _, name := range unique(remove) {
		if _, err := rw.RemoveVariableUsage(files, name); err != nil {
			return failed(err)
		}
	}

	if !b.opts.Bool("check_undefined", true) {
		return rule.Completed(ctx, "removed %d variables", len(unique(remove))), nil
	}

	defined := map[string]bool{}
	for _, name := range builtins {
		defined[name] = true
	}
	paths, err := rw.Files(files)
	if err != nil {
		return failed(err)
	}
	for _, p := range paths {
		f, err := cfgfile.Read(p)
		if err != nil {
			return failed(err)
		}
		for _, name := range rewrite.DefinedVariables(f.Lines) {
			defined[name] = true
		}
	}
	missing, err := rw.CheckUndefinedVariables(files, defined)
	if err != nil {
		return failed(err)
	}
	if len(missing) > 0 {
		ctx.Log.Warn().Strs("variables", missing).Msg("undefined variables")
	}
	return rule.Completed(ctx, "removed %d variables, %d undefined", len(unique(remove)), len(missing)), nil
}

func removeWhitelists(b *builtin, ctx *rule.Context) (rule.Result, error) {
	rw := ctx.Rewriter(cfgfile.Vhost)
	if _, err := rw.ReplaceInclude(vhostSources, "**/whitelists/*", ""); err != nil {
		return failed(err)
	}
	n, err := rw.DeleteMatching(whitelistFiles)
	if err != nil {
		return failed(err)
	}
	return rule.Completed(ctx, "deleted %d whitelist files", n), nil
}

func commentNonWhitelisted(b *builtin, ctx *rule.Context) (rule.Result, error) {
	w := rewrite.NewWhitelist(defaultDirectives...)
	w.Add(b.opts.Strings("extra", nil)...)
	if ctx.Config != nil {
		w.Add(ctx.Config.Project.Whitelist.Extra...)
		if file := ctx.Config.Project.Whitelist.File; file != "" {
			loaded, err := rewrite.LoadWhitelist(file)
			if err != nil {
				return failed(fmt.Errorf("rules: load whitelist: %w", err))
			}
			w.Add(loaded.Names()...)
		}
	}
	n, err := ctx.Rewriter(cfgfile.Vhost).CommentNonWhitelisted(b.opts.String("files", vhostFiles), w)
	if err != nil {
		return failed(err)
	}
	return rule.Completed(ctx, "rewrote %d vhost files", n), nil
}

func unique(names []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
