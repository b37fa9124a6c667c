package rules

import (
	"path"

	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/consolidate"
	"github.com/kingrea/dispatcher-migrate/internal/rule"
)

// Root-relative locations in the dispatcher tree.
const (
	farmDirs           = rule.FarmDir + "/{available_farms,enabled_farms}"
	farmFiles          = farmDirs + "/*.farm"
	enabledFarms       = rule.FarmDir + "/enabled_farms"
	dispatcherAny      = rule.FarmDir + "/dispatcher.any"
	rendersDir         = rule.FarmDir + "/renders"
	defaultRendersName = "default_renders.any"
)

var farmParents = []string{
	rule.FarmDir + "/available_farms/*.farm",
	rule.FarmDir + "/enabled_farms/*.farm",
}

func farmRules() []definition {
	info := func(id, name, desc string) rule.Info {
		return rule.Info{ID: id, Name: name, Description: desc, Version: version, Format: cfgfile.Farm.Name}
	}
	return []definition{
		{
			info: info("remove-non-publish-farms", "Remove non-publish farms",
				"Delete author, health check, flush and lc farm files."),
			run: func(b *builtin, ctx *rule.Context) (rule.Result, error) {
				return removeMarked(b, ctx, farmDirs+"/*")
			},
		},
		{
			info: info("rename-enabled-farms", "Rename enabled farms",
				"Give every enabled farm the .farm suffix and follow the includes in dispatcher.any."),
			run: func(b *builtin, ctx *rule.Context) (rule.Result, error) {
				return renameEnabled(b, ctx, enabledFarms, ".farm", dispatcherAny)
			},
		},
		{
			info: info("consolidate-cache-rules", "Consolidate cache rules",
				"Merge cache/*.any into rules.any and point every /rules section at it."),
			run: consolidateRule(consolidation{
				dir:       rule.FarmDir + "/cache",
				pattern:   "*.any",
				canonical: "rules.any",
				exclude:   []string{"*invalidate*.any", "default_rules.any"},
				parents:   farmParents,
				template:  defaultCacheRules,
				section:   "/rules",
			}),
		},
		{
			info: info("consolidate-client-headers", "Consolidate client headers",
				"Merge clientheaders/*.any into clientheaders.any and point every /clientheaders section at it."),
			run: consolidateRule(consolidation{
				dir:       rule.FarmDir + "/clientheaders",
				pattern:   "*.any",
				canonical: "clientheaders.any",
				exclude:   []string{"default_clientheaders.any"},
				parents:   farmParents,
				template:  defaultClientHeaders,
				section:   "/clientheaders",
			}),
		},
		{
			info: info("consolidate-filters", "Consolidate filters",
				"Merge filters/*.any into filters.any and point every /filter section at it."),
			run: consolidateRule(consolidation{
				dir:       rule.FarmDir + "/filters",
				pattern:   "*.any",
				canonical: "filters.any",
				exclude:   []string{"default_filters.any"},
				parents:   farmParents,
				template:  defaultFilters,
				section:   "/filter",
			}),
		},
		{
			info: info("replace-renders", "Replace renders",
				"Point every /renders section at default_renders.any and delete the other renders files."),
			run: replaceRenders,
		},
		{
			info: info("consolidate-virtualhosts", "Consolidate virtual hosts",
				"Merge virtualhosts/*.any into virtualhosts.any and point every /virtualhosts section at it."),
			run: consolidateRule(consolidation{
				dir:       rule.FarmDir + "/virtualhosts",
				pattern:   "*.any",
				canonical: "virtualhosts.any",
				exclude:   []string{"default_virtualhosts.any"},
				parents:   farmParents,
				template:  defaultVirtualHosts,
				section:   "/virtualhosts",
			}),
		},
	}
}

// consolidation configures one consolidateRule.
type consolidation struct {
	dir       string
	pattern   string
	canonical string
	exclude   []string
	parents   []string
	template  string
	// section, when set, is the farm section whose content becomes a single
	// include of the canonical file.
	section string
}

func consolidateRule(c consolidation) runFunc {
	return func(b *builtin, ctx *rule.Context) (rule.Result, error) {
		format := b.format()
		plan := consolidate.Plan{
			Dir:       c.dir,
			Pattern:   b.opts.String("pattern", c.pattern),
			Canonical: b.opts.String("canonical", c.canonical),
			Parents:   c.parents,
			Exclude:   b.opts.Strings("exclude", c.exclude),
			Default:   c.template,
		}
		outcome, err := ctx.Consolidator(format).Apply(plan)
		if err != nil {
			return failed(err)
		}
		canonical := ctx.Path(c.dir + "/" + plan.Canonical)
		if c.section != "" && pointsAtCanonical(outcome) && cfgfile.Exists(canonical) {
			line := format.IncludeLine("", "../"+path.Base(c.dir)+"/"+plan.Canonical)
			if _, err := ctx.Rewriter(format).ReplaceSectionContent(farmFiles, c.section, line); err != nil {
				return failed(err)
			}
		}
		return rule.Completed(ctx, "%s: %s", path.Base(c.dir), outcome), nil
	}
}

// pointsAtCanonical reports whether the farm sections may be reduced to an
// include of the canonical file. Inlined content already lives in the
// farms, and skipped or ambiguous runs produced no canonical file.
func pointsAtCanonical(outcome consolidate.Outcome) bool {
	switch outcome {
	case consolidate.OutcomeRenamed, consolidate.OutcomeMerged, consolidate.OutcomeDefaultInstalled:
		return true
	}
	return false
}

func replaceRenders(b *builtin, ctx *rule.Context) (rule.Result, error) {
	rw := ctx.Rewriter(cfgfile.Farm)
	keep := b.opts.String("canonical", defaultRendersName)
	files, err := rw.Files(rendersDir + "/*")
	if err != nil {
		return failed(err)
	}
	for _, file := range files {
		if baseName(file) == keep {
			continue
		}
		if err := rw.Remove(file, "deleted non-default renders"); err != nil {
			return failed(err)
		}
	}
	target := ctx.Path(rendersDir + "/" + keep)
	if !cfgfile.Exists(target) {
		if err := cfgfile.WriteFile(target, []byte(defaultRenders)); err != nil {
			return failed(err)
		}
		ctx.Step.Added(rw.Rel(target), "installed default renders")
	}
	line := cfgfile.Farm.IncludeLine("", "../renders/"+keep)
	if _, err := rw.ReplaceSectionContent(farmFiles, "/renders", line); err != nil {
		return failed(err)
	}
	return rule.Completed(ctx, "renders point at %s", keep), nil
}
