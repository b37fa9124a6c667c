package rule

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/config"
	"github.com/kingrea/dispatcher-migrate/internal/consolidate"
	"github.com/kingrea/dispatcher-migrate/internal/include"
	"github.com/kingrea/dispatcher-migrate/internal/rewrite"
)

// FarmDir is the Root-relative dispatcher configuration directory.
const FarmDir = "conf.dispatcher.d"

// Context carries shared runtime dependencies into every rule.
type Context struct {
	// Root is the tree being migrated (the pristine copy, never the source).
	Root   string
	Config *config.Config
	// SearchRoots are extra include search directories.
	SearchRoots []string
	Step        *audit.Step
	Review      *audit.ReviewList
	Log         zerolog.Logger
}

// NewContext builds a Context for the migration tree at root.
func NewContext(cfg *config.Config, root string, review *audit.ReviewList, log zerolog.Logger) *Context {
	ctx := &Context{Root: root, Config: cfg, Review: review, Log: log}
	if cfg != nil {
		ctx.SearchRoots = append([]string{}, cfg.Project.SearchRoots...)
	}
	return ctx
}

// WithStep returns a copy recording into step.
func (ctx *Context) WithStep(step *audit.Step) *Context {
	clone := *ctx
	clone.Step = step
	if step != nil {
		clone.Log = ctx.Log.With().Str("rule", step.ID).Logger()
	}
	return &clone
}

// Path joins Root with a slash-separated relative path.
func (ctx *Context) Path(rel string) string {
	return filepath.Join(ctx.Root, filepath.FromSlash(rel))
}

// Sink returns the step as an audit sink, or audit.Discard.
func (ctx *Context) Sink() audit.Sink {
	if ctx.Step == nil {
		return audit.Discard
	}
	return ctx.Step
}

// Resolver returns an include resolver for format. Farm includes resolve
// against the including file and conf.dispatcher.d; vhost includes against
// the tree root.
func (ctx *Context) Resolver(format cfgfile.Format) *include.Resolver {
	var roots []string
	if format.FileRelative {
		roots = append(roots, ctx.Path(FarmDir))
	} else {
		roots = append(roots, ctx.Root)
	}
	roots = append(roots, ctx.SearchRoots...)
	return &include.Resolver{Format: format, Roots: roots, ProjectRoot: ctx.Root, Log: ctx.Log}
}

// Rewriter returns a rewriter for format recording into the current step.
func (ctx *Context) Rewriter(format cfgfile.Format) *rewrite.Rewriter {
	return &rewrite.Rewriter{Root: ctx.Root, Format: format, Sink: ctx.Sink(), Review: ctx.Review, Log: ctx.Log}
}

// Consolidator returns a consolidator for format recording into the
// current step.
func (ctx *Context) Consolidator(format cfgfile.Format) *consolidate.Consolidator {
	return &consolidate.Consolidator{
		Root:     ctx.Root,
		Resolver: ctx.Resolver(format),
		Format:   format,
		Sink:     ctx.Sink(),
		Log:      ctx.Log,
	}
}

// FormatOf maps an Info.Format name to its dialect.
func FormatOf(name string) (cfgfile.Format, error) {
	switch name {
	case cfgfile.Farm.Name:
		return cfgfile.Farm, nil
	case cfgfile.Vhost.Name:
		return cfgfile.Vhost, nil
	}
	return cfgfile.Format{}, fmt.Errorf("rule: unknown format %q", name)
}
