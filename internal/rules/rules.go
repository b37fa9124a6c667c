// Package rules holds the built-in migration rules. Vhost rules rewrite
// the Apache tree below conf.d, farm rules the dispatcher tree below
// conf.dispatcher.d.
package rules

import (
	"fmt"
	"strings"

	"github.com/kingrea/dispatcher-migrate/internal/cfgfile"
	"github.com/kingrea/dispatcher-migrate/internal/rule"
)

const version = "1.0.0"

// defaultMarkers name the non-publish vhosts and farms.
var defaultMarkers = []string{"author", "unhealthy", "health", "lc", "flush"}

type runFunc func(b *builtin, ctx *rule.Context) (rule.Result, error)

type definition struct {
	info rule.Info
	run  runFunc
}

// builtin adapts a run function to rule.Rule.
type builtin struct {
	rule.Base
	opts rule.Options
	run  runFunc
}

func (b *builtin) Run(ctx *rule.Context) (rule.Result, error) {
	if ctx == nil {
		return rule.Result{Status: rule.StatusFailed}, fmt.Errorf("rules: %s: nil context", b.Info().ID)
	}
	return b.run(b, ctx)
}

func (b *builtin) format() cfgfile.Format {
	format, err := rule.FormatOf(b.Info().Format)
	if err != nil {
		return cfgfile.Vhost
	}
	return format
}

func definitions() []definition {
	return append(vhostRules(), farmRules()...)
}

// RegisterBuiltins installs every built-in rule into reg.
func RegisterBuiltins(reg *rule.Registry) error {
	for _, def := range definitions() {
		def := def
		factory := func(opts rule.Options) (rule.Rule, error) {
			return &builtin{Base: rule.NewBase(def.info), opts: opts, run: def.run}, nil
		}
		if err := reg.Register(def.info.ID, factory); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in rules.
func NewRegistry() *rule.Registry {
	reg := rule.NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		panic(err)
	}
	return reg
}

// Infos lists the built-in rules in catalog order.
func Infos() []rule.Info {
	defs := definitions()
	infos := make([]rule.Info, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, def.info)
	}
	return infos
}

func failed(err error) (rule.Result, error) {
	return rule.Result{Status: rule.StatusFailed, Message: err.Error()}, err
}

func matchMarker(name string, markers []string) (string, bool) {
	lower := strings.ToLower(name)
	for _, marker := range markers {
		m := strings.ToLower(strings.TrimSpace(marker))
		if m != "" && strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

// removeMarked deletes the files matching pattern whose name contains one
// of the configured markers.
func removeMarked(b *builtin, ctx *rule.Context, pattern string) (rule.Result, error) {
	markers := b.opts.Strings("markers", defaultMarkers)
	rw := ctx.Rewriter(b.format())
	files, err := rw.Files(pattern)
	if err != nil {
		return failed(err)
	}
	removed := 0
	for _, file := range files {
		marker, ok := matchMarker(baseName(file), markers)
		if !ok {
			continue
		}
		if err := rw.Remove(file, "deleted non-publish file (name contains "+marker+")"); err != nil {
			return failed(err)
		}
		removed++
	}
	return rule.Completed(ctx, "removed %d non-publish files", removed), nil
}
