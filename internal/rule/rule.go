package rule

import (
	"fmt"
)

// Info describes a rule's identity and intent.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
	// Format is the dialect the rule rewrites: "farm" or "vhost".
	Format string
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("rule: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("rule: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("rule: version is required for %s", i.ID)
	}
	switch i.Format {
	case "farm", "vhost":
	default:
		return fmt.Errorf("rule: format must be farm or vhost for %s", i.ID)
	}
	return nil
}

// Result captures the outcome of a rule execution.
type Result struct {
	Status  Status
	Message string
}

// Status enumerates rule run outcomes.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusNoOp      Status = "no-op"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Rule is implemented by every migration rule.
type Rule interface {
	Info() Info
	Run(ctx *Context) (Result, error)
}

// Base provides the identity plumbing for rules.
type Base struct {
	info Info
}

// NewBase seeds the helper with rule info.
func NewBase(info Info) Base {
	return Base{info: info}
}

// Info implements Rule.Info.
func (b *Base) Info() Info {
	return b.info
}

// Completed builds a result from the operations the step collected.
func Completed(ctx *Context, format string, args ...any) Result {
	if ctx != nil && ctx.Step != nil && len(ctx.Step.Operations) == 0 {
		return Result{Status: StatusNoOp, Message: "nothing to change"}
	}
	return Result{Status: StatusCompleted, Message: fmt.Sprintf(format, args...)}
}
