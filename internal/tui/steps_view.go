package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/dispatcher-migrate/internal/rule"
	"github.com/kingrea/dispatcher-migrate/internal/runner"
)

var (
	labelStyleDone     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleWarnings = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

type rowStatus string

const (
	rowPending  rowStatus = "pending"
	rowRunning  rowStatus = "running"
	rowDone     rowStatus = "done"
	rowNoOp     rowStatus = "no-op"
	rowWarnings rowStatus = "warnings"
	rowFailed   rowStatus = "failed"
	rowDisabled rowStatus = "disabled"
	rowNotRun   rowStatus = "not-run"
)

// stepRow is the progress line of one rule.
type stepRow struct {
	id      string
	name    string
	status  rowStatus
	message string
	changes int
}

func rowStatusFor(ev runner.Event) rowStatus {
	if ev.Err != nil || ev.Result.Status == rule.StatusFailed {
		return rowFailed
	}
	if ev.Step != nil && len(ev.Step.Warnings()) > 0 {
		return rowWarnings
	}
	switch ev.Result.Status {
	case rule.StatusNoOp, rule.StatusSkipped:
		return rowNoOp
	}
	return rowDone
}

func labelStyleFor(status rowStatus) lipgloss.Style {
	switch status {
	case rowDone:
		return labelStyleDone
	case rowFailed:
		return labelStyleFailed
	case rowRunning:
		return labelStyleRunning
	case rowWarnings:
		return labelStyleWarnings
	case rowDisabled, rowNotRun, rowNoOp:
		return labelStyleSkipped
	default:
		return labelStyleDefault
	}
}

func friendlyLabel(status rowStatus) string {
	words := strings.Fields(strings.ReplaceAll(string(status), "-", " "))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// renderSteps lists every rule with its label. The running row gets the
// spinner frame as indicator.
func (a *App) renderSteps(width int, spin string) string {
	lines := make([]string, 0, len(a.steps))
	for _, row := range a.steps {
		indicator := " "
		if row.status == rowRunning && spin != "" {
			indicator = spin
		}
		line := fmt.Sprintf("%s %-34s [%s]", indicator, row.name, labelStyleFor(row.status).Render(friendlyLabel(row.status)))
		if row.changes > 0 {
			line += detailTextStyle.Render(fmt.Sprintf(" %d changes", row.changes))
		}
		if row.message != "" && row.status != rowRunning {
			line += detailTextStyle.Render(" · " + row.message)
		}
		lines = append(lines, lipgloss.NewStyle().MaxWidth(max(20, width)).Render(line))
	}
	return strings.Join(lines, "\n")
}
