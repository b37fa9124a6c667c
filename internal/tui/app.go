// internal/tui/app.go
//
// The interactive front end for a migration run. It shows the rule plan,
// runs the migration in the background while step progress streams in,
// and ends on a scrollable view of the conversion report.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/dispatcher-migrate/internal/audit"
	"github.com/kingrea/dispatcher-migrate/internal/report"
	"github.com/kingrea/dispatcher-migrate/internal/runner"
)

type appState int

const (
	statePlan appState = iota
	stateRunning
	stateDone
)

// eventMsg carries a runner progress event into the update loop.
type eventMsg runner.Event

// runFinishedMsg is sent once Runner.Run returned.
type runFinishedMsg struct {
	summary *runner.Summary
	err     error
}

// ruleItem implements list.Item for one planned rule.
type ruleItem struct {
	planned runner.PlannedRule
}

func (i ruleItem) Title() string {
	title := fmt.Sprintf("%s (%s)", i.planned.Info.Name, i.planned.Ref.InstanceID())
	if !i.planned.Enabled {
		title += " [disabled]"
	}
	return title
}

func (i ruleItem) Description() string { return i.planned.Info.Description }
func (i ruleItem) FilterValue() string { return i.planned.Ref.InstanceID() + " " + i.planned.Info.Name }

// App is the main application model.
type App struct {
	runner  *runner.Runner
	journal *audit.Journal
	ctx     context.Context
	cancel  context.CancelFunc

	state  appState
	width  int
	height int

	plan     list.Model
	spinner  spinner.Model
	viewport viewport.Model
	steps    []stepRow
	events   chan tea.Msg

	summary   *runner.Summary
	runErr    error
	statusMsg string
}

// NewApp builds the model for r. The plan is resolved immediately so
// catalog errors surface before the program starts.
func NewApp(r *runner.Runner) (*App, error) {
	planned, err := r.Plan()
	if err != nil {
		return nil, err
	}
	items := make([]list.Item, 0, len(planned))
	steps := make([]stepRow, 0, len(planned))
	for _, p := range planned {
		items = append(items, ruleItem{planned: p})
		row := stepRow{id: p.Ref.InstanceID(), name: p.Info.Name, status: rowPending}
		if !p.Enabled {
			row.status = rowDisabled
		}
		steps = append(steps, row)
	}

	plan := list.New(items, list.NewDefaultDelegate(), 0, 0)
	plan.Title = "⬡ DISPATCHER MIGRATION"
	plan.SetShowStatusBar(false)

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = labelStyleRunning

	var journal *audit.Journal
	if r.Config != nil {
		journal, err = audit.NewJournal(r.Config.JournalPath())
		if err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		runner:    r,
		journal:   journal,
		ctx:       ctx,
		cancel:    cancel,
		plan:      plan,
		spinner:   spin,
		viewport:  viewport.New(0, 0),
		steps:     steps,
		statusMsg: "enter: run migration · /: filter · q: quit",
	}, nil
}

// Run starts the program and blocks until the user quits.
func Run(r *runner.Runner) error {
	app, err := NewApp(r)
	if err != nil {
		return err
	}
	defer app.cancel()
	_, err = tea.NewProgram(app, tea.WithAltScreen()).Run()
	return err
}

// Init is called when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update handles all incoming messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.plan.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		a.viewport.Width = max(0, msg.Width-6)
		a.viewport.Height = max(0, msg.Height-12)
		return a, nil

	case eventMsg:
		a.applyEvent(runner.Event(msg))
		return a, a.waitForEvent()

	case runFinishedMsg:
		a.finish(msg.summary, msg.err)
		return a, nil

	case spinner.TickMsg:
		if a.state != stateRunning {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.cancel()
			return a, tea.Quit
		case "q":
			if a.state != stateRunning && a.plan.FilterState() != list.Filtering {
				return a, tea.Quit
			}
		case "enter":
			if a.state == statePlan && a.plan.FilterState() != list.Filtering {
				return a, a.startRun()
			}
		}
	}

	var cmd tea.Cmd
	switch a.state {
	case statePlan:
		a.plan, cmd = a.plan.Update(msg)
	case stateDone:
		a.viewport, cmd = a.viewport.Update(msg)
	}
	return a, cmd
}

// startRun launches the runner in the background. Events and the final
// result flow back through a channel drained by waitForEvent.
func (a *App) startRun() tea.Cmd {
	a.state = stateRunning
	a.statusMsg = "Migrating..."
	events := make(chan tea.Msg, 64)
	a.events = events
	r := a.runner
	r.Events = func(ev runner.Event) { events <- eventMsg(ev) }
	ctx := a.ctx
	go func() {
		summary, err := r.Run(ctx)
		events <- runFinishedMsg{summary: summary, err: err}
		close(events)
	}()
	return tea.Batch(a.spinner.Tick, a.waitForEvent())
}

func (a *App) waitForEvent() tea.Cmd {
	events := a.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func (a *App) applyEvent(ev runner.Event) {
	switch ev.Kind {
	case runner.EventStepStarted:
		if row := a.row(ev.RuleID); row != nil {
			row.status = rowRunning
		}
		a.statusMsg = fmt.Sprintf("[%d/%d] %s", ev.Index+1, ev.Total, ev.Name)
	case runner.EventStepFinished:
		row := a.row(ev.RuleID)
		if row == nil {
			return
		}
		row.status = rowStatusFor(ev)
		row.message = ev.Result.Message
		if ev.Step != nil {
			row.changes = len(ev.Step.Operations)
		}
	}
}

func (a *App) finish(summary *runner.Summary, err error) {
	a.state = stateDone
	a.summary = summary
	a.runErr = err
	for i := range a.steps {
		if a.steps[i].status == rowPending || a.steps[i].status == rowRunning {
			a.steps[i].status = rowNotRun
		}
	}
	switch {
	case summary == nil:
		a.statusMsg = fmt.Sprintf("Migration failed: %v", err)
		a.viewport.SetContent(labelStyleFailed.Render(a.statusMsg))
		return
	case err != nil:
		a.statusMsg = fmt.Sprintf("Migration stopped: %v", err)
	default:
		a.statusMsg = fmt.Sprintf("Migration finished: %d steps, %d failed · report %s",
			len(summary.Steps), len(summary.Failed()), filepath.Base(summary.ReportPath))
	}
	a.viewport.SetContent(string(report.Render(summary.Trail)))
	a.viewport.GotoTop()
}

func (a *App) row(id string) *stepRow {
	for i := range a.steps {
		if a.steps[i].id == id {
			return &a.steps[i]
		}
	}
	return nil
}

// View renders the current screen.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	var content string
	switch a.state {
	case statePlan:
		content = a.plan.View()
	case stateRunning:
		content = a.renderSteps(width-6, a.spinner.View())
	case stateDone:
		content = lipgloss.JoinVertical(lipgloss.Left,
			a.renderSteps(width-6, ""),
			"",
			a.viewport.View(),
		)
	}
	return a.renderFrame(content, width)
}

func (a *App) renderFrame(content string, width int) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ DISPATCHER-MIGRATE")
	var source, target string
	if a.runner.Config != nil {
		source, target = a.runner.Config.SourceDir(), a.runner.Config.TargetDir()
	}
	paths := detailTextStyle.Render(fmt.Sprintf("%s → %s", source, target))
	parts := []string{header, paths, "", content}
	if logPanel := a.renderLogPanel(width - 4); logPanel != "" && a.state != statePlan {
		parts = append(parts, "", logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666666")).
		MarginTop(1).
		Render(a.footerText())
	parts = append(parts, footer)
	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(strings.Join(parts, "\n"))
}

func (a *App) footerText() string {
	switch a.state {
	case stateRunning:
		return a.statusMsg + " · ctrl+c: abort"
	case stateDone:
		return a.statusMsg + " · ↑/↓: scroll · q: quit"
	}
	return a.statusMsg
}

func (a *App) renderLogPanel(width int) string {
	lines, total := a.journal.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("JOURNAL · %s (%d entries)", filepath.Base(a.journal.Path()), total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		MaxWidth(max(20, width-4)).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(head + "\n" + body)
}
