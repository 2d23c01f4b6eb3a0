package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/werkudaraevent-eng/actionplan-sub001/internal/core"
	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

type resolveModel struct {
	wf     *core.Workflow
	ctx    context.Context
	width  int
	height int

	views  []core.ItemView
	cursor int

	// Reason prompt for drop requests.
	prompting  bool
	promptItem string
	input      textinput.Model

	status string
	err    error
}

// workflowOpenedMsg is sent once policies and items are loaded.
type workflowOpenedMsg struct{ err error }

// commitDoneMsg carries the outcome of a commit attempt.
type commitDoneMsg struct {
	outcome *core.CommitOutcome
	err     error
}

// submitDoneMsg carries the outcome of a report submission.
type submitDoneMsg struct{ err error }

var (
	resolveTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("230")).
				Background(lipgloss.Color("62")).
				Padding(0, 1)

	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
	carryStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	dropStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	requestStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	undecidedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	lockedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	resolveHelp    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newResolveModel(ctx context.Context, wf *core.Workflow) resolveModel {
	ti := textinput.New()
	ti.Placeholder = "Why should this plan be dropped?"
	ti.CharLimit = 500
	ti.Width = 60
	return resolveModel{wf: wf, ctx: ctx, input: ti}
}

func (m resolveModel) Init() tea.Cmd {
	wf, ctx := m.wf, m.ctx
	return func() tea.Msg {
		return workflowOpenedMsg{err: wf.Open(ctx)}
	}
}

func (m resolveModel) commit() tea.Cmd {
	wf, ctx := m.wf, m.ctx
	return func() tea.Msg {
		outcome, err := wf.Commit(ctx)
		return commitDoneMsg{outcome: outcome, err: err}
	}
}

func (m resolveModel) submit() tea.Cmd {
	wf, ctx := m.wf, m.ctx
	return func() tea.Msg {
		return submitDoneMsg{err: wf.ConfirmSubmission(ctx)}
	}
}

func (m *resolveModel) refresh() {
	m.views, _ = m.wf.Preview()
	if m.cursor >= len(m.views) {
		m.cursor = len(m.views) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m resolveModel) selectedID() string {
	if m.cursor < 0 || m.cursor >= len(m.views) {
		return ""
	}
	return m.views[m.cursor].Item.ID
}

func (m resolveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case workflowOpenedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.refresh()
		return m, nil

	case commitDoneMsg:
		m.refresh()
		if msg.err != nil {
			m.status = ""
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.status = m.wf.Summary()
		if state, _ := m.wf.State(); state == core.StateClosed {
			return m, tea.Quit
		}
		return m, nil

	case submitDoneMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("report for %s submitted", m.wf.Scope())
		return m, tea.Quit

	case tea.KeyMsg:
		if m.prompting {
			return m.updatePrompt(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m resolveModel) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.prompting = false
		m.input.Blur()
		m.status = "drop request not queued"
		return m, nil
	case tea.KeyEnter:
		if err := m.wf.QueueDropRequest(m.promptItem, m.input.Value()); err != nil {
			m.err = err
			return m, nil
		}
		m.prompting = false
		m.input.Blur()
		m.err = nil
		m.status = fmt.Sprintf("drop request queued for %s", m.promptItem)
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m resolveModel) startPrompt(itemID string) (tea.Model, tea.Cmd) {
	m.prompting = true
	m.promptItem = itemID
	m.input.SetValue("")
	if d, ok := m.wf.Decision(itemID); ok && d.Action == models.ActionRequestDrop {
		m.input.SetValue(d.Reason)
	}
	return m, m.input.Focus()
}

func (m resolveModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	state, _ := m.wf.State()
	key := msg.String()

	if key == "q" || key == "esc" || key == "ctrl+c" {
		if err := m.wf.Cancel(); err != nil {
			if errors.Is(err, core.ErrWorkflowClosed) {
				return m, tea.Quit
			}
			m.err = err
			return m, nil
		}
		m.status = "cancelled, nothing was changed"
		return m, tea.Quit
	}

	if state == core.StateConfirm {
		if key == "enter" || key == "s" {
			m.status = "submitting report..."
			return m, m.submit()
		}
		return m, nil
	}

	id := m.selectedID()
	var err error
	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.views)-1 {
			m.cursor++
		}
		return m, nil
	case "c":
		err = m.wf.SetDecision(id, models.ActionCarryOver)
	case "d":
		var needsReason bool
		needsReason, err = m.wf.SelectDrop(id)
		if err == nil && needsReason {
			m.refresh()
			return m.startPrompt(id)
		}
	case "r":
		if err = m.wf.SetDecision(id, models.ActionRequestDrop); err == nil {
			m.refresh()
			return m.startPrompt(id)
		}
	case "u":
		err = m.wf.CancelDecision(id)
	case "enter":
		if err = m.commitReady(); err == nil {
			m.status = "committing..."
			m.err = nil
			return m, m.commit()
		}
	default:
		return m, nil
	}
	m.err = err
	if err == nil {
		m.status = ""
	}
	m.refresh()
	return m, nil
}

// commitReady explains why the commit command is disabled, if it is.
func (m resolveModel) commitReady() error {
	if m.wf.CanCommit() {
		return nil
	}
	if m.wf.InFlight() {
		return core.ErrCommitInFlight
	}
	if missing := m.wf.Undecided(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", core.ErrNotReady, strings.Join(missing, ", "))
	}
	return core.ErrNotReady
}

func (m resolveModel) View() string {
	state, _ := m.wf.State()
	title := resolveTitleStyle.Render(fmt.Sprintf(" Resolve %s ", m.wf.Scope()))

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")

	switch {
	case m.wf.Loading() && m.err == nil:
		b.WriteString("  Loading policies and action plans...\n")
		return b.String()
	case state == core.StateConfirm:
		b.WriteString(m.wf.Summary())
		b.WriteString("\n\n  All plans are resolved. Submit the report and lock the period?\n")
	default:
		b.WriteString(m.renderItems())
	}

	if m.prompting {
		b.WriteString(fmt.Sprintf("\n  Reason for dropping %s (min %d characters):\n  %s\n",
			m.promptItem, models.MinReasonLength, m.input.View()))
	}
	if m.status != "" {
		b.WriteString("\n  " + m.status + "\n")
	}
	if m.err != nil {
		b.WriteString("\n  " + errorStyle.Render("Error: "+m.err.Error()) + "\n")
	}
	if doc := m.wf.Policies(); doc.Fallback {
		b.WriteString("\n  " + requestStyle.Render("policies unavailable, default ceilings in use") + "\n")
	}

	b.WriteString("\n")
	switch {
	case m.prompting:
		b.WriteString(resolveHelp.Render("enter: queue request | esc: back"))
	case state == core.StateConfirm:
		b.WriteString(resolveHelp.Render("enter: submit | q: close without submitting"))
	default:
		b.WriteString(resolveHelp.Render("↑/↓: move | c: carry over | d: drop | r: request drop | u: undo | enter: commit | q: cancel"))
	}
	return b.String()
}

func (m resolveModel) renderItems() string {
	if len(m.views) == 0 {
		return "  Nothing to resolve.\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("    %-12s %-4s %-14s %-9s %-22s %s\n", "ID", "PRI", "CARRY", "NEXT MAX", "DECISION", "TITLE"))
	for i, v := range m.views {
		pointer := "  "
		if i == m.cursor {
			pointer = cursorStyle.Render("> ")
		}
		next := "-"
		if v.HasNextCeiling {
			next = fmt.Sprintf("%g", v.NextCeiling)
		}
		decision := renderDecision(v)
		b.WriteString(fmt.Sprintf("  %s%-12s %-4s %-14s %-9s %s %s\n",
			pointer, v.Item.ID, v.Item.Priority, v.Item.CarryOverState, next, decision, v.Item.Title))
	}
	return b.String()
}

func renderDecision(v core.ItemView) string {
	label := "undecided"
	style := undecidedStyle
	if v.Decision != nil {
		label = string(v.Decision.Action)
		switch v.Decision.Action {
		case models.ActionCarryOver:
			style = carryStyle
		case models.ActionDrop:
			style = dropStyle
		case models.ActionRequestDrop:
			style = requestStyle
			if !core.ValidReason(v.Decision.Reason) {
				label += " (reason?)"
			}
		}
	}
	if v.Committed {
		label += " [done]"
		style = lockedStyle
	}
	return style.Render(fmt.Sprintf("%-22s", label))
}

// runResolveTUI drives wf through the interactive screens.
func runResolveTUI(wf *core.Workflow) error {
	ctx := context.Background()
	p := tea.NewProgram(newResolveModel(ctx, wf), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	m := final.(resolveModel)
	if m.status != "" {
		fmt.Println(m.status)
	}
	if state, _ := wf.State(); state != core.StateClosed {
		return m.err
	}
	return nil
}
