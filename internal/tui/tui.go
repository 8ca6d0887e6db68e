// Package tui provides the Bubble Tea interactive session interface.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/export"
	"github.com/joss/buildlab/internal/render"
	"github.com/joss/buildlab/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	queryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	textStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(0, 1)

	lockedInputStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("238")).
				Padding(0, 1)
)

// SaveFunc persists a session after each appended turn.
type SaveFunc func(ctx context.Context, snap session.Snapshot) error

// Config wires a Model to a running session.
type Config struct {
	Controller *session.Controller
	// ExportDir receives turns exported with ctrl+e.
	ExportDir string
	// Save is optional.
	Save SaveFunc
	// Title is shown in the header, typically the project name.
	Title string
}

type (
	notificationMsg session.Notification
	notesClosedMsg  struct{}
	exportedMsg     struct {
		path string
		err  error
	}
	savedMsg struct{ err error }
)

// Model is the TUI model for an interactive session.
type Model struct {
	cfg    Config
	ctrl   *session.Controller
	render *render.Renderer

	ready      bool
	quitting   bool
	submitting bool
	transcript []string

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	width    int
	height   int
}

// NewModel creates a session TUI.
func NewModel(cfg Config) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textarea.New()
	ti.Placeholder = "Describe what to build... (Enter to send)"
	ti.CharLimit = 4000
	ti.SetWidth(80)
	ti.SetHeight(3)
	ti.ShowLineNumbers = false
	ti.Focus()

	m := Model{
		cfg:      cfg,
		ctrl:     cfg.Controller,
		render:   render.New(false),
		viewport: viewport.New(80, 20),
		input:    ti,
		spinner:  s,
		width:    80,
	}

	// Replay a resumed session.
	snap := m.ctrl.Snapshot()
	for _, t := range snap.Turns {
		m.appendTurn(t, true)
	}
	if snap.PendingQuery != "" {
		m.input.SetValue(snap.PendingQuery)
	}
	return m
}

// Init starts listening for session notifications.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForNotification())
}

func (m Model) waitForNotification() tea.Cmd {
	notes := m.ctrl.Notifications()
	return func() tea.Msg {
		n, ok := <-notes
		if !ok {
			return notesClosedMsg{}
		}
		return notificationMsg(n)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg), nil

	case notificationMsg:
		model, cmd := m.handleNotification(session.Notification(msg))
		return model, tea.Batch(cmd, m.waitForNotification())

	case notesClosedMsg:
		return m, nil

	case exportedMsg:
		if msg.err != nil {
			m.appendLine(errorStyle.Render("✗ export failed: " + msg.err.Error()))
		} else {
			m.appendLine(successStyle.Render("✓ exported to " + msg.path))
		}
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.appendLine(errorStyle.Render("✗ save failed: " + msg.err.Error()))
		}
		return m, nil

	case spinner.TickMsg:
		if !m.submitting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if !m.submitting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		return m.submit()

	case "ctrl+e":
		return m, m.exportLast()

	case "ctrl+t":
		m.appendLine(dimStyle.Render(m.render.Tree(m.ctrl.Snapshot().Tree)))
		return m, nil

	case "ctrl+l":
		m.transcript = nil
		m.refresh()
		return m, nil

	case "alt+enter", "ctrl+j":
		if !m.submitting {
			m.input.InsertString("\n")
			m.ctrl.Edit(m.input.Value())
		}
		return m, nil

	case "pgup", "pgdown", "up", "down":
		if m.submitting {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	if m.submitting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.ctrl.Edit(m.input.Value())
	return m, cmd
}

// submit hands the input to the controller. Refusals come back as
// notifications, so the returned error only decides whether a call started.
func (m Model) submit() (tea.Model, tea.Cmd) {
	query := m.input.Value()
	if err := m.ctrl.Submit(query); err != nil {
		return m, nil
	}
	m.submitting = true
	m.input.Blur()
	m.appendLine(queryStyle.Render("› " + strings.TrimSpace(query)))
	return m, m.spinner.Tick
}

func (m Model) handleNotification(n session.Notification) (Model, tea.Cmd) {
	if n.Turn != nil {
		m.submitting = false
		m.input.Reset()
		m.input.Focus()
		m.appendTurn(*n.Turn, false)
		return m, m.save()
	}

	m.appendLine(errorStyle.Render("✗ " + n.Message))
	switch n.Kind {
	case domain.KindGenerationFailed, domain.KindMalformedResponse:
		m.submitting = false
		m.input.SetValue(n.Query)
		m.input.Focus()
	}
	return m, nil
}

func (m Model) save() tea.Cmd {
	if m.cfg.Save == nil {
		return nil
	}
	save, snap := m.cfg.Save, m.ctrl.Snapshot()
	return func() tea.Msg {
		return savedMsg{err: save(context.Background(), snap)}
	}
}

func (m Model) exportLast() tea.Cmd {
	turns := m.ctrl.Snapshot().Turns
	if len(turns) == 0 {
		return func() tea.Msg {
			return exportedMsg{err: fmt.Errorf("no turns to export")}
		}
	}
	dir, last := m.cfg.ExportDir, turns[len(turns)-1]
	return func() tea.Msg {
		path, err := export.WriteTurn(dir, last)
		return exportedMsg{path: path, err: err}
	}
}

// appendTurn adds a turn's response. withQuery also adds the query line,
// which submit has already written for live turns.
func (m *Model) appendTurn(t domain.Turn, withQuery bool) {
	if withQuery {
		m.transcript = append(m.transcript, queryStyle.Render("› "+t.Query))
	}
	body := m.render.Turn(t)
	// The renderer repeats the query on its first line.
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	m.transcript = append(m.transcript,
		textStyle.Render(strings.TrimRight(body, "\n")),
		dimStyle.Render(fmt.Sprintf("%s · %s", t.Mode(), render.FormatDuration(time.Duration(t.LatencyMs)*time.Millisecond))),
	)
	m.refresh()
}

func (m *Model) appendLine(line string) {
	m.transcript = append(m.transcript, line)
	m.refresh()
}

func (m *Model) refresh() {
	content := strings.Join(m.transcript, "\n\n")
	if m.width > 4 {
		content = lipgloss.NewStyle().Width(m.width - 4).Render(content)
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 2
	statusHeight := 1
	inputHeight := 5
	vpHeight := msg.Height - headerHeight - statusHeight - inputHeight
	if vpHeight < 3 {
		vpHeight = 3
	}

	m.viewport.Width = msg.Width
	m.viewport.Height = vpHeight
	m.input.SetWidth(msg.Width - 4)
	m.ready = true
	m.refresh()
	return m
}

// Run starts the TUI and blocks until the user quits.
func Run(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(NewModel(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
