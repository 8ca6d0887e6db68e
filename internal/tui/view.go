package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return fmt.Sprintf("\n  %s Initializing...", m.spinner.View())
	}

	var b strings.Builder

	header := titleStyle.Render("⚡ BuildLab")
	if m.cfg.Title != "" {
		header += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(m.cfg.Title)
	}
	b.WriteString(header + "\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus() + "\n")
	b.WriteString(m.renderInput())

	return b.String()
}

func (m Model) renderInput() string {
	if m.submitting {
		return lockedInputStyle.Width(m.width - 4).Render(fmt.Sprintf("%s Generating...", m.spinner.View()))
	}
	return inputStyle.Width(m.width - 4).Render(m.input.View())
}

func (m Model) renderStatus() string {
	snap := m.ctrl.Snapshot()

	parts := []string{
		string(snap.Mode),
		snap.State.String(),
		fmt.Sprintf("turns:%d", len(snap.Turns)),
		fmt.Sprintf("files:%d", len(snap.Tree)),
	}
	if m.submitting {
		parts = append(parts, "PgUp/PgDn: scroll │ Ctrl+C: quit")
	} else {
		parts = append(parts, "Enter: send │ Ctrl+E: export │ Ctrl+T: files │ Esc: quit")
	}
	return statusStyle.Width(m.width).Render(strings.Join(parts, " │ "))
}
