// Package render provides output formatting for terminal consumption.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/session"
)

// Renderer handles output formatting.
type Renderer struct {
	pretty bool
	// code includes file contents when rendering project turns.
	code bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

// WithCode returns a copy of r that prints generated file contents.
func (r *Renderer) WithCode(on bool) *Renderer {
	c := *r
	c.code = on
	return &c
}

// Turn formats one completed turn.
func (r *Renderer) Turn(t domain.Turn) string {
	var sb strings.Builder

	latency := FormatDuration(time.Duration(t.LatencyMs) * time.Millisecond)
	if r.pretty {
		fmt.Fprintf(&sb, "%s %s %s\n", color.CyanString("›"), t.Query, color.HiBlackString("(%s)", latency))
	} else {
		fmt.Fprintf(&sb, "> %s (%s)\n", t.Query, latency)
	}

	switch res := t.Response.(type) {
	case *domain.ProjectResult:
		r.project(&sb, res)
	case *domain.AnswerResult:
		r.answer(&sb, res)
	}
	return sb.String()
}

func (r *Renderer) project(sb *strings.Builder, res *domain.ProjectResult) {
	if res.ProjectTitle != "" {
		if r.pretty {
			sb.WriteString(color.New(color.Bold).Sprint(res.ProjectTitle) + "\n")
		} else {
			sb.WriteString(res.ProjectTitle + "\n")
		}
	}
	if res.Explanation != "" {
		sb.WriteString(res.Explanation + "\n")
	}
	if len(res.GeneratedFiles) == 0 {
		return
	}

	sb.WriteString("\n")
	for _, path := range res.GeneratedFiles {
		if r.pretty {
			fmt.Fprintf(sb, "  %s %s\n", color.GreenString("+"), path)
		} else {
			fmt.Fprintf(sb, "  + %s\n", path)
		}
		if !r.code {
			continue
		}
		if entry, ok := res.Files[path]; ok {
			writeBlock(sb, entry.Code)
		}
	}
}

func (r *Renderer) answer(sb *strings.Builder, res *domain.AnswerResult) {
	sb.WriteString(res.Text + "\n")

	if len(res.Resources) > 0 {
		sb.WriteString("\n")
		if r.pretty {
			sb.WriteString(color.CyanString("Resources") + "\n")
		} else {
			sb.WriteString("Resources:\n")
		}
		for _, link := range res.Resources {
			fmt.Fprintf(sb, "  • %s\n", link)
		}
	}

	for _, f := range res.Files {
		sb.WriteString("\n")
		if r.pretty {
			sb.WriteString(color.YellowString(f.Name) + "\n")
		} else {
			sb.WriteString(f.Name + ":\n")
		}
		writeBlock(sb, f.Content)
	}
}

func writeBlock(sb *strings.Builder, code string) {
	for _, line := range strings.Split(strings.TrimRight(code, "\n"), "\n") {
		sb.WriteString("    " + line + "\n")
	}
}

// Tree formats a project tree as a sorted path listing with sizes.
func (r *Renderer) Tree(tree domain.ProjectTree) string {
	if len(tree) == 0 {
		return "Empty project"
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Project Files\n"))
		sb.WriteString(strings.Repeat("─", 40) + "\n")
	}
	for _, path := range tree.Paths() {
		size := FormatBytes(len(tree[path].Code))
		if r.pretty {
			fmt.Fprintf(&sb, "  %-32s %s\n", path, color.HiBlackString(size))
		} else {
			fmt.Fprintf(&sb, "%s\t%s\n", path, size)
		}
	}
	return sb.String()
}

// Notification formats a session notification as a single line.
func (r *Renderer) Notification(n session.Notification) string {
	if !r.pretty {
		if n.Failed() {
			return fmt.Sprintf("error[%s]: %s", n.Kind, n.Message)
		}
		return n.Message
	}
	if n.Failed() {
		return color.RedString("✗ ") + n.Message
	}
	return color.GreenString("✓ ") + n.Message
}

// Projects formats a project listing.
func (r *Renderer) Projects(projects []*domain.Project) string {
	if len(projects) == 0 {
		return "No projects found"
	}

	var sb strings.Builder
	if r.pretty {
		sb.WriteString(color.CyanString("Projects\n"))
		sb.WriteString(strings.Repeat("─", 60) + "\n")
	}
	for _, p := range projects {
		updated := p.UpdatedAt.Local().Format("2006-01-02 15:04")
		if r.pretty {
			fmt.Fprintf(&sb, "%s  %-24s %s\n", color.HiBlackString(p.ID), Truncate(p.Name, 24), color.HiBlackString(updated))
		} else {
			fmt.Fprintf(&sb, "%s\t%s\t%s\n", p.ID, p.Name, updated)
		}
	}
	return sb.String()
}

// Project formats one project with its history summary.
func (r *Renderer) Project(p *domain.Project) string {
	var sb strings.Builder

	title := p.Name
	if r.pretty {
		title = color.CyanString(p.Name)
	}
	fmt.Fprintf(&sb, "%s (%s)\n", title, p.ID)
	if p.Description != "" {
		sb.WriteString(p.Description + "\n")
	}
	if len(p.Owners) > 0 {
		fmt.Fprintf(&sb, "  Owners:  %s\n", strings.Join(p.Owners, ", "))
	}
	fmt.Fprintf(&sb, "  Files:   %d\n", len(p.Tree))
	fmt.Fprintf(&sb, "  Turns:   %d\n", len(p.Turns))
	fmt.Fprintf(&sb, "  Updated: %s\n", p.UpdatedAt.Local().Format(time.RFC3339))

	for i, t := range p.Turns {
		fmt.Fprintf(&sb, "  %3d. %s\n", i+1, Truncate(t.Query, 60))
	}
	for _, c := range p.Chats {
		fmt.Fprintf(&sb, "  [%s] %s: %s\n", c.Timestamp.Local().Format("01-02 15:04"), c.Email, c.Message)
	}
	return sb.String()
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// FormatBytes formats a byte count.
func FormatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}
