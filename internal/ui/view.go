package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/thezentroai/Zentro-AI/internal/session"
)

var (
	accent = lipgloss.Color("#7C3AED")
	muted  = lipgloss.Color("#6B7280")
	danger = lipgloss.Color("#DC2626")

	sidebarStyle = lipgloss.NewStyle().
			Width(sidebarWidth-2).
			Padding(0, 1).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(muted)

	appNameStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	headingStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
	activeStyle  = lipgloss.NewStyle().Foreground(accent)

	userLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	modelLabelStyle = lipgloss.NewStyle().Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(danger)
	spinnerStyle    = lipgloss.NewStyle().Foreground(accent)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted)
)

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		inputStyle.Render(m.textarea.View()),
		m.statusLine(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar(), main)
}

func (m Model) sidebar() string {
	inner := sidebarWidth - 4
	title := runewidth.Truncate(m.snap.Session.Title, inner, "…")

	var b strings.Builder
	b.WriteString(appNameStyle.Render(m.opts.AppName))
	b.WriteString("\n\n")
	b.WriteString(mutedStyle.Render("ctrl+n") + " New Chat")
	b.WriteString("\n")
	b.WriteString(headingStyle.Render("Recents"))
	b.WriteString("\n")
	b.WriteString(activeStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(humanize.Time(m.snap.Session.CreatedAt)))

	top := b.String()
	footer := mutedStyle.Render(runewidth.Truncate("Powered by "+m.opts.ModelName, inner, "…"))

	gap := m.height - lipgloss.Height(top) - lipgloss.Height(footer)
	if gap < 1 {
		gap = 1
	}
	content := top + strings.Repeat("\n", gap) + footer
	return sidebarStyle.Height(max(m.height, 1)).Render(content)
}

func (m Model) statusLine() string {
	switch {
	case m.err != nil:
		return errorStyle.Render(m.err.Error())
	case m.snap.Busy:
		return mutedStyle.Render("Zentro is typing... (ctrl+n new chat, ctrl+c quit)")
	default:
		return mutedStyle.Render("enter send • alt+enter newline • ctrl+n new chat • ctrl+c quit")
	}
}

func (m Model) renderMessages() string {
	var b strings.Builder
	for _, msg := range m.snap.Session.Messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	if m.typing() {
		b.WriteString(m.spinner.View() + mutedStyle.Render(" Thinking..."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg session.Message) string {
	stamp := mutedStyle.Render(msg.Timestamp.Format("15:04"))

	switch {
	case msg.Role == session.RoleUser:
		return fmt.Sprintf("%s %s\n%s\n", userLabelStyle.Render("You"), stamp, msg.Text)

	case msg.IsError:
		return fmt.Sprintf("%s %s\n%s\n", modelLabelStyle.Render(m.opts.AppName), stamp, errorStyle.Render(msg.Text))

	case msg.IsStreaming && msg.Text == "":
		return ""

	default:
		return fmt.Sprintf("%s %s\n%s", modelLabelStyle.Render(m.opts.AppName), stamp, m.renderMarkdown(msg.Text))
	}
}

// typing reports whether the indicator is shown: a turn is in flight and
// no reply text has arrived yet.
func (m Model) typing() bool {
	if !m.snap.Busy {
		return false
	}
	last, ok := m.snap.Session.Last()
	if !ok {
		return false
	}
	return last.Role == session.RoleUser || (last.IsStreaming && last.Text == "")
}

// renderMarkdown renders content, falling back to plain text if glamour
// fails.
func (m Model) renderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content + "\n"
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content + "\n"
}
