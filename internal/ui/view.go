package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"todo/internal/config"
	"todo/internal/task"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	cursorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	doneStyle   = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	mutedStyle  = lipgloss.NewStyle().Faint(true)

	priorityStyles = map[task.Priority]lipgloss.Style{
		task.Low:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		task.Medium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		task.High:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("To-Do List (%s tasks)", m.filter)))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(fmt.Sprintf("No tasks to show. Press '%s' to add one.", m.cfg.Keys.Add))
	} else {
		b.WriteString(m.renderTaskList())
	}

	b.WriteString("\n---\n")

	if m.form != nil {
		b.WriteString(m.renderForm())
		b.WriteString("\n")
		b.WriteString(m.input.View())
	} else {
		b.WriteString(m.renderSelected())
	}

	b.WriteString("\n\n")
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(m.saveLine()))
	b.WriteString("\n")
	b.WriteString(renderHelp(m.cfg.Keys))

	return b.String()
}

func (m Model) renderTaskList() string {
	var b strings.Builder
	for i, r := range m.rows {
		cursor := " "
		if m.cursor == i && m.mode == modeList {
			cursor = cursorStyle.Render(">")
		}

		checkbox := "[ ]"
		title := r.task.Title
		if r.task.Completed {
			checkbox = "[x]"
			title = doneStyle.Render(title)
		}
		prio := priorityStyles[r.task.Priority].Render(r.task.Priority.String())

		b.WriteString(fmt.Sprintf("%s %2d. %s %s %s\n", cursor, r.index+1, checkbox, title, prio))
	}
	return b.String()
}

func (m Model) renderForm() string {
	values := []string{m.form.title, m.form.description, m.form.priority}
	var b strings.Builder
	b.WriteString("New task\n")
	for i, name := range formFields() {
		prefix := " "
		if i == m.form.index {
			prefix = ">"
		}
		val := values[i]
		if strings.TrimSpace(val) == "" {
			val = "(empty)"
		}
		b.WriteString(fmt.Sprintf("%s %-30s : %s\n", prefix, name, val))
	}
	return b.String()
}

func (m Model) renderSelected() string {
	if len(m.rows) == 0 {
		return "No task selected"
	}
	t := m.rows[clampCursor(m.cursor, len(m.rows))].task
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Title       : %s\n", t.Title))
	b.WriteString(fmt.Sprintf("Description : %s\n", emptyPlaceholder(t.Description)))
	b.WriteString(fmt.Sprintf("Priority    : %s\n", t.Priority))
	b.WriteString(fmt.Sprintf("Created     : %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04")))
	completed := "pending"
	if t.CompletedAt != nil {
		completed = t.CompletedAt.Local().Format("2006-01-02 15:04")
	}
	b.WriteString(fmt.Sprintf("Completed   : %s\n", completed))
	return b.String()
}

func (m Model) saveLine() string {
	if m.lastSave.IsZero() {
		return fmt.Sprintf("Total tasks: %d • not saved yet this session", m.app.Count())
	}
	return fmt.Sprintf("Total tasks: %d • last saved %s", m.app.Count(), m.lastSave.Format("15:04:05"))
}

func renderHelp(k config.Keymap) string {
	toggle := k.Toggle
	if toggle == " " {
		toggle = "space"
	}
	return fmt.Sprintf("%s/%s move • %s add • %s toggle • %s delete • %s detail • %s filter • %s save • %s quit",
		k.Up, k.Down, k.Add, toggle, k.Delete, k.Detail, k.Filter, k.Save, k.Quit)
}

func emptyPlaceholder(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(empty)"
	}
	return v
}
