package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"todo/internal/app"
	"todo/internal/config"
	"todo/internal/storage"
	"todo/internal/task"
)

type mode int

const (
	modeList mode = iota
	modeAdd
)

// row is one visible line; index is the task's position in the full list,
// which is what the app's operations take.
type row struct {
	index int
	task  task.Task
}

type addState struct {
	title       string
	description string
	priority    string
	index       int
}

type savedMsg struct {
	count int
	at    time.Time
}

type Model struct {
	app        *app.App
	cfg        config.Config
	rows       []row
	cursor     int
	mode       mode
	input      textinput.Model
	status     string
	filter     app.Filter
	confirmDel bool
	pendingDel *row
	form       *addState
	lastSave   time.Time
}

// Run blocks until the user quits. The caller owns a and shuts it down.
func Run(a *app.App, cfg config.Config) error {
	m := New(a, cfg)
	program := tea.NewProgram(m)
	a.Store().Subscribe(func(ev storage.Event) {
		go program.Send(savedMsg{count: ev.Count, at: time.Now()})
	}, storage.EventSave)
	_, err := program.Run()
	return err
}

func New(a *app.App, cfg config.Config) Model {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Width = 40

	filter, err := app.ParseFilter(cfg.DefaultFilter)
	if err != nil {
		filter = app.FilterAll
	}
	m := Model{
		app:    a,
		cfg:    cfg,
		status: fmt.Sprintf("Press '%s' to add, space to toggle, '%s' to delete.", cfg.Keys.Add, cfg.Keys.Delete),
		input:  ti,
		mode:   modeList,
		filter: filter,
	}
	m.reload()
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.form != nil {
			return m.updateAddMode(msg.String(), msg)
		}
		if m.confirmDel {
			return m.updateDeleteConfirm(msg.String())
		}
		return m.updateListMode(msg.String())
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	case savedMsg:
		m.lastSave = msg.at
	}
	return m, nil
}

func (m *Model) reload() {
	all := m.app.ListAll()
	m.rows = make([]row, 0, len(all))
	for i, t := range all {
		if m.keep(t) {
			m.rows = append(m.rows, row{index: i, task: t})
		}
	}
	m.cursor = clampCursor(m.cursor, len(m.rows))
}

func (m Model) keep(t task.Task) bool {
	switch m.filter {
	case app.FilterIncomplete:
		return !t.Completed
	case app.FilterCompleted:
		return t.Completed
	default:
		return true
	}
}

func (m Model) updateListMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		if len(m.rows) == 0 {
			return m, nil
		}
		m.cursor = clampCursor(m.cursor+1, len(m.rows))
	case m.cfg.Keys.Up, "up":
		if m.cursor > 0 {
			m.cursor = clampCursor(m.cursor-1, len(m.rows))
		}
	case m.cfg.Keys.Add:
		m.form = &addState{priority: task.Medium.String()}
		m.mode = modeAdd
		m.loadField()
		m.input.Focus()
		m.status = m.formPrompt()
	case m.cfg.Keys.Toggle, "space":
		if len(m.rows) == 0 {
			return m, nil
		}
		done, ok := m.app.Toggle(m.rows[m.cursor].index)
		if !ok {
			m.status = "Invalid task number!"
			m.reload()
			return m, nil
		}
		if done {
			m.status = "Task marked as completed!"
		} else {
			m.status = "Task marked as not completed!"
		}
		m.reload()
	case m.cfg.Keys.Delete:
		if len(m.rows) == 0 {
			m.status = "No tasks to delete."
			return m, nil
		}
		r := m.rows[m.cursor]
		m.confirmDel = true
		m.pendingDel = &r
		m.status = fmt.Sprintf("Delete \"%s\"? y/n", r.task.Title)
	case m.cfg.Keys.Detail:
		if len(m.rows) == 0 {
			m.status = "No tasks to show."
			return m, nil
		}
		m.status = m.rows[m.cursor].task.String()
	case m.cfg.Keys.Filter:
		m.filter = m.filter.Next()
		m.cursor = 0
		m.reload()
		m.status = "Showing " + m.filter.String() + " tasks"
	case m.cfg.Keys.Save:
		if err := m.app.Save(); err != nil {
			m.status = fmt.Sprintf("save failed: %v", err)
			return m, nil
		}
		m.lastSave = time.Now()
		m.status = "Tasks saved"
	}
	return m, nil
}

func (m Model) updateAddMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel, "esc":
		m.form = nil
		m.mode = modeList
		m.input.SetValue("")
		m.input.Blur()
		m.status = "Cancelled"
		return m, nil
	case "tab", "shift+tab":
		m.storeField()
		step := 1
		if key == "shift+tab" {
			step = -1
		}
		m.form.index = wrapIndex(m.form.index+step, len(formFields()))
		m.loadField()
		m.status = m.formPrompt()
		return m, nil
	case m.cfg.Keys.Confirm, "enter":
		m.storeField()
		if m.form.index == 0 && strings.TrimSpace(m.form.title) == "" {
			m.status = "Title cannot be empty"
			return m, nil
		}
		if m.form.index < len(formFields())-1 {
			m.form.index++
			m.loadField()
			m.status = m.formPrompt()
			return m, nil
		}
		return m.submitAdd()
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) submitAdd() (tea.Model, tea.Cmd) {
	title := strings.TrimSpace(m.form.title)
	if title == "" {
		m.form.index = 0
		m.loadField()
		m.status = "Title cannot be empty"
		return m, nil
	}
	priority, ok := task.PriorityOrDefault(m.form.priority)
	m.app.Add(title, strings.TrimSpace(m.form.description), priority)

	m.form = nil
	m.mode = modeList
	m.input.SetValue("")
	m.input.Blur()
	m.reload()
	m.cursor = clampCursor(len(m.rows)-1, len(m.rows))

	m.status = fmt.Sprintf("Task added successfully! Total tasks: %d", m.app.Count())
	if !ok {
		m.status = "Invalid priority! Setting to MEDIUM. " + m.status
	}
	return m, nil
}

func (m Model) updateDeleteConfirm(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "n", "N", "esc":
		m.status = "Delete cancelled"
		m.confirmDel = false
		m.pendingDel = nil
		return m, nil
	case "y", "Y":
		if m.pendingDel == nil {
			m.status = "Nothing to delete"
			m.confirmDel = false
			return m, nil
		}
		if m.app.Remove(m.pendingDel.index) {
			m.status = fmt.Sprintf("Task deleted! Total tasks: %d", m.app.Count())
		} else {
			m.status = "Could not delete task."
		}
		m.confirmDel = false
		m.pendingDel = nil
		m.reload()
		return m, nil
	default:
		return m, nil
	}
}

func formFields() []string {
	return []string{"title", "description", "priority (LOW, MEDIUM, HIGH)"}
}

func (m *Model) storeField() {
	v := m.input.Value()
	switch m.form.index {
	case 0:
		m.form.title = v
	case 1:
		m.form.description = v
	case 2:
		m.form.priority = v
	}
}

func (m *Model) loadField() {
	var v string
	switch m.form.index {
	case 0:
		v = m.form.title
	case 1:
		v = m.form.description
	case 2:
		v = m.form.priority
	}
	m.input.SetValue(v)
	m.input.Placeholder = formFields()[m.form.index]
	m.input.CursorEnd()
}

func (m Model) formPrompt() string {
	if m.form == nil {
		return ""
	}
	return fmt.Sprintf("Enter task %s (field %d of %d). Enter to advance, Esc to cancel.",
		formFields()[m.form.index], m.form.index+1, len(formFields()))
}

func wrapIndex(idx, n int) int {
	if n <= 0 {
		return 0
	}
	idx %= n
	if idx < 0 {
		idx += n
	}
	return idx
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
