package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/skravchuk/buildbridge/internal/core"
)

const refreshInterval = 5 * time.Second

// statusFilters is the cycle order for the filter key. The leading nil
// means "all".
var statusFilters = []*core.TaskStatus{
	nil,
	statusPtr(core.StatusPending),
	statusPtr(core.StatusRunning),
	statusPtr(core.StatusSuccess),
	statusPtr(core.StatusFailed),
	statusPtr(core.StatusCancelled),
}

func statusPtr(s core.TaskStatus) *core.TaskStatus { return &s }

type model struct {
	styles styles
	client *bridgeClient

	table     table.Model
	spinner   spinner.Model
	isLoading bool

	tasks      []core.DelayedTask
	filterIdx  int
	statusLine string
	width      int
	height     int
}

func initialModel(theme ThemeName, client *bridgeClient) *model {
	styles := GetTheme(theme)

	columns := []table.Column{
		{Title: "ID", Width: 6},
		{Title: "GROUP/JOB", Width: 24},
		{Title: "MR", Width: 6},
		{Title: "SHA", Width: 10},
		{Title: "STATUS", Width: 10},
		{Title: "ATTEMPTS", Width: 8},
		{Title: "LAST ERROR", Width: 32},
		{Title: "UPDATED", Width: 18},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(16),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	ts.Selected = styles.selected
	t.SetStyles(ts)

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = styles.warning

	return &model{
		styles:     styles,
		client:     client,
		table:      t,
		spinner:    sp,
		isLoading:  true,
		statusLine: "loading tasks...",
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		loadTasksCmd(m.client, m.filter()),
		refreshTickCmd(refreshInterval),
		m.spinner.Tick,
	)
}

func (m *model) filter() *core.TaskStatus {
	return statusFilters[m.filterIdx]
}

func (m *model) filterLabel() string {
	if f := m.filter(); f != nil {
		return string(*f)
	}
	return "ALL"
}

func (m *model) selectedTask() *core.DelayedTask {
	row := m.table.SelectedRow()
	if row == nil {
		return nil
	}
	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return nil
	}
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			return &m.tasks[i]
		}
	}
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tblCmd tea.Cmd
		spCmd  tea.Cmd
	)
	m.table, tblCmd = m.table.Update(msg)
	m.spinner, spCmd = m.spinner.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(4, msg.Height-10))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit

		case "r":
			m.isLoading = true
			m.statusLine = "refreshing..."
			return m, tea.Batch(m.spinner.Tick, loadTasksCmd(m.client, m.filter()))

		case "f":
			m.filterIdx = (m.filterIdx + 1) % len(statusFilters)
			m.isLoading = true
			m.statusLine = "filter: " + m.filterLabel()
			return m, tea.Batch(m.spinner.Tick, loadTasksCmd(m.client, m.filter()))

		case "R":
			task := m.selectedTask()
			if task == nil {
				return m, nil
			}
			if task.Status != core.StatusFailed {
				m.statusLine = m.styles.warning.Render(
					fmt.Sprintf("task %d is %s; only FAILED tasks can be retried", task.ID, task.Status))
				return m, nil
			}
			m.isLoading = true
			m.statusLine = fmt.Sprintf("retrying task %d...", task.ID)
			return m, tea.Batch(m.spinner.Tick, changeStatusCmd(m.client, task.ID, core.StatusPending))

		case "c":
			task := m.selectedTask()
			if task == nil {
				return m, nil
			}
			if task.Status.Terminal() {
				m.statusLine = m.styles.warning.Render(
					fmt.Sprintf("task %d is already %s", task.ID, task.Status))
				return m, nil
			}
			m.isLoading = true
			m.statusLine = fmt.Sprintf("cancelling task %d...", task.ID)
			return m, tea.Batch(m.spinner.Tick, changeStatusCmd(m.client, task.ID, core.StatusCancelled))
		}

	case refreshTickMsg:
		cmds := []tea.Cmd{refreshTickCmd(refreshInterval)}
		if !m.isLoading {
			cmds = append(cmds, loadTasksCmd(m.client, m.filter()))
		}
		return m, tea.Batch(cmds...)

	case tasksLoadedMsg:
		m.isLoading = false
		if msg.err != nil {
			m.statusLine = m.styles.error.Render(msg.err.Error())
			return m, nil
		}
		m.tasks = msg.tasks
		m.table.SetRows(taskRows(msg.tasks))
		m.statusLine = m.styles.inactive.Render(
			fmt.Sprintf("%d tasks (filter: %s)", len(msg.tasks), m.filterLabel()))
		return m, nil

	case statusChangedMsg:
		m.isLoading = false
		if msg.err != nil {
			m.statusLine = m.styles.error.Render(msg.err.Error())
			return m, nil
		}
		m.statusLine = m.styles.success.Render(
			fmt.Sprintf("task %d is now %s", msg.task.ID, msg.task.Status))
		return m, loadTasksCmd(m.client, m.filter())

	case errorMsg:
		m.isLoading = false
		m.statusLine = m.styles.error.Render(msg.Error())
		return m, nil
	}

	return m, tea.Batch(tblCmd, spCmd)
}

func (m *model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.header.Render("BUILD BRIDGE // DELAYED TASKS"))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")

	status := m.statusLine
	if m.isLoading {
		status = m.spinner.View() + " " + status
	}

	footer := status + "\n" + m.styles.inactive.Render(
		"r refresh · f filter · R retry · c cancel · q quit")
	b.WriteString(m.styles.footer.Render(footer))

	return m.styles.app.Render(b.String())
}

func taskRows(tasks []core.DelayedTask) []table.Row {
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		lastError := ""
		if t.LastError != nil {
			lastError = *t.LastError
		}
		sha := t.SHA
		if len(sha) > 8 {
			sha = sha[:8]
		}
		rows = append(rows, table.Row{
			strconv.FormatInt(t.ID, 10),
			t.GroupName + "/" + t.JobName,
			"!" + strconv.Itoa(t.MergeID),
			sha,
			string(t.Status),
			strconv.Itoa(t.AttemptCount),
			lastError,
			t.UpdatedAt.Format("02 Jan 06 15:04"),
		})
	}
	return rows
}
