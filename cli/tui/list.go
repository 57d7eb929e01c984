package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/aipfs/cli/reader"
)

// ListModel is a Bubble Tea model for list views. Rows are browsable with
// the arrow keys; the selected row's details show below the table.
type ListModel struct {
	viewType string
	data     any
	title    string
	table    table.Model
	ok       bool
	quitting bool
}

// NewListModel creates a new list model.
func NewListModel(viewType string, data any) ListModel {
	m := ListModel{viewType: viewType, data: data}

	var cols []table.Column
	var rows []table.Row
	switch viewType {
	case "list_records":
		page, ok := data.(*reader.ListRecordsResponse)
		if !ok {
			return m
		}
		m.title = fmt.Sprintf("Registry Records (page %d, %d total)", page.Page, page.Total)
		cols = []table.Column{
			{Title: "Agent", Width: 18},
			{Title: "ENS", Width: 18},
			{Title: "Created", Width: 19},
			{Title: "Root", Width: 24},
		}
		for _, r := range page.Records {
			rows = append(rows, table.Row{r.AgentName, r.Identity, r.CreatedAt.Format(timeLayout), r.Root})
		}
	case "list_attempts":
		items, ok := data.([]reader.ListAttemptItem)
		if !ok {
			return m
		}
		m.title = fmt.Sprintf("Publication Attempts (%d)", len(items))
		cols = []table.Column{
			{Title: "Attempt", Width: 36},
			{Title: "#", Width: 3},
			{Title: "State", Width: 11},
			{Title: "Agent", Width: 16},
			{Title: "Updated", Width: 19},
		}
		for _, it := range items {
			rows = append(rows, table.Row{it.AttemptID, fmt.Sprintf("%d", it.Attempt), it.State, it.AgentName, it.UpdatedAt.Format(timeLayout)})
		}
	default:
		return m
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)

	m.table = table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 15)),
		table.WithStyles(styles),
	)
	m.ok = true
	return m
}

// Init implements tea.Model.
func (m ListModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if !m.ok {
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m ListModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ok {
		return fmt.Sprintf("Invalid data for %s", m.viewType) + "\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
	}

	content := TitleStyle.Render(m.title) + "\n" + BoxStyle.Padding(0, 1).Render(m.table.View())
	if detail := m.detail(); detail != "" {
		content += "\n" + detail
	}
	help := HelpStyle.Render("↑/↓ to browse, q or Ctrl+C to quit")
	return content + "\n" + help
}

// detail renders the fields of the selected row that the table truncates.
func (m ListModel) detail() string {
	i := m.table.Cursor()
	switch data := m.data.(type) {
	case *reader.ListRecordsResponse:
		if i < 0 || i >= len(data.Records) {
			return ""
		}
		r := data.Records[i]
		var out string
		out += fmt.Sprintf("%s %s\n", LabelStyle.Render("Root:"), IDStyle.Render(r.Root))
		out += fmt.Sprintf("%s %s\n", LabelStyle.Render("Avatar:"), IDStyle.Render(r.Avatar))
		out += fmt.Sprintf("%s %s\n", LabelStyle.Render("Creator:"), IDStyle.Render(r.Creator))
		if r.Intro != "" {
			out += fmt.Sprintf("%s %s\n", LabelStyle.Render("Intro:"), ValueStyle.Render(r.Intro))
		}
		return out
	case []reader.ListAttemptItem:
		if i < 0 || i >= len(data) {
			return ""
		}
		it := data[i]
		out := fmt.Sprintf("%s %s\n", LabelStyle.Render("State:"), StateStyle(it.State).Render(it.State))
		if it.TxID != "" {
			out += fmt.Sprintf("%s %s\n", LabelStyle.Render("Transaction:"), IDStyle.Render(it.TxID))
		}
		return out
	}
	return ""
}

// RunListTUI runs the list TUI.
func RunListTUI(viewType string, data any) error {
	model := NewListModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderListStatic renders list data without full TUI (for fallback).
func RenderListStatic(viewType string, data any) string {
	model := NewListModel(viewType, data)
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
