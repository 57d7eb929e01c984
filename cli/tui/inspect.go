package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/aipfs/cli/reader"
)

const timeLayout = "2006-01-02 15:04:05"

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_attempt":
		content = m.renderInspectAttempt()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectAttempt() string {
	data, ok := m.data.(*reader.InspectAttemptResponse)
	if !ok {
		return "Invalid data type for inspect_attempt"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Attempt " + data.AttemptID))
	b.WriteString("\n\n")

	field(&b, "State", StateStyle(data.State).Render(data.State))
	field(&b, "Attempt", ValueStyle.Render(fmt.Sprintf("%d", data.Attempt)))
	if data.ResumeOf != nil {
		field(&b, "Resume Of", ValueStyle.Render(*data.ResumeOf))
	}
	field(&b, "Account", IDStyle.Render(data.Account))
	field(&b, "Chain", ValueStyle.Render(fmt.Sprintf("%d", data.ChainID)))
	if data.AgentName != "" {
		field(&b, "Agent", ValueStyle.Render(data.AgentName))
	}
	if data.TxID != "" {
		field(&b, "Transaction", IDStyle.Render(data.TxID))
	}
	if data.Fee != "" {
		field(&b, "Fee", ValueStyle.Render(data.Fee))
	}
	if data.RootCID != "" {
		field(&b, "Root", IDStyle.Render(data.RootCID))
	}
	if data.AvatarCID != "" {
		field(&b, "Avatar", IDStyle.Render(data.AvatarCID))
	}
	field(&b, "Started At", ValueStyle.Render(data.StartedAt.Format(timeLayout)))
	field(&b, "Updated At", ValueStyle.Render(data.UpdatedAt.Format(timeLayout)))

	if data.Error != "" {
		b.WriteString("\n")
		field(&b, "Error Kind", ErrorStyle.Render(data.ErrorKind))
		field(&b, "Error", ErrorStyle.Render(data.Error))
	}
	if data.Resumable {
		b.WriteString("\n")
		b.WriteString(WarningStyle.Render("Paid but not published. Resume with: aipfs resume --tx " + data.TxID))
		b.WriteString("\n")
	}

	if len(data.Trace) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Trace:"))
		b.WriteString("\n")
		steps := make([]string, len(data.Trace))
		for i, s := range data.Trace {
			steps[i] = StateStyle(s).Render(s)
		}
		b.WriteString("  " + strings.Join(steps, " → "))
		b.WriteString("\n")
	}

	return BoxStyle.Render(b.String())
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(label+":"), value)
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
