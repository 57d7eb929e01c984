package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/aipfs/registry"
	"github.com/pithecene-io/aipfs/types"
)

// StateMsg reports a state transition of the followed attempt.
type StateMsg types.State

// ProgressMsg reports upload progress as a percentage.
type ProgressMsg int

// DoneMsg ends the view with the attempt outcome.
type DoneMsg struct {
	Publication *types.Publication
	Err         error
}

var publishStages = []struct {
	state types.State
	label string
}{
	{types.StateBundling, "Build bundle"},
	{types.StateAddressing, "Compute content address"},
	{types.StatePaying, "Pay registry fee"},
	{types.StateUploading, "Upload to storage network"},
	{types.StateReconciling, "Verify root"},
}

func stageIndex(s types.State) int {
	for i, st := range publishStages {
		if st.state == s {
			return i
		}
	}
	return -1
}

// PublishModel follows one publish or resume attempt.
type PublishModel struct {
	title    string
	spinner  spinner.Model
	bar      progress.Model
	state    types.State
	reached  int
	percent  int
	done     *DoneMsg
	quitting bool
}

// NewPublishModel creates a publish view.
func NewPublishModel(title string) PublishModel {
	return PublishModel{
		title:   title,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(WarningStyle)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		state:   types.StateIdle,
		reached: -1,
	}
}

// Init implements tea.Model.
func (m PublishModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m PublishModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.state = types.State(msg)
		if i := stageIndex(m.state); i > m.reached {
			m.reached = i
		}
		return m, nil

	case ProgressMsg:
		m.percent = int(msg)
		return m, nil

	case DoneMsg:
		m.done = &msg
		if msg.Err == nil {
			m.percent = 100
		}
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m PublishModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	failed := m.done != nil && m.done.Err != nil
	for i, st := range publishStages {
		var mark, label string
		switch {
		case m.done != nil && m.done.Err == nil, i < m.reached:
			mark, label = SuccessStyle.Render("✓"), ValueStyle.Render(st.label)
		case i == m.reached && failed:
			mark, label = ErrorStyle.Render("✗"), ErrorStyle.Render(st.label)
		case i == m.reached:
			mark, label = m.spinner.View(), WarningStyle.Render(st.label)
		default:
			mark, label = HelpStyle.MarginTop(0).Render("·"), HelpStyle.MarginTop(0).Render(st.label)
		}
		fmt.Fprintf(&b, " %s %s\n", mark, label)
		if st.state == types.StateUploading && i <= m.reached {
			fmt.Fprintf(&b, "   %s\n", m.bar.ViewAs(float64(m.percent)/100))
		}
	}

	switch {
	case m.done == nil && m.quitting:
		b.WriteString("\n")
		b.WriteString(WarningStyle.Render("Detached. A paid upload keeps running until it finishes."))
	case m.done == nil:
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to detach"))
	case m.done.Err != nil:
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(types.UserMessage(m.done.Err)))
		b.WriteString("\n")
		b.WriteString(HelpStyle.MarginTop(0).Render(m.done.Err.Error()))
	case m.done.Publication != nil:
		b.WriteString("\n")
		b.WriteString(BoxStyle.Render(renderPublication(m.done.Publication)))
	}
	return b.String() + "\n"
}

func renderPublication(p *types.Publication) string {
	var b strings.Builder
	b.WriteString(SuccessStyle.Render("Published"))
	b.WriteString("\n\n")
	field(&b, "Root", IDStyle.Render(p.Root.String()))
	field(&b, "Avatar", IDStyle.Render(p.Avatar.String()))
	field(&b, "Transaction", IDStyle.Render(p.TxID))
	field(&b, "Chain", ValueStyle.Render(fmt.Sprintf("%d", p.ChainID)))
	field(&b, "Fee", ValueStyle.Render(registry.FormatEther(p.Fee)+" ETH"))
	field(&b, "Size", ValueStyle.Render(fmt.Sprintf("%d bytes", p.Size)))
	return b.String()
}

// Reporter forwards attempt callbacks to a running publish view.
type Reporter struct {
	send func(tea.Msg)
}

// State reports a state transition.
func (r Reporter) State(s types.State) { r.send(StateMsg(s)) }

// Progress reports upload progress.
func (r Reporter) Progress(percent int) { r.send(ProgressMsg(percent)) }

// RunPublishTUI renders work's progress until it returns. Quitting the view
// early cancels ctx for work but still waits for its outcome, so a paid
// upload is never abandoned.
func RunPublishTUI(ctx context.Context, title string, work func(ctx context.Context, r Reporter) (*types.Publication, error)) (*types.Publication, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewPublishModel(title))

	type outcome struct {
		pub *types.Publication
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		pub, err := work(ctx, Reporter{send: p.Send})
		done <- outcome{pub, err}
		p.Send(DoneMsg{Publication: pub, Err: err})
	}()

	_, runErr := p.Run()
	cancel()
	out := <-done
	if out.err == nil && runErr != nil {
		return out.pub, fmt.Errorf("publish view: %w", runErr)
	}
	return out.pub, out.err
}
