//go:build cgo

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	delivery "github.com/Hadskad/Bloom-Academia-sub003/core"
	"github.com/Hadskad/Bloom-Academia-sub003/core/stream"
)

type (
	textMsg       stream.Text
	stateMsg      delivery.VoiceState
	noticeMsg     string
	assessmentMsg struct{}
	turnFailedMsg string
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	studentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	tutorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	stateStyle   = lipgloss.NewStyle().Faint(true)
	aidStyle     = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("179"))
)

// clipRecorder is the capture surface the interface needs; nil when no
// microphone is available.
type clipRecorder interface {
	Start() error
	Stop() ([]byte, error)
}

type model struct {
	session  *delivery.Session
	recorder clipRecorder

	input    textinput.Model
	viewport viewport.Model
	ready    bool
	width    int

	lines     []string
	state     delivery.VoiceState
	notice    string
	recording bool
}

func newModel(session *delivery.Session, recorder clipRecorder) model {
	input := textinput.New()
	input.Placeholder = "Ask your tutor something..."
	input.Focus()
	input.CharLimit = 500

	return model{
		session:  session,
		recorder: recorder,
		input:    input,
		state:    delivery.StateIdle,
		width:    80,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := max(msg.Height-6, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			m.session.Cancel()
			m.notice = ""
			return m, nil
		case tea.KeyCtrlR:
			return m.toggleRecording()
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			if question == "" {
				return m, nil
			}
			m.input.Reset()
			m.notice = ""
			m.appendLine(studentStyle.Render("You: ") + question)
			return m, m.startTurn(question)
		}

	case textMsg:
		m.appendLine(tutorStyle.Render("Tutor: ") + msg.DisplayText)
		if msg.VisualAid != nil {
			m.appendLine(aidStyle.Render(fmt.Sprintf("  [%s] %s", msg.VisualAid.Kind, msg.VisualAid.URL)))
		}
		if msg.HandoffNote != "" {
			m.appendLine(aidStyle.Render("  " + msg.HandoffNote))
		}
		return m, nil

	case stateMsg:
		m.state = delivery.VoiceState(msg)
		return m, nil

	case noticeMsg:
		m.notice = string(msg)
		return m, nil

	case assessmentMsg:
		m.appendLine(aidStyle.Render("-- time to check what stuck --"))
		return m, nil

	case turnFailedMsg:
		m.notice = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// toggleRecording drives push-to-talk: the first press starts capturing, the
// second stops and submits everything recorded as the turn's input.
func (m model) toggleRecording() (tea.Model, tea.Cmd) {
	if m.recorder == nil {
		m.notice = "no microphone is available"
		return m, nil
	}

	if !m.recording {
		if err := m.recorder.Start(); err != nil {
			m.notice = fmt.Sprintf("could not start recording: %v", err)
			return m, nil
		}
		m.recording = true
		m.session.CaptureStarted()
		return m, nil
	}

	m.recording = false
	clip, err := m.recorder.Stop()
	if err != nil {
		m.session.CaptureStopped()
		m.notice = fmt.Sprintf("could not finish recording: %v", err)
		return m, nil
	}
	m.notice = ""
	m.appendLine(studentStyle.Render("You: ") + "(spoken question)")
	return m, m.startAudioTurn(clip)
}

func (m *model) startAudioTurn(clip []byte) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		// Encoding stays empty: the clip's container carries its framing.
		request := stream.TurnRequest{
			Input: &stream.TurnInput{Audio: clip},
		}
		if err := session.StartTurn(context.Background(), request); err != nil {
			return turnFailedMsg(fmt.Sprintf("could not start the turn: %v", err))
		}
		return nil
	}
}

func (m *model) startTurn(question string) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		request := stream.TurnRequest{
			Input: &stream.TurnInput{Text: question},
		}
		if err := session.StartTurn(context.Background(), request); err != nil {
			return turnFailedMsg(fmt.Sprintf("could not start the turn: %v", err))
		}
		return nil
	}
}

func (m *model) appendLine(line string) {
	m.lines = append(m.lines, wordwrap.String(line, max(m.width-2, 20)))
	m.refreshTranscript()
}

func (m *model) refreshTranscript() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "warming up..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Bloom Academia") + "\n")
	b.WriteString(m.viewport.View() + "\n")
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice) + "\n")
	}
	status := fmt.Sprintf("state: %s", m.state)
	if m.recording {
		status += " | recording (ctrl+r to send)"
	}
	b.WriteString(stateStyle.Render(status) + "\n")
	b.WriteString(m.input.View())
	return b.String()
}
