package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/meshcall/internal/call"
	"github.com/BioHazard786/meshcall/internal/session"
)

// Controller is the part of a call the room view drives.
type Controller interface {
	Snapshot() call.Snapshot
	Updates() <-chan struct{}
	ToggleMic() (bool, error)
	ToggleCamera() (bool, error)
	ToggleScreenShare() (bool, error)
	DraftCaption(text string)
	SubmitCaption(text string) bool
	Leave() error
}

type callUpdateMsg struct{}

// RoomModel is the interactive view of a running call.
type RoomModel struct {
	ctl      Controller
	roomLink string

	snap     call.Snapshot
	spinner  spinner.Model
	prompt   textinput.Model
	typing   bool
	status   string
	quitting bool
}

func NewRoomModel(ctl Controller, roomLink string) *RoomModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "say something"
	in.Prompt = IconCaption + " "
	in.CharLimit = 280

	return &RoomModel{
		ctl:      ctl,
		roomLink: roomLink,
		snap:     ctl.Snapshot(),
		spinner:  s,
		prompt:   in,
	}
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdates())
}

// waitForUpdates returns a command that fires on the next call change.
func (m *RoomModel) waitForUpdates() tea.Cmd {
	updates := m.ctl.Updates()
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return callUpdateMsg{}
	}
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case callUpdateMsg:
		m.snap = m.ctl.Snapshot()
		return m, m.waitForUpdates()
	}
	return m, nil
}

func (m *RoomModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m.leave()
	}

	if m.typing {
		switch msg.Type {
		case tea.KeyEnter:
			text := strings.TrimSpace(m.prompt.Value())
			if text != "" {
				m.ctl.SubmitCaption(text)
			}
			m.prompt.Reset()
			return m, nil
		case tea.KeyEsc:
			m.typing = false
			m.prompt.Blur()
			m.prompt.Reset()
			m.ctl.DraftCaption("")
			return m, nil
		}
		before := m.prompt.Value()
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		if v := m.prompt.Value(); v != before {
			m.ctl.DraftCaption(v)
		}
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m.leave()
	case "m":
		on, err := m.ctl.ToggleMic()
		m.report(err, onOff(on, "Microphone on", "Microphone muted"))
	case "v":
		on, err := m.ctl.ToggleCamera()
		m.report(err, onOff(on, "Camera on", "Camera off"))
	case "s":
		on, err := m.ctl.ToggleScreenShare()
		m.report(err, onOff(on, "Sharing screen", "Stopped sharing"))
	case "enter":
		m.typing = true
		return m, m.prompt.Focus()
	}
	m.snap = m.ctl.Snapshot()
	return m, nil
}

func (m *RoomModel) report(err error, ok string) {
	if err != nil {
		m.status = ErrorStyle.Render(err.Error())
		return
	}
	m.status = ok
}

func (m *RoomModel) leave() (tea.Model, tea.Cmd) {
	if err := m.ctl.Leave(); err != nil {
		m.status = ErrorStyle.Render(err.Error())
	}
	m.quitting = true
	return m, tea.Quit
}

func (m *RoomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	snap := m.snap

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s MeshCall - %s", IconRoom, snap.RoomID)))
	b.WriteString("\n")
	if m.roomLink != "" {
		b.WriteString(MutedStyle.Render(IconWeb+" "+m.roomLink) + "\n\n")
	}

	switch snap.Connection {
	case session.StateJoined:
		b.WriteString(SuccessStyle.Render("● joined") + "\n")
	default:
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), snap.Connection))
	}
	if snap.Notice != "" {
		b.WriteString(WarningStyle.Render(snap.Notice) + "\n")
	}
	b.WriteString("\n")

	b.WriteString(ParticipantTable(snap))
	b.WriteString("\n\n")

	b.WriteString(m.captionsView())
	b.WriteString("\n")

	if m.typing {
		b.WriteString(m.prompt.View() + "\n")
	}
	if m.status != "" {
		b.WriteString(m.status + "\n")
	}

	b.WriteString(FooterStyle.Render(m.helpLine()))
	return ContainerStyle.Render(b.String())
}

func (m *RoomModel) captionsView() string {
	var lines []string
	for _, c := range m.snap.Captions {
		name := displayName(c.Name)
		if c.Local {
			name = "you"
		}
		lines = append(lines, fmt.Sprintf("%s %s", CaptionNameStyle.Render(name+":"), c.Text))
	}
	if m.snap.Interim != "" {
		lines = append(lines, InterimStyle.Render(m.snap.Interim+" …"))
	}
	if len(lines) == 0 {
		lines = append(lines, MutedStyle.Render("No captions yet"))
	}
	return CaptionBoxStyle.Render(strings.Join(lines, "\n"))
}

func (m *RoomModel) helpLine() string {
	if m.typing {
		return "enter send caption • esc close prompt • ctrl+c leave"
	}
	return "m mic • v camera • s share screen • enter caption • q leave"
}

// RunRoom shows the room view until the user leaves.
func RunRoom(ctl Controller, roomLink string) error {
	_, err := tea.NewProgram(NewRoomModel(ctl, roomLink)).Run()
	return err
}
