package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/meshcall/internal/call"
	"github.com/BioHazard786/meshcall/internal/peerlink"
)

// ParticipantTable renders the room grid as a table, one row per
// participant in join order.
func ParticipantTable(snap call.Snapshot) string {
	if len(snap.Participants) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	var rows [][]string
	for _, p := range snap.Participants {
		rows = append(rows, participantRow(p, snap))
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Accent)).
		Headers("Name", "Link", "Mic", "Cam", "Screen").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func participantRow(p call.Participant, snap call.Snapshot) []string {
	name := truncateString(displayName(p.Name), 24)
	if p.Self {
		return []string{
			name + " (you)",
			"-",
			onOff(snap.Local.Audio, IconMic, IconMuted),
			onOff(snap.Local.Video, IconCam, IconCamOff),
			onOff(p.Presenting, IconScreen, ""),
		}
	}

	link := "waiting"
	if p.Linked {
		link = linkLabel(p.Link)
	}
	mic, cam := "?", "?"
	if p.Remote.Hello {
		mic = onOff(p.Remote.Audio, IconMic, IconMuted)
		cam = onOff(p.Remote.Video, IconCam, IconCamOff)
	}
	return []string{name, link, mic, cam, onOff(p.Presenting, IconScreen, "")}
}

func linkLabel(s peerlink.State) string {
	switch s {
	case peerlink.StateConnected:
		return "connected"
	case peerlink.StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("%s…", s)
	}
}

func onOff(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

func displayName(name string) string {
	if name == "" {
		return "Guest"
	}
	return name
}

// RoomInfo is the box shown by `meshcall new`.
type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Live).
		Padding(1, 2)

	content := fmt.Sprintf("%s Room Ready!\n\n%s Room ID:    %s\n%s Room Link:  %s\n\n%s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Accent).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
		MutedStyle.Render("Join with: meshcall join "+r.RoomID),
	)

	return boxStyle.Render(content)
}
