package ui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Call palette
var (
	Accent  = lipgloss.Color("#38BDF8") // Sky
	Speaker = lipgloss.Color("#A78BFA") // Lavender, caption authors
	Live    = lipgloss.Color("#22C55E") // Green, connected links
	Pending = lipgloss.Color("#FBBF24") // Amber, negotiating or reconnecting
	Fault   = lipgloss.Color("#F87171") // Red
	Dim     = lipgloss.Color("#64748B") // Slate
	Surface = lipgloss.Color("#0F172A") // Header background
)

var (
	SuccessStyle = lipgloss.NewStyle().Foreground(Live).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Fault).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Pending)
	MutedStyle   = lipgloss.NewStyle().Foreground(Dim)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	SpinnerStyle = lipgloss.NewStyle().Foreground(Accent)

	CaptionNameStyle = lipgloss.NewStyle().Foreground(Speaker).Bold(true)
	InterimStyle     = lipgloss.NewStyle().Foreground(Dim).Italic(true)
)

// Room view layout
var (
	ContainerStyle = lipgloss.NewStyle().Margin(1, 2)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Accent).
			Background(Surface).
			Padding(0, 2).
			MarginBottom(1)

	CaptionBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Speaker).
			Padding(0, 1).
			Width(64)

	FooterStyle = lipgloss.NewStyle().Foreground(Dim).MarginTop(1)
)

// Participant table
var (
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(Accent).Padding(0, 1)
	TableRowStyle    = lipgloss.NewStyle().Padding(0, 1)
	TableRowAltStyle = TableRowStyle.Foreground(lipgloss.Color("250"))
)

const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconRoom    = "📞"
	IconCopy    = "📋"
	IconWeb     = "🔗"
	IconMic     = "🎙️"
	IconMuted   = "🔇"
	IconCam     = "📷"
	IconCamOff  = "🚫"
	IconScreen  = "🖥️"
	IconCaption = "💬"
	IconSummary = "📊"
)

// PrintError writes msg to stderr in the error style.
func PrintError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", IconError, ErrorStyle.Render(msg))
}
