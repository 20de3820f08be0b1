package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/parley-chat/parley/pkg/protocol"
)

var (
	// HeaderStyle renders the top title bar.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	// SidebarStyle frames the channel/friend pane on the left.
	SidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	SidebarTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("99"))

	ActiveChannelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("229")).
				Background(lipgloss.Color("57"))

	UnreadChannelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("214"))

	ChannelItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	MessagePaneStyle = lipgloss.NewStyle().
				Padding(0, 1)

	SenderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("81"))

	OwnSenderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	TimestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	SystemMessageStyle = lipgloss.NewStyle().
				Italic(true).
				Foreground(lipgloss.Color("245"))

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	StatusConnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42"))

	StatusReconnectingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))

	StatusDisconnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196"))

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	LoginTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginBottom(1)

	LoginHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	LoginBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 3)
)

// statusGlyph maps a presence status value to its sidebar indicator.
func statusGlyph(status uint8) string {
	switch status {
	case protocol.StatusOnline:
		return StatusConnectedStyle.Render("●")
	case protocol.StatusAway:
		return StatusReconnectingStyle.Render("◐")
	case protocol.StatusDND:
		return StatusDisconnectedStyle.Render("⊘")
	default:
		return TimestampStyle.Render("○")
	}
}
