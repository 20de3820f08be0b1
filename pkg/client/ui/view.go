package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/76creates/stickers/flexbox"
	"github.com/charmbracelet/lipgloss"

	"github.com/parley-chat/parley/pkg/protocol"
)

// View renders the current view
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.currentView == ViewLogin {
		return m.renderLogin()
	}
	return m.renderChat()
}

// renderLogin centers the username/password form
func (m Model) renderLogin() string {
	title := "Sign in to Parley"
	if m.registering {
		title = "Register a new account"
	}

	var b strings.Builder
	b.WriteString(LoginTitleStyle.Render(title))
	b.WriteString("\n\n")
	b.WriteString(m.usernameInput.View())
	b.WriteString("\n")
	b.WriteString(m.passwordInput.View())
	if m.loginPending {
		b.WriteString("\n\n")
		b.WriteString(SystemMessageStyle.Render("waiting for server..."))
	}
	if m.loginError != "" {
		b.WriteString("\n\n")
		b.WriteString(ErrorStyle.Render(m.loginError))
	}
	b.WriteString("\n")
	b.WriteString(LoginHintStyle.Render("[tab] switch field  [ctrl+r] toggle register  [enter] submit  [esc] quit"))

	box := LoginBoxStyle.Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// renderChat lays out header, sidebar, message pane, input, and status bar
func (m Model) renderChat() string {
	layout := flexbox.New(m.width, m.height)

	headerRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.renderHeader()),
	)

	contentLayout := flexbox.NewHorizontal(m.width, m.contentHeight())
	sidebarCol := contentLayout.NewColumn().AddCells(
		flexbox.NewCell(1, 1).
			SetStyle(SidebarStyle).
			SetContent(m.renderSidebar()),
	)
	messagesCol := contentLayout.NewColumn().AddCells(
		flexbox.NewCell(4, 1).
			SetStyle(MessagePaneStyle).
			SetContent(m.messagesView.View()),
	)
	contentLayout.AddColumns([]*flexbox.Column{sidebarCol, messagesCol})

	contentRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, m.contentHeight()).SetContent(contentLayout.Render()),
	)

	inputRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(InputStyle.Width(m.width).Render(m.input.View())),
	)

	statusRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.renderStatusBar()),
	)

	layout.AddRows([]*flexbox.Row{headerRow, contentRow, inputRow, statusRow})
	return layout.Render()
}

// contentHeight is the main pane height: total minus header, input
// border plus line, and status bar.
func (m Model) contentHeight() int {
	h := m.height - 4
	if h < 1 {
		h = 1
	}
	return h
}

// resizeViewport fits the message viewport to the current window
func (m *Model) resizeViewport() {
	w := m.width - sidebarWidth - 2
	if w < 10 {
		w = 10
	}
	h := m.contentHeight()
	m.messagesView.Width = w
	m.messagesView.Height = h
	m.input.Width = m.width - 4
}

// renderHeader shows the current channel and its roster summary
func (m Model) renderHeader() string {
	left := "Parley"
	if ch, ok := m.currentChannel(); ok {
		left = fmt.Sprintf("Parley  #%s  (%d members)", ch.Name, len(ch.Members))
	}
	return HeaderStyle.Width(m.width).Render(left)
}

// renderSidebar lists channels and contacts with presence markers
func (m Model) renderSidebar() string {
	var b strings.Builder

	b.WriteString(SidebarTitleStyle.Render("Channels"))
	b.WriteString("\n")
	current := m.replica.CurrentChannel()
	for _, ch := range m.replica.Channels() {
		label := fmt.Sprintf("#%s", ch.Name)
		switch {
		case ch.ID == current:
			label = ActiveChannelStyle.Render(label)
		case m.unread[ch.ID]:
			label = UnreadChannelStyle.Render(label + " •")
		default:
			label = ChannelItemStyle.Render(label)
		}
		b.WriteString(label)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(SidebarTitleStyle.Render("Contacts"))
	b.WriteString("\n")
	for _, friend := range m.replica.Friends() {
		b.WriteString(fmt.Sprintf("%s %s\n", statusGlyph(friend.Status), friend.Username))
	}

	return b.String()
}

// renderStatusBar shows connection state, transient messages, and keys
func (m Model) renderStatusBar() string {
	var conn string
	switch m.connectionState {
	case StateConnected:
		conn = StatusConnectedStyle.Render("connected")
	case StateReconnecting:
		conn = StatusReconnectingStyle.Render("reconnecting")
	case StateDisconnected:
		conn = StatusDisconnectedStyle.Render("disconnected")
	}

	middle := m.statusLine
	if middle == "" {
		middle = "[ctrl+n/p] switch channel  [/help] commands  [ctrl+c] quit"
	}

	return StatusBarStyle.Width(m.width).Render(fmt.Sprintf("%s  %s  %s", conn, middle, m.conn.Address()))
}

// refreshMessages rebuilds the viewport content from the replica. The
// replica stores messages newest-first; render flips them so newest is
// at the bottom.
func (m *Model) refreshMessages() {
	ch, ok := m.currentChannel()
	if !ok {
		m.messagesView.SetContent(SystemMessageStyle.Render("No channel selected. Create one with /create <name>."))
		return
	}

	atBottom := m.messagesView.AtBottom()
	lines := make([]string, 0, len(ch.Messages))
	for i := len(ch.Messages) - 1; i >= 0; i-- {
		lines = append(lines, m.renderMessage(ch.Messages[i]))
	}
	if len(lines) == 0 {
		lines = append(lines, SystemMessageStyle.Render("No messages yet."))
	}
	m.messagesView.SetContent(strings.Join(lines, "\n"))
	if atBottom {
		m.messagesView.GotoBottom()
	}
}

// renderMessage formats a single message line
func (m Model) renderMessage(msg protocol.Message) string {
	sender := SenderStyle
	if msg.Sender == m.replica.Username() {
		sender = OwnSenderStyle
	}
	ts := msg.Timestamp
	if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
		ts = parsed.Local().Format("15:04")
	}
	return fmt.Sprintf("%s %s %s %s",
		TimestampStyle.Render(ts),
		sender.Render(msg.Sender+":"),
		msg.Body,
		TimestampStyle.Render(fmt.Sprintf("(#%d)", msg.ID)),
	)
}
