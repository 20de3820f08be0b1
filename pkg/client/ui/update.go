package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"

	"github.com/parley-chat/parley/pkg/protocol"
)

// statusLineTTL is how long a transient status-bar message stays visible.
const statusLineTTL = 5 * time.Second

// sidebarWidth is the fixed width reserved for the channel/friend pane.
const sidebarWidth = 24

// Update processes a single message and returns the next model state
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()
		m.refreshMessages()
		return m, nil

	case TickMsg:
		if m.statusLine != "" && time.Since(m.statusSetAt) > statusLineTTL {
			m.statusLine = ""
		}
		return m, tickCmd()

	case ConnectedMsg:
		m.connectionState = StateConnected
		// Re-authenticate so the server rebuilds our session after a
		// reconnect; the resulting LOGIN_SUCCEEDED refreshes the replica.
		if m.currentView == ViewChat && m.savedUsername != "" {
			m.sendLogin(m.savedUsername, m.savedPassword, false)
		}
		return m, nil

	case DisconnectedMsg:
		m.connectionState = StateDisconnected
		return m, nil

	case ReconnectingMsg:
		m.connectionState = StateReconnecting
		m.setStatus(fmt.Sprintf("reconnecting (attempt %d)...", msg.Attempt))
		return m, nil

	case ErrorMsg:
		if msg.Err != nil {
			m.setStatus(ErrorStyle.Render(msg.Err.Error()))
		}
		return m, listenForServerFrames(m.conn)

	case ServerFrameMsg:
		return m.handleServerFrame(msg.Frame)

	case tea.KeyMsg:
		m.lastInteraction = time.Now()
		if m.currentView == ViewLogin {
			return m.handleLoginKey(msg)
		}
		return m.handleChatKey(msg)
	}

	// Everything else (cursor blinks and the like) goes to the focused input.
	var cmd tea.Cmd
	if m.currentView == ViewLogin {
		if m.focusedField == fieldUsername {
			m.usernameInput, cmd = m.usernameInput.Update(msg)
		} else {
			m.passwordInput, cmd = m.passwordInput.Update(msg)
		}
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

// handleServerFrame applies a frame to the replica and reacts to the
// handful of event types the view cares about beyond a repaint.
func (m Model) handleServerFrame(frame *protocol.Frame) (tea.Model, tea.Cmd) {
	relisten := listenForServerFrames(m.conn)
	if frame == nil {
		return m, relisten
	}

	// Peek at MESSAGE_POSTED before Apply so we can decide about
	// notifications with the pre-update unread state.
	var posted *protocol.MessagePostedEvent
	if frame.Type == protocol.TypeMessagePosted {
		var evt protocol.MessagePostedEvent
		if err := evt.Decode(frame.Payload); err == nil {
			posted = &evt
		}
	}

	if err := m.replica.Apply(frame); err != nil {
		if m.logger != nil {
			m.logger.Printf("failed to apply %s: %v", protocol.EventName(frame.Type), err)
		}
		return m, relisten
	}

	switch frame.Type {
	case protocol.TypeLoginSucceeded:
		m.currentView = ViewChat
		m.loginPending = false
		m.loginError = ""
		m.input.Focus()
		m.usernameInput.Blur()
		m.passwordInput.Blur()
		if err := m.state.SetLastUsername(m.replica.Username()); err != nil && m.logger != nil {
			m.logger.Printf("failed to persist last username: %v", err)
		}
		if m.replica.CurrentChannel() == 0 {
			if chs := m.replica.Channels(); len(chs) > 0 {
				m.replica.SetCurrentChannel(chs[0].ID)
			}
		}
		m.flagUnreadFromMarkers()
		if ch, ok := m.currentChannel(); ok {
			m.markRead(ch)
		}

	case protocol.TypeLoginFailed:
		m.loginPending = false
		if serr := m.replica.TakeError(); serr != nil {
			m.loginError = serr.Reason
		} else {
			m.loginError = "login failed"
		}

	case protocol.TypeRequestFailed:
		if serr := m.replica.TakeError(); serr != nil {
			m.setStatus(ErrorStyle.Render(serr.Error()))
		}

	case protocol.TypeMessagePosted:
		if posted != nil {
			m.handlePostedMessage(posted)
		}

	case protocol.TypeChannelCreated:
		// Jump to channels we just created or got invited into when
		// nothing is selected yet.
		if m.replica.CurrentChannel() == 0 {
			if chs := m.replica.Channels(); len(chs) > 0 {
				m.replica.SetCurrentChannel(chs[len(chs)-1].ID)
			}
		}

	case protocol.TypeChannelDeleted, protocol.TypeMemberRemoved:
		if m.replica.CurrentChannel() == 0 {
			if chs := m.replica.Channels(); len(chs) > 0 {
				m.replica.SetCurrentChannel(chs[0].ID)
			}
		}
	}

	m.refreshMessages()
	return m, relisten
}

// handlePostedMessage tracks unread state and fires a desktop
// notification for messages outside the focused channel.
func (m *Model) handlePostedMessage(evt *protocol.MessagePostedEvent) {
	msg := evt.Message
	if msg.Sender == m.replica.Username() {
		return
	}
	if msg.ChannelID == m.replica.CurrentChannel() {
		if ch, ok := m.currentChannel(); ok {
			m.markRead(ch)
		}
		return
	}
	m.unread[msg.ChannelID] = true
	m.notifyForMessage(msg)
}

// notifyForMessage sends a best-effort desktop notification. Only
// messages that arrive while the user has been idle trigger one.
func (m Model) notifyForMessage(msg protocol.Message) {
	if time.Since(m.lastInteraction) < 5*time.Minute {
		return
	}
	title := "Parley"
	if ch, ok := m.replica.Channel(msg.ChannelID); ok {
		title = "Parley - " + ch.Name
	}
	body := msg.Body
	if len(body) > 100 {
		body = body[:97] + "..."
	}
	if err := beeep.Notify(title, fmt.Sprintf("%s: %s", msg.Sender, body), m.notifyIcon); err != nil && m.logger != nil {
		m.logger.Printf("desktop notification failed: %v", err)
	}
}

// handleLoginKey drives the username/password form
func (m Model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "tab", "shift+tab", "up", "down":
		if m.focusedField == fieldUsername {
			m.focusedField = fieldPassword
			m.usernameInput.Blur()
			m.passwordInput.Focus()
		} else {
			m.focusedField = fieldUsername
			m.passwordInput.Blur()
			m.usernameInput.Focus()
		}
		return m, nil

	case "ctrl+r":
		m.registering = !m.registering
		return m, nil

	case "enter":
		username := strings.TrimSpace(m.usernameInput.Value())
		password := m.passwordInput.Value()
		if username == "" || password == "" {
			m.loginError = "username and password are required"
			return m, nil
		}
		if m.loginPending {
			return m, nil
		}
		m.loginPending = true
		m.loginError = ""
		m.savedUsername = username
		m.savedPassword = password
		m.sendLogin(username, password, m.registering)
		return m, nil
	}

	var cmd tea.Cmd
	if m.focusedField == fieldUsername {
		m.usernameInput, cmd = m.usernameInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

// handleChatKey drives the main chat view
func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, m.quit()

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.input.SetValue("")
		if text == "" {
			return m, nil
		}
		if strings.HasPrefix(text, "/") {
			return m.executeCommand(text)
		}
		ch, ok := m.currentChannel()
		if !ok {
			m.setStatus("no channel selected; use /create or /join first")
			return m, nil
		}
		m.sendEvent(protocol.TypeMessageSend, &protocol.MessageSendEvent{
			ChannelID: ch.ID,
			Body:      text,
		})
		return m, nil

	case "ctrl+n", "alt+down":
		m.cycleChannel(1)
		return m, nil

	case "ctrl+p", "alt+up":
		m.cycleChannel(-1)
		return m, nil

	case "pgup":
		m.messagesView.ViewUp()
		return m, nil

	case "pgdown":
		m.messagesView.ViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// cycleChannel moves the current channel selection by delta positions
func (m *Model) cycleChannel(delta int) {
	chs := m.replica.Channels()
	if len(chs) == 0 {
		return
	}
	current := m.replica.CurrentChannel()
	idx := 0
	for i, ch := range chs {
		if ch.ID == current {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(chs)) % len(chs)
	m.replica.SetCurrentChannel(chs[idx].ID)
	m.markRead(chs[idx])
	m.refreshMessages()
	m.messagesView.GotoBottom()
}

// sendLogin ships a LOGIN frame; errors surface via the status bar
func (m *Model) sendLogin(username, password string, register bool) {
	m.sendEvent(protocol.TypeLogin, &protocol.LoginEvent{
		Username: username,
		Password: password,
		Register: register,
	})
}

// sendEvent wraps Connection.SendEvent with status-bar error reporting
func (m *Model) sendEvent(eventType uint8, evt protocol.Event) {
	if err := m.conn.SendEvent(eventType, evt); err != nil {
		m.setStatus(ErrorStyle.Render(err.Error()))
	}
}

// quit persists what it can and shuts the program down
func (m Model) quit() tea.Cmd {
	if ch, ok := m.currentChannel(); ok {
		m.markRead(ch)
	}
	// Tell the server we are going offline so contacts see it promptly.
	m.sendEvent(protocol.TypeStatusUpdate, &protocol.StatusUpdateEvent{Status: protocol.StatusOffline})
	return tea.Quit
}

// flagUnreadFromMarkers compares persisted read markers against the
// replica snapshot so channels with unseen messages light up on login.
func (m *Model) flagUnreadFromMarkers() {
	for _, ch := range m.replica.Channels() {
		if len(ch.Messages) == 0 {
			continue
		}
		marker, ok := m.state.ReadMarker(ch.ID)
		if !ok || ch.Messages[0].ID > marker {
			m.unread[ch.ID] = true
		}
	}
}
