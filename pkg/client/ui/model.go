package ui

import (
	"log"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/protocol"
)

// ViewState represents the current view
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewChat
)

// ConnectionState represents the connection status shown in the status bar
type ConnectionState int

const (
	StateConnected ConnectionState = iota
	StateDisconnected
	StateReconnecting
)

// loginField tracks which login input has focus
type loginField int

const (
	fieldUsername loginField = iota
	fieldPassword
)

// ServerFrameMsg wraps a decoded frame from the server
type ServerFrameMsg struct {
	Frame *protocol.Frame
}

// ErrorMsg wraps a connection-level error
type ErrorMsg struct {
	Err error
}

// ConnectedMsg is sent when the connection (re-)establishes
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the connection drops
type DisconnectedMsg struct {
	Err error
}

// ReconnectingMsg is sent on each reconnect attempt
type ReconnectingMsg struct {
	Attempt int
}

// TickMsg drives periodic status-bar refreshes
type TickMsg time.Time

// Model holds the full TUI state
type Model struct {
	conn    *client.Connection
	replica *client.Replica
	state   *client.State
	logger  *log.Logger

	currentView     ViewState
	connectionState ConnectionState

	width  int
	height int

	// Login view
	usernameInput textinput.Model
	passwordInput textinput.Model
	focusedField  loginField
	registering   bool
	loginPending  bool
	loginError    string

	// Credentials kept in memory so the session can be restored
	// transparently after a reconnect.
	savedUsername string
	savedPassword string

	// Chat view
	input        textinput.Model
	messagesView viewport.Model
	statusLine   string
	statusSetAt  time.Time
	unread       map[uint64]bool

	lastInteraction time.Time
	notifyIcon      string
}

// NewModel builds the initial model. The connection should already be
// dialing; the login view is shown until LOGIN_SUCCEEDED arrives.
func NewModel(conn *client.Connection, state *client.State, logger *log.Logger) Model {
	username := textinput.New()
	username.Placeholder = "username"
	username.CharLimit = 32
	username.Focus()
	if last := state.LastUsername(); last != "" {
		username.SetValue(last)
	}

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 128

	input := textinput.New()
	input.Placeholder = "message or /command"
	input.CharLimit = protocol.MaxBodyLength

	return Model{
		conn:            conn,
		replica:         client.NewReplica(),
		state:           state,
		logger:          logger,
		currentView:     ViewLogin,
		connectionState: StateConnected,
		usernameInput:   username,
		passwordInput:   password,
		input:           input,
		unread:          make(map[uint64]bool),
		lastInteraction: time.Now(),
	}
}

// Replica exposes the server-state replica, mainly for tests.
func (m Model) Replica() *client.Replica {
	return m.replica
}

// Init starts the frame listener and the status-bar ticker
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listenForServerFrames(m.conn),
		tickCmd(),
		textinput.Blink,
	)
}

// listenForServerFrames waits for the next frame, error, or connection
// state change and turns it into a tea.Msg. Update re-issues it after
// every delivery so the channels are always drained.
func listenForServerFrames(conn *client.Connection) tea.Cmd {
	return func() tea.Msg {
		select {
		case frame, ok := <-conn.Incoming():
			if !ok {
				return DisconnectedMsg{}
			}
			return ServerFrameMsg{Frame: frame}
		case err := <-conn.Errors():
			return ErrorMsg{Err: err}
		case update := <-conn.StateChanges():
			switch update.State {
			case client.StateTypeConnected:
				return ConnectedMsg{}
			case client.StateTypeDisconnected:
				return DisconnectedMsg{Err: update.Err}
			case client.StateTypeReconnecting:
				return ReconnectingMsg{Attempt: update.Attempt}
			}
			return nil
		}
	}
}

// tickCmd fires once a second to age out transient status-bar text
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// setStatus shows a transient line in the status bar
func (m *Model) setStatus(text string) {
	m.statusLine = text
	m.statusSetAt = time.Now()
}

// currentChannel resolves the replica's current channel, if any
func (m Model) currentChannel() (protocol.Channel, bool) {
	id := m.replica.CurrentChannel()
	if id == 0 {
		return protocol.Channel{}, false
	}
	return m.replica.Channel(id)
}

// markRead persists the read marker for the newest message in the channel
func (m *Model) markRead(ch protocol.Channel) {
	delete(m.unread, ch.ID)
	if len(ch.Messages) == 0 {
		return
	}
	if err := m.state.SetReadMarker(ch.ID, ch.Messages[0].ID); err != nil && m.logger != nil {
		m.logger.Printf("failed to persist read marker for channel %d: %v", ch.ID, err)
	}
}
