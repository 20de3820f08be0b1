package ui

import (
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/protocol"
)

func testModel(t *testing.T) Model {
	t.Helper()

	conn, err := client.NewConnection("localhost")
	require.NoError(t, err)

	state, err := client.OpenState(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	return NewModel(conn, state, log.New(io.Discard, "", 0))
}

func frameFor(t *testing.T, eventType uint8, evt protocol.Event) *protocol.Frame {
	t.Helper()
	payload, err := evt.Encode()
	require.NoError(t, err)
	return &protocol.Frame{
		Version: protocol.ProtocolVersion,
		Type:    eventType,
		Payload: payload,
	}
}

func loginFrame(t *testing.T) *protocol.Frame {
	t.Helper()
	return frameFor(t, protocol.TypeLoginSucceeded, &protocol.LoginSucceededEvent{
		User: protocol.User{
			Username: "alice",
			Status:   protocol.StatusOnline,
			Channels: []uint64{1},
			Friends:  []string{"bob"},
		},
		Channels: []protocol.Channel{
			{
				ID:            1,
				Name:          "general",
				Members:       []string{"alice", "bob"},
				Admins:        []string{"alice"},
				TotalMessages: 1,
				Messages: []protocol.Message{
					{ChannelID: 1, ID: 0, Sender: "bob", Body: "hello", Timestamp: "2026-08-01T10:00:00Z"},
				},
			},
		},
		Friends: []protocol.User{{Username: "bob", Status: protocol.StatusOnline}},
	})
}

func apply(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantArgs []string
	}{
		{"/create general bob carol", "create", []string{"general", "bob", "carol"}},
		{"/QUIT", "quit", nil},
		{"/status   away", "status", []string{"away"}},
		{"/", "", nil},
		{"/edit 3 new text here", "edit", []string{"3", "new", "text", "here"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd := parseCommand(tt.input)
			assert.Equal(t, tt.wantName, cmd.name)
			if len(tt.wantArgs) == 0 {
				assert.Empty(t, cmd.args)
			} else {
				assert.Equal(t, tt.wantArgs, cmd.args)
			}
		})
	}
}

func TestLoginSucceededSwitchesToChat(t *testing.T) {
	m := testModel(t)
	assert.Equal(t, ViewLogin, m.currentView)

	m = apply(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = apply(t, m, ServerFrameMsg{Frame: loginFrame(t)})

	assert.Equal(t, ViewChat, m.currentView)
	assert.Equal(t, "alice", m.Replica().Username())
	assert.Equal(t, uint64(1), m.Replica().CurrentChannel())

	// The read marker for the focused channel lands in client state.
	marker, ok := m.state.ReadMarker(1)
	require.True(t, ok)
	assert.Equal(t, uint64(0), marker)
}

func TestLoginFailedShowsReason(t *testing.T) {
	m := testModel(t)
	m = apply(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = apply(t, m, ServerFrameMsg{Frame: frameFor(t, protocol.TypeLoginFailed, &protocol.LoginFailedEvent{
		Code:   protocol.ErrCodeBadCredentials,
		Reason: "Invalid username or password",
	})})

	assert.Equal(t, ViewLogin, m.currentView)
	assert.Equal(t, "Invalid username or password", m.loginError)
	assert.Contains(t, m.View(), "Invalid username or password")
}

func TestMessageInOtherChannelMarksUnread(t *testing.T) {
	m := testModel(t)
	m = apply(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = apply(t, m, ServerFrameMsg{Frame: loginFrame(t)})

	m = apply(t, m, ServerFrameMsg{Frame: frameFor(t, protocol.TypeChannelCreated, &protocol.ChannelCreatedEvent{
		Channel: protocol.Channel{ID: 2, Name: "random", Members: []string{"alice", "bob"}, Admins: []string{"bob"}},
	})})
	m = apply(t, m, ServerFrameMsg{Frame: frameFor(t, protocol.TypeMessagePosted, &protocol.MessagePostedEvent{
		Source:  "bob",
		Message: protocol.Message{ChannelID: 2, ID: 0, Sender: "bob", Body: "psst", Timestamp: "2026-08-01T10:01:00Z"},
	})})

	assert.True(t, m.unread[2])
	assert.False(t, m.unread[1])
	assert.Contains(t, m.View(), "random")
}

func TestMessageInCurrentChannelAdvancesReadMarker(t *testing.T) {
	m := testModel(t)
	m = apply(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = apply(t, m, ServerFrameMsg{Frame: loginFrame(t)})

	m = apply(t, m, ServerFrameMsg{Frame: frameFor(t, protocol.TypeMessagePosted, &protocol.MessagePostedEvent{
		Source:  "bob",
		Message: protocol.Message{ChannelID: 1, ID: 1, Sender: "bob", Body: "still here?", Timestamp: "2026-08-01T10:02:00Z"},
	})})

	marker, ok := m.state.ReadMarker(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), marker)
	assert.False(t, m.unread[1])
}

func TestViewRendersChannelAndMessages(t *testing.T) {
	m := testModel(t)
	m = apply(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = apply(t, m, ServerFrameMsg{Frame: loginFrame(t)})

	view := m.View()
	assert.Contains(t, view, "general")
	assert.Contains(t, view, "hello")
	assert.Contains(t, view, "bob")
}

func TestUnknownCommandReportsStatus(t *testing.T) {
	m := testModel(t)
	m = apply(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = apply(t, m, ServerFrameMsg{Frame: loginFrame(t)})

	next, _ := m.executeCommand("/frobnicate")
	model := next.(Model)
	assert.True(t, strings.Contains(model.statusLine, "frobnicate"))
}

func TestCycleChannelWrapsAndClearsUnread(t *testing.T) {
	m := testModel(t)
	m = apply(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = apply(t, m, ServerFrameMsg{Frame: loginFrame(t)})
	m = apply(t, m, ServerFrameMsg{Frame: frameFor(t, protocol.TypeChannelCreated, &protocol.ChannelCreatedEvent{
		Channel: protocol.Channel{ID: 2, Name: "random", Members: []string{"alice"}, Admins: []string{"alice"}},
	})})
	m.unread[2] = true

	m.cycleChannel(1)
	assert.Equal(t, uint64(2), m.Replica().CurrentChannel())
	assert.False(t, m.unread[2])

	m.cycleChannel(1)
	assert.Equal(t, uint64(1), m.Replica().CurrentChannel())
}
