package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/parley-chat/parley/pkg/protocol"
)

// command is a parsed slash command
type command struct {
	name string
	args []string
}

// parseCommand splits "/name arg1 arg2" into its parts. The leading
// slash must already be present; the name is lowercased.
func parseCommand(text string) command {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return command{}
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:]}
}

var statusNames = map[string]uint8{
	"offline": protocol.StatusOffline,
	"online":  protocol.StatusOnline,
	"away":    protocol.StatusAway,
	"dnd":     protocol.StatusDND,
}

const helpText = `/create <name> [user...]  create a channel, optionally inviting users
/dm <user>                open a direct message channel
/invite <user>            add a user to the current channel
/kick <user>              remove a user from the current channel
/leave                    leave the current channel
/delete                   delete the current channel (admins only)
/promote <user>           grant admin in the current channel
/demote <user>            revoke admin in the current channel
/friend <user>            add a contact
/unfriend <user>          remove a contact
/status <online|away|dnd> change your presence
/passwd <old> <new>       change your password
/avatar <ref> <format>    set your avatar reference
/history [n]              fetch older messages in the current channel
/edit <id> <text>         edit one of your messages
/del <id>                 delete a message
/quit                     exit`

// executeCommand runs a parsed slash command against the server
func (m Model) executeCommand(text string) (tea.Model, tea.Cmd) {
	cmd := parseCommand(text)

	switch cmd.name {
	case "quit", "q", "exit":
		return m, m.quit()

	case "help":
		m.setStatus("commands written to the message pane")
		m.messagesView.SetContent(SystemMessageStyle.Render(helpText))
		return m, nil

	case "create":
		if len(cmd.args) < 1 {
			m.setStatus("usage: /create <name> [user...]")
			return m, nil
		}
		m.sendEvent(protocol.TypeChannelCreate, &protocol.ChannelCreateEvent{
			Name:     cmd.args[0],
			Invitees: cmd.args[1:],
		})
		return m, nil

	case "dm":
		if len(cmd.args) != 1 {
			m.setStatus("usage: /dm <user>")
			return m, nil
		}
		// A two-member channel is a DM; the server dedups repeats.
		m.sendEvent(protocol.TypeChannelCreate, &protocol.ChannelCreateEvent{
			Name:     fmt.Sprintf("%s,%s", m.replica.Username(), cmd.args[0]),
			Invitees: []string{cmd.args[0]},
		})
		return m, nil

	case "invite":
		return m.channelMemberCommand(cmd, protocol.TypeMemberAdd, "usage: /invite <user>")

	case "kick":
		return m.channelMemberCommand(cmd, protocol.TypeMemberRemove, "usage: /kick <user>")

	case "leave":
		ch, ok := m.currentChannel()
		if !ok {
			m.setStatus("no channel selected")
			return m, nil
		}
		m.sendEvent(protocol.TypeMemberRemove, &protocol.MemberRemoveEvent{
			ChannelID: ch.ID,
			Username:  m.replica.Username(),
		})
		return m, nil

	case "delete":
		ch, ok := m.currentChannel()
		if !ok {
			m.setStatus("no channel selected")
			return m, nil
		}
		m.sendEvent(protocol.TypeChannelDelete, &protocol.ChannelDeleteEvent{ChannelID: ch.ID})
		return m, nil

	case "promote", "demote":
		if len(cmd.args) != 1 {
			m.setStatus(fmt.Sprintf("usage: /%s <user>", cmd.name))
			return m, nil
		}
		ch, ok := m.currentChannel()
		if !ok {
			m.setStatus("no channel selected")
			return m, nil
		}
		m.sendEvent(protocol.TypeHierarchyChange, &protocol.HierarchyChangeEvent{
			ChannelID: ch.ID,
			Username:  cmd.args[0],
			Promote:   cmd.name == "promote",
		})
		return m, nil

	case "friend":
		if len(cmd.args) != 1 {
			m.setStatus("usage: /friend <user>")
			return m, nil
		}
		m.sendEvent(protocol.TypeFriendAdd, &protocol.FriendAddEvent{Username: cmd.args[0]})
		return m, nil

	case "unfriend":
		if len(cmd.args) != 1 {
			m.setStatus("usage: /unfriend <user>")
			return m, nil
		}
		m.sendEvent(protocol.TypeFriendRemove, &protocol.FriendRemoveEvent{Username: cmd.args[0]})
		return m, nil

	case "status":
		if len(cmd.args) != 1 {
			m.setStatus("usage: /status <online|away|dnd|offline>")
			return m, nil
		}
		status, ok := statusNames[strings.ToLower(cmd.args[0])]
		if !ok {
			m.setStatus("unknown status " + cmd.args[0])
			return m, nil
		}
		m.sendEvent(protocol.TypeStatusUpdate, &protocol.StatusUpdateEvent{Status: status})
		if status == protocol.StatusOffline {
			// The server closes the connection after an explicit
			// offline, so treat it as a quit.
			return m, tea.Quit
		}
		return m, nil

	case "passwd":
		if len(cmd.args) != 2 {
			m.setStatus("usage: /passwd <old> <new>")
			return m, nil
		}
		m.sendEvent(protocol.TypePasswordUpdate, &protocol.PasswordUpdateEvent{
			OldPassword: cmd.args[0],
			NewPassword: cmd.args[1],
		})
		return m, nil

	case "avatar":
		if len(cmd.args) != 2 {
			m.setStatus("usage: /avatar <ref> <format>")
			return m, nil
		}
		m.sendEvent(protocol.TypeAvatarUpdate, &protocol.AvatarUpdateEvent{
			AvatarRef:    cmd.args[0],
			AvatarFormat: cmd.args[1],
		})
		return m, nil

	case "history":
		ch, ok := m.currentChannel()
		if !ok {
			m.setStatus("no channel selected")
			return m, nil
		}
		if len(ch.Messages) == 0 {
			m.setStatus("nothing to page back from yet")
			return m, nil
		}
		oldest := ch.Messages[len(ch.Messages)-1].ID
		m.sendEvent(protocol.TypeHistoryRequest, &protocol.HistoryRequestEvent{
			ChannelID:  ch.ID,
			LastSeenID: oldest,
		})
		return m, nil

	case "edit":
		if len(cmd.args) < 2 {
			m.setStatus("usage: /edit <id> <text>")
			return m, nil
		}
		ch, ok := m.currentChannel()
		if !ok {
			m.setStatus("no channel selected")
			return m, nil
		}
		id, err := strconv.ParseUint(cmd.args[0], 10, 64)
		if err != nil {
			m.setStatus("message id must be a number")
			return m, nil
		}
		m.sendEvent(protocol.TypeMessageEdit, &protocol.MessageEditEvent{
			ChannelID: ch.ID,
			MessageID: id,
			Body:      strings.Join(cmd.args[1:], " "),
		})
		return m, nil

	case "del":
		if len(cmd.args) != 1 {
			m.setStatus("usage: /del <id>")
			return m, nil
		}
		ch, ok := m.currentChannel()
		if !ok {
			m.setStatus("no channel selected")
			return m, nil
		}
		id, err := strconv.ParseUint(cmd.args[0], 10, 64)
		if err != nil {
			m.setStatus("message id must be a number")
			return m, nil
		}
		m.sendEvent(protocol.TypeMessageDelete, &protocol.MessageDeleteEvent{
			ChannelID: ch.ID,
			MessageID: id,
		})
		return m, nil

	default:
		m.setStatus(fmt.Sprintf("unknown command /%s (try /help)", cmd.name))
		return m, nil
	}
}

// channelMemberCommand handles the invite/kick pair, which differ only
// in the event type they send.
func (m Model) channelMemberCommand(cmd command, eventType int, usage string) (tea.Model, tea.Cmd) {
	if len(cmd.args) != 1 {
		m.setStatus(usage)
		return m, nil
	}
	ch, ok := m.currentChannel()
	if !ok {
		m.setStatus("no channel selected")
		return m, nil
	}
	switch eventType {
	case protocol.TypeMemberAdd:
		m.sendEvent(protocol.TypeMemberAdd, &protocol.MemberAddEvent{ChannelID: ch.ID, Username: cmd.args[0]})
	case protocol.TypeMemberRemove:
		m.sendEvent(protocol.TypeMemberRemove, &protocol.MemberRemoveEvent{ChannelID: ch.ID, Username: cmd.args[0]})
	}
	return m, nil
}
