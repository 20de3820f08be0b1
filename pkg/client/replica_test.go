package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/protocol"
)

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

func loggedInReplica(t *testing.T) *Replica {
	t.Helper()
	r := NewReplica()
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeLoginSucceeded, &protocol.LoginSucceededEvent{
		User: protocol.User{
			Username: "alice",
			Status:   protocol.StatusOnline,
			Channels: []uint64{1},
			Friends:  []string{"bob"},
		},
		Channels: []protocol.Channel{{
			ID:      1,
			Name:    "general",
			Members: []string{"alice", "bob", "carol"},
			Admins:  []string{"alice"},
			Messages: []protocol.Message{
				{ChannelID: 1, ID: 1, Sender: "bob", Body: "second", Timestamp: "2026-01-01T00:00:01Z"},
				{ChannelID: 1, ID: 0, Sender: "alice", Body: "first", Timestamp: "2026-01-01T00:00:00Z"},
			},
			TotalMessages: 2,
		}},
		Friends: []protocol.User{{Username: "bob", Status: protocol.StatusOnline}},
	})))
	return r
}

func TestReplicaLoginSnapshot(t *testing.T) {
	r := loggedInReplica(t)

	assert.Equal(t, "alice", r.Username())
	ch, ok := r.Channel(1)
	require.True(t, ok)
	assert.Equal(t, "general", ch.Name)
	assert.Len(t, ch.Messages, 2)

	friends := r.Friends()
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].Username)
}

func TestReplicaMessageFlow(t *testing.T) {
	r := loggedInReplica(t)

	// New message lands at the front
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMessagePosted, &protocol.MessagePostedEvent{
		Source:  "carol",
		Message: protocol.Message{ChannelID: 1, ID: 2, Sender: "carol", Body: "third"},
	})))
	ch, _ := r.Channel(1)
	require.Len(t, ch.Messages, 3)
	assert.Equal(t, "third", ch.Messages[0].Body)
	assert.Equal(t, uint64(3), ch.TotalMessages)

	// Edits patch in place
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMessageEdited, &protocol.MessageEditedEvent{
		Source:  "carol",
		Message: protocol.Message{ChannelID: 1, ID: 2, Sender: "carol", Body: "third, fixed"},
	})))
	ch, _ = r.Channel(1)
	assert.Equal(t, "third, fixed", ch.Messages[0].Body)

	// Deletes remove the message but never the counter
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMessageDeleted, &protocol.MessageDeletedEvent{
		Source: "carol", ChannelID: 1, MessageID: 2,
	})))
	ch, _ = r.Channel(1)
	assert.Len(t, ch.Messages, 2)
	assert.Equal(t, uint64(3), ch.TotalMessages)

	// Events for unknown channels are ignored, not fatal
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMessagePosted, &protocol.MessagePostedEvent{
		Source:  "bob",
		Message: protocol.Message{ChannelID: 99, ID: 0, Sender: "bob", Body: "lost"},
	})))
}

func TestReplicaHistoryAppendsOlderMessages(t *testing.T) {
	r := loggedInReplica(t)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeHistoryResponse, &protocol.HistoryResponseEvent{
		ChannelID: 1,
		Messages: []protocol.Message{
			{ChannelID: 1, ID: 4, Sender: "bob", Body: "older"},
			{ChannelID: 1, ID: 3, Sender: "bob", Body: "oldest"},
		},
	})))

	ch, _ := r.Channel(1)
	require.Len(t, ch.Messages, 4)
	assert.Equal(t, "older", ch.Messages[2].Body)
	assert.Equal(t, "oldest", ch.Messages[3].Body)
}

func TestReplicaMemberAddedKeepsPaginatedHistory(t *testing.T) {
	r := loggedInReplica(t)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeChannelCreated, &protocol.ChannelCreatedEvent{
		Source: "alice",
		Channel: protocol.Channel{
			ID:      7,
			Name:    "archive",
			Members: []string{"alice", "bob"},
			Admins:  []string{"alice"},
			Messages: []protocol.Message{
				{ChannelID: 7, ID: 5, Sender: "bob", Body: "recent"},
				{ChannelID: 7, ID: 4, Sender: "alice", Body: "earlier"},
			},
			TotalMessages: 6,
		},
	})))

	// Older pages fetched on demand sit behind the recent messages
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeHistoryResponse, &protocol.HistoryResponseEvent{
		ChannelID: 7,
		Messages: []protocol.Message{
			{ChannelID: 7, ID: 3, Sender: "bob", Body: "older"},
			{ChannelID: 7, ID: 2, Sender: "bob", Body: "oldest fetched"},
		},
	})))

	// A roster refresh carries only the recent page; the fetched pages
	// must survive the swap
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMemberAdded, &protocol.MemberAddedEvent{
		Source: "alice",
		Channel: protocol.Channel{
			ID:      7,
			Name:    "archive",
			Members: []string{"alice", "bob", "dave"},
			Admins:  []string{"alice"},
			Messages: []protocol.Message{
				{ChannelID: 7, ID: 6, Sender: "dave", Body: "newest"},
				{ChannelID: 7, ID: 5, Sender: "bob", Body: "recent"},
				{ChannelID: 7, ID: 4, Sender: "alice", Body: "earlier"},
			},
			TotalMessages: 7,
		},
		Username: "dave",
	})))

	ch, ok := r.Channel(7)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob", "dave"}, ch.Members)
	require.Len(t, ch.Messages, 5)
	assert.Equal(t, "newest", ch.Messages[0].Body)
	assert.Equal(t, "recent", ch.Messages[1].Body)
	assert.Equal(t, "earlier", ch.Messages[2].Body)
	assert.Equal(t, "older", ch.Messages[3].Body)
	assert.Equal(t, "oldest fetched", ch.Messages[4].Body)
}

func TestReplicaMemberRemovalPurgesMessages(t *testing.T) {
	r := loggedInReplica(t)

	// Someone else is removed: their messages vanish locally
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMemberRemoved, &protocol.MemberRemovedEvent{
		Source: "alice", ChannelID: 1, Username: "bob",
	})))
	ch, ok := r.Channel(1)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "carol"}, ch.Members)
	require.Len(t, ch.Messages, 1)
	assert.Equal(t, "alice", ch.Messages[0].Sender)

	// We are removed: the channel disappears entirely
	r.SetCurrentChannel(1)
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMemberRemoved, &protocol.MemberRemovedEvent{
		Source: "carol", ChannelID: 1, Username: "alice",
	})))
	_, ok = r.Channel(1)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), r.CurrentChannel())
	assert.Empty(t, r.Self().Channels)
}

func TestReplicaHierarchyAndRoster(t *testing.T) {
	r := loggedInReplica(t)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeHierarchyChanged, &protocol.HierarchyChangedEvent{
		Source: "alice", ChannelID: 1, Username: "bob", Promote: true,
	})))
	ch, _ := r.Channel(1)
	assert.Contains(t, ch.Admins, "bob")

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeHierarchyChanged, &protocol.HierarchyChangedEvent{
		Source: "alice", ChannelID: 1, Username: "bob", Promote: false,
	})))
	ch, _ = r.Channel(1)
	assert.NotContains(t, ch.Admins, "bob")

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMemberAdded, &protocol.MemberAddedEvent{
		Source:   "alice",
		Username: "dave",
		Channel: protocol.Channel{
			ID: 1, Name: "general",
			Members: []string{"alice", "bob", "carol", "dave"},
			Admins:  []string{"alice"},
		},
	})))
	ch, _ = r.Channel(1)
	assert.Contains(t, ch.Members, "dave")
}

func TestReplicaFriendLifecycle(t *testing.T) {
	r := loggedInReplica(t)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeFriendAdded, &protocol.FriendAddedEvent{
		Source: "alice",
		Friend: protocol.User{Username: "carol", Status: protocol.StatusAway},
	})))
	assert.Len(t, r.Friends(), 2)
	assert.Contains(t, r.Self().Friends, "carol")

	// The removal event names both parties; we drop the one that isn't us
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeFriendRemoved, &protocol.FriendRemovedEvent{
		Source: "bob", Username: "alice",
	})))
	assert.Len(t, r.Friends(), 1)
	assert.NotContains(t, r.Self().Friends, "bob")

	// Status changes reflect on the friend record
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeStatusUpdated, &protocol.StatusUpdatedEvent{
		Source: "carol", Status: protocol.StatusDND,
	})))
	friends := r.Friends()
	require.Len(t, friends, 1)
	assert.Equal(t, protocol.StatusDND, friends[0].Status)
}

func TestReplicaChannelLifecycle(t *testing.T) {
	r := loggedInReplica(t)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeChannelCreated, &protocol.ChannelCreatedEvent{
		Source: "bob",
		Channel: protocol.Channel{
			ID: 2, Name: "alice+bob", Members: []string{"bob", "alice"}, Admins: []string{"bob"},
		},
	})))
	assert.Len(t, r.Channels(), 2)

	// A duplicate announcement (DM dedup) changes nothing
	require.NoError(t, r.Apply(frameFor(t, protocol.TypeChannelCreated, &protocol.ChannelCreatedEvent{
		Source: "alice",
		Channel: protocol.Channel{
			ID: 2, Name: "alice+bob", Members: []string{"bob", "alice"}, Admins: []string{"bob"},
		},
	})))
	assert.Len(t, r.Channels(), 2)
	assert.Equal(t, []uint64{1, 2}, r.Self().Channels)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeChannelDeleted, &protocol.ChannelDeletedEvent{
		Source: "bob", ChannelID: 2,
	})))
	assert.Len(t, r.Channels(), 1)
}

func TestReplicaSurfacesServerErrors(t *testing.T) {
	r := loggedInReplica(t)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeRequestFailed, &protocol.RequestFailedEvent{
		FailedType: protocol.TypeMessageSend,
		Code:       protocol.ErrCodeChannelNotFound,
		Reason:     "No such channel",
	})))

	err := r.TakeError()
	require.NotNil(t, err)
	assert.Equal(t, uint16(protocol.ErrCodeChannelNotFound), err.Code)
	assert.Contains(t, err.Error(), "No such channel")

	// Taking the error clears it
	assert.Nil(t, r.TakeError())
}

type recordingNotifier struct {
	refreshes int
	channels  []uint64
}

func (n *recordingNotifier) Refresh()                    { n.refreshes++ }
func (n *recordingNotifier) RefreshFor(channelID uint64) { n.channels = append(n.channels, channelID) }

func TestReplicaNotifier(t *testing.T) {
	r := loggedInReplica(t)
	n := &recordingNotifier{}
	r.SetNotifier(n)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeMessagePosted, &protocol.MessagePostedEvent{
		Source:  "bob",
		Message: protocol.Message{ChannelID: 1, ID: 2, Sender: "bob", Body: "ping"},
	})))
	assert.Equal(t, []uint64{1}, n.channels)

	require.NoError(t, r.Apply(frameFor(t, protocol.TypeStatusUpdated, &protocol.StatusUpdatedEvent{
		Source: "bob", Status: protocol.StatusAway,
	})))
	assert.Equal(t, 1, n.refreshes)
}
