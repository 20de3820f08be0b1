package persist

import (
	"io"
	"log"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestWriter(t *testing.T, db *DB) *Writer {
	t.Helper()
	return NewWriter(db, log.New(io.Discard, "", 0))
}

func TestOpenInitializesSchema(t *testing.T) {
	db := openTestDB(t)

	users, channels, err := db.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Empty(t, channels)
}

func TestWriterRoundTrip(t *testing.T) {
	db := openTestDB(t)
	w := newTestWriter(t, db)

	alice := store.UserSnapshot{Username: "alice", Status: 1, Friends: []string{"bob"}}
	bob := store.UserSnapshot{Username: "bob", Status: 0, Friends: []string{"alice"}}
	w.SaveUser(alice, []byte("hash-a"))
	w.SaveUser(bob, []byte("hash-b"))

	ch := store.ChannelSnapshot{
		ID:      1,
		Name:    "general",
		Members: []string{"alice", "bob"},
		Admins:  []string{"alice"},
	}
	w.SaveChannel(ch)

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	w.InsertMessage(store.Message{ChannelID: 1, ID: 0, Sender: "alice", Body: "hello", Timestamp: now})
	w.InsertMessage(store.Message{ChannelID: 1, ID: 1, Sender: "bob", Body: "hi", Timestamp: now})

	// Close drains the queue before LoadAll reads
	w.Close()

	users, channels, err := db.LoadAll()
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Len(t, channels, 1)

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, []byte("hash-a"), users[0].PasswordHash)
	assert.Equal(t, uint8(1), users[0].Status)
	assert.True(t, users[0].Friends["bob"])
	// Channel membership is rebuilt from the channel's member list
	assert.True(t, users[0].Channels[1])
	assert.True(t, users[1].Channels[1])

	c := channels[0]
	assert.Equal(t, "general", c.Name)
	assert.Equal(t, []string{"alice", "bob"}, c.Members)
	assert.True(t, c.Admins["alice"])
	assert.False(t, c.Admins["bob"])
	// InsertMessage advances the stored counter
	assert.Equal(t, uint64(2), c.TotalMessages)

	// Newest first
	require.Len(t, c.Messages, 2)
	assert.Equal(t, uint64(1), c.Messages[0].ID)
	assert.Equal(t, uint64(0), c.Messages[1].ID)
}

func TestFieldPatches(t *testing.T) {
	db := openTestDB(t)
	w := newTestWriter(t, db)

	w.SaveUser(store.UserSnapshot{Username: "alice"}, []byte("old-hash"))
	w.SaveChannel(store.ChannelSnapshot{ID: 1, Name: "general", Members: []string{"alice"}, Admins: []string{"alice"}})
	w.InsertMessage(store.Message{ChannelID: 1, ID: 0, Sender: "alice", Body: "typo", Timestamp: "2026-08-29T12:00:00Z"})

	w.PatchUserStatus("alice", 2)
	w.PatchUserPassword("alice", []byte("new-hash"))
	w.PatchUserAvatar("alice", "avatars/alice-3", "webp")
	w.PatchUserFriends("alice", []string{"bob", "carol"})
	w.PatchChannelRoster(1, []string{"alice", "bob"}, []string{"alice", "bob"})
	w.PatchMessageBody(1, 0, "fixed")
	w.Close()

	users, channels, err := db.LoadAll()
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Len(t, channels, 1)

	u := users[0]
	assert.Equal(t, uint8(2), u.Status)
	assert.Equal(t, []byte("new-hash"), u.PasswordHash)
	assert.Equal(t, "avatars/alice-3", u.AvatarRef)
	assert.Equal(t, "webp", u.AvatarFormat)
	assert.True(t, u.Friends["bob"])
	assert.True(t, u.Friends["carol"])

	c := channels[0]
	assert.Equal(t, []string{"alice", "bob"}, c.Members)
	assert.True(t, c.Admins["bob"])
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "fixed", c.Messages[0].Body)
}

func TestDeletes(t *testing.T) {
	db := openTestDB(t)
	w := newTestWriter(t, db)

	w.SaveChannel(store.ChannelSnapshot{ID: 1, Name: "keep", Members: []string{"alice"}})
	w.SaveChannel(store.ChannelSnapshot{ID: 2, Name: "drop", Members: []string{"alice"}})
	w.InsertMessage(store.Message{ChannelID: 1, ID: 0, Sender: "alice", Body: "one", Timestamp: "2026-08-29T12:00:00Z"})
	w.InsertMessage(store.Message{ChannelID: 1, ID: 1, Sender: "alice", Body: "two", Timestamp: "2026-08-29T12:00:01Z"})
	w.InsertMessage(store.Message{ChannelID: 2, ID: 0, Sender: "alice", Body: "gone", Timestamp: "2026-08-29T12:00:02Z"})

	w.DeleteMessage(1, 0)
	w.DeleteChannel(2)
	w.Close()

	_, channels, err := db.LoadAll()
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "keep", channels[0].Name)
	// Counter survives message deletion
	assert.Equal(t, uint64(2), channels[0].TotalMessages)
	require.Len(t, channels[0].Messages, 1)
	assert.Equal(t, uint64(1), channels[0].Messages[0].ID)
}

func TestFailedWriteIsDroppedNotFatal(t *testing.T) {
	db := openTestDB(t)
	w := newTestWriter(t, db)

	// Message for a channel that was never saved violates the foreign key;
	// the writer logs and drops it, later jobs still apply
	w.InsertMessage(store.Message{ChannelID: 99, ID: 0, Sender: "alice", Body: "orphan", Timestamp: "2026-08-29T12:00:00Z"})
	w.SaveChannel(store.ChannelSnapshot{ID: 1, Name: "general", Members: []string{"alice"}})
	w.Close()

	_, channels, err := db.LoadAll()
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Empty(t, channels[0].Messages)
}

func TestLoadAllSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.db")

	db, err := Open(path)
	require.NoError(t, err)
	w := NewWriter(db, log.New(io.Discard, "", 0))
	w.SaveUser(store.UserSnapshot{Username: "alice"}, []byte("h"))
	w.SaveChannel(store.ChannelSnapshot{ID: 5, Name: "general", Members: []string{"alice"}, TotalMessages: 0})
	w.Close()
	require.NoError(t, db.Close())

	db2, err := Open(path)
	require.NoError(t, err)
	defer db2.Close()

	users, channels, err := db2.LoadAll()
	require.NoError(t, err)
	assert.Len(t, users, 1)
	require.Len(t, channels, 1)
	assert.Equal(t, uint64(5), channels[0].ID)
}
