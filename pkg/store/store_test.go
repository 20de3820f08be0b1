package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, usernames ...string) *Store {
	t.Helper()
	s := New()
	for _, name := range usernames {
		_, err := s.CreateUser(name, []byte("$2a$10$fakehash"))
		require.NoError(t, err)
	}
	return s
}

func TestCreateUser(t *testing.T) {
	s := New()

	snap, err := s.CreateUser("alice", []byte("hash"))
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Username)
	assert.Empty(t, snap.Channels)
	assert.Empty(t, snap.Friends)

	_, err = s.CreateUser("alice", []byte("hash2"))
	assert.Equal(t, ErrUserExists, err)

	hash, err := s.PasswordHash("alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("hash"), hash)

	_, err = s.GetUser("nobody")
	assert.Equal(t, ErrUserNotFound, err)
}

func TestSetStatusAndAvatar(t *testing.T) {
	s := newTestStore(t, "alice")

	snap, err := s.SetStatus("alice", 2)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), snap.Status)

	snap, err = s.SetAvatar("alice", "avatars/alice-7", "png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/alice-7", snap.AvatarRef)
	assert.Equal(t, "png", snap.AvatarFormat)

	_, err = s.SetStatus("ghost", 1)
	assert.Equal(t, ErrUserNotFound, err)
}

func TestFriendship(t *testing.T) {
	s := newTestStore(t, "alice", "bob")

	a, b, err := s.Friend("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, a.Friends)
	assert.Equal(t, []string{"alice"}, b.Friends)

	// Already friends
	_, _, err = s.Friend("alice", "bob")
	assert.Equal(t, ErrAlreadyFriends, err)
	_, _, err = s.Friend("bob", "alice")
	assert.Equal(t, ErrAlreadyFriends, err)

	// Both sides drop together
	a, b, err = s.Unfriend("bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, a.Friends)
	assert.Empty(t, b.Friends)

	_, _, err = s.Unfriend("alice", "bob")
	assert.Equal(t, ErrNotFriends, err)

	_, _, err = s.Friend("alice", "alice")
	assert.Equal(t, ErrSelfReference, err)

	_, _, err = s.Friend("alice", "ghost")
	assert.Equal(t, ErrUserNotFound, err)
}

func TestCreateChannel(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")

	snap, err := s.CreateChannel("gaming", []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.ID)
	assert.Equal(t, "gaming", snap.Name)
	assert.Equal(t, []string{"alice", "bob", "carol"}, snap.Members)
	// Creator is the only admin
	assert.Equal(t, []string{"alice"}, snap.Admins)
	assert.Zero(t, snap.TotalMessages)

	// Membership is reflected on each user
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := s.GetUser(name)
		require.NoError(t, err)
		assert.Contains(t, u.Channels, uint64(1))
	}

	// Ids are never reused
	snap2, err := s.CreateChannel("general", []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap2.ID)

	_, err = s.CreateChannel("bad", []string{"alice", "ghost"})
	assert.Equal(t, ErrUserNotFound, err)
}

func TestDeleteChannel(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	snap, err := s.CreateChannel("temp", []string{"alice", "bob"})
	require.NoError(t, err)

	members, err := s.DeleteChannel(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	_, err = s.GetChannel(snap.ID)
	assert.Equal(t, ErrChannelNotFound, err)

	u, err := s.GetUser("alice")
	require.NoError(t, err)
	assert.NotContains(t, u.Channels, snap.ID)

	_, err = s.DeleteChannel(snap.ID)
	assert.Equal(t, ErrChannelNotFound, err)
}

func TestMembership(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")
	snap, err := s.CreateChannel("gaming", []string{"alice"})
	require.NoError(t, err)
	chID := snap.ID

	t.Run("add preserves insertion order", func(t *testing.T) {
		_, err := s.AddMember(chID, "carol")
		require.NoError(t, err)
		after, err := s.AddMember(chID, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "carol", "bob"}, after.Members)
	})

	t.Run("duplicate add rejected", func(t *testing.T) {
		_, err := s.AddMember(chID, "bob")
		assert.Equal(t, ErrAlreadyMember, err)
	})

	t.Run("remove strips admin flag", func(t *testing.T) {
		require.NoError(t, s.SetAdmin(chID, "carol", true))
		assert.True(t, s.IsAdmin(chID, "carol"))

		_, err := s.RemoveMember(chID, "carol")
		require.NoError(t, err)
		assert.False(t, s.IsMember(chID, "carol"))
		assert.False(t, s.IsAdmin(chID, "carol"))

		// Re-adding does not restore the old flag
		after, err := s.AddMember(chID, "carol")
		require.NoError(t, err)
		assert.NotContains(t, after.Admins, "carol")
	})

	t.Run("remove non-member", func(t *testing.T) {
		_, err := s.RemoveMember(chID, "ghost")
		assert.Equal(t, ErrUserNotFound, err)
	})

	t.Run("admin requires membership", func(t *testing.T) {
		err := s.SetAdmin(chID, "ghost", true)
		assert.Equal(t, ErrNotMember, err)
	})
}

func TestHierarchy(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	snap, err := s.CreateChannel("gaming", []string{"alice", "bob"})
	require.NoError(t, err)

	// Promote, demote, promote again
	require.NoError(t, s.SetAdmin(snap.ID, "bob", true))
	assert.True(t, s.IsAdmin(snap.ID, "bob"))

	require.NoError(t, s.SetAdmin(snap.ID, "bob", false))
	assert.False(t, s.IsAdmin(snap.ID, "bob"))
	// Demotion never touches membership
	assert.True(t, s.IsMember(snap.ID, "bob"))

	require.NoError(t, s.SetAdmin(snap.ID, "bob", true))
	after, err := s.GetChannel(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, after.Admins)
}

func TestFindDM(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")

	dm, err := s.CreateChannel("alice,bob", []string{"alice", "bob"})
	require.NoError(t, err)
	_, err = s.CreateChannel("trio", []string{"alice", "bob", "carol"})
	require.NoError(t, err)

	found, ok := s.FindDM("alice", "bob")
	require.True(t, ok)
	assert.Equal(t, dm.ID, found.ID)

	// Order does not matter
	found, ok = s.FindDM("bob", "alice")
	require.True(t, ok)
	assert.Equal(t, dm.ID, found.ID)

	_, ok = s.FindDM("alice", "carol")
	assert.False(t, ok)
}

func TestCreateDM(t *testing.T) {
	s := newTestStore(t, "alice", "bob")

	first, created, err := s.CreateDM("alice,bob", "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"alice", "bob"}, first.Members)
	assert.Equal(t, []string{"alice"}, first.Admins)

	// Either side asking again resolves to the same channel
	again, created, err := s.CreateDM("bob,alice", "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, _, err = s.CreateDM("alice,ghost", "alice", "ghost")
	assert.Equal(t, ErrUserNotFound, err)
}

func TestConcurrentCreateDMYieldsOneChannel(t *testing.T) {
	s := newTestStore(t, "alice", "bob")

	const attempts = 32
	ids := make(chan uint64, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		creator, other := "alice", "bob"
		if i%2 == 1 {
			creator, other = other, creator
		}
		go func(creator, other string) {
			defer wg.Done()
			snap, _, err := s.CreateDM(creator+","+other, creator, other)
			if err == nil {
				ids <- snap.ID
			}
		}(creator, other)
	}
	wg.Wait()
	close(ids)

	require.Len(t, ids, attempts)
	var want uint64
	firstSeen := false
	for id := range ids {
		if !firstSeen {
			want, firstSeen = id, true
			continue
		}
		assert.Equal(t, want, id)
	}
}

func TestMessages(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	snap, err := s.CreateChannel("general", []string{"alice", "bob"})
	require.NoError(t, err)
	chID := snap.ID
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	t.Run("ids start at zero and increment", func(t *testing.T) {
		m0, err := s.AppendMessage(chID, "alice", "first", now)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), m0.ID)
		assert.Equal(t, "2026-08-29T12:00:00Z", m0.Timestamp)

		m1, err := s.AppendMessage(chID, "bob", "second", now)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), m1.ID)
	})

	t.Run("history is newest first", func(t *testing.T) {
		ch, err := s.GetChannel(chID)
		require.NoError(t, err)
		require.Len(t, ch.Messages, 2)
		assert.Equal(t, "second", ch.Messages[0].Body)
		assert.Equal(t, "first", ch.Messages[1].Body)
		assert.Equal(t, uint64(2), ch.TotalMessages)
	})

	t.Run("edit replaces body only", func(t *testing.T) {
		edited, err := s.EditMessage(chID, 0, "first, edited")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), edited.ID)
		assert.Equal(t, "first, edited", edited.Body)
		assert.Equal(t, "2026-08-29T12:00:00Z", edited.Timestamp)

		_, err = s.EditMessage(chID, 99, "nope")
		assert.Equal(t, ErrMessageNotFound, err)
	})

	t.Run("delete does not rewind the counter", func(t *testing.T) {
		require.NoError(t, s.DeleteMessage(chID, 1))

		m, err := s.AppendMessage(chID, "alice", "third", now)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), m.ID)

		assert.Equal(t, ErrMessageNotFound, s.DeleteMessage(chID, 1))
	})
}

func TestMessagesBefore(t *testing.T) {
	s := newTestStore(t, "alice")
	snap, err := s.CreateChannel("general", []string{"alice"})
	require.NoError(t, err)
	chID := snap.ID
	now := time.Now()

	for i := 0; i < 50; i++ {
		_, err := s.AppendMessage(chID, "alice", fmt.Sprintf("msg %d", i), now)
		require.NoError(t, err)
	}

	t.Run("returns page older than cursor, newest first", func(t *testing.T) {
		page, err := s.MessagesBefore(chID, 40, 30)
		require.NoError(t, err)
		require.Len(t, page, 30)
		assert.Equal(t, uint64(39), page[0].ID)
		assert.Equal(t, uint64(10), page[29].ID)
	})

	t.Run("short final page", func(t *testing.T) {
		page, err := s.MessagesBefore(chID, 5, 30)
		require.NoError(t, err)
		require.Len(t, page, 5)
		assert.Equal(t, uint64(4), page[0].ID)
		assert.Equal(t, uint64(0), page[4].ID)
	})

	t.Run("no older messages is an error, never an empty page", func(t *testing.T) {
		_, err := s.MessagesBefore(chID, 0, 30)
		assert.Equal(t, ErrMessageNotFound, err)
	})

	t.Run("unknown cursor", func(t *testing.T) {
		_, err := s.MessagesBefore(chID, 999, 30)
		assert.Equal(t, ErrMessageNotFound, err)
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, err := s.MessagesBefore(999, 10, 30)
		assert.Equal(t, ErrChannelNotFound, err)
	})
}

func TestChannelSnapshotPageSize(t *testing.T) {
	s := newTestStore(t, "alice")
	snap, err := s.CreateChannel("busy", []string{"alice"})
	require.NoError(t, err)

	for i := 0; i < RecentPageSize+10; i++ {
		_, err := s.AppendMessage(snap.ID, "alice", fmt.Sprintf("msg %d", i), time.Now())
		require.NoError(t, err)
	}

	ch, err := s.GetChannel(snap.ID)
	require.NoError(t, err)
	assert.Len(t, ch.Messages, RecentPageSize)
	// Counter reflects the whole history, not the page
	assert.Equal(t, uint64(RecentPageSize+10), ch.TotalMessages)
	assert.Equal(t, uint64(RecentPageSize+9), ch.Messages[0].ID)
}

func TestConcurrentAppendsAssignUniqueIDs(t *testing.T) {
	s := newTestStore(t, "alice")
	snap, err := s.CreateChannel("busy", []string{"alice"})
	require.NoError(t, err)

	const writers = 10
	const perWriter = 50

	var wg sync.WaitGroup
	ids := make(chan uint64, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				m, err := s.AppendMessage(snap.ID, "alice", "spam", time.Now())
				if err != nil {
					t.Error(err)
					return
				}
				ids <- m.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate message id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, writers*perWriter)

	ch, err := s.GetChannel(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(writers*perWriter), ch.TotalMessages)
}

func TestSeed(t *testing.T) {
	s := New()
	s.SeedUser(&User{Username: "alice", PasswordHash: []byte("h")})
	s.SeedChannel(&Channel{ID: 7, Name: "old", Members: []string{"alice"}, TotalMessages: 3})

	u, err := s.GetUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	// Id allocator resumes past seeded channels
	snap, err := s.CreateChannel("new", []string{"alice"})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), snap.ID)
}
