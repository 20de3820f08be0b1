package store

import (
	"sort"
	"sync"
)

// User is an account plus its relationship state. The embedded mutex guards
// every mutable field; Store methods take it for the duration of a mutation
// so concurrent handlers never interleave partial updates.
type User struct {
	mu sync.Mutex

	Username     string
	PasswordHash []byte
	Status       uint8
	AvatarRef    string
	AvatarFormat string
	Channels     map[uint64]bool
	Friends      map[string]bool
}

// Channel holds membership and history. Members preserve insertion order.
// The admin set is always a subset of Members; RemoveMember strips the flag
// in the same critical section that drops membership.
type Channel struct {
	mu sync.Mutex

	ID      uint64
	Name    string
	Members []string
	Admins  map[string]bool

	// Messages are kept newest first. TotalMessages only ever grows and
	// doubles as the next message id, so ids stay unique across deletions.
	Messages      []Message
	TotalMessages uint64
}

// Message is an immutable record except for Body, which MESSAGE_EDIT replaces.
type Message struct {
	ChannelID uint64
	ID        uint64
	Sender    string
	Body      string
	Timestamp string
}

// UserSnapshot is a point-in-time copy of a user, safe to read without locks.
type UserSnapshot struct {
	Username     string
	Status       uint8
	AvatarRef    string
	AvatarFormat string
	Channels     []uint64
	Friends      []string
}

// ChannelSnapshot is a point-in-time copy of a channel. Messages hold the
// most recent page, newest first.
type ChannelSnapshot struct {
	ID            uint64
	Name          string
	Members       []string
	Admins        []string
	TotalMessages uint64
	Messages      []Message
}

// snapshotLocked copies the user. Caller holds u.mu.
func (u *User) snapshotLocked() UserSnapshot {
	s := UserSnapshot{
		Username:     u.Username,
		Status:       u.Status,
		AvatarRef:    u.AvatarRef,
		AvatarFormat: u.AvatarFormat,
		Channels:     make([]uint64, 0, len(u.Channels)),
		Friends:      make([]string, 0, len(u.Friends)),
	}
	for id := range u.Channels {
		s.Channels = append(s.Channels, id)
	}
	for name := range u.Friends {
		s.Friends = append(s.Friends, name)
	}
	sort.Slice(s.Channels, func(i, j int) bool { return s.Channels[i] < s.Channels[j] })
	sort.Strings(s.Friends)
	return s
}

// snapshotLocked copies the channel with at most pageSize recent messages.
// pageSize < 0 copies the full history. Caller holds c.mu.
func (c *Channel) snapshotLocked(pageSize int) ChannelSnapshot {
	s := ChannelSnapshot{
		ID:            c.ID,
		Name:          c.Name,
		Members:       append([]string(nil), c.Members...),
		Admins:        make([]string, 0, len(c.Admins)),
		TotalMessages: c.TotalMessages,
	}
	// Admins listed in member order so snapshots are deterministic
	for _, m := range c.Members {
		if c.Admins[m] {
			s.Admins = append(s.Admins, m)
		}
	}
	n := len(c.Messages)
	if pageSize >= 0 && n > pageSize {
		n = pageSize
	}
	s.Messages = append([]Message(nil), c.Messages[:n]...)
	return s
}
