// Package store is the in-memory entity store for users, channels and
// messages. It is the single source of truth at runtime; persistence is
// layered on top by enqueueing writes after mutations commit here.
package store

import (
	"errors"
	"sync"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrUserExists      = errors.New("user already exists")
	ErrNotMember       = errors.New("user is not a channel member")
	ErrAlreadyMember   = errors.New("user is already a channel member")
	ErrAlreadyFriends  = errors.New("users are already friends")
	ErrNotFriends      = errors.New("users are not friends")
	ErrSelfReference   = errors.New("operation cannot target yourself")
)

// Store holds all entities behind a single map lock plus per-entity locks.
// Map lookups take s.mu briefly; mutations then lock only the entities they
// touch, so unrelated channels and users never contend.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*User
	channels      map[uint64]*Channel
	nextChannelID uint64
}

// New creates an empty store. Channel ids start at 1 so the zero value
// never refers to a real channel.
func New() *Store {
	return &Store{
		users:         make(map[string]*User),
		channels:      make(map[uint64]*Channel),
		nextChannelID: 1,
	}
}

// Seed installs an entity loaded from persistence. Only valid before the
// store is shared across goroutines.
func (s *Store) SeedUser(u *User) {
	if u.Channels == nil {
		u.Channels = make(map[uint64]bool)
	}
	if u.Friends == nil {
		u.Friends = make(map[string]bool)
	}
	s.users[u.Username] = u
}

// SeedChannel installs a channel loaded from persistence and advances the
// id allocator past it.
func (s *Store) SeedChannel(c *Channel) {
	if c.Admins == nil {
		c.Admins = make(map[string]bool)
	}
	s.channels[c.ID] = c
	if c.ID >= s.nextChannelID {
		s.nextChannelID = c.ID + 1
	}
}

func (s *Store) lookupUser(username string) (*User, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Store) lookupChannel(id uint64) (*Channel, error) {
	s.mu.RLock()
	c, ok := s.channels[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrChannelNotFound
	}
	return c, nil
}

// UserExists reports whether the username is registered.
func (s *Store) UserExists(username string) bool {
	s.mu.RLock()
	_, ok := s.users[username]
	s.mu.RUnlock()
	return ok
}

// CreateUser registers a new account.
func (s *Store) CreateUser(username string, passwordHash []byte) (UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return UserSnapshot{}, ErrUserExists
	}

	u := &User{
		Username:     username,
		PasswordHash: passwordHash,
		Channels:     make(map[uint64]bool),
		Friends:      make(map[string]bool),
	}
	s.users[username] = u
	return u.snapshotLocked(), nil
}

// GetUser returns a point-in-time copy of the user.
func (s *Store) GetUser(username string) (UserSnapshot, error) {
	u, err := s.lookupUser(username)
	if err != nil {
		return UserSnapshot{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.snapshotLocked(), nil
}

// PasswordHash returns the stored bcrypt hash for credential checks.
func (s *Store) PasswordHash(username string) ([]byte, error) {
	u, err := s.lookupUser(username)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.PasswordHash...), nil
}

// SetPasswordHash replaces the stored credential hash.
func (s *Store) SetPasswordHash(username string, hash []byte) error {
	u, err := s.lookupUser(username)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.PasswordHash = append([]byte(nil), hash...)
	u.mu.Unlock()
	return nil
}

// SetStatus updates presence and returns the post-mutation snapshot.
func (s *Store) SetStatus(username string, status uint8) (UserSnapshot, error) {
	u, err := s.lookupUser(username)
	if err != nil {
		return UserSnapshot{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Status = status
	return u.snapshotLocked(), nil
}

// SetAvatar updates the avatar reference and format together.
func (s *Store) SetAvatar(username, ref, format string) (UserSnapshot, error) {
	u, err := s.lookupUser(username)
	if err != nil {
		return UserSnapshot{}, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.AvatarRef = ref
	u.AvatarFormat = format
	return u.snapshotLocked(), nil
}

// Friend establishes a symmetric friendship. Both users are updated in one
// critical section; locks are taken in username order to avoid deadlock.
func (s *Store) Friend(a, b string) (UserSnapshot, UserSnapshot, error) {
	return s.setFriendship(a, b, true)
}

// Unfriend dissolves a symmetric friendship.
func (s *Store) Unfriend(a, b string) (UserSnapshot, UserSnapshot, error) {
	return s.setFriendship(a, b, false)
}

func (s *Store) setFriendship(a, b string, friends bool) (UserSnapshot, UserSnapshot, error) {
	if a == b {
		return UserSnapshot{}, UserSnapshot{}, ErrSelfReference
	}
	ua, err := s.lookupUser(a)
	if err != nil {
		return UserSnapshot{}, UserSnapshot{}, err
	}
	ub, err := s.lookupUser(b)
	if err != nil {
		return UserSnapshot{}, UserSnapshot{}, err
	}

	first, second := ua, ub
	if b < a {
		first, second = ub, ua
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if friends {
		if ua.Friends[b] {
			return UserSnapshot{}, UserSnapshot{}, ErrAlreadyFriends
		}
		ua.Friends[b] = true
		ub.Friends[a] = true
	} else {
		if !ua.Friends[b] {
			return UserSnapshot{}, UserSnapshot{}, ErrNotFriends
		}
		delete(ua.Friends, b)
		delete(ub.Friends, a)
	}
	return ua.snapshotLocked(), ub.snapshotLocked(), nil
}
