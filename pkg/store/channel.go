package store

import (
	"time"
)

// RecentPageSize is how many messages a channel snapshot carries.
const RecentPageSize = 30

// CreateChannel creates a channel whose first member is the creator, who is
// also its first admin. Members must already be deduplicated and resolved to
// existing usernames by the caller.
func (s *Store) CreateChannel(name string, members []string) (ChannelSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range members {
		if _, ok := s.users[m]; !ok {
			return ChannelSnapshot{}, ErrUserNotFound
		}
	}

	c := &Channel{
		ID:      s.nextChannelID,
		Name:    name,
		Members: append([]string(nil), members...),
		Admins:  make(map[string]bool),
	}
	if len(members) > 0 {
		c.Admins[members[0]] = true
	}
	s.nextChannelID++
	s.channels[c.ID] = c

	for _, m := range members {
		u := s.users[m]
		u.mu.Lock()
		u.Channels[c.ID] = true
		u.mu.Unlock()
	}

	return c.snapshotLocked(RecentPageSize), nil
}

// GetChannel returns a point-in-time copy with the most recent message page.
func (s *Store) GetChannel(id uint64) (ChannelSnapshot, error) {
	c, err := s.lookupChannel(id)
	if err != nil {
		return ChannelSnapshot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(RecentPageSize), nil
}

// IsMember reports whether the user belongs to the channel.
func (s *Store) IsMember(channelID uint64, username string) bool {
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memberIndexLocked(username) >= 0
}

// IsAdmin reports whether the user is an admin of the channel.
func (s *Store) IsAdmin(channelID uint64, username string) bool {
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Admins[username]
}

func (c *Channel) memberIndexLocked(username string) int {
	for i, m := range c.Members {
		if m == username {
			return i
		}
	}
	return -1
}

// DeleteChannel removes the channel and detaches it from every member.
// Returns the final member list so callers can compute the broadcast set.
func (s *Store) DeleteChannel(id uint64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	delete(s.channels, id)

	c.mu.Lock()
	members := append([]string(nil), c.Members...)
	c.mu.Unlock()

	for _, m := range members {
		if u, ok := s.users[m]; ok {
			u.mu.Lock()
			delete(u.Channels, id)
			u.mu.Unlock()
		}
	}
	return members, nil
}

// AddMember appends the user to the channel member list.
func (s *Store) AddMember(channelID uint64, username string) (ChannelSnapshot, error) {
	u, err := s.lookupUser(username)
	if err != nil {
		return ChannelSnapshot{}, err
	}
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return ChannelSnapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memberIndexLocked(username) >= 0 {
		return ChannelSnapshot{}, ErrAlreadyMember
	}
	c.Members = append(c.Members, username)

	u.mu.Lock()
	u.Channels[channelID] = true
	u.mu.Unlock()

	return c.snapshotLocked(RecentPageSize), nil
}

// RemoveMember drops the user from the channel. The admin flag is stripped
// in the same critical section so the admin set never outlives membership.
// Server-side history is untouched.
func (s *Store) RemoveMember(channelID uint64, username string) ([]string, error) {
	u, err := s.lookupUser(username)
	if err != nil {
		return nil, err
	}
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.memberIndexLocked(username)
	if idx < 0 {
		return nil, ErrNotMember
	}
	c.Members = append(c.Members[:idx], c.Members[idx+1:]...)
	delete(c.Admins, username)

	u.mu.Lock()
	delete(u.Channels, channelID)
	u.mu.Unlock()

	return append([]string(nil), c.Members...), nil
}

// SetAdmin toggles the admin flag. Only membership changes the member list;
// promote and demote touch the admin set alone.
func (s *Store) SetAdmin(channelID uint64, username string, admin bool) error {
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memberIndexLocked(username) < 0 {
		return ErrNotMember
	}
	if admin {
		c.Admins[username] = true
	} else {
		delete(c.Admins, username)
	}
	return nil
}

// FindDM locates an existing channel whose members are exactly the given
// pair, in either order.
func (s *Store) FindDM(a, b string) (ChannelSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findDMLocked(a, b)
}

func (s *Store) findDMLocked(a, b string) (ChannelSnapshot, bool) {
	for _, c := range s.channels {
		c.mu.Lock()
		match := len(c.Members) == 2 &&
			((c.Members[0] == a && c.Members[1] == b) ||
				(c.Members[0] == b && c.Members[1] == a))
		var snap ChannelSnapshot
		if match {
			snap = c.snapshotLocked(RecentPageSize)
		}
		c.mu.Unlock()
		if match {
			return snap, true
		}
	}
	return ChannelSnapshot{}, false
}

// CreateDM returns the two-person channel for the pair, creating it when
// none exists yet. Lookup and creation happen under one lock so concurrent
// calls for the same pair cannot mint duplicates. The second return value
// reports whether the channel was created by this call.
func (s *Store) CreateDM(name, creator, other string) (ChannelSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.findDMLocked(creator, other); ok {
		return existing, false, nil
	}

	members := []string{creator, other}
	for _, m := range members {
		if _, ok := s.users[m]; !ok {
			return ChannelSnapshot{}, false, ErrUserNotFound
		}
	}

	c := &Channel{
		ID:      s.nextChannelID,
		Name:    name,
		Members: members,
		Admins:  map[string]bool{creator: true},
	}
	s.nextChannelID++
	s.channels[c.ID] = c

	for _, m := range members {
		u := s.users[m]
		u.mu.Lock()
		u.Channels[c.ID] = true
		u.mu.Unlock()
	}

	return c.snapshotLocked(RecentPageSize), true, nil
}

// AppendMessage stores a new message at the head of the channel history.
// The id is the current counter value; the counter then advances, so ids
// stay unique even after deletions.
func (s *Store) AppendMessage(channelID uint64, sender, body string, now time.Time) (Message, error) {
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return Message{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg := Message{
		ChannelID: channelID,
		ID:        c.TotalMessages,
		Sender:    sender,
		Body:      body,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	c.TotalMessages++
	c.Messages = append([]Message{msg}, c.Messages...)
	return msg, nil
}

// GetMessage returns a copy of a single message from the channel history.
func (s *Store) GetMessage(channelID, messageID uint64) (Message, error) {
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return Message{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return c.Messages[i], nil
		}
	}
	return Message{}, ErrMessageNotFound
}

// EditMessage replaces a message body. Id and timestamp are unchanged.
func (s *Store) EditMessage(channelID, messageID uint64, body string) (Message, error) {
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return Message{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages[i].Body = body
			return c.Messages[i], nil
		}
	}
	return Message{}, ErrMessageNotFound
}

// DeleteMessage removes a message from the channel history. The message
// counter does not rewind.
func (s *Store) DeleteMessage(channelID, messageID uint64) error {
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			return nil
		}
	}
	return ErrMessageNotFound
}

// MessagesBefore returns up to limit messages older than lastSeenID, newest
// first. The cursor must name a message still in the history, and at least
// one older message must exist; otherwise ErrMessageNotFound is returned,
// never an empty page.
func (s *Store) MessagesBefore(channelID, lastSeenID uint64, limit int) ([]Message, error) {
	c, err := s.lookupChannel(channelID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Messages are newest first, so the page starts just past the cursor
	cursor := -1
	for i := range c.Messages {
		if c.Messages[i].ID == lastSeenID {
			cursor = i
			break
		}
	}
	if cursor < 0 {
		return nil, ErrMessageNotFound
	}

	older := c.Messages[cursor+1:]
	if len(older) == 0 {
		return nil, ErrMessageNotFound
	}
	if len(older) > limit {
		older = older[:limit]
	}
	return append([]Message(nil), older...), nil
}
