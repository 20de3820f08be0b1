package client

import (
	"fmt"
	"sort"
	"sync"

	"github.com/parley-chat/parley/pkg/protocol"
)

// Notifier receives a callback after every applied event so a UI can
// redraw. RefreshFor narrows the redraw to one channel where possible.
type Notifier interface {
	Refresh()
	RefreshFor(channelID uint64)
}

// Replica mirrors the slice of server state visible to one account: own
// profile, joined channels with their recent messages, and the friend list.
// It is rebuilt wholesale from the LOGIN snapshot and patched in place by
// every subsequent event, so its contents always reflect what the server
// has already accepted.
type Replica struct {
	mu sync.RWMutex

	username string
	user     protocol.User
	channels map[uint64]*protocol.Channel
	friends  map[string]protocol.User

	current uint64 // channel the UI is focused on
	lastErr *ServerError

	notifier Notifier
}

// ServerError is a rejection the server sent for one of our requests.
type ServerError struct {
	FailedType uint8
	Code       uint16
	Reason     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s rejected (%d): %s", protocol.EventName(e.FailedType), e.Code, e.Reason)
}

// NewReplica returns an empty replica. It holds nothing useful until a
// LOGIN_SUCCEEDED snapshot arrives.
func NewReplica() *Replica {
	return &Replica{
		channels: make(map[uint64]*protocol.Channel),
		friends:  make(map[string]protocol.User),
	}
}

// SetNotifier registers the redraw callback.
func (r *Replica) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// Username returns the logged-in account name, empty before login.
func (r *Replica) Username() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.username
}

// Self returns a copy of the own-user record.
func (r *Replica) Self() protocol.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.user
}

// Channel returns a copy of one channel, with its messages.
func (r *Replica) Channel(id uint64) (protocol.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	if !ok {
		return protocol.Channel{}, false
	}
	return copyChannel(ch), true
}

// Channels returns copies of all channels, ordered by id.
func (r *Replica) Channels() []protocol.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, copyChannel(ch))
	}
	sortChannels(out)
	return out
}

// Friends returns copies of all friend records, ordered by username.
func (r *Replica) Friends() []protocol.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.User, 0, len(r.friends))
	for _, f := range r.friends {
		out = append(out, f)
	}
	sortUsers(out)
	return out
}

// CurrentChannel returns the channel the UI is focused on (0 = none).
func (r *Replica) CurrentChannel() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SetCurrentChannel moves the UI focus.
func (r *Replica) SetCurrentChannel(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
}

// TakeError returns and clears the most recent server rejection, nil when
// everything we asked for went through.
func (r *Replica) TakeError() *ServerError {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.lastErr
	r.lastErr = nil
	return e
}

// Apply patches the replica with one server event. Unknown event types are
// an error; stale references (a message for a channel we no longer hold)
// are ignored, since the server may have fanned out before processing our
// own removal.
func (r *Replica) Apply(frame *protocol.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var touched uint64
	full := false

	switch frame.Type {
	case protocol.TypeLoginSucceeded:
		var evt protocol.LoginSucceededEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		r.username = evt.User.Username
		r.user = evt.User
		r.channels = make(map[uint64]*protocol.Channel, len(evt.Channels))
		for i := range evt.Channels {
			ch := evt.Channels[i]
			r.channels[ch.ID] = &ch
		}
		r.friends = make(map[string]protocol.User, len(evt.Friends))
		for _, f := range evt.Friends {
			r.friends[f.Username] = f
		}
		full = true

	case protocol.TypeLoginFailed:
		var evt protocol.LoginFailedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		r.lastErr = &ServerError{FailedType: protocol.TypeLogin, Code: evt.Code, Reason: evt.Reason}
		full = true

	case protocol.TypeRequestFailed:
		var evt protocol.RequestFailedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		r.lastErr = &ServerError{FailedType: evt.FailedType, Code: evt.Code, Reason: evt.Reason}
		full = true

	case protocol.TypeStatusUpdated:
		var evt protocol.StatusUpdatedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		if evt.Source == r.username {
			r.user.Status = evt.Status
		}
		if f, ok := r.friends[evt.Source]; ok {
			f.Status = evt.Status
			r.friends[evt.Source] = f
		}
		full = true

	case protocol.TypePasswordUpdated:
		// Nothing held locally changes

	case protocol.TypeAvatarUpdated:
		var evt protocol.AvatarUpdatedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		if evt.Source == r.username {
			r.user.AvatarRef = evt.AvatarRef
			r.user.AvatarFormat = evt.AvatarFormat
		}
		if f, ok := r.friends[evt.Source]; ok {
			f.AvatarRef = evt.AvatarRef
			f.AvatarFormat = evt.AvatarFormat
			r.friends[evt.Source] = f
		}
		full = true

	case protocol.TypeHistoryResponse:
		var evt protocol.HistoryResponseEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		if ch, ok := r.channels[evt.ChannelID]; ok {
			// Pages arrive older than anything held; messages stay
			// newest first
			ch.Messages = append(ch.Messages, evt.Messages...)
			touched = evt.ChannelID
		}

	case protocol.TypeChannelCreated:
		var evt protocol.ChannelCreatedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		// DM dedup can answer with a channel we already hold
		if _, ok := r.channels[evt.Channel.ID]; !ok {
			ch := evt.Channel
			r.channels[ch.ID] = &ch
			r.user.Channels = append(r.user.Channels, ch.ID)
		}
		touched = evt.Channel.ID
		full = true

	case protocol.TypeChannelDeleted:
		var evt protocol.ChannelDeletedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		r.dropChannel(evt.ChannelID)
		full = true

	case protocol.TypeMemberAdded:
		var evt protocol.MemberAddedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		// The event carries the channel as the server now sees it; for a
		// fresh member that is the initial snapshot, for everyone else a
		// roster refresh. The snapshot only holds the recent page, so
		// older pages already fetched locally are stitched back on.
		ch := evt.Channel
		if held, ok := r.channels[ch.ID]; ok {
			ch.Messages = mergeHistory(ch.Messages, held.Messages)
		}
		r.channels[ch.ID] = &ch
		if !containsID(r.user.Channels, ch.ID) {
			r.user.Channels = append(r.user.Channels, ch.ID)
		}
		touched = ch.ID
		full = true

	case protocol.TypeMemberRemoved:
		var evt protocol.MemberRemovedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		if evt.Username == r.username {
			r.dropChannel(evt.ChannelID)
			full = true
			break
		}
		if ch, ok := r.channels[evt.ChannelID]; ok {
			ch.Members = removeString(ch.Members, evt.Username)
			ch.Admins = removeString(ch.Admins, evt.Username)
			// Former members leave no trace on this side
			kept := ch.Messages[:0]
			for _, m := range ch.Messages {
				if m.Sender != evt.Username {
					kept = append(kept, m)
				}
			}
			ch.Messages = kept
			touched = evt.ChannelID
		}

	case protocol.TypeHierarchyChanged:
		var evt protocol.HierarchyChangedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		if ch, ok := r.channels[evt.ChannelID]; ok {
			ch.Admins = removeString(ch.Admins, evt.Username)
			if evt.Promote {
				ch.Admins = append(ch.Admins, evt.Username)
			}
			touched = evt.ChannelID
		}

	case protocol.TypeMessagePosted:
		var evt protocol.MessagePostedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		if ch, ok := r.channels[evt.Message.ChannelID]; ok {
			ch.Messages = append([]protocol.Message{evt.Message}, ch.Messages...)
			if evt.Message.ID >= ch.TotalMessages {
				ch.TotalMessages = evt.Message.ID + 1
			}
			touched = evt.Message.ChannelID
		}

	case protocol.TypeMessageEdited:
		var evt protocol.MessageEditedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		if ch, ok := r.channels[evt.Message.ChannelID]; ok {
			for i := range ch.Messages {
				if ch.Messages[i].ID == evt.Message.ID {
					ch.Messages[i].Body = evt.Message.Body
					break
				}
			}
			touched = evt.Message.ChannelID
		}

	case protocol.TypeMessageDeleted:
		var evt protocol.MessageDeletedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		if ch, ok := r.channels[evt.ChannelID]; ok {
			for i := range ch.Messages {
				if ch.Messages[i].ID == evt.MessageID {
					ch.Messages = append(ch.Messages[:i], ch.Messages[i+1:]...)
					break
				}
			}
			touched = evt.ChannelID
		}

	case protocol.TypeFriendAdded:
		var evt protocol.FriendAddedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		r.friends[evt.Friend.Username] = evt.Friend
		if !containsString(r.user.Friends, evt.Friend.Username) {
			r.user.Friends = append(r.user.Friends, evt.Friend.Username)
		}
		full = true

	case protocol.TypeFriendRemoved:
		var evt protocol.FriendRemovedEvent
		if err := evt.Decode(frame.Payload); err != nil {
			return err
		}
		// Both parties get the same event; drop whichever name isn't ours
		other := evt.Username
		if other == r.username {
			other = evt.Source
		}
		delete(r.friends, other)
		r.user.Friends = removeString(r.user.Friends, other)
		full = true

	default:
		return fmt.Errorf("unexpected event type 0x%02X", frame.Type)
	}

	if r.notifier != nil {
		if touched != 0 && !full {
			r.notifier.RefreshFor(touched)
		} else {
			r.notifier.Refresh()
		}
	}
	return nil
}

func (r *Replica) dropChannel(id uint64) {
	delete(r.channels, id)
	if id == r.current {
		r.current = 0
	}
	kept := r.user.Channels[:0]
	for _, chID := range r.user.Channels {
		if chID != id {
			kept = append(kept, chID)
		}
	}
	r.user.Channels = kept
}

// mergeHistory re-attaches locally paginated history to a fresh snapshot.
// Both lists are newest first; local messages strictly older than the
// snapshot's tail survive, everything the snapshot covers is taken from it.
func mergeHistory(snapshot, local []protocol.Message) []protocol.Message {
	if len(snapshot) == 0 {
		return local
	}
	oldest := snapshot[len(snapshot)-1].ID
	merged := append([]protocol.Message(nil), snapshot...)
	for _, m := range local {
		if m.ID < oldest {
			merged = append(merged, m)
		}
	}
	return merged
}

func copyChannel(ch *protocol.Channel) protocol.Channel {
	out := *ch
	out.Members = append([]string(nil), ch.Members...)
	out.Admins = append([]string(nil), ch.Admins...)
	out.Messages = append([]protocol.Message(nil), ch.Messages...)
	return out
}

func removeString(list []string, s string) []string {
	kept := list[:0]
	for _, v := range list {
		if v != s {
			kept = append(kept, v)
		}
	}
	return kept
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsID(list []uint64, id uint64) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func sortChannels(chs []protocol.Channel) {
	sort.Slice(chs, func(i, j int) bool { return chs[i].ID < chs[j].ID })
}

func sortUsers(users []protocol.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
}
