package server

import (
	"github.com/parley-chat/parley/pkg/protocol"
	"github.com/parley-chat/parley/pkg/store"
)

// broadcastToUsers encodes the frame once and fans it out to every live
// session of the named users. Offline users are skipped; they catch up from
// persisted state at next login. A write error removes the dead session.
func (s *Server) broadcastToUsers(usernames []string, eventType uint8, event protocol.Event) {
	payload, err := event.Encode()
	if err != nil {
		errorLog.Printf("broadcast: failed to encode %s: %v", protocol.EventName(eventType), err)
		return
	}
	data, err := protocol.EncodeEvent(eventType, payload)
	if err != nil {
		errorLog.Printf("broadcast: failed to frame %s: %v", protocol.EventName(eventType), err)
		return
	}

	seen := make(map[string]bool, len(usernames))
	recipients := 0
	for _, name := range usernames {
		if seen[name] {
			continue
		}
		seen[name] = true

		for _, sess := range s.sessions.SessionsFor(name) {
			if err := sess.Conn.WriteRaw(data); err != nil {
				debugLog.Printf("broadcast: dropping session %d (%s): %v", sess.ID, name, err)
				s.sessions.RemoveSession(sess.ID)
				continue
			}
			recipients++
			if s.metrics != nil {
				s.metrics.RecordEventSent(protocol.EventName(eventType))
			}
		}
	}

	if s.metrics != nil {
		s.metrics.RecordBroadcast(recipients)
	}
}

// channelMembers resolves the current member list of a channel.
func (s *Server) channelMembers(channelID uint64) []string {
	snap, err := s.store.GetChannel(channelID)
	if err != nil {
		return nil
	}
	return snap.Members
}

// contactsOf computes the union of members across all the user's channels,
// minus the user. This is the audience for profile and presence changes.
func (s *Server) contactsOf(snap store.UserSnapshot) []string {
	set := make(map[string]bool)
	for _, chID := range snap.Channels {
		for _, m := range s.channelMembers(chID) {
			if m != snap.Username {
				set[m] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// broadcastStatusUpdated tells everyone who shares a channel with the user
// about their new presence.
func (s *Server) broadcastStatusUpdated(username string, snap store.UserSnapshot) {
	s.broadcastToUsers(s.contactsOf(snap), protocol.TypeStatusUpdated, &protocol.StatusUpdatedEvent{
		Source: username,
		Status: snap.Status,
	})
}
