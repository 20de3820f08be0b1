package server

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parley-chat/parley/pkg/protocol"
	"github.com/parley-chat/parley/pkg/store"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// shorthandExpansions is applied word by word to message bodies before
// storage, so every replica sees the expanded text.
var shorthandExpansions = map[string]string{
	"afk":  "away from keyboard",
	"brb":  "be right back",
	"btw":  "by the way",
	"idk":  "I don't know",
	"imo":  "in my opinion",
	"lol":  "laughing out loud",
	"omw":  "on my way",
	"thx":  "thanks",
	"ttyl": "talk to you later",
}

// expandShorthand replaces known shorthand tokens. Matching is
// case-insensitive but only on whole space-separated words, so "lol!" and
// "brbish" pass through untouched.
func expandShorthand(body string) string {
	words := strings.Split(body, " ")
	changed := false
	for i, w := range words {
		if expanded, ok := shorthandExpansions[strings.ToLower(w)]; ok {
			words[i] = expanded
			changed = true
		}
	}
	if !changed {
		return body
	}
	return strings.Join(words, " ")
}

func (s *Server) validUsername(name string) bool {
	if name == "" || len(name) > s.config.MaxUsernameLength {
		return false
	}
	return usernamePattern.MatchString(name)
}

func toWireUser(u store.UserSnapshot) protocol.User {
	return protocol.User{
		Username:     u.Username,
		Status:       u.Status,
		AvatarRef:    u.AvatarRef,
		AvatarFormat: u.AvatarFormat,
		Channels:     u.Channels,
		Friends:      u.Friends,
	}
}

func toWireMessage(m store.Message) protocol.Message {
	return protocol.Message{
		ChannelID: m.ChannelID,
		ID:        m.ID,
		Sender:    m.Sender,
		Body:      m.Body,
		Timestamp: m.Timestamp,
	}
}

func toWireChannel(c store.ChannelSnapshot) protocol.Channel {
	msgs := make([]protocol.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		msgs = append(msgs, toWireMessage(m))
	}
	return protocol.Channel{
		ID:            c.ID,
		Name:          c.Name,
		Members:       c.Members,
		Admins:        c.Admins,
		TotalMessages: c.TotalMessages,
		Messages:      msgs,
	}
}

func (s *Server) sendLoginFailed(sess *Session, code uint16, reason string) error {
	if s.metrics != nil {
		s.metrics.RecordLoginFailure()
	}
	return s.sendEvent(sess, protocol.TypeLoginFailed, &protocol.LoginFailedEvent{
		Code:   code,
		Reason: reason,
	})
}

// handleLogin authenticates or registers, binds the session to the account,
// marks the user Online and returns the full state snapshot.
func (s *Server) handleLogin(sess *Session, frame *protocol.Frame) error {
	var req protocol.LoginEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendLoginFailed(sess, protocol.ErrCodeInvalidFormat, "Malformed LOGIN payload")
	}

	username := strings.TrimSpace(req.Username)
	if !s.validUsername(username) {
		return s.sendLoginFailed(sess, protocol.ErrCodeInvalidInput,
			fmt.Sprintf("Username must be 1-%d characters (letters, digits, - and _)", s.config.MaxUsernameLength))
	}

	if req.Register {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		snap, err := s.store.CreateUser(username, hash)
		if err != nil {
			if errors.Is(err, store.ErrUserExists) {
				return s.sendLoginFailed(sess, protocol.ErrCodeDuplicateUsername, "Username is already taken")
			}
			return err
		}
		s.writer.SaveUser(snap, hash)
		log.Printf("Registered new user %q (session %d)", username, sess.ID)
	} else {
		hash, err := s.store.PasswordHash(username)
		if err != nil {
			// Same reply for unknown user and wrong password
			return s.sendLoginFailed(sess, protocol.ErrCodeBadCredentials, "Invalid username or password")
		}
		if bcrypt.CompareHashAndPassword(hash, []byte(req.Password)) != nil {
			return s.sendLoginFailed(sess, protocol.ErrCodeBadCredentials, "Invalid username or password")
		}
	}

	// A second LOGIN on an already-bound session switches accounts: the
	// old binding is dropped and, if this was its last session, the old
	// account signs off like any other disconnect.
	previous := sess.Username()
	s.sessions.BindUser(sess, username)
	if previous != "" && previous != username && len(s.sessions.SessionsFor(previous)) == 0 {
		if prevSnap, err := s.store.SetStatus(previous, protocol.StatusOffline); err == nil {
			s.writer.PatchUserStatus(previous, protocol.StatusOffline)
			s.broadcastStatusUpdated(previous, prevSnap)
		}
	}

	snap, err := s.store.SetStatus(username, protocol.StatusOnline)
	if err != nil {
		return err
	}
	s.writer.PatchUserStatus(username, protocol.StatusOnline)

	channels := make([]protocol.Channel, 0, len(snap.Channels))
	for _, chID := range snap.Channels {
		if ch, err := s.store.GetChannel(chID); err == nil {
			channels = append(channels, toWireChannel(ch))
		}
	}
	friends := make([]protocol.User, 0, len(snap.Friends))
	for _, f := range snap.Friends {
		if u, err := s.store.GetUser(f); err == nil {
			friends = append(friends, toWireUser(u))
		}
	}

	if err := s.sendEvent(sess, protocol.TypeLoginSucceeded, &protocol.LoginSucceededEvent{
		User:     toWireUser(snap),
		Channels: channels,
		Friends:  friends,
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordOnlineUsers(s.sessions.CountOnlineUsers())
	}
	s.broadcastStatusUpdated(username, snap)
	return nil
}

func (s *Server) handleStatusUpdate(sess *Session, frame *protocol.Frame) error {
	var req protocol.StatusUpdateEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed STATUS_UPDATE payload")
	}

	username := sess.Username()
	snap, err := s.store.SetStatus(username, req.Status)
	if err != nil {
		return err
	}
	s.writer.PatchUserStatus(username, req.Status)

	evt := &protocol.StatusUpdatedEvent{Source: username, Status: req.Status}
	if err := s.sendEvent(sess, protocol.TypeStatusUpdated, evt); err != nil {
		return err
	}
	s.broadcastStatusUpdated(username, snap)

	// Going Offline is an explicit sign-off: the connection closes after
	// the change is persisted and announced
	if req.Status == protocol.StatusOffline {
		return ErrClientDisconnecting
	}
	return nil
}

func (s *Server) handlePasswordUpdate(sess *Session, frame *protocol.Frame) error {
	var req protocol.PasswordUpdateEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed PASSWORD_UPDATE payload")
	}

	username := sess.Username()
	current, err := s.store.PasswordHash(username)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword(current, []byte(req.OldPassword)) != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeBadCredentials, "Current password is incorrect")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.store.SetPasswordHash(username, newHash); err != nil {
		return err
	}
	s.writer.PatchUserPassword(username, newHash)

	// Credentials are private; only the origin hears about the change
	return s.sendEvent(sess, protocol.TypePasswordUpdated, &protocol.PasswordUpdatedEvent{Source: username})
}

func (s *Server) handleAvatarUpdate(sess *Session, frame *protocol.Frame) error {
	var req protocol.AvatarUpdateEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed AVATAR_UPDATE payload")
	}

	username := sess.Username()
	snap, err := s.store.SetAvatar(username, req.AvatarRef, req.AvatarFormat)
	if err != nil {
		return err
	}
	s.writer.PatchUserAvatar(username, req.AvatarRef, req.AvatarFormat)

	evt := &protocol.AvatarUpdatedEvent{
		Source:       username,
		AvatarRef:    req.AvatarRef,
		AvatarFormat: req.AvatarFormat,
	}
	if err := s.sendEvent(sess, protocol.TypeAvatarUpdated, evt); err != nil {
		return err
	}
	s.broadcastToUsers(s.contactsOf(snap), protocol.TypeAvatarUpdated, evt)
	return nil
}

func (s *Server) handleChannelCreate(sess *Session, frame *protocol.Frame) error {
	var req protocol.ChannelCreateEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed CHANNEL_CREATE payload")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Channel name cannot be empty")
	}

	creator := sess.Username()

	// Creator first, then invitees in request order. Unresolvable invitees
	// are dropped silently rather than failing the whole request.
	members := []string{creator}
	seen := map[string]bool{creator: true}
	for _, invitee := range req.Invitees {
		if seen[invitee] || !s.store.UserExists(invitee) {
			continue
		}
		seen[invitee] = true
		members = append(members, invitee)
	}

	// A two-person channel is a DM; creation is idempotent per pair. The
	// store resolves find-or-create atomically so two racing requests for
	// the same pair share one channel.
	var snap store.ChannelSnapshot
	if len(members) == 2 {
		existing, created, err := s.store.CreateDM(name, members[0], members[1])
		if err != nil {
			return err
		}
		if !created {
			return s.sendEvent(sess, protocol.TypeChannelCreated, &protocol.ChannelCreatedEvent{
				Source:  creator,
				Channel: toWireChannel(existing),
			})
		}
		snap = existing
	} else {
		created, err := s.store.CreateChannel(name, members)
		if err != nil {
			return err
		}
		snap = created
	}
	s.writer.SaveChannel(snap)

	s.broadcastToUsers(snap.Members, protocol.TypeChannelCreated, &protocol.ChannelCreatedEvent{
		Source:  creator,
		Channel: toWireChannel(snap),
	})
	return nil
}

func (s *Server) handleChannelDelete(sess *Session, frame *protocol.Frame) error {
	var req protocol.ChannelDeleteEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed CHANNEL_DELETE payload")
	}

	username := sess.Username()
	if !s.store.IsMember(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
	}
	if !s.store.IsAdmin(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Only channel admins can delete a channel")
	}

	members, err := s.store.DeleteChannel(req.ChannelID)
	if err != nil {
		if errors.Is(err, store.ErrChannelNotFound) {
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
		}
		return err
	}
	s.writer.DeleteChannel(req.ChannelID)

	s.broadcastToUsers(members, protocol.TypeChannelDeleted, &protocol.ChannelDeletedEvent{
		Source:    username,
		ChannelID: req.ChannelID,
	})
	return nil
}

func (s *Server) handleMemberAdd(sess *Session, frame *protocol.Frame) error {
	var req protocol.MemberAddEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed MEMBER_ADD payload")
	}

	username := sess.Username()
	if !s.store.IsMember(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
	}

	snap, err := s.store.AddMember(req.ChannelID, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeUserNotFound, "No such user")
		case errors.Is(err, store.ErrAlreadyMember):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "User is already a member")
		case errors.Is(err, store.ErrChannelNotFound):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
		}
		return err
	}
	s.writer.PatchChannelRoster(snap.ID, snap.Members, snap.Admins)

	s.broadcastToUsers(snap.Members, protocol.TypeMemberAdded, &protocol.MemberAddedEvent{
		Source:   username,
		Channel:  toWireChannel(snap),
		Username: req.Username,
	})
	return nil
}

func (s *Server) handleMemberRemove(sess *Session, frame *protocol.Frame) error {
	var req protocol.MemberRemoveEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed MEMBER_REMOVE payload")
	}

	username := sess.Username()
	if !s.store.IsMember(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
	}
	// Leaving is always allowed; removing someone else takes admin rights
	if req.Username != username && !s.store.IsAdmin(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Only channel admins can remove other members")
	}

	remaining, err := s.store.RemoveMember(req.ChannelID, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound), errors.Is(err, store.ErrNotMember):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeUserNotFound, "User is not a member")
		case errors.Is(err, store.ErrChannelNotFound):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
		}
		return err
	}
	if snap, err := s.store.GetChannel(req.ChannelID); err == nil {
		s.writer.PatchChannelRoster(snap.ID, snap.Members, snap.Admins)
	}

	// The removed user is told as well so their replica drops the channel.
	// Server-side history stays; replicas purge the member's messages.
	recipients := append(remaining, req.Username)
	s.broadcastToUsers(recipients, protocol.TypeMemberRemoved, &protocol.MemberRemovedEvent{
		Source:    username,
		ChannelID: req.ChannelID,
		Username:  req.Username,
	})
	return nil
}

func (s *Server) handleHierarchyChange(sess *Session, frame *protocol.Frame) error {
	var req protocol.HierarchyChangeEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed HIERARCHY_CHANGE payload")
	}

	username := sess.Username()
	if !s.store.IsMember(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
	}
	if !s.store.IsAdmin(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Only channel admins can change hierarchy")
	}

	if err := s.store.SetAdmin(req.ChannelID, req.Username, req.Promote); err != nil {
		switch {
		case errors.Is(err, store.ErrNotMember):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeUserNotFound, "User is not a member")
		case errors.Is(err, store.ErrChannelNotFound):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
		}
		return err
	}
	snap, err := s.store.GetChannel(req.ChannelID)
	if err != nil {
		return err
	}
	s.writer.PatchChannelRoster(snap.ID, snap.Members, snap.Admins)

	s.broadcastToUsers(snap.Members, protocol.TypeHierarchyChanged, &protocol.HierarchyChangedEvent{
		Source:    username,
		ChannelID: req.ChannelID,
		Username:  req.Username,
		Promote:   req.Promote,
	})
	return nil
}

func (s *Server) handleMessageSend(sess *Session, frame *protocol.Frame) error {
	var req protocol.MessageSendEvent
	if err := req.Decode(frame.Payload); err != nil {
		if errors.Is(err, protocol.ErrEmptyBody) || errors.Is(err, protocol.ErrBodyTooLong) {
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, err.Error())
		}
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed MESSAGE_SEND payload")
	}

	username := sess.Username()
	if !s.store.IsMember(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
	}

	body := expandShorthand(req.Body)
	if len(body) > s.config.MaxMessageLength {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeBodyTooLong, "Message too long after shorthand expansion")
	}

	msg, err := s.store.AppendMessage(req.ChannelID, username, body, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrChannelNotFound) {
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
		}
		return err
	}
	s.writer.InsertMessage(msg)

	// Sender included: their replica applies the server-serialized view
	s.broadcastToUsers(s.channelMembers(req.ChannelID), protocol.TypeMessagePosted, &protocol.MessagePostedEvent{
		Source:  username,
		Message: toWireMessage(msg),
	})
	return nil
}

func (s *Server) handleMessageEdit(sess *Session, frame *protocol.Frame) error {
	var req protocol.MessageEditEvent
	if err := req.Decode(frame.Payload); err != nil {
		if errors.Is(err, protocol.ErrEmptyBody) || errors.Is(err, protocol.ErrBodyTooLong) {
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, err.Error())
		}
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed MESSAGE_EDIT payload")
	}

	username := sess.Username()
	if !s.store.IsMember(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
	}

	existing, err := s.store.GetMessage(req.ChannelID, req.MessageID)
	if err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeMessageNotFound, "No such message")
	}
	if existing.Sender != username {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Only the sender can edit a message")
	}

	body := expandShorthand(req.Body)
	msg, err := s.store.EditMessage(req.ChannelID, req.MessageID, body)
	if err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeMessageNotFound, "No such message")
	}
	s.writer.PatchMessageBody(req.ChannelID, req.MessageID, body)

	s.broadcastToUsers(s.channelMembers(req.ChannelID), protocol.TypeMessageEdited, &protocol.MessageEditedEvent{
		Source:  username,
		Message: toWireMessage(msg),
	})
	return nil
}

func (s *Server) handleMessageDelete(sess *Session, frame *protocol.Frame) error {
	var req protocol.MessageDeleteEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed MESSAGE_DELETE payload")
	}

	username := sess.Username()
	if !s.store.IsMember(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
	}

	existing, err := s.store.GetMessage(req.ChannelID, req.MessageID)
	if err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeMessageNotFound, "No such message")
	}
	if existing.Sender != username && !s.store.IsAdmin(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Only the sender or an admin can delete a message")
	}

	if err := s.store.DeleteMessage(req.ChannelID, req.MessageID); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeMessageNotFound, "No such message")
	}
	s.writer.DeleteMessage(req.ChannelID, req.MessageID)

	s.broadcastToUsers(s.channelMembers(req.ChannelID), protocol.TypeMessageDeleted, &protocol.MessageDeletedEvent{
		Source:    username,
		ChannelID: req.ChannelID,
		MessageID: req.MessageID,
	})
	return nil
}

func (s *Server) handleHistoryRequest(sess *Session, frame *protocol.Frame) error {
	var req protocol.HistoryRequestEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed HISTORY_REQUEST payload")
	}

	username := sess.Username()
	if !s.store.IsMember(req.ChannelID, username) {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeChannelNotFound, "No such channel")
	}

	page, err := s.store.MessagesBefore(req.ChannelID, req.LastSeenID, s.config.HistoryPageSize)
	if err != nil {
		// Unknown cursor and exhausted history look the same to the
		// client: nothing further to load
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeCursorNotFound, "No messages before that point")
	}

	msgs := make([]protocol.Message, 0, len(page))
	for _, m := range page {
		msgs = append(msgs, toWireMessage(m))
	}
	return s.sendEvent(sess, protocol.TypeHistoryResponse, &protocol.HistoryResponseEvent{
		ChannelID: req.ChannelID,
		Messages:  msgs,
	})
}

func (s *Server) handleFriendAdd(sess *Session, frame *protocol.Frame) error {
	var req protocol.FriendAddEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed FRIEND_ADD payload")
	}

	username := sess.Username()
	actorSnap, targetSnap, err := s.store.Friend(username, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeUserNotFound, "No such user")
		case errors.Is(err, store.ErrAlreadyFriends):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Already friends")
		case errors.Is(err, store.ErrSelfReference):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Cannot friend yourself")
		}
		return err
	}
	s.writer.PatchUserFriends(actorSnap.Username, actorSnap.Friends)
	s.writer.PatchUserFriends(targetSnap.Username, targetSnap.Friends)

	// Each side receives the other's snapshot
	s.broadcastToUsers([]string{username}, protocol.TypeFriendAdded, &protocol.FriendAddedEvent{
		Source: username,
		Friend: toWireUser(targetSnap),
	})
	s.broadcastToUsers([]string{req.Username}, protocol.TypeFriendAdded, &protocol.FriendAddedEvent{
		Source: username,
		Friend: toWireUser(actorSnap),
	})
	return nil
}

func (s *Server) handleFriendRemove(sess *Session, frame *protocol.Frame) error {
	var req protocol.FriendRemoveEvent
	if err := req.Decode(frame.Payload); err != nil {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Malformed FRIEND_REMOVE payload")
	}

	username := sess.Username()
	actorSnap, targetSnap, err := s.store.Unfriend(username, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeUserNotFound, "No such user")
		case errors.Is(err, store.ErrNotFriends):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Not friends")
		case errors.Is(err, store.ErrSelfReference):
			return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidInput, "Cannot unfriend yourself")
		}
		return err
	}
	s.writer.PatchUserFriends(actorSnap.Username, actorSnap.Friends)
	s.writer.PatchUserFriends(targetSnap.Username, targetSnap.Friends)

	// Both parties receive the same event; each drops the counterpart
	s.broadcastToUsers([]string{username, req.Username}, protocol.TypeFriendRemoved, &protocol.FriendRemovedEvent{
		Source:   username,
		Username: req.Username,
	})
	return nil
}
