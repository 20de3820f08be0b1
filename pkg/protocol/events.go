package protocol

import (
	"bytes"
	"errors"
	"io"
)

// Event interface - all protocol events must implement this
type Event interface {
	// Encode serializes the event payload to bytes (convenience wrapper)
	Encode() ([]byte, error)
	// EncodeTo serializes the event payload directly to a writer
	EncodeTo(w io.Writer) error
	// Decode deserializes the event payload from bytes
	Decode(payload []byte) error
}

// Event type constants (Client → Server)
const (
	TypeLogin           = 0x01
	TypeStatusUpdate    = 0x02
	TypePasswordUpdate  = 0x03
	TypeAvatarUpdate    = 0x04
	TypeHistoryRequest  = 0x05
	TypeChannelCreate   = 0x06
	TypeChannelDelete   = 0x07
	TypeMemberAdd       = 0x08
	TypeMemberRemove    = 0x09
	TypeHierarchyChange = 0x0A
	TypeMessageSend     = 0x0B
	TypeMessageEdit     = 0x0C
	TypeMessageDelete   = 0x0D
	TypeFriendAdd       = 0x0E
	TypeFriendRemove    = 0x0F
)

// Event type constants (Server → Client)
const (
	TypeLoginSucceeded   = 0x81
	TypeLoginFailed      = 0x82
	TypeRequestFailed    = 0x83
	TypeStatusUpdated    = 0x84
	TypePasswordUpdated  = 0x85
	TypeAvatarUpdated    = 0x86
	TypeHistoryResponse  = 0x87
	TypeChannelCreated   = 0x88
	TypeChannelDeleted   = 0x89
	TypeMemberAdded      = 0x8A
	TypeMemberRemoved    = 0x8B
	TypeHierarchyChanged = 0x8C
	TypeMessagePosted    = 0x8D
	TypeMessageEdited    = 0x8E
	TypeMessageDeleted   = 0x8F
	TypeFriendAdded      = 0x90
	TypeFriendRemoved    = 0x91
)

// Error codes carried by REQUEST_FAILED and LOGIN_FAILED
const (
	// Protocol errors (1xxx)
	ErrCodeInvalidFormat = 1000

	// Authentication errors (2xxx)
	ErrCodeBadCredentials    = 2000
	ErrCodeDuplicateUsername = 2001
	ErrCodeAuthRequired      = 2002

	// Resource errors (4xxx)
	ErrCodeUserNotFound    = 4000
	ErrCodeChannelNotFound = 4001
	ErrCodeMessageNotFound = 4002
	ErrCodeCursorNotFound  = 4003

	// Validation errors (6xxx)
	ErrCodeInvalidInput   = 6000
	ErrCodeBodyTooLong    = 6001
	ErrCodeEmptyBody      = 6002
	ErrCodeInvalidChannel = 6003

	// Server errors (9xxx)
	ErrCodeInternalError    = 9000
	ErrCodePersistenceError = 9001
)

// User status values
const (
	StatusOffline uint8 = 0
	StatusOnline  uint8 = 1
	StatusAway    uint8 = 2
	StatusDND     uint8 = 3
)

const (
	// MaxBodyLength is the maximum message body length in bytes
	MaxBodyLength = 4096

	// HistoryPageSize is the number of older messages returned per pagination request
	HistoryPageSize = 30
)

var (
	ErrBodyTooLong   = errors.New("message body exceeds maximum length (4096 bytes)")
	ErrEmptyBody     = errors.New("message body cannot be empty")
	ErrInvalidStatus = errors.New("invalid status value")
)

// eventName maps event types to human-readable names (used as metric labels)
var eventName = map[uint8]string{
	TypeLogin:            "LOGIN",
	TypeStatusUpdate:     "STATUS_UPDATE",
	TypePasswordUpdate:   "PASSWORD_UPDATE",
	TypeAvatarUpdate:     "AVATAR_UPDATE",
	TypeHistoryRequest:   "HISTORY_REQUEST",
	TypeChannelCreate:    "CHANNEL_CREATE",
	TypeChannelDelete:    "CHANNEL_DELETE",
	TypeMemberAdd:        "MEMBER_ADD",
	TypeMemberRemove:     "MEMBER_REMOVE",
	TypeHierarchyChange:  "HIERARCHY_CHANGE",
	TypeMessageSend:      "MESSAGE_SEND",
	TypeMessageEdit:      "MESSAGE_EDIT",
	TypeMessageDelete:    "MESSAGE_DELETE",
	TypeFriendAdd:        "FRIEND_ADD",
	TypeFriendRemove:     "FRIEND_REMOVE",
	TypeLoginSucceeded:   "LOGIN_SUCCEEDED",
	TypeLoginFailed:      "LOGIN_FAILED",
	TypeRequestFailed:    "REQUEST_FAILED",
	TypeStatusUpdated:    "STATUS_UPDATED",
	TypePasswordUpdated:  "PASSWORD_UPDATED",
	TypeAvatarUpdated:    "AVATAR_UPDATED",
	TypeHistoryResponse:  "HISTORY_RESPONSE",
	TypeChannelCreated:   "CHANNEL_CREATED",
	TypeChannelDeleted:   "CHANNEL_DELETED",
	TypeMemberAdded:      "MEMBER_ADDED",
	TypeMemberRemoved:    "MEMBER_REMOVED",
	TypeHierarchyChanged: "HIERARCHY_CHANGED",
	TypeMessagePosted:    "MESSAGE_POSTED",
	TypeMessageEdited:    "MESSAGE_EDITED",
	TypeMessageDeleted:   "MESSAGE_DELETED",
	TypeFriendAdded:      "FRIEND_ADDED",
	TypeFriendRemoved:    "FRIEND_REMOVED",
}

// EventName returns a human-readable name for an event type
func EventName(msgType uint8) string {
	if name, ok := eventName[msgType]; ok {
		return name
	}
	return "UNKNOWN"
}

// ===== Wire entity snapshots =====
//
// Events carry full entity snapshots rather than bare ids so that every event
// is structurally self-sufficient for replay and logging.

// User is the wire representation of a user
type User struct {
	Username     string
	Status       uint8
	AvatarRef    string
	AvatarFormat string
	Channels     []uint64
	Friends      []string
}

func writeUser(w io.Writer, u *User) error {
	if err := WriteString(w, u.Username); err != nil {
		return err
	}
	if err := WriteUint8(w, u.Status); err != nil {
		return err
	}
	if err := WriteString(w, u.AvatarRef); err != nil {
		return err
	}
	if err := WriteString(w, u.AvatarFormat); err != nil {
		return err
	}
	if err := WriteUint64List(w, u.Channels); err != nil {
		return err
	}
	return WriteStringList(w, u.Friends)
}

func readUser(r io.Reader) (User, error) {
	var u User
	var err error
	if u.Username, err = ReadString(r); err != nil {
		return u, err
	}
	if u.Status, err = ReadUint8(r); err != nil {
		return u, err
	}
	if u.AvatarRef, err = ReadString(r); err != nil {
		return u, err
	}
	if u.AvatarFormat, err = ReadString(r); err != nil {
		return u, err
	}
	if u.Channels, err = ReadUint64List(r); err != nil {
		return u, err
	}
	if u.Friends, err = ReadStringList(r); err != nil {
		return u, err
	}
	return u, nil
}

// Message is the wire representation of a message
type Message struct {
	ChannelID uint64
	ID        uint64
	Sender    string
	Body      string
	Timestamp string
}

func writeMessage(w io.Writer, m *Message) error {
	if err := WriteUint64(w, m.ChannelID); err != nil {
		return err
	}
	if err := WriteUint64(w, m.ID); err != nil {
		return err
	}
	if err := WriteString(w, m.Sender); err != nil {
		return err
	}
	if err := WriteString(w, m.Body); err != nil {
		return err
	}
	return WriteString(w, m.Timestamp)
}

func readMessage(r io.Reader) (Message, error) {
	var m Message
	var err error
	if m.ChannelID, err = ReadUint64(r); err != nil {
		return m, err
	}
	if m.ID, err = ReadUint64(r); err != nil {
		return m, err
	}
	if m.Sender, err = ReadString(r); err != nil {
		return m, err
	}
	if m.Body, err = ReadString(r); err != nil {
		return m, err
	}
	if m.Timestamp, err = ReadString(r); err != nil {
		return m, err
	}
	return m, nil
}

func writeMessageList(w io.Writer, list []Message) error {
	if len(list) > MaxStringLength {
		return ErrListTooLong
	}
	if err := WriteUint16(w, uint16(len(list))); err != nil {
		return err
	}
	for i := range list {
		if err := writeMessage(w, &list[i]); err != nil {
			return err
		}
	}
	return nil
}

func readMessageList(r io.Reader) ([]Message, error) {
	count, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	list := make([]Message, 0, count)
	for i := uint16(0); i < count; i++ {
		m, err := readMessage(r)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, nil
}

// Channel is the wire representation of a channel.
// Members preserve insertion order; Admins is always a subset of Members.
// Messages carry the most recent page, newest first.
type Channel struct {
	ID            uint64
	Name          string
	Members       []string
	Admins        []string
	TotalMessages uint64
	Messages      []Message
}

func writeChannel(w io.Writer, c *Channel) error {
	if err := WriteUint64(w, c.ID); err != nil {
		return err
	}
	if err := WriteString(w, c.Name); err != nil {
		return err
	}
	if err := WriteStringList(w, c.Members); err != nil {
		return err
	}
	if err := WriteStringList(w, c.Admins); err != nil {
		return err
	}
	if err := WriteUint64(w, c.TotalMessages); err != nil {
		return err
	}
	return writeMessageList(w, c.Messages)
}

func readChannel(r io.Reader) (Channel, error) {
	var c Channel
	var err error
	if c.ID, err = ReadUint64(r); err != nil {
		return c, err
	}
	if c.Name, err = ReadString(r); err != nil {
		return c, err
	}
	if c.Members, err = ReadStringList(r); err != nil {
		return c, err
	}
	if c.Admins, err = ReadStringList(r); err != nil {
		return c, err
	}
	if c.TotalMessages, err = ReadUint64(r); err != nil {
		return c, err
	}
	if c.Messages, err = readMessageList(r); err != nil {
		return c, err
	}
	return c, nil
}

func writeChannelList(w io.Writer, list []Channel) error {
	if len(list) > MaxStringLength {
		return ErrListTooLong
	}
	if err := WriteUint16(w, uint16(len(list))); err != nil {
		return err
	}
	for i := range list {
		if err := writeChannel(w, &list[i]); err != nil {
			return err
		}
	}
	return nil
}

func readChannelList(r io.Reader) ([]Channel, error) {
	count, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	list := make([]Channel, 0, count)
	for i := uint16(0); i < count; i++ {
		c, err := readChannel(r)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, nil
}

func writeUserList(w io.Writer, list []User) error {
	if len(list) > MaxStringLength {
		return ErrListTooLong
	}
	if err := WriteUint16(w, uint16(len(list))); err != nil {
		return err
	}
	for i := range list {
		if err := writeUser(w, &list[i]); err != nil {
			return err
		}
	}
	return nil
}

func readUserList(r io.Reader) ([]User, error) {
	count, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	list := make([]User, 0, count)
	for i := uint16(0); i < count; i++ {
		u, err := readUser(r)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, nil
}

// ===== Client → Server events =====

// LoginEvent (0x01) - Authenticate, or register when Register is set
type LoginEvent struct {
	Username string
	Password string
	Register bool
}

func (e *LoginEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Username); err != nil {
		return err
	}
	if err := WriteString(w, e.Password); err != nil {
		return err
	}
	return WriteBool(w, e.Register)
}

func (e *LoginEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *LoginEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Username, err = ReadString(buf); err != nil {
		return err
	}
	if e.Password, err = ReadString(buf); err != nil {
		return err
	}
	if e.Register, err = ReadBool(buf); err != nil {
		return err
	}
	return nil
}

// StatusUpdateEvent (0x02) - Change presence status
type StatusUpdateEvent struct {
	Status uint8
}

func (e *StatusUpdateEvent) EncodeTo(w io.Writer) error {
	if e.Status > StatusDND {
		return ErrInvalidStatus
	}
	return WriteUint8(w, e.Status)
}

func (e *StatusUpdateEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *StatusUpdateEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	status, err := ReadUint8(buf)
	if err != nil {
		return err
	}
	if status > StatusDND {
		return ErrInvalidStatus
	}
	e.Status = status
	return nil
}

// PasswordUpdateEvent (0x03) - Change account password
type PasswordUpdateEvent struct {
	OldPassword string
	NewPassword string
}

func (e *PasswordUpdateEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.OldPassword); err != nil {
		return err
	}
	return WriteString(w, e.NewPassword)
}

func (e *PasswordUpdateEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *PasswordUpdateEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.OldPassword, err = ReadString(buf); err != nil {
		return err
	}
	if e.NewPassword, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// AvatarUpdateEvent (0x04) - Change avatar reference
type AvatarUpdateEvent struct {
	AvatarRef    string
	AvatarFormat string
}

func (e *AvatarUpdateEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.AvatarRef); err != nil {
		return err
	}
	return WriteString(w, e.AvatarFormat)
}

func (e *AvatarUpdateEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvatarUpdateEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.AvatarRef, err = ReadString(buf); err != nil {
		return err
	}
	if e.AvatarFormat, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// HistoryRequestEvent (0x05) - Request a page of messages older than LastSeenID
type HistoryRequestEvent struct {
	ChannelID  uint64
	LastSeenID uint64
}

func (e *HistoryRequestEvent) EncodeTo(w io.Writer) error {
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	return WriteUint64(w, e.LastSeenID)
}

func (e *HistoryRequestEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *HistoryRequestEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.LastSeenID, err = ReadUint64(buf); err != nil {
		return err
	}
	return nil
}

// ChannelCreateEvent (0x06) - Create a channel with invitees.
// Invitees that don't resolve to existing users are silently dropped by the server.
type ChannelCreateEvent struct {
	Name     string
	Invitees []string
}

func (e *ChannelCreateEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Name); err != nil {
		return err
	}
	return WriteStringList(w, e.Invitees)
}

func (e *ChannelCreateEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *ChannelCreateEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Name, err = ReadString(buf); err != nil {
		return err
	}
	if e.Invitees, err = ReadStringList(buf); err != nil {
		return err
	}
	return nil
}

// ChannelDeleteEvent (0x07) - Delete a channel
type ChannelDeleteEvent struct {
	ChannelID uint64
}

func (e *ChannelDeleteEvent) EncodeTo(w io.Writer) error {
	return WriteUint64(w, e.ChannelID)
}

func (e *ChannelDeleteEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *ChannelDeleteEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	e.ChannelID, err = ReadUint64(buf)
	return err
}

// MemberAddEvent (0x08) - Add a user to a channel
type MemberAddEvent struct {
	ChannelID uint64
	Username  string
}

func (e *MemberAddEvent) EncodeTo(w io.Writer) error {
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	return WriteString(w, e.Username)
}

func (e *MemberAddEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MemberAddEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.Username, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// MemberRemoveEvent (0x09) - Remove a user from a channel
type MemberRemoveEvent struct {
	ChannelID uint64
	Username  string
}

func (e *MemberRemoveEvent) EncodeTo(w io.Writer) error {
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	return WriteString(w, e.Username)
}

func (e *MemberRemoveEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MemberRemoveEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.Username, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// HierarchyChangeEvent (0x0A) - Promote or demote a channel member.
// Promote and demote share this payload shape; only the admin set is affected,
// never membership itself.
type HierarchyChangeEvent struct {
	ChannelID uint64
	Username  string
	Promote   bool
}

func (e *HierarchyChangeEvent) EncodeTo(w io.Writer) error {
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	if err := WriteString(w, e.Username); err != nil {
		return err
	}
	return WriteBool(w, e.Promote)
}

func (e *HierarchyChangeEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *HierarchyChangeEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.Username, err = ReadString(buf); err != nil {
		return err
	}
	if e.Promote, err = ReadBool(buf); err != nil {
		return err
	}
	return nil
}

// MessageSendEvent (0x0B) - Post a message; the server assigns the id
type MessageSendEvent struct {
	ChannelID uint64
	Body      string
}

func (e *MessageSendEvent) EncodeTo(w io.Writer) error {
	if len(e.Body) == 0 {
		return ErrEmptyBody
	}
	if len(e.Body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	return WriteString(w, e.Body)
}

func (e *MessageSendEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MessageSendEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.Body, err = ReadString(buf); err != nil {
		return err
	}
	if len(e.Body) == 0 {
		return ErrEmptyBody
	}
	if len(e.Body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// MessageEditEvent (0x0C) - Replace a message body; id and timestamp are unchanged
type MessageEditEvent struct {
	ChannelID uint64
	MessageID uint64
	Body      string
}

func (e *MessageEditEvent) EncodeTo(w io.Writer) error {
	if len(e.Body) == 0 {
		return ErrEmptyBody
	}
	if len(e.Body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	if err := WriteUint64(w, e.MessageID); err != nil {
		return err
	}
	return WriteString(w, e.Body)
}

func (e *MessageEditEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MessageEditEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.MessageID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.Body, err = ReadString(buf); err != nil {
		return err
	}
	if len(e.Body) == 0 {
		return ErrEmptyBody
	}
	if len(e.Body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// MessageDeleteEvent (0x0D) - Delete a message from a channel
type MessageDeleteEvent struct {
	ChannelID uint64
	MessageID uint64
}

func (e *MessageDeleteEvent) EncodeTo(w io.Writer) error {
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	return WriteUint64(w, e.MessageID)
}

func (e *MessageDeleteEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MessageDeleteEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.MessageID, err = ReadUint64(buf); err != nil {
		return err
	}
	return nil
}

// FriendAddEvent (0x0E) - Add a friend (symmetric)
type FriendAddEvent struct {
	Username string
}

func (e *FriendAddEvent) EncodeTo(w io.Writer) error {
	return WriteString(w, e.Username)
}

func (e *FriendAddEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *FriendAddEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	e.Username, err = ReadString(buf)
	return err
}

// FriendRemoveEvent (0x0F) - Remove a friend (symmetric)
type FriendRemoveEvent struct {
	Username string
}

func (e *FriendRemoveEvent) EncodeTo(w io.Writer) error {
	return WriteString(w, e.Username)
}

func (e *FriendRemoveEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *FriendRemoveEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	e.Username, err = ReadString(buf)
	return err
}

// ===== Server → Client events =====

// LoginSucceededEvent (0x81) - Full initial state snapshot
type LoginSucceededEvent struct {
	User     User
	Channels []Channel
	Friends  []User
}

func (e *LoginSucceededEvent) EncodeTo(w io.Writer) error {
	if err := writeUser(w, &e.User); err != nil {
		return err
	}
	if err := writeChannelList(w, e.Channels); err != nil {
		return err
	}
	return writeUserList(w, e.Friends)
}

func (e *LoginSucceededEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *LoginSucceededEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.User, err = readUser(buf); err != nil {
		return err
	}
	if e.Channels, err = readChannelList(buf); err != nil {
		return err
	}
	if e.Friends, err = readUserList(buf); err != nil {
		return err
	}
	return nil
}

// LoginFailedEvent (0x82) - Authentication or registration failure
type LoginFailedEvent struct {
	Code   uint16
	Reason string
}

func (e *LoginFailedEvent) EncodeTo(w io.Writer) error {
	if err := WriteUint16(w, e.Code); err != nil {
		return err
	}
	return WriteString(w, e.Reason)
}

func (e *LoginFailedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *LoginFailedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Code, err = ReadUint16(buf); err != nil {
		return err
	}
	if e.Reason, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// RequestFailedEvent (0x83) - Generic negative acknowledgement.
// FailedType is the type of the event that failed so the client can reload
// the form that issued it.
type RequestFailedEvent struct {
	FailedType uint8
	Code       uint16
	Reason     string
}

func (e *RequestFailedEvent) EncodeTo(w io.Writer) error {
	if err := WriteUint8(w, e.FailedType); err != nil {
		return err
	}
	if err := WriteUint16(w, e.Code); err != nil {
		return err
	}
	return WriteString(w, e.Reason)
}

func (e *RequestFailedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *RequestFailedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.FailedType, err = ReadUint8(buf); err != nil {
		return err
	}
	if e.Code, err = ReadUint16(buf); err != nil {
		return err
	}
	if e.Reason, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// StatusUpdatedEvent (0x84) - A user's presence status changed
type StatusUpdatedEvent struct {
	Source string
	Status uint8
}

func (e *StatusUpdatedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	return WriteUint8(w, e.Status)
}

func (e *StatusUpdatedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *StatusUpdatedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.Status, err = ReadUint8(buf); err != nil {
		return err
	}
	return nil
}

// PasswordUpdatedEvent (0x85) - Acknowledgement of a password change
type PasswordUpdatedEvent struct {
	Source string
}

func (e *PasswordUpdatedEvent) EncodeTo(w io.Writer) error {
	return WriteString(w, e.Source)
}

func (e *PasswordUpdatedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *PasswordUpdatedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	e.Source, err = ReadString(buf)
	return err
}

// AvatarUpdatedEvent (0x86) - A user's avatar changed
type AvatarUpdatedEvent struct {
	Source       string
	AvatarRef    string
	AvatarFormat string
}

func (e *AvatarUpdatedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	if err := WriteString(w, e.AvatarRef); err != nil {
		return err
	}
	return WriteString(w, e.AvatarFormat)
}

func (e *AvatarUpdatedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvatarUpdatedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.AvatarRef, err = ReadString(buf); err != nil {
		return err
	}
	if e.AvatarFormat, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// HistoryResponseEvent (0x87) - A page of older messages, newest first
type HistoryResponseEvent struct {
	ChannelID uint64
	Messages  []Message
}

func (e *HistoryResponseEvent) EncodeTo(w io.Writer) error {
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	return writeMessageList(w, e.Messages)
}

func (e *HistoryResponseEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *HistoryResponseEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.Messages, err = readMessageList(buf); err != nil {
		return err
	}
	return nil
}

// ChannelCreatedEvent (0x88) - A channel was created (or an existing DM was returned)
type ChannelCreatedEvent struct {
	Source  string
	Channel Channel
}

func (e *ChannelCreatedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	return writeChannel(w, &e.Channel)
}

func (e *ChannelCreatedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *ChannelCreatedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.Channel, err = readChannel(buf); err != nil {
		return err
	}
	return nil
}

// ChannelDeletedEvent (0x89) - A channel was deleted
type ChannelDeletedEvent struct {
	Source    string
	ChannelID uint64
}

func (e *ChannelDeletedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	return WriteUint64(w, e.ChannelID)
}

func (e *ChannelDeletedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *ChannelDeletedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	return nil
}

// MemberAddedEvent (0x8A) - A user joined a channel; carries the post-mutation
// channel snapshot so new members can seed their replica from the event alone.
type MemberAddedEvent struct {
	Source   string
	Channel  Channel
	Username string
}

func (e *MemberAddedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	if err := writeChannel(w, &e.Channel); err != nil {
		return err
	}
	return WriteString(w, e.Username)
}

func (e *MemberAddedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MemberAddedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.Channel, err = readChannel(buf); err != nil {
		return err
	}
	if e.Username, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// MemberRemovedEvent (0x8B) - A user left or was removed from a channel.
// Clients purge the removed member's messages from their local replica;
// the server's own history for the channel is untouched.
type MemberRemovedEvent struct {
	Source    string
	ChannelID uint64
	Username  string
}

func (e *MemberRemovedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	return WriteString(w, e.Username)
}

func (e *MemberRemovedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MemberRemovedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.Username, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}

// HierarchyChangedEvent (0x8C) - A member's admin flag was toggled
type HierarchyChangedEvent struct {
	Source    string
	ChannelID uint64
	Username  string
	Promote   bool
}

func (e *HierarchyChangedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	if err := WriteString(w, e.Username); err != nil {
		return err
	}
	return WriteBool(w, e.Promote)
}

func (e *HierarchyChangedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *HierarchyChangedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.Username, err = ReadString(buf); err != nil {
		return err
	}
	if e.Promote, err = ReadBool(buf); err != nil {
		return err
	}
	return nil
}

// MessagePostedEvent (0x8D) - A message was stored; carries the server-assigned id
type MessagePostedEvent struct {
	Source  string
	Message Message
}

func (e *MessagePostedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	return writeMessage(w, &e.Message)
}

func (e *MessagePostedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MessagePostedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.Message, err = readMessage(buf); err != nil {
		return err
	}
	return nil
}

// MessageEditedEvent (0x8E) - A message body was replaced
type MessageEditedEvent struct {
	Source  string
	Message Message
}

func (e *MessageEditedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	return writeMessage(w, &e.Message)
}

func (e *MessageEditedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MessageEditedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.Message, err = readMessage(buf); err != nil {
		return err
	}
	return nil
}

// MessageDeletedEvent (0x8F) - A message was deleted
type MessageDeletedEvent struct {
	Source    string
	ChannelID uint64
	MessageID uint64
}

func (e *MessageDeletedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	if err := WriteUint64(w, e.ChannelID); err != nil {
		return err
	}
	return WriteUint64(w, e.MessageID)
}

func (e *MessageDeletedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *MessageDeletedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.ChannelID, err = ReadUint64(buf); err != nil {
		return err
	}
	if e.MessageID, err = ReadUint64(buf); err != nil {
		return err
	}
	return nil
}

// FriendAddedEvent (0x90) - A friendship was established; carries the peer snapshot
type FriendAddedEvent struct {
	Source string
	Friend User
}

func (e *FriendAddedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	return writeUser(w, &e.Friend)
}

func (e *FriendAddedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *FriendAddedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.Friend, err = readUser(buf); err != nil {
		return err
	}
	return nil
}

// FriendRemovedEvent (0x91) - A friendship was dissolved
type FriendRemovedEvent struct {
	Source   string
	Username string
}

func (e *FriendRemovedEvent) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Source); err != nil {
		return err
	}
	return WriteString(w, e.Username)
}

func (e *FriendRemovedEvent) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := e.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *FriendRemovedEvent) Decode(payload []byte) error {
	buf := bytes.NewReader(payload)
	var err error
	if e.Source, err = ReadString(buf); err != nil {
		return err
	}
	if e.Username, err = ReadString(buf); err != nil {
		return err
	}
	return nil
}
