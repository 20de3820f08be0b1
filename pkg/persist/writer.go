package persist

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"

	"github.com/parley-chat/parley/pkg/store"
)

// jobQueueSize bounds the write backlog. Enqueue blocks when full rather
// than dropping, which throttles producers under sustained write pressure.
const jobQueueSize = 256

type job struct {
	label string
	exec  func(conn *sql.DB) error
}

// Writer applies mutations to SQLite in submission order through a single
// background goroutine. Persistence is best-effort: a failed write is
// logged and dropped, never retried, and never blocks the serving path
// beyond queue backpressure.
type Writer struct {
	db       *DB
	jobs     chan job
	errorLog *log.Logger
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// NewWriter starts the background writer.
func NewWriter(db *DB, errorLog *log.Logger) *Writer {
	w := &Writer{
		db:       db,
		jobs:     make(chan job, jobQueueSize),
		errorLog: errorLog,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for j := range w.jobs {
		if err := j.exec(w.db.conn); err != nil {
			w.errorLog.Printf("persist: %s failed: %v", j.label, err)
		}
	}
}

// Close drains the queue and stops the writer. Jobs enqueued before Close
// are applied; enqueueing after Close panics, so shut down intake first.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.jobs)
	})
	w.wg.Wait()
}

func (w *Writer) enqueue(label string, exec func(conn *sql.DB) error) {
	w.jobs <- job{label: label, exec: exec}
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// String slices cannot fail to marshal
		return "[]"
	}
	return string(data)
}

// SaveUser writes the whole user row, inserting or replacing.
func (w *Writer) SaveUser(u store.UserSnapshot, passwordHash []byte) {
	hash := string(passwordHash)
	friends := mustJSON(u.Friends)
	w.enqueue("save user", func(conn *sql.DB) error {
		_, err := conn.Exec(
			`INSERT INTO User (username, password_hash, status, avatar_ref, avatar_format, friends)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(username) DO UPDATE SET
			   password_hash = excluded.password_hash,
			   status = excluded.status,
			   avatar_ref = excluded.avatar_ref,
			   avatar_format = excluded.avatar_format,
			   friends = excluded.friends`,
			u.Username, hash, u.Status, u.AvatarRef, u.AvatarFormat, friends)
		return err
	})
}

// PatchUserStatus updates only the status column.
func (w *Writer) PatchUserStatus(username string, status uint8) {
	w.enqueue("patch user status", func(conn *sql.DB) error {
		_, err := conn.Exec(`UPDATE User SET status = ? WHERE username = ?`, status, username)
		return err
	})
}

// PatchUserPassword updates only the credential hash.
func (w *Writer) PatchUserPassword(username string, hash []byte) {
	h := string(hash)
	w.enqueue("patch user password", func(conn *sql.DB) error {
		_, err := conn.Exec(`UPDATE User SET password_hash = ? WHERE username = ?`, h, username)
		return err
	})
}

// PatchUserAvatar updates the avatar reference and format together.
func (w *Writer) PatchUserAvatar(username, ref, format string) {
	w.enqueue("patch user avatar", func(conn *sql.DB) error {
		_, err := conn.Exec(`UPDATE User SET avatar_ref = ?, avatar_format = ? WHERE username = ?`, ref, format, username)
		return err
	})
}

// PatchUserFriends replaces the friends list.
func (w *Writer) PatchUserFriends(username string, friends []string) {
	data := mustJSON(friends)
	w.enqueue("patch user friends", func(conn *sql.DB) error {
		_, err := conn.Exec(`UPDATE User SET friends = ? WHERE username = ?`, data, username)
		return err
	})
}

// SaveChannel writes the whole channel row, inserting or replacing.
// Messages are journaled separately by InsertMessage.
func (w *Writer) SaveChannel(c store.ChannelSnapshot) {
	members := mustJSON(c.Members)
	admins := mustJSON(c.Admins)
	w.enqueue("save channel", func(conn *sql.DB) error {
		_, err := conn.Exec(
			`INSERT INTO Channel (id, name, members, admins, total_messages)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   name = excluded.name,
			   members = excluded.members,
			   admins = excluded.admins,
			   total_messages = excluded.total_messages`,
			c.ID, c.Name, members, admins, c.TotalMessages)
		return err
	})
}

// PatchChannelRoster replaces the member and admin lists.
func (w *Writer) PatchChannelRoster(id uint64, members, admins []string) {
	m := mustJSON(members)
	a := mustJSON(admins)
	w.enqueue("patch channel roster", func(conn *sql.DB) error {
		_, err := conn.Exec(`UPDATE Channel SET members = ?, admins = ? WHERE id = ?`, m, a, id)
		return err
	})
}

// DeleteChannel removes the channel row; messages cascade.
func (w *Writer) DeleteChannel(id uint64) {
	w.enqueue("delete channel", func(conn *sql.DB) error {
		_, err := conn.Exec(`DELETE FROM Channel WHERE id = ?`, id)
		return err
	})
}

// InsertMessage journals a new message and the advanced counter in one
// transaction so a crash cannot reuse an id.
func (w *Writer) InsertMessage(m store.Message) {
	w.enqueue("insert message", func(conn *sql.DB) error {
		tx, err := conn.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO Message (channel_id, id, sender, body, timestamp) VALUES (?, ?, ?, ?, ?)`,
			m.ChannelID, m.ID, m.Sender, m.Body, m.Timestamp); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(
			`UPDATE Channel SET total_messages = MAX(total_messages, ?) WHERE id = ?`,
			m.ID+1, m.ChannelID); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// PatchMessageBody replaces a message body.
func (w *Writer) PatchMessageBody(channelID, messageID uint64, body string) {
	w.enqueue("patch message body", func(conn *sql.DB) error {
		_, err := conn.Exec(`UPDATE Message SET body = ? WHERE channel_id = ? AND id = ?`, body, channelID, messageID)
		return err
	})
}

// DeleteMessage removes a message row.
func (w *Writer) DeleteMessage(channelID, messageID uint64) {
	w.enqueue("delete message", func(conn *sql.DB) error {
		_, err := conn.Exec(`DELETE FROM Message WHERE channel_id = ? AND id = ?`, channelID, messageID)
		return err
	})
}
