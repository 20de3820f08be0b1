// Package persist is the durability layer. The in-memory store stays
// authoritative at runtime; this package journals mutations to SQLite
// through a single background writer and rebuilds the store at startup.
package persist

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/parley-chat/parley/pkg/store"
)

// DB wraps the SQLite connection used for journaling and startup loads.
type DB struct {
	conn *sql.DB
}

// Open opens the SQLite database at the given path and initializes the
// schema if needed.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// All writes flow through the single writer goroutine, so one
	// connection is enough and avoids SQLITE_BUSY entirely.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	// WAL keeps startup reads from blocking on the writer
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
-- User table. Friends are stored as a JSON array; channel membership is
-- derived from Channel.members at load time.
CREATE TABLE IF NOT EXISTS User (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	avatar_ref TEXT NOT NULL DEFAULT '',
	avatar_format TEXT NOT NULL DEFAULT '',
	friends TEXT NOT NULL DEFAULT '[]'
);

-- Channel table. Member and admin lists are JSON arrays in insertion order.
CREATE TABLE IF NOT EXISTS Channel (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	members TEXT NOT NULL DEFAULT '[]',
	admins TEXT NOT NULL DEFAULT '[]',
	total_messages INTEGER NOT NULL DEFAULT 0
);

-- Message table. Ids are per-channel, assigned by the store.
CREATE TABLE IF NOT EXISTS Message (
	channel_id INTEGER NOT NULL,
	id INTEGER NOT NULL,
	sender TEXT NOT NULL,
	body TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	PRIMARY KEY (channel_id, id),
	FOREIGN KEY (channel_id) REFERENCES Channel(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_message_channel ON Message(channel_id, id DESC);
`
	_, err := db.conn.Exec(schema)
	return err
}

// LoadAll rebuilds store entities from disk. Channel membership on each
// user is reconstructed from channel member lists.
func (db *DB) LoadAll() ([]*store.User, []*store.Channel, error) {
	users := make(map[string]*store.User)
	rows, err := db.conn.Query(`SELECT username, password_hash, status, avatar_ref, avatar_format, friends FROM User`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load users: %w", err)
	}
	for rows.Next() {
		var u store.User
		var hash, friendsJSON string
		if err := rows.Scan(&u.Username, &hash, &u.Status, &u.AvatarRef, &u.AvatarFormat, &friendsJSON); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.PasswordHash = []byte(hash)
		u.Channels = make(map[uint64]bool)
		u.Friends = make(map[string]bool)
		var friends []string
		if err := json.Unmarshal([]byte(friendsJSON), &friends); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("corrupt friends list for %s: %w", u.Username, err)
		}
		for _, f := range friends {
			u.Friends[f] = true
		}
		users[u.Username] = &u
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	channels := make(map[uint64]*store.Channel)
	rows, err = db.conn.Query(`SELECT id, name, members, admins, total_messages FROM Channel`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load channels: %w", err)
	}
	for rows.Next() {
		var c store.Channel
		var membersJSON, adminsJSON string
		if err := rows.Scan(&c.ID, &c.Name, &membersJSON, &adminsJSON, &c.TotalMessages); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		if err := json.Unmarshal([]byte(membersJSON), &c.Members); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("corrupt member list for channel %d: %w", c.ID, err)
		}
		var admins []string
		if err := json.Unmarshal([]byte(adminsJSON), &admins); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("corrupt admin list for channel %d: %w", c.ID, err)
		}
		c.Admins = make(map[string]bool, len(admins))
		for _, a := range admins {
			c.Admins[a] = true
		}
		channels[c.ID] = &c

		for _, m := range c.Members {
			if u, ok := users[m]; ok {
				u.Channels[c.ID] = true
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	// Newest first, matching the store's in-memory ordering
	rows, err = db.conn.Query(`SELECT channel_id, id, sender, body, timestamp FROM Message ORDER BY channel_id, id DESC`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ChannelID, &m.ID, &m.Sender, &m.Body, &m.Timestamp); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if c, ok := channels[m.ChannelID]; ok {
			c.Messages = append(c.Messages, m)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	userList := make([]*store.User, 0, len(users))
	for _, u := range users {
		userList = append(userList, u)
	}
	channelList := make([]*store.Channel, 0, len(channels))
	for _, c := range channels {
		channelList = append(channelList, c)
	}

	return userList, channelList, nil
}
