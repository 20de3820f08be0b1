package client

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

// State manages client-side persistent state: the last used account, the
// last server connected to, and per-channel read markers. Everything lives
// in a small key/value SQLite file next to the logs.
type State struct {
	db  *sql.DB
	dir string
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// One connection is plenty on the client side
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS Config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ReadMarker (
		channel_id      INTEGER PRIMARY KEY,
		last_read_msgid INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// StateDir returns the directory the state file lives in
func (s *State) StateDir() string {
	return s.dir
}

// GetConfig retrieves a configuration value, empty string when unset
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)", key, value)
	return err
}

// LastUsername returns the account used on the previous run
func (s *State) LastUsername() string {
	v, _ := s.GetConfig("last_username")
	return v
}

// SetLastUsername records the account for the next run
func (s *State) SetLastUsername(username string) error {
	return s.SetConfig("last_username", username)
}

// LastServer returns the server address used on the previous run
func (s *State) LastServer() string {
	v, _ := s.GetConfig("last_server")
	return v
}

// SetLastServer records the server address for the next run
func (s *State) SetLastServer(addr string) error {
	return s.SetConfig("last_server", addr)
}

// ReadMarker returns the id of the last message seen in a channel, or
// false when the channel has never been read.
func (s *State) ReadMarker(channelID uint64) (uint64, bool) {
	var raw int64
	err := s.db.QueryRow("SELECT last_read_msgid FROM ReadMarker WHERE channel_id = ?", int64(channelID)).Scan(&raw)
	if err != nil {
		return 0, false
	}
	return uint64(raw), true
}

// SetReadMarker advances the read marker for a channel. Markers never move
// backwards.
func (s *State) SetReadMarker(channelID, messageID uint64) error {
	_, err := s.db.Exec(`
		INSERT INTO ReadMarker (channel_id, last_read_msgid) VALUES (?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			last_read_msgid = MAX(last_read_msgid, excluded.last_read_msgid)`,
		int64(channelID), int64(messageID))
	return err
}

// FirstRun reports whether this is the first time the client has started
func (s *State) FirstRun() bool {
	v, _ := s.GetConfig("first_run_done")
	done, _ := strconv.ParseBool(v)
	return !done
}

// SetFirstRunComplete marks the first run as done
func (s *State) SetFirstRunComplete() error {
	return s.SetConfig("first_run_done", "true")
}
