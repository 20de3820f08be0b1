package server

import (
	"net"
	"sync"
	"sync/atomic"
)

// Session represents an active client connection. Username is empty until
// LOGIN succeeds; every other event is rejected before that.
type Session struct {
	ID         uint64
	Conn       *SafeConn
	RemoteAddr string

	mu       sync.RWMutex
	username string
}

// Username returns the bound username, or "" before login.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// setUsername binds the session to an account after a successful login.
func (s *Session) setUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

// SessionManager tracks all active sessions and the username index used to
// resolve broadcast targets. A user with no session in the index is offline
// and is simply skipped during fan-out.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	byUser   map[string]map[uint64]*Session
	nextID   uint64
	metrics  *Metrics
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
		byUser:   make(map[string]map[uint64]*Session),
		nextID:   1,
	}
}

// SetMetrics attaches metrics to the session manager
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession registers a new unauthenticated session.
func (sm *SessionManager) CreateSession(conn net.Conn) *Session {
	sessionID := atomic.AddUint64(&sm.nextID, 1) - 1

	sess := &Session{
		ID:         sessionID,
		Conn:       NewSafeConn(conn),
		RemoteAddr: conn.RemoteAddr().String(),
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = sess
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
		sm.metrics.RecordSessionCreated()
	}

	return sess
}

// BindUser indexes the session under its authenticated username. A session
// that was already bound (a second LOGIN on the same connection) is unbound
// from its previous name first, so stale index entries never route another
// user's events to this connection.
func (sm *SessionManager) BindUser(sess *Session, username string) {
	previous := sess.Username()
	sess.setUsername(username)

	sm.mu.Lock()
	if previous != "" && previous != username {
		if set := sm.byUser[previous]; set != nil {
			delete(set, sess.ID)
			if len(set) == 0 {
				delete(sm.byUser, previous)
			}
		}
	}
	set, ok := sm.byUser[username]
	if !ok {
		set = make(map[uint64]*Session)
		sm.byUser[username] = set
	}
	set[sess.ID] = sess
	sm.mu.Unlock()
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(sessionID uint64) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[sessionID]
	return sess, ok
}

// SessionsFor returns every live session bound to the username. Empty means
// the user is offline.
func (sm *SessionManager) SessionsFor(username string) []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	set := sm.byUser[username]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for _, sess := range set {
		out = append(out, sess)
	}
	return out
}

// GetAllSessions returns all active sessions
func (sm *SessionManager) GetAllSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// CountSessions returns the number of live sessions.
func (sm *SessionManager) CountSessions() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CountOnlineUsers returns the number of distinct authenticated users.
func (sm *SessionManager) CountOnlineUsers() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.byUser)
}

// RemoveSession drops the session from both indices and closes the
// connection.
func (sm *SessionManager) RemoveSession(sessionID uint64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
		name := sess.Username()
		if name != "" {
			if set := sm.byUser[name]; set != nil {
				delete(set, sessionID)
				if len(set) == 0 {
					delete(sm.byUser, name)
				}
			}
		}
	}
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if !ok {
		return
	}

	sess.Conn.Close()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
	}
}

// CloseAll closes every connection. Used during shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	sm.sessions = make(map[uint64]*Session)
	sm.byUser = make(map[string]map[uint64]*Session)
	sm.mu.Unlock()

	for _, sess := range sessions {
		sess.Conn.Close()
	}

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(0)
	}
}
