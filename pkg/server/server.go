package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-chat/parley/pkg/persist"
	"github.com/parley-chat/parley/pkg/protocol"
	"github.com/parley-chat/parley/pkg/store"
)

var (
	errorLog *log.Logger
	debugLog *log.Logger
)

// ErrClientDisconnecting signals a clean, client-requested connection close.
var ErrClientDisconnecting = errors.New("client disconnecting")

// Server owns the listeners, the entity store and the persistence writer.
type Server struct {
	store      *store.Store
	db         *persist.DB
	writer     *persist.Writer
	listener   net.Listener
	httpLis    net.Listener
	sshLis     net.Listener
	metricsLis net.Listener
	sessions   *SessionManager
	config     ServerConfig
	shutdown   chan struct{}
	wg         sync.WaitGroup
	metrics    *Metrics
	startTime  time.Time

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64

	// Per-IP connection caps
	ipMu       sync.Mutex
	perIPConns map[string]int
}

// ServerConfig holds runtime server configuration
type ServerConfig struct {
	TCPPort             int
	HTTPPort            int    // Public HTTP port for /ws (0 = disabled)
	SSHPort             int    // SSH intake port (0 = disabled)
	SSHHostKeyPath      string // Host key location, generated on first run
	MetricsPort         int    // Internal metrics port (0 = disabled)
	MaxConnectionsPerIP int
	MaxMessageLength    int
	MaxUsernameLength   int
	HistoryPageSize     int
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return DefaultTOMLConfig().ToServerConfig()
}

// NewServer opens the database, replays it into the entity store and starts
// the persistence writer. Listeners are not started until Start.
func NewServer(dbPath string, config ServerConfig) (*Server, error) {
	if err := initLoggers(); err != nil {
		return nil, fmt.Errorf("failed to initialize loggers: %w", err)
	}

	db, err := persist.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	users, channels, err := db.LoadAll()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	st := store.New()
	for _, u := range users {
		// Everyone starts offline; presence is session state
		u.Status = protocol.StatusOffline
		st.SeedUser(u)
	}
	for _, c := range channels {
		st.SeedChannel(c)
	}
	log.Printf("Loaded %d users, %d channels from %s", len(users), len(channels), dbPath)

	metrics := NewMetrics()
	sessions := NewSessionManager()
	sessions.SetMetrics(metrics)

	return &Server{
		store:      st,
		db:         db,
		writer:     persist.NewWriter(db, errorLog),
		sessions:   sessions,
		config:     config,
		shutdown:   make(chan struct{}),
		metrics:    metrics,
		startTime:  time.Now(),
		perIPConns: make(map[string]int),
	}, nil
}

// getServerDataDir returns the server data directory, creating it if needed
func getServerDataDir() (string, error) {
	var dataDir string
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		dataDir = filepath.Join(xdg, "parley")
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share", "parley")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}

// initLoggers sets up error and debug loggers
func initLoggers() error {
	dataDir, err := getServerDataDir()
	if err != nil {
		return err
	}

	// Error log goes to stderr and errors.log
	errorLogPath := filepath.Join(dataDir, "errors.log")
	errorFile, err := os.OpenFile(errorLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	// Startup marker distinguishes runs in the appended log
	startupMsg := fmt.Sprintf("=== Server started at %s ===\n", time.Now().Format(time.RFC3339))
	if _, err := errorFile.WriteString(startupMsg); err != nil {
		return err
	}

	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.LstdFlags)

	// Debug log is discarded unless EnableDebugLogging is called
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)

	// Standard log goes to stdout and server.log; truncate on startup
	serverLogPath := filepath.Join(dataDir, "server.log")
	serverLogFile, err := os.OpenFile(serverLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, serverLogFile))

	return nil
}

// EnableDebugLogging enables debug logging to debug.log
func (s *Server) EnableDebugLogging() {
	dataDir, err := getServerDataDir()
	if err != nil {
		log.Printf("Failed to get data directory: %v", err)
		return
	}

	debugLogPath := filepath.Join(dataDir, "debug.log")
	debugLogFile, err := os.OpenFile(debugLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		log.Printf("Failed to open debug.log: %v", err)
		return
	}

	debugLog = log.New(debugLogFile, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// Start starts the TCP listener and the HTTP side servers.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("TCP listener on %s", listener.Addr())

	// Internal metrics server - never expose publicly
	if s.config.MetricsPort > 0 {
		metricsLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.MetricsPort))
		if err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to listen on metrics port: %w", err)
		}
		s.metricsLis = metricsLis

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/health", s.HealthHandler)
		go func() {
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", metricsLis.Addr())
			if err := http.Serve(metricsLis, metricsMux); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Public HTTP server for the WebSocket intake
	if s.config.HTTPPort > 0 {
		httpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
		if err != nil {
			s.listener.Close()
			if s.metricsLis != nil {
				s.metricsLis.Close()
			}
			return fmt.Errorf("failed to listen on HTTP port: %w", err)
		}
		s.httpLis = httpLis

		publicMux := http.NewServeMux()
		publicMux.HandleFunc("/ws", s.HandleWebSocket)
		go func() {
			log.Printf("Public HTTP server listening on %s (/ws)", httpLis.Addr())
			if err := http.Serve(httpLis, publicMux); err != nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("Public HTTP server error: %v", err)
			}
		}()
	}

	// Optional SSH intake
	if err := s.startSSHServer(); err != nil {
		s.listener.Close()
		if s.metricsLis != nil {
			s.metricsLis.Close()
		}
		if s.httpLis != nil {
			s.httpLis.Close()
		}
		return err
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound TCP address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server: listeners first, then sessions, then the
// persistence writer so every mutation already applied is journaled.
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
		log.Println("TCP listener closed")
	}
	if s.httpLis != nil {
		s.httpLis.Close()
		s.httpLis = nil
	}
	if s.sshLis != nil {
		s.sshLis.Close()
		s.sshLis = nil
	}
	if s.metricsLis != nil {
		s.metricsLis.Close()
		s.metricsLis = nil
	}

	log.Println("Closing all client sessions...")
	s.sessions.CloseAll()

	log.Println("Waiting for background goroutines to finish...")
	s.wg.Wait()

	log.Println("Draining persistence queue...")
	s.writer.Close()

	if err := s.db.Close(); err != nil {
		log.Printf("Error during database close: %v", err)
		return err
	}

	log.Println("Graceful shutdown complete")
	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

// handleConnection applies per-IP caps and hands the connection to the
// intake loop. Used by both the TCP accept loop and the WebSocket adapter.
func (s *Server) handleConnection(conn net.Conn) {
	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	if s.config.MaxConnectionsPerIP > 0 {
		s.ipMu.Lock()
		if s.perIPConns[host] >= s.config.MaxConnectionsPerIP {
			s.ipMu.Unlock()
			debugLog.Printf("Rejecting connection from %s: per-IP limit reached", host)
			conn.Close()
			return
		}
		s.perIPConns[host]++
		s.ipMu.Unlock()
	}

	sess := s.sessions.CreateSession(conn)
	s.connectionsSinceReport.Add(1)
	debugLog.Printf("New connection from %s (session %d)", conn.RemoteAddr(), sess.ID)

	// Tracked in the WaitGroup so Stop() cannot close the persistence
	// writer while a draining loop's teardown still enqueues writes.
	s.wg.Add(1)
	go s.messageLoop(sess, conn, host)
}

// messageLoop handles events for an established connection
func (s *Server) messageLoop(sess *Session, conn net.Conn, host string) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.finishSession(sess, host)

	for {
		frame, err := protocol.DecodeFrame(conn)
		if err != nil {
			s.disconnectionsSinceReport.Add(1)
			if err == io.EOF {
				debugLog.Printf("Session %d: Client disconnected", sess.ID)
			} else {
				select {
				case <-s.shutdown:
				default:
					debugLog.Printf("Session %d: read error: %v", sess.ID, err)
				}
			}
			return
		}

		debugLog.Printf("Session %d ← RECV: Type=0x%02X Flags=0x%02X PayloadLen=%d", sess.ID, frame.Type, frame.Flags, len(frame.Payload))

		if s.metrics != nil {
			s.metrics.RecordEventReceived(protocol.EventName(frame.Type))
		}

		if err := s.handleMessage(sess, frame); err != nil {
			if errors.Is(err, ErrClientDisconnecting) {
				s.disconnectionsSinceReport.Add(1)
				debugLog.Printf("Session %d disconnected gracefully", sess.ID)
				return
			}
			log.Printf("Session %d handle error: %v", sess.ID, err)
			s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInternalError, fmt.Sprintf("Internal error: %v", err))
		}
	}
}

// handleMessage dispatches a frame to the appropriate handler. LOGIN is the
// only event accepted before the session is bound to a user.
func (s *Server) handleMessage(sess *Session, frame *protocol.Frame) error {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordHandleDuration(protocol.EventName(frame.Type), time.Since(start))
		}
	}()

	if frame.Type == protocol.TypeLogin {
		return s.handleLogin(sess, frame)
	}

	if sess.Username() == "" {
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeAuthRequired, "Login required")
	}

	switch frame.Type {
	case protocol.TypeStatusUpdate:
		return s.handleStatusUpdate(sess, frame)
	case protocol.TypePasswordUpdate:
		return s.handlePasswordUpdate(sess, frame)
	case protocol.TypeAvatarUpdate:
		return s.handleAvatarUpdate(sess, frame)
	case protocol.TypeHistoryRequest:
		return s.handleHistoryRequest(sess, frame)
	case protocol.TypeChannelCreate:
		return s.handleChannelCreate(sess, frame)
	case protocol.TypeChannelDelete:
		return s.handleChannelDelete(sess, frame)
	case protocol.TypeMemberAdd:
		return s.handleMemberAdd(sess, frame)
	case protocol.TypeMemberRemove:
		return s.handleMemberRemove(sess, frame)
	case protocol.TypeHierarchyChange:
		return s.handleHierarchyChange(sess, frame)
	case protocol.TypeMessageSend:
		return s.handleMessageSend(sess, frame)
	case protocol.TypeMessageEdit:
		return s.handleMessageEdit(sess, frame)
	case protocol.TypeMessageDelete:
		return s.handleMessageDelete(sess, frame)
	case protocol.TypeFriendAdd:
		return s.handleFriendAdd(sess, frame)
	case protocol.TypeFriendRemove:
		return s.handleFriendRemove(sess, frame)
	default:
		return s.sendRequestFailed(sess, frame.Type, protocol.ErrCodeInvalidFormat, "Unsupported event type")
	}
}

// finishSession tears down a closed connection. If this was the user's last
// session, they drop to offline and their contacts are told.
func (s *Server) finishSession(sess *Session, host string) {
	username := sess.Username()
	s.sessions.RemoveSession(sess.ID)

	if s.config.MaxConnectionsPerIP > 0 {
		s.ipMu.Lock()
		if s.perIPConns[host] > 0 {
			s.perIPConns[host]--
		}
		if s.perIPConns[host] == 0 {
			delete(s.perIPConns, host)
		}
		s.ipMu.Unlock()
	}

	if s.metrics != nil {
		s.metrics.RecordOnlineUsers(s.sessions.CountOnlineUsers())
	}

	if username == "" {
		return
	}
	if len(s.sessions.SessionsFor(username)) > 0 {
		return
	}

	snap, err := s.store.SetStatus(username, protocol.StatusOffline)
	if err != nil {
		return
	}
	s.writer.PatchUserStatus(username, protocol.StatusOffline)
	s.broadcastStatusUpdated(username, snap)
}

// sendEvent encodes and sends a single event to one session.
func (s *Server) sendEvent(sess *Session, eventType uint8, event protocol.Event) error {
	payload, err := event.Encode()
	if err != nil {
		return err
	}

	frame := &protocol.Frame{
		Version: protocol.ProtocolVersion,
		Type:    eventType,
		Flags:   0,
		Payload: payload,
	}

	debugLog.Printf("Session %d → SEND: Type=0x%02X (%s) PayloadLen=%d", sess.ID, eventType, protocol.EventName(eventType), len(payload))
	if s.metrics != nil {
		s.metrics.RecordEventSent(protocol.EventName(eventType))
	}
	return sess.Conn.WriteFrame(frame)
}

// sendRequestFailed sends the generic negative acknowledgement.
func (s *Server) sendRequestFailed(sess *Session, failedType uint8, code uint16, reason string) error {
	return s.sendEvent(sess, protocol.TypeRequestFailed, &protocol.RequestFailedEvent{
		FailedType: failedType,
		Code:       code,
		Reason:     reason,
	})
}

// metricsLoggingLoop periodically logs key counters
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			activeSessions := s.sessions.CountSessions()
			onlineUsers := s.sessions.CountOnlineUsers()
			goroutines := runtime.NumGoroutine()

			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)

			if s.metrics != nil {
				s.metrics.RecordOnlineUsers(onlineUsers)
			}

			log.Printf("[METRICS] Sessions: %d, online users: %d, connected since last: %d, disconnected since last: %d, goroutines: %d",
				activeSessions, onlineUsers, connected, disconnected, goroutines)
		}
	}
}
