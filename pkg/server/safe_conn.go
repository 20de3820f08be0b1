package server

import (
	"net"
	"sync"

	"github.com/parley-chat/parley/pkg/protocol"
)

// SafeConn is the single write path for a connection. Broadcast fanout and
// the per-session reply path share one socket, so every outgoing frame goes
// through the write mutex; the raw net.Conn is never exposed. Reads stay
// unlocked since only the session's message loop reads.
type SafeConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteFrame encodes and sends one frame under the write mutex.
func (sc *SafeConn) WriteFrame(frame *protocol.Frame) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return protocol.EncodeFrame(sc.conn, frame)
}

// WriteRaw sends an already-encoded frame. Broadcasts encode once and fan
// the same bytes out to every member session.
func (sc *SafeConn) WriteRaw(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, err := sc.conn.Write(data)
	return err
}

// ReadFrame reads the next frame from the connection.
func (sc *SafeConn) ReadFrame() (*protocol.Frame, error) {
	return protocol.DecodeFrame(sc.conn)
}

func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
