package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/pkg/protocol"
)

// ConnectionStateType represents the connection status
type ConnectionStateType int

const (
	StateTypeConnected ConnectionStateType = iota
	StateTypeDisconnected
	StateTypeReconnecting
)

// ConnectionStateUpdate represents a connection state change
type ConnectionStateUpdate struct {
	State   ConnectionStateType
	Attempt int
	Err     error
}

const (
	defaultTCPPort  = "7475"
	defaultHTTPPort = "8080"
)

// Connection is a client connection to the server. Reads and writes run on
// dedicated goroutines; callers consume Incoming() and push through Send().
// On connection loss it retries at a fixed interval until the server comes
// back or Close() is called.
type Connection struct {
	addr         string // Display address with scheme
	rawAddr      string // Raw host:port
	dial         func() (net.Conn, error)
	conn         net.Conn
	mu           sync.RWMutex
	connected    bool
	reconnecting bool

	incoming    chan *protocol.Frame
	outgoing    chan *protocol.Frame
	errs        chan error
	stateChange chan ConnectionStateUpdate

	autoReconnect  bool
	reconnectDelay time.Duration

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	logger *log.Logger

	shutdown chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewConnection prepares a connection for the given address. Supported
// schemes are tcp:// (default), ws:// and wss://; a bare host defaults to
// the TCP port.
func NewConnection(addr string) (*Connection, error) {
	cfg, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	return &Connection{
		addr:           cfg.display,
		rawAddr:        cfg.raw,
		dial:           cfg.dial,
		incoming:       make(chan *protocol.Frame, 100),
		outgoing:       make(chan *protocol.Frame, 100),
		errs:           make(chan error, 10),
		stateChange:    make(chan ConnectionStateUpdate, 10),
		autoReconnect:  true,
		reconnectDelay: 2 * time.Second,
		shutdown:       make(chan struct{}),
	}, nil
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// DisableAutoReconnect disables automatic reconnection on connection loss
func (c *Connection) DisableAutoReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = false
}

func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Connect establishes the connection and starts the read/write loops.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	c.logf("Connecting to %s...", c.addr)

	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logf("Connected to %s", c.addr)

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn)

	return nil
}

// Disconnect closes the current connection without touching auto-reconnect.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// Close shuts the connection down for good.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.autoReconnect = false
	c.mu.Unlock()

	close(c.shutdown)
	c.Disconnect()
	c.wg.Wait()
}

// Send queues a frame for delivery.
func (c *Connection) Send(frame *protocol.Frame) error {
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.shutdown:
		return errors.New("connection closed")
	}
}

// SendEvent encodes an event and queues it.
func (c *Connection) SendEvent(eventType uint8, evt protocol.Event) error {
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	return c.Send(&protocol.Frame{
		Version: protocol.ProtocolVersion,
		Type:    eventType,
		Flags:   0,
		Payload: payload,
	})
}

// Incoming returns the channel of received frames
func (c *Connection) Incoming() <-chan *protocol.Frame {
	return c.incoming
}

// Errors returns the channel of connection errors
func (c *Connection) Errors() <-chan error {
	return c.errs
}

// StateChanges returns the channel of connection state updates
func (c *Connection) StateChanges() <-chan ConnectionStateUpdate {
	return c.stateChange
}

// IsConnected returns whether the connection is established
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Address returns the display address with scheme
func (c *Connection) Address() string {
	return c.addr
}

// BytesSent returns total bytes written to the wire
func (c *Connection) BytesSent() uint64 {
	return c.bytesSent.Load()
}

// BytesReceived returns total bytes read from the wire
func (c *Connection) BytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// readLoop decodes frames from the connection it was started with; a later
// reconnect spawns fresh loops, so this one exits on any error.
func (c *Connection) readLoop(conn net.Conn) {
	defer c.wg.Done()

	reader := &countingReader{r: conn, counter: &c.bytesReceived}
	for {
		frame, err := protocol.DecodeFrame(reader)
		if err != nil {
			if err == io.EOF {
				c.logf("Connection closed by server")
			} else {
				c.logf("Read error: %v", err)
				select {
				case c.errs <- fmt.Errorf("read error: %w", err):
				default:
				}
			}
			c.handleDisconnect(conn)
			return
		}

		c.logf("RECV Type=0x%02X PayloadLen=%d", frame.Type, len(frame.Payload))

		select {
		case c.incoming <- frame:
		case <-c.shutdown:
			return
		}
	}
}

func (c *Connection) writeLoop(conn net.Conn) {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.outgoing:
			c.mu.RLock()
			current := c.conn
			c.mu.RUnlock()

			// A reconnect replaced this connection; hand the frame to
			// the new loop and exit
			if current != conn {
				select {
				case c.outgoing <- frame:
				default:
				}
				return
			}

			var buf bytes.Buffer
			if err := protocol.EncodeFrame(&buf, frame); err != nil {
				c.logf("Encode error: %v", err)
				select {
				case c.errs <- fmt.Errorf("encode error: %w", err):
				default:
				}
				continue
			}

			writer := &countingWriter{w: conn, counter: &c.bytesSent}
			if _, err := writer.Write(buf.Bytes()); err != nil {
				c.logf("Write error: %v", err)
				select {
				case c.errs <- fmt.Errorf("write error: %w", err):
				default:
				}
				c.handleDisconnect(conn)
				return
			}

			c.logf("SEND Type=0x%02X PayloadLen=%d", frame.Type, len(frame.Payload))

		case <-c.shutdown:
			return
		}
	}
}

func (c *Connection) handleDisconnect(conn net.Conn) {
	c.mu.Lock()
	// Only the loop bound to the live connection tears it down
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	wasConnected := c.connected
	c.connected = false
	c.conn.Close()
	c.conn = nil
	autoReconnect := c.autoReconnect
	c.mu.Unlock()

	if !wasConnected {
		return
	}

	c.logf("Disconnected from %s", c.addr)

	select {
	case c.stateChange <- ConnectionStateUpdate{State: StateTypeDisconnected, Err: errors.New("disconnected from server")}:
	default:
	}

	if autoReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries at a fixed interval until the server answers. The
// replica is rebuilt from the snapshot the next LOGIN returns, so there is
// no state to repair here.
func (c *Connection) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 1
	for {
		select {
		case <-c.shutdown:
			return
		case <-time.After(c.reconnectDelay):
			c.logf("Reconnect attempt %d to %s", attempt, c.addr)

			select {
			case c.stateChange <- ConnectionStateUpdate{State: StateTypeReconnecting, Attempt: attempt}:
			default:
			}

			if err := c.Connect(); err != nil {
				c.logf("Reconnect attempt %d failed: %v", attempt, err)
				attempt++
				continue
			}

			c.logf("Reconnected after %d attempts", attempt)
			select {
			case c.stateChange <- ConnectionStateUpdate{State: StateTypeConnected}:
			default:
			}
			return
		}
	}
}

// countingReader counts bytes read from the wire
type countingReader struct {
	r       io.Reader
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.counter.Add(uint64(n))
	return n, err
}

// countingWriter counts bytes written to the wire
type countingWriter struct {
	w       io.Writer
	counter *atomic.Uint64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.counter.Add(uint64(n))
	return n, err
}

type dialConfig struct {
	display string
	raw     string
	dial    func() (net.Conn, error)
}

func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}
		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}
		if u.Host != "" {
			hostPort = u.Host
		} else if u.Path != "" {
			hostPort = u.Path
		}
		hostPort = strings.TrimPrefix(hostPort, "//")
	}

	switch scheme {
	case "tcp", "":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}
		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display: address,
			raw:     address,
			dial: func() (net.Conn, error) {
				return net.DialTimeout("tcp", address, 5*time.Second)
			},
		}, nil

	case "ws", "wss":
		host, port, err := splitHostPortWithDefault(hostPort, defaultHTTPPort)
		if err != nil {
			return nil, err
		}
		address := net.JoinHostPort(host, port)
		useTLS := scheme == "wss"
		return &dialConfig{
			display: fmt.Sprintf("%s://%s", scheme, address),
			raw:     address,
			dial: func() (net.Conn, error) {
				return dialWebSocket(address, useTLS)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}

// dialWebSocket connects to the server's /ws endpoint and wraps the socket
// so the frame codec sees an ordinary byte stream.
func dialWebSocket(address string, useTLS bool) (net.Conn, error) {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s/ws", scheme, address)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &wsClientConn{ws: ws}, nil
}

// wsClientConn adapts a WebSocket connection to net.Conn, mirroring the
// adapter on the server side.
type wsClientConn struct {
	ws  *websocket.Conn
	buf bytes.Buffer
}

func (c *wsClientConn) Read(p []byte) (int, error) {
	for c.buf.Len() == 0 {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		c.buf.Write(data)
	}
	return c.buf.Read(p)
}

func (c *wsClientConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsClientConn) Close() error {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *wsClientConn) LocalAddr() net.Addr                { return c.ws.LocalAddr() }
func (c *wsClientConn) RemoteAddr() net.Addr               { return c.ws.RemoteAddr() }
func (c *wsClientConn) SetDeadline(t time.Time) error      { return c.ws.SetReadDeadline(t) }
func (c *wsClientConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsClientConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
