package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/protocol"
)

func TestParseServerAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		display string
		raw     string
		wantErr bool
	}{
		{"bare host gets default port", "chat.example.com", "chat.example.com:7475", "chat.example.com:7475", false},
		{"host with port", "chat.example.com:9000", "chat.example.com:9000", "chat.example.com:9000", false},
		{"explicit tcp scheme", "tcp://chat.example.com:9000", "chat.example.com:9000", "chat.example.com:9000", false},
		{"websocket", "ws://chat.example.com", "ws://chat.example.com:8080", "chat.example.com:8080", false},
		{"secure websocket", "wss://chat.example.com:443", "wss://chat.example.com:443", "chat.example.com:443", false},
		{"ipv6 literal", "[::1]:7475", "[::1]:7475", "[::1]:7475", false},
		{"empty", "", "", "", true},
		{"unknown scheme", "gopher://chat.example.com", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseServerAddress(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.display, cfg.display)
			assert.Equal(t, tt.raw, cfg.raw)
			assert.NotNil(t, cfg.dial)
		})
	}
}

func TestSplitHostPortWithDefault(t *testing.T) {
	host, port, err := splitHostPortWithDefault("example.com", "7475")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, "7475", port)

	host, port, err = splitHostPortWithDefault("example.com:123", "7475")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, "123", port)

	host, port, err = splitHostPortWithDefault("[::1]", "7475")
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.Equal(t, "7475", port)
}

// echoServer accepts one connection and echoes every frame back.
func echoServer(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					frame, err := protocol.DecodeFrame(conn)
					if err != nil {
						return
					}
					if err := protocol.EncodeFrame(conn, frame); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return lis
}

func TestConnectionRoundTrip(t *testing.T) {
	lis := echoServer(t)
	defer lis.Close()

	conn, err := NewConnection(lis.Addr().String())
	require.NoError(t, err)
	conn.DisableAutoReconnect()
	require.NoError(t, conn.Connect())
	defer conn.Close()

	require.NoError(t, conn.SendEvent(protocol.TypeMessageSend, &protocol.MessageSendEvent{
		ChannelID: 7,
		Body:      "ping",
	}))

	select {
	case frame := <-conn.Incoming():
		require.Equal(t, uint8(protocol.TypeMessageSend), frame.Type)
		var evt protocol.MessageSendEvent
		require.NoError(t, evt.Decode(frame.Payload))
		assert.Equal(t, uint64(7), evt.ChannelID)
		assert.Equal(t, "ping", evt.Body)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for echoed frame")
	}

	assert.Greater(t, conn.BytesSent(), uint64(0))
	assert.Greater(t, conn.BytesReceived(), uint64(0))
}

func TestConnectionReconnects(t *testing.T) {
	lis := echoServer(t)
	defer lis.Close()

	conn, err := NewConnection(lis.Addr().String())
	require.NoError(t, err)
	conn.reconnectDelay = 50 * time.Millisecond
	require.NoError(t, conn.Connect())
	defer conn.Close()

	// Sever the socket underneath the loops, as a server crash would
	conn.mu.Lock()
	raw := conn.conn
	conn.mu.Unlock()
	raw.Close()

	deadline := time.After(5 * time.Second)
	for !conn.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("connection never came back")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
