package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{
			name: "valid frame - empty payload",
			frame: Frame{
				Version: 1,
				Type:    TypeLogin,
				Flags:   0,
				Payload: []byte{},
			},
			wantErr: false,
		},
		{
			name: "valid frame - with payload",
			frame: Frame{
				Version: 1,
				Type:    TypeMessageSend,
				Flags:   0,
				Payload: []byte("hello there"),
			},
			wantErr: false,
		},
		{
			name: "max payload size (1MB)",
			frame: Frame{
				Version: 1,
				Type:    TypeMessageSend,
				Flags:   0,
				Payload: make([]byte, MaxFrameSize-3), // Subtract version, type, flags
			},
			wantErr: false,
		},
		{
			name: "oversized payload (should fail)",
			frame: Frame{
				Version: 1,
				Type:    TypeMessageSend,
				Flags:   FlagCompressed, // Mark as already compressed to skip compression attempt
				Payload: make([]byte, MaxFrameSize),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			err := EncodeFrame(buf, &tt.frame)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, ErrFrameTooLarge, err)
				return
			}
			require.NoError(t, err)

			decoded, err := DecodeFrame(buf)
			require.NoError(t, err)

			assert.Equal(t, tt.frame.Version, decoded.Version)
			assert.Equal(t, tt.frame.Type, decoded.Type)
			assert.Equal(t, tt.frame.Payload, decoded.Payload)
		})
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	t.Run("empty buffer", func(t *testing.T) {
		buf := bytes.NewReader([]byte{})
		_, err := DecodeFrame(buf)
		assert.Error(t, err)
	})

	t.Run("oversized frame", func(t *testing.T) {
		buf := new(bytes.Buffer)
		WriteUint32(buf, MaxFrameSize+1)

		_, err := DecodeFrame(buf)
		assert.Error(t, err)
		assert.Equal(t, ErrFrameTooLarge, err)
	})

	t.Run("invalid frame length (too small)", func(t *testing.T) {
		// Length must be at least 3 (version + type + flags)
		buf := new(bytes.Buffer)
		WriteUint32(buf, 2)

		_, err := DecodeFrame(buf)
		assert.Error(t, err)
		assert.Equal(t, ErrInvalidFrameLength, err)
	})

	t.Run("truncated payload", func(t *testing.T) {
		buf := new(bytes.Buffer)
		WriteUint32(buf, 10) // Claims 7 payload bytes
		WriteUint8(buf, 1)
		WriteUint8(buf, TypeLogin)
		WriteUint8(buf, 0)
		buf.Write([]byte{1, 2}) // Only 2 bytes

		_, err := DecodeFrame(buf)
		assert.Error(t, err)
	})

	t.Run("corrupt compressed payload", func(t *testing.T) {
		buf := new(bytes.Buffer)
		WriteUint32(buf, 3+8)
		WriteUint8(buf, 1)
		WriteUint8(buf, TypeMessageSend)
		WriteUint8(buf, FlagCompressed)
		buf.Write([]byte{0, 0, 0, 16, 0xFF, 0xFF, 0xFF, 0xFF})

		_, err := DecodeFrame(buf)
		assert.Error(t, err)
	})
}

func TestCompressionRoundTrip(t *testing.T) {
	t.Run("large compressible payload is compressed on the wire", func(t *testing.T) {
		payload := bytes.Repeat([]byte("all work and no play "), 100)
		require.Greater(t, len(payload), CompressionThreshold)

		buf := new(bytes.Buffer)
		err := EncodeFrame(buf, &Frame{
			Version: ProtocolVersion,
			Type:    TypeMessageSend,
			Payload: payload,
		})
		require.NoError(t, err)

		// Wire frame should be smaller than the raw payload
		assert.Less(t, buf.Len(), len(payload))

		decoded, err := DecodeFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, payload, decoded.Payload)
		// Compression flag is cleared after transparent decompression
		assert.Zero(t, decoded.Flags&FlagCompressed)
	})

	t.Run("small payload is not compressed", func(t *testing.T) {
		payload := []byte("short")

		buf := new(bytes.Buffer)
		err := EncodeFrame(buf, &Frame{
			Version: ProtocolVersion,
			Type:    TypeMessageSend,
			Payload: payload,
		})
		require.NoError(t, err)

		raw := buf.Bytes()
		// Flags byte on the wire has no compression bit
		assert.Zero(t, raw[6]&FlagCompressed)
	})
}

func TestCompressPayload(t *testing.T) {
	t.Run("incompressible data returned as-is", func(t *testing.T) {
		data := make([]byte, 64)
		for i := range data {
			data[i] = byte(i * 37)
		}
		out, compressed := CompressPayload(data)
		if !compressed {
			assert.Equal(t, data, out)
		}
	})

	t.Run("empty payload", func(t *testing.T) {
		out, compressed := CompressPayload(nil)
		assert.False(t, compressed)
		assert.Empty(t, out)
	})

	t.Run("round trip", func(t *testing.T) {
		data := bytes.Repeat([]byte("channel message payload "), 50)
		out, compressed := CompressPayload(data)
		require.True(t, compressed)
		require.Less(t, len(out), len(data))

		back, err := DecompressPayload(out)
		require.NoError(t, err)
		assert.Equal(t, data, back)
	})
}

func TestEncodeDecodeEvent(t *testing.T) {
	payload, err := (&FriendAddEvent{Username: "bob"}).Encode()
	require.NoError(t, err)

	data, err := EncodeEvent(TypeFriendAdd, payload)
	require.NoError(t, err)

	frame, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(TypeFriendAdd), frame.Type)
	assert.Equal(t, payload, frame.Payload)
}
