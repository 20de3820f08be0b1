package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/pierrec/lz4/v4"
)

const (
	// MaxFrameSize is the maximum allowed frame size (1 MB)
	MaxFrameSize = 1024 * 1024

	// ProtocolVersion is the current protocol version
	ProtocolVersion = 1

	// CompressionThreshold is the minimum payload size to consider compression (512 bytes)
	CompressionThreshold = 512
)

// Flag constants
const (
	FlagCompressed = 0x01 // Bit 0: LZ4-compressed payload
)

var (
	ErrFrameTooLarge        = errors.New("frame exceeds maximum size (1 MB)")
	ErrInvalidFrameLength   = errors.New("invalid frame length")
	ErrDecompressionFailed  = errors.New("decompression failed")
	ErrInvalidCompressedLen = errors.New("invalid compressed payload length")
)

// Frame is the unit of transmission on the wire.
// Format: [Length (4 bytes)][Version (1 byte)][Type (1 byte)][Flags (1 byte)][Payload (N bytes)]
type Frame struct {
	Version uint8
	Type    uint8
	Flags   uint8
	Payload []byte
}

// CompressPayload compresses data using LZ4 and prepends the uncompressed size.
// Format: [Uncompressed Size (4 bytes, big-endian)][LZ4 block]
// Returns the original data if compression doesn't reduce size.
func CompressPayload(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}

	maxCompressedSize := lz4.CompressBlockBound(len(data))
	compressed := make([]byte, 4+maxCompressedSize)

	binary.BigEndian.PutUint32(compressed[:4], uint32(len(data)))

	n, err := lz4.CompressBlock(data, compressed[4:], nil)
	if err != nil || n == 0 {
		// Compression failed or data is incompressible
		return data, false
	}

	compressedTotal := 4 + n
	if compressedTotal >= len(data) {
		return data, false
	}

	return compressed[:compressedTotal], true
}

// DecompressPayload decompresses an LZ4 payload produced by CompressPayload.
func DecompressPayload(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrInvalidCompressedLen
	}

	uncompressedSize := binary.BigEndian.Uint32(data[:4])
	if uncompressedSize > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	decompressed := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[4:], decompressed)
	if err != nil {
		return nil, ErrDecompressionFailed
	}
	if n != int(uncompressedSize) {
		return nil, ErrDecompressionFailed
	}

	return decompressed, nil
}

// EncodeFrame writes a frame to the writer, automatically compressing payloads
// larger than CompressionThreshold when compression saves space.
func EncodeFrame(w io.Writer, f *Frame) error {
	payload := f.Payload
	flags := f.Flags

	if len(payload) >= CompressionThreshold && flags&FlagCompressed == 0 {
		compressed, wasCompressed := CompressPayload(payload)
		if wasCompressed {
			payload = compressed
			flags |= FlagCompressed
		}
	}

	// Length covers version + type + flags + payload
	length := uint32(1 + 1 + 1 + len(payload))
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}

	if err := WriteUint32(w, length); err != nil {
		return err
	}
	if err := WriteUint8(w, f.Version); err != nil {
		return err
	}
	if err := WriteUint8(w, f.Type); err != nil {
		return err
	}
	if err := WriteUint8(w, flags); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}

	type flusher interface {
		Flush() error
	}
	if fl, ok := w.(flusher); ok {
		return fl.Flush()
	}

	return nil
}

// DecodeFrame reads a single frame from the reader, decompressing the payload
// if the compression flag is set.
func DecodeFrame(r io.Reader) (*Frame, error) {
	length, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}

	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length < 3 {
		return nil, ErrInvalidFrameLength
	}

	version, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}
	frameType, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}
	flags, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}

	payloadLen := length - 3
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	if flags&FlagCompressed != 0 && len(payload) > 0 {
		decompressed, err := DecompressPayload(payload)
		if err != nil {
			return nil, err
		}
		payload = decompressed
		flags &^= FlagCompressed
	}

	return &Frame{
		Version: version,
		Type:    frameType,
		Flags:   flags,
		Payload: payload,
	}, nil
}

// EncodeEvent is a helper that frames an encoded event payload into a byte slice.
func EncodeEvent(msgType uint8, payload []byte) ([]byte, error) {
	frame := &Frame{
		Version: ProtocolVersion,
		Type:    msgType,
		Flags:   0,
		Payload: payload,
	}

	buf := new(bytes.Buffer)
	if err := EncodeFrame(buf, frame); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeEvent is a helper that decodes a frame from a byte slice.
func DecodeEvent(data []byte) (*Frame, error) {
	return DecodeFrame(bytes.NewReader(data))
}
