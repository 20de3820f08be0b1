package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// MaxStringLength is the maximum length of a wire string (64 KB - 1)
	MaxStringLength = 65535
)

var (
	ErrStringTooLong = errors.New("string exceeds maximum wire length")
	ErrListTooLong   = errors.New("list exceeds maximum wire length")
)

// WriteUint8 writes a single byte
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint8 reads a single byte
func ReadUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteUint16 writes a big-endian uint16
func WriteUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint16 reads a big-endian uint16
func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// WriteUint32 writes a big-endian uint32
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 reads a big-endian uint32
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteUint64 writes a big-endian uint64
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint64 reads a big-endian uint64
func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// WriteBool writes a bool as a single byte (0x00 or 0x01)
func WriteBool(w io.Writer, v bool) error {
	if v {
		return WriteUint8(w, 1)
	}
	return WriteUint8(w, 0)
}

// ReadBool reads a single-byte bool
func ReadBool(r io.Reader) (bool, error) {
	b, err := ReadUint8(r)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// WriteString writes a length-prefixed UTF-8 string (uint16 length)
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLength {
		return ErrStringTooLong
	}
	if err := WriteUint16(w, uint16(len(s))); err != nil {
		return err
	}
	if len(s) > 0 {
		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadString reads a length-prefixed UTF-8 string (uint16 length)
func ReadString(r io.Reader) (string, error) {
	length, err := ReadUint16(r)
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteStringList writes a uint16 count followed by that many strings
func WriteStringList(w io.Writer, list []string) error {
	if len(list) > MaxStringLength {
		return ErrStringTooLong
	}
	if err := WriteUint16(w, uint16(len(list))); err != nil {
		return err
	}
	for _, s := range list {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadStringList reads a uint16 count followed by that many strings
func ReadStringList(r io.Reader) ([]string, error) {
	count, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	list := make([]string, 0, count)
	for i := uint16(0); i < count; i++ {
		s, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, nil
}

// WriteUint64List writes a uint16 count followed by that many uint64s
func WriteUint64List(w io.Writer, list []uint64) error {
	if len(list) > MaxStringLength {
		return ErrStringTooLong
	}
	if err := WriteUint16(w, uint16(len(list))); err != nil {
		return err
	}
	for _, v := range list {
		if err := WriteUint64(w, v); err != nil {
			return err
		}
	}
	return nil
}

// ReadUint64List reads a uint16 count followed by that many uint64s
func ReadUint64List(r io.Reader) ([]uint64, error) {
	count, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	list := make([]uint64, 0, count)
	for i := uint16(0); i < count; i++ {
		v, err := ReadUint64(r)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, nil
}
