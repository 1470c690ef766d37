package go_cdp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Stream provides CDP-specific message serialization operations.
// It wraps bytes.Buffer and adds methods for reading/writing CDP wire
// structures.
//
// The Stream type focuses on CDP protocol serialization including:
//   - Binary integer encoding (big-endian uint16/32/64)
//   - Length-prefixed strings (uint16 length prefix)
//   - Fixed-size byte fields (nonces, public key coordinates)
//
// For general binary operations outside CDP, use encoding/binary directly.
type Stream struct {
	*bytes.Buffer
}

// NewStream creates a new Stream from a byte slice.
// The Stream wraps a bytes.Buffer initialized with the provided data.
func NewStream(buf []byte) *Stream {
	return &Stream{bytes.NewBuffer(buf)}
}

// ReadUint16 reads a big-endian uint16 from the stream.
// This is commonly used for flags, HMAC sizes and length prefixes.
func (s *Stream) ReadUint16() (uint16, error) {
	bts := make([]byte, 2)
	if _, err := readFull(s, bts); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(bts), nil
}

// ReadUint32 reads a big-endian uint32 from the stream.
// This is commonly used for payload sizes and sequence numbers.
func (s *Stream) ReadUint32() (uint32, error) {
	bts := make([]byte, 4)
	if _, err := readFull(s, bts); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(bts), nil
}

// ReadUint64 reads a big-endian uint64 from the stream.
// This is commonly used for composite session ids, request ids and
// channel ids.
func (s *Stream) ReadUint64() (uint64, error) {
	bts := make([]byte, 8)
	if _, err := readFull(s, bts); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(bts), nil
}

// WriteUint16 writes a big-endian uint16 to the stream.
func (s *Stream) WriteUint16(i uint16) error {
	bts := make([]byte, 2)
	binary.BigEndian.PutUint16(bts, i)
	_, err := s.Write(bts)
	return err
}

// WriteUint32 writes a big-endian uint32 to the stream.
func (s *Stream) WriteUint32(i uint32) error {
	bts := make([]byte, 4)
	binary.BigEndian.PutUint32(bts, i)
	_, err := s.Write(bts)
	return err
}

// WriteUint64 writes a big-endian uint64 to the stream.
func (s *Stream) WriteUint64(i uint64) error {
	bts := make([]byte, 8)
	binary.BigEndian.PutUint64(bts, i)
	_, err := s.Write(bts)
	return err
}

// ReadFixed reads exactly n bytes from the stream.
// Returns an error if fewer than n bytes remain.
func (s *Stream) ReadFixed(n int) ([]byte, error) {
	bts := make([]byte, n)
	if _, err := readFull(s, bts); err != nil {
		return nil, err
	}
	return bts, nil
}

// WriteLenPrefixedBytes writes a byte slice prefixed by its length as a
// big-endian uint16. This is the CDP encoding for variable-size fields
// such as public key coordinates and certificate blobs.
func (s *Stream) WriteLenPrefixedBytes(b []byte) error {
	if len(b) > 0xFFFF {
		return fmt.Errorf("field too long: %d bytes (max 65535)", len(b))
	}
	if err := s.WriteUint16(uint16(len(b))); err != nil {
		return err
	}
	_, err := s.Write(b)
	return err
}

// ReadLenPrefixedBytes reads a uint16-length-prefixed byte slice.
func (s *Stream) ReadLenPrefixedBytes() ([]byte, error) {
	n, err := s.ReadUint16()
	if err != nil {
		return nil, err
	}
	return s.ReadFixed(int(n))
}

// WriteLenPrefixedString writes a string prefixed by its length as a
// big-endian uint16. Used for app ids, app names and endpoint hosts.
func (stream *Stream) WriteLenPrefixedString(s string) error {
	return stream.WriteLenPrefixedBytes([]byte(s))
}

// ReadLenPrefixedString reads a uint16-length-prefixed string.
func (s *Stream) ReadLenPrefixedString() (string, error) {
	b, err := s.ReadLenPrefixedBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Seek provides limited support for repositioning within the stream.
// Currently only supports Seek(0, 0) to reset to the beginning.
//
// For full io.Seeker support, use bytes.Reader instead.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if whence == 0 && offset == 0 {
		data := s.Bytes()
		s.Buffer = bytes.NewBuffer(data)
		return 0, nil
	}
	return 0, fmt.Errorf("seek operation only supports reset to beginning (0, 0)")
}

// readFull reads len(buf) bytes, failing on short reads. bytes.Buffer
// returns however many bytes remain, so a plain Read can silently
// truncate multi-byte integers at the end of a frame.
func readFull(s *Stream, buf []byte) (int, error) {
	n, err := s.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("short read: got %d of %d bytes", n, len(buf))
	}
	return n, nil
}
