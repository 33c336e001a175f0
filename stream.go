package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// RandomAccessStream is a seekable input a Demuxer can probe and rewind.
type RandomAccessStream interface {
	io.ReadSeeker
	// Reset rewinds to the first byte.
	Reset() error
}

// FileStream is a RandomAccessStream over a file on disk.
type FileStream struct {
	*os.File
}

// OpenFileStream opens path for reading.
func OpenFileStream(path string) (*FileStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return &FileStream{File: f}, nil
}

func (s *FileStream) Reset() error {
	_, err := s.Seek(0, io.SeekStart)
	return err
}

// BytesStream is a RandomAccessStream over an in-memory buffer.
type BytesStream struct {
	*bytes.Reader
}

// NewBytesStream wraps b. The slice must not be modified while in use.
func NewBytesStream(b []byte) *BytesStream {
	return &BytesStream{Reader: bytes.NewReader(b)}
}

func (s *BytesStream) Reset() error {
	_, err := s.Seek(0, io.SeekStart)
	return err
}

// Close is a no-op so BytesStream can stand in for a file.
func (s *BytesStream) Close() error { return nil }

// MemWriteSeeker is an in-memory io.WriteSeeker for container writers that
// patch headers after the payload.
type MemWriteSeeker struct {
	buf []byte
	pos int
}

func (m *MemWriteSeeker) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *MemWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position %d", abs)
	}
	m.pos = int(abs)
	return abs, nil
}

// Bytes returns the written contents.
func (m *MemWriteSeeker) Bytes() []byte { return m.buf }
