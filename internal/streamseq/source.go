package streamseq

import (
	"io"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

// Source is one constituent of a Sequence.
type Source interface {
	io.Reader
	io.Closer
}

// Marker is implemented by sources able to return to a recorded position.
// Mark with limit <= 0 cancels an outstanding mark.
type Marker interface {
	MarkSupported() bool
	Mark(limit int) error
	Reset() error
}

var (
	errClosed  = xmlerrors.New(xmlerrors.ErrStreamClosed, "read from closed source")
	errNoMark  = xmlerrors.New(xmlerrors.ErrMarkNotSet, "reset without mark")
	errNoReset = xmlerrors.New(xmlerrors.ErrResetUnsupported, "source does not support reset")
)

// ByteSource reads from an in-memory slice. It never copies the slice and
// supports mark and reset without bound.
type ByteSource struct {
	data   []byte
	off    int
	mark   int
	closed bool
}

// Bytes returns a markable source over b.
func Bytes(b []byte) *ByteSource {
	return &ByteSource{data: b, mark: -1}
}

func (s *ByteSource) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errClosed
	}
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.off:])
	s.off += n
	return n, nil
}

// Len reports the number of unread bytes.
func (s *ByteSource) Len() int {
	return len(s.data) - s.off
}

func (s *ByteSource) MarkSupported() bool { return true }

func (s *ByteSource) Mark(limit int) error {
	if s.closed {
		return errClosed
	}
	if limit <= 0 {
		s.mark = -1
		return nil
	}
	s.mark = s.off
	return nil
}

func (s *ByteSource) Reset() error {
	if s.closed {
		return errClosed
	}
	if s.mark < 0 {
		return errNoMark
	}
	s.off = s.mark
	return nil
}

func (s *ByteSource) Close() error {
	s.closed = true
	return nil
}

// ReaderSource adapts a plain io.Reader. It does not support marking.
// Close closes the reader when it implements io.Closer.
type ReaderSource struct {
	r      io.Reader
	closed bool
}

// Reader returns a non-markable source over r.
func Reader(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errClosed
	}
	return s.r.Read(p)
}

func (s *ReaderSource) MarkSupported() bool { return false }

func (s *ReaderSource) Mark(int) error { return errNoReset }

func (s *ReaderSource) Reset() error { return errNoReset }

func (s *ReaderSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// BufferedSource makes any io.Reader markable by recording the bytes read
// after a mark, up to the mark's limit. Reading past the limit drops the mark.
type BufferedSource struct {
	r       io.Reader
	buf     []byte
	pos     int
	limit   int
	marking bool
	closed  bool
}

// Buffered returns a markable source over r.
func Buffered(r io.Reader) *BufferedSource {
	return &BufferedSource{r: r}
}

func (s *BufferedSource) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errClosed
	}
	if s.pos < len(s.buf) {
		n := copy(p, s.buf[s.pos:])
		s.pos += n
		return n, nil
	}
	n, err := s.r.Read(p)
	if n > 0 && s.marking {
		if len(s.buf)+n > s.limit {
			s.marking = false
			s.buf = nil
		} else {
			s.buf = append(s.buf, p[:n]...)
		}
		s.pos = len(s.buf)
	}
	return n, err
}

func (s *BufferedSource) MarkSupported() bool { return true }

func (s *BufferedSource) Mark(limit int) error {
	if s.closed {
		return errClosed
	}
	if limit <= 0 {
		s.marking = false
		s.buf = s.buf[s.pos:]
		s.pos = 0
		if len(s.buf) == 0 {
			s.buf = nil
		}
		return nil
	}
	// Unreplayed bytes stay buffered ahead of the new mark.
	s.buf = append(s.buf[:0], s.buf[s.pos:]...)
	s.pos = 0
	s.limit = max(limit, len(s.buf))
	s.marking = true
	return nil
}

func (s *BufferedSource) Reset() error {
	if s.closed {
		return errClosed
	}
	if !s.marking {
		return errNoMark
	}
	s.pos = 0
	return nil
}

func (s *BufferedSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf = nil
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
