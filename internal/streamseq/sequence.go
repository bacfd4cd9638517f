// Package streamseq composes byte sources into one logical stream whose mark
// and reset span source boundaries.
package streamseq

import (
	"errors"
	"io"

	"github.com/containerd/log"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

type support uint8

const (
	supportUnknown support = iota
	supportYes
	supportNo
)

// Sequence reads its sources in order. A finished source is closed as soon as
// the cursor leaves it, unless an outstanding mark pins it for a later reset.
// Sources below the mark index are always closed. A Sequence is itself a
// markable Source, so sequences nest.
//
// A Sequence is not safe for concurrent use.
type Sequence struct {
	sources   []Source
	cursor    int
	mark      int
	markLimit int
	remaining int
	closed    bool
	supported support
}

// New returns a sequence over sources. Nil sources are skipped.
func New(sources ...Source) *Sequence {
	s := &Sequence{mark: -1}
	for _, src := range sources {
		if src != nil {
			s.sources = append(s.sources, src)
		}
	}
	return s
}

var (
	errSequenceClosed = xmlerrors.New(xmlerrors.ErrStreamClosed, "stream sequence is closed")
	errMarkLost       = xmlerrors.New(xmlerrors.ErrMarkNotSet, "mark invalidated by read limit")
)

func (s *Sequence) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errSequenceClosed
	}
	for s.cursor < len(s.sources) {
		n, err := s.sources[s.cursor].Read(p)
		if n > 0 {
			s.consumed(n)
			if err == io.EOF {
				err = nil
			}
			return n, err
		}
		switch {
		case err == io.EOF:
			if err := s.advance(); err != nil {
				return 0, err
			}
		case err != nil:
			return 0, err
		default:
			return 0, nil
		}
	}
	return 0, io.EOF
}

func (s *Sequence) consumed(n int) {
	if s.mark < 0 {
		return
	}
	s.remaining -= n
	if s.remaining < 0 {
		s.dropMark()
	}
}

// advance moves past the current source. The source is closed unless a mark
// pins it; the next source inherits the mark at its start.
func (s *Sequence) advance() error {
	done := s.cursor
	s.cursor++
	if s.mark < 0 {
		return s.closeAt(done)
	}
	if s.cursor < len(s.sources) {
		if m, ok := s.sources[s.cursor].(Marker); ok && m.MarkSupported() {
			return m.Mark(s.remaining + 1)
		}
	}
	return nil
}

func (s *Sequence) closeAt(i int) error {
	src := s.sources[i]
	if src == nil {
		return nil
	}
	s.sources[i] = nil
	return src.Close()
}

// releasePinned closes every source a mark kept open behind the cursor.
func (s *Sequence) releasePinned() error {
	if s.mark < 0 {
		return nil
	}
	var errs []error
	for i := s.mark; i < s.cursor && i < len(s.sources); i++ {
		if err := s.closeAt(i); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sequence) dropMark() {
	if err := s.releasePinned(); err != nil {
		log.L.WithError(err).Debug("closing sources pinned by dropped mark")
	}
	s.mark = -1
	s.markLimit = -1
	s.remaining = 0
}

// Mark records the current position as the reset point, allowing up to limit
// bytes to be read before the mark is dropped. Sources kept open for a
// previous mark are closed. A limit <= 0 cancels the mark.
func (s *Sequence) Mark(limit int) error {
	if s.closed {
		return errSequenceClosed
	}
	err := s.releasePinned()
	if limit <= 0 {
		s.mark = -1
		s.markLimit = 0
		s.remaining = 0
		return err
	}
	s.mark = s.cursor
	s.markLimit = limit
	s.remaining = limit
	if s.cursor < len(s.sources) {
		if m, ok := s.sources[s.cursor].(Marker); ok && m.MarkSupported() {
			err = errors.Join(err, m.Mark(limit+1))
		}
	}
	return err
}

// Reset rewinds to the mark. Every source visited since the mark must
// support reset; nothing is rewound when one does not.
func (s *Sequence) Reset() error {
	if s.closed {
		return errSequenceClosed
	}
	if s.mark < 0 {
		if s.markLimit < 0 {
			return errMarkLost
		}
		return errNoMark
	}
	last := min(s.cursor, len(s.sources)-1)
	markers := make([]Marker, 0, last-s.mark+1)
	for i := s.mark; i <= last; i++ {
		m, ok := s.sources[i].(Marker)
		if !ok || !m.MarkSupported() {
			return errNoReset
		}
		markers = append(markers, m)
	}
	for i := len(markers) - 1; i >= 0; i-- {
		if err := markers[i].Reset(); err != nil {
			return err
		}
	}
	s.cursor = s.mark
	s.remaining = s.markLimit
	return nil
}

// MarkSupported reports whether every source from the mark, or from the
// cursor when no mark is set, supports marking. The answer is computed on the
// first call and never changes afterwards.
func (s *Sequence) MarkSupported() bool {
	if s.supported == supportUnknown {
		s.supported = s.computeSupport()
	}
	return s.supported == supportYes
}

func (s *Sequence) computeSupport() support {
	if s.closed {
		return supportNo
	}
	start := s.cursor
	if s.mark >= 0 {
		start = s.mark
	}
	for _, src := range s.sources[start:] {
		m, ok := src.(Marker)
		if !ok || !m.MarkSupported() {
			return supportNo
		}
	}
	return supportYes
}

// Close closes every source still open. It is safe to call more than once.
func (s *Sequence) Close() error {
	if s.closed {
		log.L.Debug("stream sequence closed more than once")
		return nil
	}
	s.closed = true
	var errs []error
	for i := range s.sources {
		if err := s.closeAt(i); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
