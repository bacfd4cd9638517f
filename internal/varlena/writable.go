package varlena

import (
	"bytes"
	"io"
	"sync"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
	"github.com/jacoelho/sqlxml/internal/metrics"
	"github.com/jacoelho/sqlxml/internal/verify"
)

var (
	errNotProduced = xmlerrors.New(xmlerrors.ErrNotYetProduced, "adopt before any write")
	errSinkClosed  = xmlerrors.New(xmlerrors.ErrStreamClosed, "write to closed value")
	errFreed       = xmlerrors.New(xmlerrors.ErrAlreadyFreed, "value freed while writing")
)

// Writable is a value produced here for the host. It has one writer. When a
// verifier is set the bytes are verified inline as they are written, on a
// separate goroutine that sees nothing but the bytes.
type Writable struct {
	verifier verify.Verifier
	metrics  *metrics.Set
	mu       sync.Mutex
	sink     *sink
	cell     claimCell
	tag      TypeTag
}

// NewWritable returns an empty value of type tag. A nil or NoOp verifier
// disables inline verification.
func NewWritable(tag TypeTag, v verify.Verifier, m *metrics.Set) *Writable {
	if _, ok := v.(verify.NoOp); ok {
		v = nil
	}
	return &Writable{tag: tag, verifier: v, metrics: m}
}

// Tag returns the type tag of the value.
func (w *Writable) Tag() TypeTag {
	return w.tag
}

// Open claims the single writer. Close the returned writer to finish
// production; Adopt also finishes it.
func (w *Writable) Open() (io.WriteCloser, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	observed, ok := w.cell.claim(stateFresh, stateClaimed)
	if !ok {
		err := claimError(observed, "write")
		w.metrics.Claim("write", err)
		return nil, err
	}
	w.metrics.Claim("write", nil)
	s := &sink{owner: w}
	if w.verifier != nil {
		s.pipe = verify.NewPipe(w.verifier)
	}
	w.sink = s
	return s, nil
}

func (w *Writable) currentSink() *sink {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sink
}

// Adopt hands the produced bytes to the host. It fails with
// ErrNotYetProduced before Open, with ErrAlreadyConsumed when already
// adopted, and with the verification error when inline verification failed.
// A writer still open is closed first.
func (w *Writable) Adopt() (*Region, error) {
	for {
		observed := w.cell.load()
		switch observed {
		case stateFresh:
			w.metrics.Claim("adopt", errNotProduced)
			return nil, errNotProduced
		case stateClaimed:
			if s := w.currentSink(); s != nil {
				_ = s.Close()
			}
			continue
		case stateProduced:
			if _, ok := w.cell.claim(stateProduced, stateAdopted); !ok {
				continue
			}
		default:
			err := claimError(observed, "adopt")
			w.metrics.Claim("adopt", err)
			return nil, err
		}
		break
	}
	w.metrics.Claim("adopt", nil)

	s := w.currentSink()
	if s.err != nil {
		w.cell.store(stateFreed)
		s.buf = bytes.Buffer{}
		return nil, s.err
	}
	w.metrics.Adopt("produced")
	return NewRegion(s.buf.Bytes(), nil), nil
}

// Fail records err as the outcome of production when the producer gives up
// on a value it has open. A later Adopt returns err and frees the value.
func (w *Writable) Fail(err error) {
	s := w.currentSink()
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Free discards the value. It is idempotent, stops a running verifier, and
// does nothing after Adopt.
func (w *Writable) Free() {
	observed, ok := w.cell.release()
	if !ok {
		return
	}
	s := w.currentSink()
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if observed == stateClaimed && s.pipe != nil && !s.closed {
		s.pipe.Abort(errFreed)
	}
	s.closed = true
	s.buf = bytes.Buffer{}
}

type sink struct {
	owner  *Writable
	pipe   *verify.Pipe
	err    error
	buf    bytes.Buffer
	mu     sync.Mutex
	closed bool
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSinkClosed
	}
	if s.err != nil {
		return 0, s.err
	}
	if s.pipe != nil {
		if _, err := s.pipe.Write(p); err != nil {
			s.err = err
			return 0, err
		}
	}
	return s.buf.Write(p)
}

// Close ends production and waits for inline verification.
func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true
	if s.pipe != nil {
		err := s.pipe.Close()
		if s.err == nil {
			s.err = err
		}
		s.owner.metrics.Verification(s.err)
	}
	s.owner.cell.claim(stateClaimed, stateProduced)
	return s.err
}
