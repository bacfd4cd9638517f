package sqlxml

import (
	"encoding/xml"
	"io"
	"sync"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
	"github.com/jacoelho/sqlxml/internal/declstream"
	"github.com/jacoelho/sqlxml/internal/varlena"
)

// Writable is a value produced for the host. It has one writer; Adopt hands
// the written bytes to the host.
type Writable struct {
	rt    *Runtime
	guard *varlena.Writable
	mu    sync.Mutex
	p     *producer
}

// Tag returns the type of the value.
func (w *Writable) Tag() TypeTag {
	return w.guard.Tag()
}

// producer corrects the declaration of what it is given before it reaches
// the value. A correction failure poisons the value.
type producer struct {
	mu    sync.Mutex
	dw    *declstream.Writer
	sink  io.Closer
	guard *varlena.Writable
}

func (p *producer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.dw.Write(b)
	if err != nil && !xmlerrors.IsCode(err, xmlerrors.ErrStreamClosed) {
		p.guard.Fail(err)
	}
	return n, err
}

// Close flushes a pending declaration and finishes the value.
func (p *producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.dw.Close()
	if err != nil {
		p.guard.Fail(err)
	}
	if cerr := p.sink.Close(); err == nil {
		err = cerr
	}
	return err
}

func (w *Writable) open(character bool) (*producer, error) {
	sink, err := w.guard.Open()
	if err != nil {
		return nil, err
	}
	p := &producer{
		dw:    declstream.NewWriter(sink, w.rt.config(false, character)),
		sink:  sink,
		guard: w.guard,
	}
	w.mu.Lock()
	w.p = p
	w.mu.Unlock()
	return p, nil
}

// Writer accepts bytes in the server encoding. A declared encoding must
// match the server encoding.
func (w *Writable) Writer() (io.WriteCloser, error) {
	return w.open(false)
}

// TextWriter accepts UTF-8 text and stores it in the server encoding. The
// declaration is rewritten to name the server encoding; whatever encoding it
// declared is ignored.
func (w *Writable) TextWriter() (io.WriteCloser, error) {
	return w.open(true)
}

// SetBytes writes b as the whole value.
func (w *Writable) SetBytes(b []byte) error {
	out, err := w.Writer()
	if err != nil {
		return err
	}
	return writeAll(out, b)
}

// SetString writes s as the whole value.
func (w *Writable) SetString(s string) error {
	out, err := w.TextWriter()
	if err != nil {
		return err
	}
	return writeAll(out, []byte(s))
}

func writeAll(out io.WriteCloser, b []byte) error {
	if _, err := out.Write(b); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// TokenEncoder serializes tokens into a value.
type TokenEncoder struct {
	*xml.Encoder
	p *producer
}

// Close flushes the encoder and finishes the value.
func (e *TokenEncoder) Close() error {
	err := e.Encoder.Close()
	if cerr := e.p.Close(); err == nil {
		err = cerr
	}
	return err
}

// TokenWriter returns an encoder whose output is stored in the server
// encoding.
func (w *Writable) TokenWriter() (*TokenEncoder, error) {
	p, err := w.open(true)
	if err != nil {
		return nil, err
	}
	return &TokenEncoder{Encoder: xml.NewEncoder(p), p: p}, nil
}

// Adopt hands the written bytes to the host. It fails with
// errors.ErrNotYetProduced before any writer was opened, and with the
// verification or correction error when production failed. An open writer is
// closed first.
func (w *Writable) Adopt() (*Region, error) {
	w.mu.Lock()
	p := w.p
	w.mu.Unlock()
	if p != nil {
		// Flushes a declaration still held back; the outcome reaches Adopt
		// through the guard.
		_ = p.Close()
	}
	return w.guard.Adopt()
}

// Free discards the value. It is idempotent and does nothing after Adopt.
func (w *Writable) Free() {
	w.guard.Free()
}
