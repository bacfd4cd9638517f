package declstream

import (
	"io"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
	"github.com/jacoelho/sqlxml/internal/charset"
	"github.com/jacoelho/sqlxml/internal/declprobe"
)

var errWriterClosed = xmlerrors.New(xmlerrors.ErrStreamClosed, "write to closed declaration writer")

// Writer holds back the head of what is written until the declaration
// resolves, emits the corrected declaration, and forwards everything after it
// unchanged. In character mode the output is transcoded to the server
// encoding. Close flushes a declaration that never resolved; it does not
// close the destination.
type Writer struct {
	out      io.Writer
	enc      io.WriteCloser
	probe    *declprobe.Probe
	server   charset.Charset
	err      error
	strict   bool
	char     bool
	resolved bool
	closed   bool
}

// NewWriter returns a correcting writer over dst.
func NewWriter(dst io.Writer, cfg Config) *Writer {
	w := &Writer{
		out:    dst,
		probe:  declprobe.New(cfg.Kind),
		server: cfg.server(),
		strict: cfg.Strict,
		char:   cfg.Character,
	}
	if w.char {
		w.enc = w.server.NewEncodingWriter(dst)
		w.out = w.enc
	}
	return w
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	if w.resolved {
		n, err := w.out.Write(p)
		if err != nil {
			w.err = err
		}
		return n, err
	}
	if _, err := w.probe.Write(p); err != nil {
		w.err = err
		return 0, err
	}
	if w.probe.Resolved() {
		if err := w.flush(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// flush emits the corrected declaration and the bytes held back with it.
func (w *Writer) flush() error {
	w.resolved = true
	if !w.char {
		if err := w.probe.CheckEncoding(w.server, w.strict); err != nil {
			w.err = err
			return err
		}
	}
	prefix, err := w.probe.Prefix(w.server)
	if err == nil && len(prefix) > 0 {
		_, err = w.out.Write(prefix)
	}
	if err != nil {
		w.err = err
	}
	return err
}

// Resolved reports whether the declaration has been emitted.
func (w *Writer) Resolved() bool {
	return w.resolved
}

// Declaration returns the declaration the writer saw. It is only meaningful
// once Resolved reports true.
func (w *Writer) Declaration() declprobe.Decl {
	return w.probe.Declaration()
}

// Close forces resolution when fewer bytes than a full declaration were
// written, flushes any transcoder, and is safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if !w.resolved {
		if err := w.probe.Finish(); err != nil {
			w.err = err
			return err
		}
		if err := w.flush(); err != nil {
			return err
		}
	}
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			w.err = err
			return err
		}
	}
	return nil
}
