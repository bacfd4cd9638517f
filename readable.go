package sqlxml

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/jacoelho/sqlxml/internal/declstream"
	"github.com/jacoelho/sqlxml/internal/unwrap"
	"github.com/jacoelho/sqlxml/internal/varlena"
	"github.com/jacoelho/sqlxml/internal/xmltree"
)

// Readable is a value the host handed over for reading. Exactly one of the
// access methods may succeed, or Adopt may hand the value back untouched.
type Readable struct {
	rt    *Runtime
	guard *varlena.Readable
}

// Tag returns the type the host declared for the value.
func (r *Readable) Tag() TypeTag {
	return r.guard.Tag()
}

// Stream is a corrected byte stream over a value.
type Stream struct {
	dr *declstream.Reader
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.dr.Read(p)
}

// Close releases the value's region back to the host. It is safe to call
// more than once.
func (s *Stream) Close() error {
	return s.dr.Close()
}

// Declaration returns the declaration found in the stored bytes.
func (s *Stream) Declaration() Declaration {
	return s.dr.Declaration()
}

// Wrapped reports whether a synthetic root surrounds the content.
func (s *Stream) Wrapped() bool {
	return s.dr.Wrapped()
}

func (r *Readable) open(parsed, character bool) (*declstream.Reader, error) {
	view, err := r.guard.Claim()
	if err != nil {
		return nil, err
	}
	dr, err := declstream.NewReader(view, r.rt.config(parsed, character))
	if err != nil {
		return nil, err
	}
	if parsed {
		r.rt.metrics.Wrap(dr.Wrapped())
	}
	return dr, nil
}

// Bytes returns the stored bytes in the server encoding, led by a
// declaration that names it.
func (r *Readable) Bytes() (*Stream, error) {
	dr, err := r.open(false, false)
	if err != nil {
		return nil, err
	}
	return &Stream{dr: dr}, nil
}

// TextReader returns the value decoded to UTF-8, led by a declaration
// without an encoding.
func (r *Readable) TextReader() (*Stream, error) {
	dr, err := r.open(false, true)
	if err != nil {
		return nil, err
	}
	return &Stream{dr: dr}, nil
}

// ReadString returns the whole value as UTF-8 text.
func (r *Readable) ReadString() (string, error) {
	s, err := r.TextReader()
	if err != nil {
		return "", err
	}
	defer s.Close()
	var b strings.Builder
	if _, err := io.Copy(&b, s); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Tokens is a pull parser over a value. When the content needed a synthetic
// root, that root is never returned.
type Tokens struct {
	tr       xml.TokenReader
	dr       *declstream.Reader
	maxDepth int
}

// Token returns the next token, or io.EOF at the end of the value.
func (t *Tokens) Token() (xml.Token, error) {
	return t.tr.Token()
}

// Close releases the value's region back to the host.
func (t *Tokens) Close() error {
	return t.dr.Close()
}

// Declaration returns the declaration found in the stored bytes.
func (t *Tokens) Declaration() Declaration {
	return t.dr.Declaration()
}

// Wrapped reports whether the parser saw a synthetic root.
func (t *Tokens) Wrapped() bool {
	return t.dr.Wrapped()
}

// TokenReader returns a pull parser over the value.
func (r *Readable) TokenReader() (*Tokens, error) {
	dr, err := r.open(true, true)
	if err != nil {
		return nil, err
	}
	var tr xml.TokenReader = xml.NewDecoder(dr)
	if dr.Wrapped() {
		tr = unwrap.Tokens(tr, r.rt.wrapName())
	}
	return &Tokens{tr: tr, dr: dr, maxDepth: r.rt.limits.maxDepth}, nil
}

// Tree consumes the remaining tokens into a document node whose children
// are the top-level nodes of the content.
func (t *Tokens) Tree() (*Node, error) {
	return xmltree.Build(t.tr, t.maxDepth)
}

// Tree parses the value into a document node whose children are the
// top-level nodes of the content.
func (r *Readable) Tree() (*Node, error) {
	t, err := r.TokenReader()
	if err != nil {
		return nil, err
	}
	defer t.Close()
	return t.Tree()
}

// Walk parses the value and calls h for every token in order. It stops at
// the first handler error or when ctx is done.
func (r *Readable) Walk(ctx context.Context, h Handler) error {
	t, err := r.TokenReader()
	if err != nil {
		return err
	}
	defer t.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := t.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := h.dispatch(ctx, tok); err != nil {
			return err
		}
	}
}

// Adopt hands the region back to the host, which expects a value of type
// expected. It fails once the value has been read. The region is verified
// first when expected differs from the declared type.
func (r *Readable) Adopt(expected TypeTag) (*Region, error) {
	return r.guard.Adopt(expected)
}

// Free releases the region. It is idempotent and does nothing after Adopt.
// Once a stream was opened the stream owns the region, and closing it is what
// releases the region.
func (r *Readable) Free() {
	r.guard.Free()
}
