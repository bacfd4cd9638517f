// Package charset resolves encoding names and aliases to a canonical form and
// supplies transcoders for them.
package charset

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

// DefaultName is the canonical name of the universal default encoding.
const DefaultName = "UTF-8"

// Charset is a resolved encoding. The zero value means "no encoding".
type Charset struct {
	enc  encoding.Encoding
	name string
}

// Default returns the UTF-8 charset.
func Default() Charset {
	return Charset{name: DefaultName, enc: unicode.UTF8}
}

// Resolve maps an encoding label or alias to its canonical charset.
// IANA names and aliases are tried first, then WHATWG labels.
func Resolve(label string) (Charset, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Charset{}, xmlerrors.New(xmlerrors.ErrUnsupportedEncoding, "empty encoding name")
	}
	if isUTF8Label(label) {
		return Default(), nil
	}
	if enc, err := ianaindex.IANA.Encoding(label); err == nil && enc != nil {
		return fromEncoding(enc, label), nil
	}
	if enc, err := htmlindex.Get(label); err == nil && enc != nil {
		return fromEncoding(enc, label), nil
	}
	return Charset{}, xmlerrors.Newf(xmlerrors.ErrUnsupportedEncoding, "no local decoder for encoding %q", label)
}

// MustResolve is Resolve for names known at compile time.
func MustResolve(label string) Charset {
	cs, err := Resolve(label)
	if err != nil {
		panic(fmt.Sprintf("charset: %v", err))
	}
	return cs
}

func fromEncoding(enc encoding.Encoding, label string) Charset {
	name, err := ianaindex.MIME.Name(enc)
	if err != nil || name == "" {
		name, err = ianaindex.IANA.Name(enc)
	}
	if err != nil || name == "" {
		name = strings.ToUpper(label)
	}
	if strings.EqualFold(name, DefaultName) {
		return Default()
	}
	return Charset{name: name, enc: enc}
}

func isUTF8Label(label string) bool {
	return strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8")
}

// Name returns the canonical name, or "" for the zero value.
func (c Charset) Name() string {
	return c.name
}

// IsZero reports whether c names no encoding.
func (c Charset) IsZero() bool {
	return c.name == ""
}

// IsDefault reports whether c is UTF-8.
func (c Charset) IsDefault() bool {
	return c.name == DefaultName
}

// Equivalent reports whether c and other resolve to the same encoding.
func (c Charset) Equivalent(other Charset) bool {
	return !c.IsZero() && strings.EqualFold(c.name, other.name)
}

// Matches reports whether label resolves to c.
func (c Charset) Matches(label string) (bool, error) {
	other, err := Resolve(label)
	if err != nil {
		return false, err
	}
	return c.Equivalent(other), nil
}

// markupASCII holds every byte the declaration and wrapper handling reads or
// writes as plain bytes.
const markupASCII = "<?xml version=\"1.0\" encoding='UTF-8' standalone=\"yes\"?>\t\r\n" +
	"</>!-_.:=" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ASCIICompatible reports whether c stores markup characters as their ASCII
// bytes, in both directions. Declarations and wrapper elements are handled as
// raw bytes, so only such encodings can be corrected.
func (c Charset) ASCIICompatible() bool {
	if c.IsZero() || c.IsDefault() {
		return true
	}
	enc, err := c.Encode([]byte(markupASCII))
	if err != nil || string(enc) != markupASCII {
		return false
	}
	dec, err := c.Decode([]byte(markupASCII))
	return err == nil && string(dec) == markupASCII
}

// String implements fmt.Stringer.
func (c Charset) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return c.name
}

// Decode converts bytes in c to UTF-8.
func (c Charset) Decode(b []byte) ([]byte, error) {
	if c.IsZero() || c.IsDefault() {
		return b, nil
	}
	out, _, err := transform.Bytes(c.enc.NewDecoder(), b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	return out, nil
}

// Encode converts UTF-8 bytes to c. Characters c cannot represent are errors.
func (c Charset) Encode(b []byte) ([]byte, error) {
	if c.IsZero() || c.IsDefault() {
		return b, nil
	}
	out, _, err := transform.Bytes(c.enc.NewEncoder(), b)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.name, err)
	}
	return out, nil
}

// NewDecodingReader returns a reader yielding UTF-8 from r, which is in c.
func (c Charset) NewDecodingReader(r io.Reader) io.Reader {
	if c.IsZero() || c.IsDefault() {
		return r
	}
	return transform.NewReader(r, c.enc.NewDecoder())
}

// NewEncodingWriter returns a writer converting UTF-8 to c before writing to w.
// The returned writer must be closed to flush trailing state.
func (c Charset) NewEncodingWriter(w io.Writer) io.WriteCloser {
	if c.IsZero() || c.IsDefault() {
		return nopWriteCloser{w}
	}
	return transform.NewWriter(w, c.enc.NewEncoder())
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// ReaderFor is an encoding/xml CharsetReader backed by Resolve.
func ReaderFor(label string, input io.Reader) (io.Reader, error) {
	cs, err := Resolve(label)
	if err != nil {
		return nil, err
	}
	return cs.NewDecodingReader(input), nil
}
