// Package verify checks that bytes conform to a content type before the host
// trusts them.
package verify

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
	"github.com/jacoelho/sqlxml/internal/charset"
	"github.com/jacoelho/sqlxml/internal/declprobe"
)

// Buffer is a fully materialized input with its own cursor.
type Buffer interface {
	io.Reader
	// Len reports the bytes left after the cursor.
	Len() int
}

// Verifier checks content. VerifyBuffer must leave b's cursor at the end on
// success. VerifyStream must read r to end of input on success; it may run
// on a goroutine other than the producer's and receives nothing but r.
type Verifier interface {
	VerifyBuffer(b Buffer) error
	VerifyStream(r io.Reader) error
}

func failed(err error, msg string) error {
	return xmlerrors.Wrap(xmlerrors.ErrVerificationFailed, err, msg)
}

func bufferViaStream(v Verifier, b Buffer) error {
	if err := v.VerifyStream(b); err != nil {
		return err
	}
	if b.Len() != 0 {
		return failed(nil, fmt.Sprintf("%d bytes left unverified", b.Len()))
	}
	return nil
}

// NoOp accepts anything. It suits producers that are well-formed by
// construction.
type NoOp struct{}

func (NoOp) VerifyBuffer(b Buffer) error {
	_, err := io.Copy(io.Discard, b)
	return err
}

func (NoOp) VerifyStream(r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// XML accepts well-formed XML content: any sequence of elements, character
// data, comments and processing instructions at top level, in Charset.
type XML struct {
	Charset charset.Charset
}

func (v XML) VerifyBuffer(b Buffer) error {
	return bufferViaStream(v, b)
}

func (v XML) VerifyStream(r io.Reader) error {
	cs := v.Charset
	if cs.IsZero() {
		cs = charset.Default()
	}
	dec := xml.NewDecoder(cs.NewDecodingReader(r))
	// Input is already UTF-8 here; a declaration may only confirm cs.
	dec.CharsetReader = func(label string, in io.Reader) (io.Reader, error) {
		ok, err := cs.Matches(label)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("declared encoding %q is not %s", label, cs)
		}
		return in, nil
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return failed(err, "content is not well-formed XML")
		}
		// encoding/xml accepts a UTF-8 label without consulting CharsetReader.
		if pi, ok := tok.(xml.ProcInst); ok && pi.Target == "xml" {
			if err := checkDeclared(cs, pi.Inst); err != nil {
				return err
			}
		}
	}
	_, err := io.Copy(io.Discard, r)
	return err
}

func checkDeclared(cs charset.Charset, inst []byte) error {
	p := declprobe.New(declprobe.Unconstrained)
	if _, err := p.Write([]byte("<?xml " + string(inst) + "?>")); err != nil {
		return failed(err, "malformed declaration")
	}
	if err := p.Finish(); err != nil {
		return failed(err, "malformed declaration")
	}
	if err := p.CheckEncoding(cs, false); err != nil {
		return failed(err, "declared encoding does not match content")
	}
	return nil
}

// Text accepts bytes that decode cleanly in Charset and contain no NUL.
type Text struct {
	Charset charset.Charset
}

func (v Text) VerifyBuffer(b Buffer) error {
	return bufferViaStream(v, b)
}

func (v Text) VerifyStream(r io.Reader) error {
	cs := v.Charset
	if cs.IsZero() || cs.IsDefault() {
		return checkUTF8(r)
	}
	var scratch [4096]byte
	dec := cs.NewDecodingReader(r)
	var offset int64
	for {
		n, err := dec.Read(scratch[:])
		if i := bytes.IndexByte(scratch[:n], 0); i >= 0 {
			return failed(nil, fmt.Sprintf("NUL character at decoded offset %d", offset+int64(i)))
		}
		offset += int64(n)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return failed(err, "text does not decode as "+cs.Name())
		}
	}
}

// checkUTF8 validates r incrementally, carrying an incomplete trailing rune
// into the next read.
func checkUTF8(r io.Reader) error {
	var scratch [4096 + utf8.UTFMax]byte
	carry := 0
	var offset int64
	for {
		n, err := r.Read(scratch[carry : carry+4096])
		chunk := scratch[:carry+n]
		end := len(chunk)
		if !errors.Is(err, io.EOF) {
			end = completeRunes(chunk)
		}
		if i := bytes.IndexByte(chunk[:end], 0); i >= 0 {
			return failed(nil, fmt.Sprintf("NUL byte at offset %d", offset+int64(i)))
		}
		if !utf8.Valid(chunk[:end]) {
			return failed(nil, fmt.Sprintf("invalid UTF-8 near offset %d", offset))
		}
		offset += int64(end)
		carry = copy(scratch[:], chunk[end:])
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// completeRunes returns the length of the prefix of b that does not end in
// the middle of a multi-byte sequence.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
