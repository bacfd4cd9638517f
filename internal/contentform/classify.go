package contentform

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/jacoelho/sqlxml/internal/charset"
)

// DefaultLimit bounds the bytes examined past the prolog.
const DefaultLimit = 4096

// Markable is the input Classify rewinds after looking ahead.
type Markable interface {
	io.Reader
	Mark(limit int) error
	Reset() error
}

// Classify marks r, scans at most limit bytes of prolog followed by r, then
// resets r to the mark and cancels it. The prolog is the declaration the
// consumer will see, so its encoding governs decoding.
//
// Scan failures classify as CannotBeDocument, as does an input reporting
// that it cannot mark. Only failing to mark or to reset r is returned as an
// error; when Mark fails nothing is read.
func Classify(r Markable, prolog []byte, limit int) (Form, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if m, ok := r.(interface{ MarkSupported() bool }); ok && !m.MarkSupported() {
		return CannotBeDocument, nil
	}
	if err := r.Mark(limit); err != nil {
		return CannotBeDocument, err
	}
	form := scan(io.MultiReader(bytes.NewReader(prolog), io.LimitReader(r, int64(limit))))
	if err := r.Reset(); err != nil {
		return form, fmt.Errorf("rewind after content form scan: %w", err)
	}
	return form, r.Mark(0)
}

// ClassifyBytes classifies an in-memory prefix without rewinding anything.
func ClassifyBytes(data []byte) Form {
	return scan(bytes.NewReader(data))
}

func scan(r io.Reader) Form {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.ReaderFor
	st := NewState()
	for !st.Decided() {
		tok, err := dec.RawToken()
		if err != nil {
			st.OnEnd()
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			st.OnStartElement()
		case xml.CharData:
			st.OnCharData(t)
		case xml.Directive:
			st.OnDirective(t)
		case xml.Comment, xml.ProcInst:
			st.OnOutsideMarkup()
		default:
			st.OnEnd()
		}
	}
	return st.Form()
}
