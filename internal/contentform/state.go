// Package contentform decides, from a bounded look at the start of some XML,
// whether it can only be a document, cannot be one, or might be either.
package contentform

import "bytes"

// Form is the outcome of classification.
type Form uint8

const (
	// Inconclusive means an element came first; the content may still be a
	// single-rooted document or a fragment.
	Inconclusive Form = iota
	// MustBeDocument means a document type declaration preceded any element.
	MustBeDocument
	// CannotBeDocument means character data or other markup that no document
	// prolog allows preceded any element, or the scan failed.
	CannotBeDocument
)

func (f Form) String() string {
	switch f {
	case MustBeDocument:
		return "document"
	case CannotBeDocument:
		return "content"
	default:
		return "inconclusive"
	}
}

// NeedsWrap reports whether a document-only parser needs a synthetic root
// around the content. Only a conclusive document is left unwrapped.
func (f Form) NeedsWrap() bool {
	return f != MustBeDocument
}

var doctype = []byte("DOCTYPE")

// State tracks the top-level tokens seen before the first element.
type State struct {
	form     Form
	decided  bool
	allowBOM bool
}

// NewState returns a state that tolerates one leading byte order mark.
func NewState() State {
	return State{allowBOM: true}
}

// Decided reports whether a token has settled the form.
func (s *State) Decided() bool {
	return s.decided
}

// Form returns the settled form, or Inconclusive.
func (s *State) Form() Form {
	if !s.decided {
		return Inconclusive
	}
	return s.form
}

func (s *State) decide(f Form) {
	if s.decided {
		return
	}
	s.form = f
	s.decided = true
}

// OnStartElement records that an element was reached first.
func (s *State) OnStartElement() {
	s.decide(Inconclusive)
}

// OnDirective records a <!...> construct outside any element.
func (s *State) OnDirective(d []byte) {
	if bytes.HasPrefix(d, doctype) {
		s.decide(MustBeDocument)
		return
	}
	s.decide(CannotBeDocument)
}

// OnCharData records character data outside any element. Whitespace and a
// single leading byte order mark are ignorable.
func (s *State) OnCharData(data []byte) {
	if s.allowBOM {
		data = bytes.TrimPrefix(data, []byte("\uFEFF"))
		s.allowBOM = false
	}
	if len(bytes.TrimLeft(data, " \t\r\n")) > 0 {
		s.decide(CannotBeDocument)
	}
}

// OnOutsideMarkup records a comment or processing instruction, which any
// prolog may hold.
func (s *State) OnOutsideMarkup() {
	s.allowBOM = false
}

// OnEnd records that the input ended or failed before anything decided.
func (s *State) OnEnd() {
	s.decide(CannotBeDocument)
}
