// Package declprobe recognizes the optional XML or text declaration at the head
// of a byte stream, one byte at a time, and computes a corrected replacement.
package declprobe

import (
	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

// Kind constrains which declaration form is acceptable.
type Kind uint8

const (
	// Unconstrained accepts either an XML declaration or a text declaration.
	Unconstrained Kind = iota
	// MustBeXMLDecl requires a version pseudo-attribute.
	MustBeXMLDecl
	// MustBeTextDecl requires an encoding and forbids standalone.
	MustBeTextDecl
)

func (k Kind) String() string {
	switch k {
	case MustBeXMLDecl:
		return "xml-decl"
	case MustBeTextDecl:
		return "text-decl"
	default:
		return "unconstrained"
	}
}

// Standalone is the value of the standalone pseudo-attribute.
type Standalone uint8

const (
	// StandaloneAbsent means the declaration had no standalone pseudo-attribute.
	StandaloneAbsent Standalone = iota
	// StandaloneYes is standalone="yes".
	StandaloneYes
	// StandaloneNo is standalone="no".
	StandaloneNo
)

// Decl describes a recognized declaration. It is only meaningful once the
// probe has resolved.
type Decl struct {
	Version    string
	Encoding   string
	Span       int
	Kind       Kind
	Standalone Standalone
	Present    bool
	BOM        bool
}

// maxDeclLen bounds the bytes spent on a single declaration.
const maxDeclLen = 1024

type state uint8

const (
	stBOM state = iota
	stKeyword
	stKeywordEnd
	stMaybeVersion
	stName
	stEq
	stVersionValue
	stMaybeEncoding
	stEncodingValue
	stMaybeStandalone
	stStandaloneValue
	stTrailing
	stEnd

	stMatched
	stUnmatched
	stAbandoned
)

type attr uint8

const (
	attrVersion attr = iota
	attrEncoding
	attrStandalone
)

// Probe is an incremental declaration recognizer. Feed it bytes with Take or
// Write until it resolves; bytes fed after that are buffered verbatim as
// readahead. A Probe is not safe for concurrent use.
type Probe struct {
	err       error
	consumed  []byte
	readahead []byte
	value     []byte
	decl      Decl
	offset    int64
	kind      Kind
	st        state
	lit       span
	pos       uint8
	attr      attr
	quote     byte
	sawSpace  bool
	sawEq     bool
}

// New returns a probe accepting declarations of the given kind.
func New(kind Kind) *Probe {
	return &Probe{kind: kind, st: stBOM, lit: bomSpan}
}

// Take feeds one byte. It reports true while resolution is still pending and
// false once the declaration matched, was found absent, or was malformed; a
// malformed declaration also returns an error, on this and every later call.
func (p *Probe) Take(b byte) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	if p.Resolved() {
		p.readahead = append(p.readahead, b)
		return false, nil
	}
	p.consumed = append(p.consumed, b)
	p.offset++
	p.step(b)
	if p.err != nil {
		return false, p.err
	}
	if !p.Resolved() && len(p.consumed) > maxDeclLen {
		p.abandon("declaration exceeds %d bytes", maxDeclLen)
		return false, p.err
	}
	return !p.Resolved(), nil
}

// Write feeds every byte of b, so a Probe can sit behind an io.Writer.
// Bytes after resolution become readahead.
func (p *Probe) Write(b []byte) (int, error) {
	for i, c := range b {
		if p.Resolved() {
			p.readahead = append(p.readahead, b[i:]...)
			return len(b), nil
		}
		if _, err := p.Take(c); err != nil {
			return i, err
		}
	}
	return len(b), nil
}

// Finish forces resolution at end of input. A declaration that began matching
// at "<?x" but was cut short is malformed; anything shorter is simply absent.
func (p *Probe) Finish() error {
	if p.err != nil {
		return p.err
	}
	switch p.st {
	case stMatched, stUnmatched:
		return nil
	case stBOM:
		p.unmatch()
		return nil
	case stKeyword:
		if p.pos < minTruncatedKeyword {
			p.unmatch()
			return nil
		}
		p.abandon("declaration truncated at end of input")
		return p.err
	default:
		p.abandon("declaration truncated at end of input")
		return p.err
	}
}

// Resolved reports whether the probe reached Matched or Unmatched.
func (p *Probe) Resolved() bool {
	return p.st == stMatched || p.st == stUnmatched
}

// Matched reports whether a declaration was recognized.
func (p *Probe) Matched() bool {
	return p.st == stMatched
}

// Err returns the malformed-declaration error, if any.
func (p *Probe) Err() error {
	return p.err
}

// Declaration returns what was recognized so far.
func (p *Probe) Declaration() Decl {
	return p.decl
}

// ReadAhead returns the bytes fed to the probe that are not part of the
// declaration or byte order mark.
func (p *Probe) ReadAhead() []byte {
	return p.readahead
}

func (p *Probe) step(b byte) {
	switch p.st {
	case stBOM:
		p.stepBOM(b)
	case stKeyword:
		p.stepKeyword(b)
	case stKeywordEnd:
		switch {
		case isWhitespace(b):
			p.st = stMaybeVersion
		case isPITargetByte(b):
			p.unmatch()
		default:
			p.abandon("expected whitespace after <?xml, got %q", b)
		}
	case stMaybeVersion:
		p.stepMaybeVersion(b)
	case stName:
		p.stepName(b)
	case stEq:
		p.stepEq(b)
	case stVersionValue:
		p.stepVersionValue(b)
	case stMaybeEncoding:
		p.stepMaybeEncoding(b)
	case stEncodingValue:
		p.stepEncodingValue(b)
	case stMaybeStandalone:
		p.stepMaybeStandalone(b)
	case stStandaloneValue:
		p.stepStandaloneValue(b)
	case stTrailing:
		switch {
		case isWhitespace(b):
		case b == closeSpan.at(0):
			p.st = stEnd
		default:
			p.abandon("unexpected %q before ?>", b)
		}
	case stEnd:
		if b != closeSpan.at(1) {
			p.abandon("expected > after ?, got %q", b)
			return
		}
		p.match()
	}
}

func (p *Probe) stepBOM(b byte) {
	if b == p.lit.at(p.pos) {
		p.pos++
		if p.pos == p.lit.len() {
			p.decl.BOM = true
			p.consumed = p.consumed[:0]
			p.enterKeyword()
		}
		return
	}
	if p.pos > 0 {
		// Partial byte order mark: not a declaration, and not UTF-8 either.
		p.unmatch()
		return
	}
	p.enterKeyword()
	p.stepKeyword(b)
}

// minTruncatedKeyword is the length of "<?x": from there on a cut short
// keyword can be neither a declaration nor any complete instruction.
const minTruncatedKeyword = 3

func (p *Probe) enterKeyword() {
	p.st = stKeyword
	p.lit = keywordSpan
	p.pos = 0
}

func (p *Probe) stepKeyword(b byte) {
	if b != p.lit.at(p.pos) {
		p.unmatch()
		return
	}
	p.pos++
	if p.pos == p.lit.len() {
		p.st = stKeywordEnd
	}
}

func (p *Probe) stepMaybeVersion(b byte) {
	switch {
	case isWhitespace(b):
	case b == versionSpan.at(0):
		p.beginName(versionSpan, attrVersion)
	case b == encodingSpan.at(0):
		if p.kind == MustBeXMLDecl {
			p.abandon("XML declaration requires version before encoding")
			return
		}
		p.beginName(encodingSpan, attrEncoding)
	case b == closeSpan.at(0):
		p.abandon("declaration has neither version nor encoding")
	default:
		p.abandon("unexpected %q in declaration", b)
	}
}

func (p *Probe) beginName(lit span, a attr) {
	p.st = stName
	p.lit = lit
	p.pos = 1
	p.attr = a
}

func (p *Probe) stepName(b byte) {
	if b != p.lit.at(p.pos) {
		p.abandon("unexpected %q in %s", b, p.lit)
		return
	}
	p.pos++
	if p.pos == p.lit.len() {
		p.st = stEq
		p.sawEq = false
	}
}

func (p *Probe) stepEq(b byte) {
	switch {
	case isWhitespace(b):
	case b == '=' && !p.sawEq:
		p.sawEq = true
	case isQuote(b) && p.sawEq:
		p.quote = b
		p.value = p.value[:0]
		p.pos = 0
		switch p.attr {
		case attrVersion:
			p.st = stVersionValue
		case attrEncoding:
			p.st = stEncodingValue
		default:
			p.st = stStandaloneValue
		}
	default:
		p.abandon("malformed %s value", attrName(p.attr))
	}
}

// stepVersionValue follows VersionNum ::= '1.' [0-9]+.
func (p *Probe) stepVersionValue(b byte) {
	switch {
	case p.pos == 0 && b == '1', p.pos == 1 && b == '.', p.pos >= 2 && isDigit(b):
		p.value = append(p.value, b)
		p.pos++
	case p.pos >= 3 && b == p.quote:
		p.decl.Version = string(p.value)
		p.st = stMaybeEncoding
		p.sawSpace = false
	default:
		p.abandon("malformed version number")
	}
}

func (p *Probe) stepMaybeEncoding(b byte) {
	switch {
	case isWhitespace(b):
		p.sawSpace = true
	case b == encodingSpan.at(0) && p.sawSpace:
		p.beginName(encodingSpan, attrEncoding)
	case b == standaloneSpan.at(0) && p.sawSpace:
		if p.kind == MustBeTextDecl {
			p.abandon("standalone is not allowed in a text declaration")
			return
		}
		p.beginName(standaloneSpan, attrStandalone)
	case b == closeSpan.at(0):
		if p.kind == MustBeTextDecl {
			p.abandon("text declaration requires encoding")
			return
		}
		p.st = stEnd
	default:
		p.abandon("unexpected %q after version", b)
	}
}

func (p *Probe) stepEncodingValue(b byte) {
	switch {
	case len(p.value) == 0 && isEncNameStart(b), len(p.value) > 0 && isEncName(b):
		p.value = append(p.value, b)
	case len(p.value) > 0 && b == p.quote:
		p.decl.Encoding = string(p.value)
		p.st = stMaybeStandalone
		p.sawSpace = false
	default:
		p.abandon("malformed encoding name")
	}
}

func (p *Probe) stepMaybeStandalone(b byte) {
	switch {
	case isWhitespace(b):
		p.sawSpace = true
	case b == standaloneSpan.at(0) && p.sawSpace:
		if p.kind == MustBeTextDecl || p.decl.Version == "" {
			p.abandon("standalone is not allowed in a text declaration")
			return
		}
		p.beginName(standaloneSpan, attrStandalone)
	case b == closeSpan.at(0):
		p.st = stEnd
	default:
		p.abandon("unexpected %q after encoding", b)
	}
}

func (p *Probe) stepStandaloneValue(b byte) {
	if p.pos == 0 {
		switch b {
		case yesSpan.at(0):
			p.lit = yesSpan
		case noSpan.at(0):
			p.lit = noSpan
		default:
			p.abandon("standalone must be yes or no")
			return
		}
		p.pos = 1
		return
	}
	if p.pos < p.lit.len() {
		if b != p.lit.at(p.pos) {
			p.abandon("standalone must be yes or no")
			return
		}
		p.pos++
		return
	}
	if b != p.quote {
		p.abandon("standalone must be yes or no")
		return
	}
	if p.lit == yesSpan {
		p.decl.Standalone = StandaloneYes
	} else {
		p.decl.Standalone = StandaloneNo
	}
	p.st = stTrailing
}

func (p *Probe) match() {
	p.st = stMatched
	p.decl.Present = true
	p.decl.Span = len(p.consumed)
	p.decl.Kind = MustBeXMLDecl
	if p.decl.Version == "" {
		p.decl.Kind = MustBeTextDecl
	} else if p.decl.Encoding != "" && p.decl.Standalone == StandaloneAbsent {
		p.decl.Kind = Unconstrained
	}
	p.consumed = nil
	p.value = nil
}

func (p *Probe) unmatch() {
	p.st = stUnmatched
	p.readahead = append(p.readahead, p.consumed...)
	p.consumed = nil
	p.value = nil
}

func (p *Probe) abandon(format string, args ...any) {
	p.st = stAbandoned
	p.err = xmlerrors.Newf(xmlerrors.ErrMalformedDeclaration, format, args...).AtOffset(p.offset)
}

func attrName(a attr) string {
	switch a {
	case attrVersion:
		return versionSpan.String()
	case attrEncoding:
		return encodingSpan.String()
	default:
		return standaloneSpan.String()
	}
}
