package declprobe

import (
	"github.com/jacoelho/sqlxml/internal/charset"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

const defaultVersion = "1.0"

var errUnresolved = xmlerrors.New(xmlerrors.ErrMalformedDeclaration, "declaration probe has not resolved")

// Prefix returns the corrected declaration for target followed by the
// buffered readahead. A zero target omits the encoding pseudo-attribute.
// Nothing is emitted for the declaration when the input had none and omitting
// it is safe, that is when target is UTF-8 or zero.
func (p *Probe) Prefix(target charset.Charset) ([]byte, error) {
	decl, err := p.DeclBytes(target)
	if err != nil {
		return nil, err
	}
	return append(decl, p.readahead...), nil
}

// DeclBytes returns only the corrected declaration, including a leading byte
// order mark when one was present and target is UTF-8. A zero target is
// decoded text, which never carries the mark.
func (p *Probe) DeclBytes(target charset.Charset) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	if !p.Resolved() {
		return nil, errUnresolved
	}
	var out []byte
	if p.decl.BOM && target.IsDefault() {
		out = append(out, bomSpan.String()...)
	}
	if !p.decl.Present {
		if target.IsZero() || target.IsDefault() {
			return out, nil
		}
		return appendDecl(out, defaultVersion, target.Name(), StandaloneAbsent), nil
	}
	version := p.decl.Version
	if version == "" && target.IsZero() {
		version = defaultVersion
	}
	return appendDecl(out, version, target.Name(), p.decl.Standalone), nil
}

func appendDecl(out []byte, version, encoding string, standalone Standalone) []byte {
	out = append(out, keywordSpan.String()...)
	if version != "" {
		out = appendPseudoAttr(out, versionSpan.String(), version)
	}
	if encoding != "" {
		out = appendPseudoAttr(out, encodingSpan.String(), encoding)
	}
	switch standalone {
	case StandaloneYes:
		out = appendPseudoAttr(out, standaloneSpan.String(), yesSpan.String())
	case StandaloneNo:
		out = appendPseudoAttr(out, standaloneSpan.String(), noSpan.String())
	}
	return append(out, closeSpan.String()...)
}

func appendPseudoAttr(out []byte, name, value string) []byte {
	out = append(out, ' ')
	out = append(out, name...)
	out = append(out, '=', '"')
	out = append(out, value...)
	return append(out, '"')
}

// CheckEncoding fails when the declared encoding does not resolve to target.
// In strict mode a missing encoding declaration also fails unless target is
// UTF-8.
func (p *Probe) CheckEncoding(target charset.Charset, strict bool) error {
	if p.err != nil {
		return p.err
	}
	if !p.Resolved() {
		return errUnresolved
	}
	if p.decl.BOM && !target.IsDefault() {
		return xmlerrors.Newf(xmlerrors.ErrEncodingMismatch,
			"UTF-8 byte order mark conflicts with server encoding %s", target)
	}
	if p.decl.Encoding != "" {
		ok, err := target.Matches(p.decl.Encoding)
		if err != nil {
			return xmlerrors.Wrap(xmlerrors.ErrEncodingMismatch, err,
				"declared encoding "+quote(p.decl.Encoding)+" is not server encoding "+target.String())
		}
		if !ok {
			return xmlerrors.Newf(xmlerrors.ErrEncodingMismatch,
				"declared encoding %q is not server encoding %s", p.decl.Encoding, target)
		}
		return nil
	}
	if strict && !target.IsDefault() {
		return xmlerrors.Newf(xmlerrors.ErrUndeclaredEncoding,
			"content declares no encoding but server encoding is %s", target)
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
}
