package sqlxml

import (
	"context"
	"encoding/xml"
)

// Handler receives the tokens of a value in document order. Nil callbacks
// are skipped. Token data is only valid for the duration of the call.
type Handler struct {
	StartElement func(ctx context.Context, el xml.StartElement) error
	EndElement   func(ctx context.Context, el xml.EndElement) error
	CharData     func(ctx context.Context, data xml.CharData) error
	Comment      func(ctx context.Context, data xml.Comment) error
	ProcInst     func(ctx context.Context, pi xml.ProcInst) error
	Directive    func(ctx context.Context, data xml.Directive) error
}

func (h Handler) dispatch(ctx context.Context, tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		if h.StartElement != nil {
			return h.StartElement(ctx, t)
		}
	case xml.EndElement:
		if h.EndElement != nil {
			return h.EndElement(ctx, t)
		}
	case xml.CharData:
		if h.CharData != nil {
			return h.CharData(ctx, t)
		}
	case xml.Comment:
		if h.Comment != nil {
			return h.Comment(ctx, t)
		}
	case xml.ProcInst:
		if h.ProcInst != nil {
			return h.ProcInst(ctx, t)
		}
	case xml.Directive:
		if h.Directive != nil {
			return h.Directive(ctx, t)
		}
	}
	return nil
}
