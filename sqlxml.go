// Package sqlxml presents XML values that cross a database host boundary.
//
// Values read from the host are delivered with a leading declaration that
// names the host's encoding, and content that is not a single document is
// wrapped for document-only parsers and unwrapped again before callers see
// it. Values written for the host get the same declaration correction. Every
// value has one reader or one writer, and is either adopted back by the host
// or freed.
package sqlxml

import (
	"fmt"

	"github.com/jacoelho/sqlxml/internal/charset"
	"github.com/jacoelho/sqlxml/internal/declprobe"
	"github.com/jacoelho/sqlxml/internal/declstream"
	"github.com/jacoelho/sqlxml/internal/metrics"
	"github.com/jacoelho/sqlxml/internal/varlena"
	"github.com/jacoelho/sqlxml/internal/verify"
	"github.com/jacoelho/sqlxml/internal/xmltree"
)

// TypeTag is the host's type identifier for a value.
type TypeTag = varlena.TypeTag

// Host type identifiers.
const (
	TagBytea = varlena.TagBytea
	TagText  = varlena.TagText
	TagXML   = varlena.TagXML
)

// Region is a host-owned byte region.
type Region = varlena.Region

// NewRegion wraps data lent by the host. release runs once when the region
// is freed rather than adopted.
func NewRegion(data []byte, release func()) *Region {
	return varlena.NewRegion(data, release)
}

// Verifier checks that bytes conform to a content type before the host
// trusts them.
type Verifier = verify.Verifier

// Buffer is a fully materialized input for Verifier.VerifyBuffer.
type Buffer = verify.Buffer

// Node is a parsed tree node.
type Node = xmltree.Node

// NodeType identifies the kind of a Node.
type NodeType = xmltree.NodeType

// Node kinds.
const (
	DocumentNode  = xmltree.DocumentNode
	ElementNode   = xmltree.ElementNode
	TextNode      = xmltree.TextNode
	CommentNode   = xmltree.CommentNode
	ProcInstNode  = xmltree.ProcInstNode
	DirectiveNode = xmltree.DirectiveNode
)

// Declaration describes the declaration found at the head of a value.
type Declaration = declprobe.Decl

// Runtime holds the authoritative host encoding and the policies shared by
// every value. It is safe for concurrent use.
type Runtime struct {
	verifiers   map[TypeTag]Verifier
	metrics     *metrics.Set
	server      charset.Charset
	wrapElement string
	limits      limits
	strictWrite bool
}

// New resolves the server encoding once and fails when no local decoder
// exists for it.
func New(opts ...Options) (*Runtime, error) {
	resolved, err := JoinOptions(opts...).withDefaults()
	if err != nil {
		return nil, fmt.Errorf("sqlxml: %w", err)
	}
	m, err := metrics.New(resolved.registerer)
	if err != nil {
		return nil, fmt.Errorf("sqlxml: register metrics: %w", err)
	}
	rt := &Runtime{
		verifiers: map[TypeTag]Verifier{
			TagXML:   verify.XML{Charset: resolved.server},
			TagText:  verify.Text{Charset: resolved.server},
			TagBytea: verify.NoOp{},
		},
		metrics:     m,
		server:      resolved.server,
		wrapElement: resolved.wrapElement,
		limits:      resolved.limits,
		strictWrite: resolved.strictWrite,
	}
	for tag, v := range resolved.verifiers {
		rt.verifiers[tag] = v
	}
	return rt, nil
}

// ServerEncoding returns the canonical name of the authoritative encoding.
func (rt *Runtime) ServerEncoding() string {
	return rt.server.Name()
}

// NewReadable takes a region the host handed over with its declared type.
func (rt *Runtime) NewReadable(region *Region, tag TypeTag) *Readable {
	return &Readable{
		rt:    rt,
		guard: varlena.NewReadable(region, tag, rt.verifier, rt.metrics),
	}
}

// NewWritable returns an empty value of type tag for the host to adopt once
// written.
func (rt *Runtime) NewWritable(tag TypeTag) *Writable {
	return &Writable{
		rt:    rt,
		guard: varlena.NewWritable(tag, rt.verifier(tag), rt.metrics),
	}
}

func (rt *Runtime) verifier(tag TypeTag) Verifier {
	return rt.verifiers[tag]
}

func (rt *Runtime) wrapName() string {
	if rt.wrapElement == "" {
		return declstream.DefaultWrapElement
	}
	return rt.wrapElement
}

func (rt *Runtime) config(parsed, character bool) declstream.Config {
	return declstream.Config{
		Server:       rt.server,
		WrapElement:  rt.wrapElement,
		PrescanLimit: rt.limits.prescan,
		Parsed:       parsed,
		Character:    character,
		Strict:       rt.strictWrite,
	}
}
