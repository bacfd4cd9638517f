// Package declstream presents XML bytes with a corrected leading declaration,
// optionally wrapped in a synthetic root element, and corrects the
// declaration of XML bytes as they are written.
package declstream

import (
	"bytes"
	"io"

	"github.com/containerd/log"

	"github.com/jacoelho/sqlxml/internal/charset"
	"github.com/jacoelho/sqlxml/internal/contentform"
	"github.com/jacoelho/sqlxml/internal/declprobe"
	"github.com/jacoelho/sqlxml/internal/streamseq"
)

// DefaultWrapElement names the synthetic root spliced around content that a
// document-only parser would reject.
const DefaultWrapElement = "sqlxml-content-wrap"

const probeChunk = 64

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Config controls both directions of correction.
type Config struct {
	// Server is the authoritative encoding of the stored bytes.
	Server charset.Charset
	// WrapElement overrides DefaultWrapElement.
	WrapElement string
	// PrescanLimit bounds the content form look-ahead.
	PrescanLimit int
	// Kind constrains the acceptable declaration form.
	Kind declprobe.Kind
	// Parsed enables content form classification and wrapping on read. The
	// byte order mark is dropped because parsers report it as text.
	Parsed bool
	// Character selects UTF-8 text on the caller's side: reads decode from
	// Server and present a declaration without encoding, writes transcode
	// to Server and ignore the declared encoding.
	Character bool
	// Strict makes a write without an encoding declaration fail unless
	// Server is UTF-8.
	Strict bool
}

func (c Config) server() charset.Charset {
	if c.Server.IsZero() {
		return charset.Default()
	}
	return c.Server
}

func (c Config) wrapElement() string {
	if c.WrapElement == "" {
		return DefaultWrapElement
	}
	return c.WrapElement
}

// Reader yields [declaration][wrapper start][input][wrapper end], where the
// declaration is corrected for the server encoding and the wrapper is only
// present when the content form required it.
type Reader struct {
	out     io.Reader
	seq     *streamseq.Sequence
	decl    declprobe.Decl
	form    contentform.Form
	wrapped bool
}

// NewReader probes the head of src and assembles the corrected stream. On
// error src has been closed when it is an io.Closer.
func NewReader(src io.Reader, cfg Config) (*Reader, error) {
	rest := asSource(src, cfg.Parsed)
	probe := declprobe.New(cfg.Kind)
	if err := feedProbe(probe, rest); err != nil {
		closeQuietly(rest)
		return nil, err
	}
	server := cfg.server()
	if err := probe.CheckEncoding(server, false); err != nil {
		closeQuietly(rest)
		return nil, err
	}

	target := server
	if cfg.Character {
		target = charset.Charset{}
	}
	decl, err := probe.DeclBytes(target)
	if err != nil {
		closeQuietly(rest)
		return nil, err
	}
	inner := streamseq.New(streamseq.Bytes(probe.ReadAhead()), rest)

	r := &Reader{decl: probe.Declaration(), form: contentform.Inconclusive}
	if cfg.Parsed {
		decl = bytes.TrimPrefix(decl, utf8BOM)
		// The scan decodes with the server encoding even when the caller
		// will see the declaration without one.
		prolog, err := probe.DeclBytes(server)
		if err == nil {
			r.form, err = contentform.Classify(inner, bytes.TrimPrefix(prolog, utf8BOM), cfg.PrescanLimit)
		}
		if err != nil {
			closeQuietly(inner)
			return nil, err
		}
		r.wrapped = r.form.NeedsWrap()
		log.L.WithFields(log.Fields{
			"form":    r.form.String(),
			"wrapped": r.wrapped,
		}).Debug("content form classified")
	}

	parts := []streamseq.Source{streamseq.Bytes(decl)}
	if r.wrapped {
		name := cfg.wrapElement()
		parts = append(parts,
			streamseq.Bytes([]byte("<"+name+">")),
			inner,
			streamseq.Bytes([]byte("</"+name+">")))
	} else {
		parts = append(parts, inner)
	}
	r.seq = streamseq.New(parts...)
	r.out = r.seq
	if cfg.Character {
		r.out = server.NewDecodingReader(r.seq)
	}
	return r, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.out.Read(p)
}

// Close releases the input. It is safe to call more than once.
func (r *Reader) Close() error {
	return r.seq.Close()
}

// Declaration returns the declaration found in the input.
func (r *Reader) Declaration() declprobe.Decl {
	return r.decl
}

// Form returns the content form classification. It is Inconclusive unless
// the reader was configured for parsed access.
func (r *Reader) Form() contentform.Form {
	return r.form
}

// Wrapped reports whether a synthetic root element surrounds the input.
func (r *Reader) Wrapped() bool {
	return r.wrapped
}

func asSource(src io.Reader, markable bool) streamseq.Source {
	if s, ok := src.(streamseq.Source); ok {
		if !markable {
			return s
		}
		if m, ok := src.(streamseq.Marker); ok && m.MarkSupported() {
			return s
		}
	}
	if markable {
		return streamseq.Buffered(src)
	}
	return streamseq.Reader(src)
}

func feedProbe(p *declprobe.Probe, r io.Reader) error {
	buf := make([]byte, probeChunk)
	for !p.Resolved() {
		n, err := r.Read(buf)
		if n > 0 {
			if _, perr := p.Write(buf[:n]); perr != nil {
				return perr
			}
		}
		if err == io.EOF {
			return p.Finish()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		log.L.WithError(err).Debug("closing input after failed correction")
	}
}
