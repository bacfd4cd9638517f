package sqlxml_test

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/jacoelho/sqlxml"
	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

func newRuntime(t *testing.T, opts ...sqlxml.Options) *sqlxml.Runtime {
	t.Helper()
	rt, err := sqlxml.New(opts...)
	assert.NilError(t, err)
	return rt
}

func readable(rt *sqlxml.Runtime, data string, tag sqlxml.TypeTag) *sqlxml.Readable {
	return rt.NewReadable(sqlxml.NewRegion([]byte(data), nil), tag)
}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	out, err := io.ReadAll(r)
	assert.NilError(t, err)
	return string(out)
}

func assertCode(t *testing.T, err error, want xmlerrors.ErrorCode) {
	t.Helper()
	assert.Assert(t, err != nil)
	code, ok := xmlerrors.CodeOf(err)
	assert.Assert(t, ok, "not a coded error: %v", err)
	assert.Equal(t, code, want)
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts sqlxml.Options
		code xmlerrors.ErrorCode
	}{
		{name: "unknown encoding", opts: sqlxml.NewOptions().WithServerEncoding("no-such-charset"), code: xmlerrors.ErrUnsupportedEncoding},
		{name: "UTF-16 server encoding", opts: sqlxml.NewOptions().WithServerEncoding("UTF-16BE"), code: xmlerrors.ErrUnsupportedEncoding},
		{name: "UTF-16 with byte order mark", opts: sqlxml.NewOptions().WithServerEncoding("UTF-16"), code: xmlerrors.ErrUnsupportedEncoding},
		{name: "negative prescan", opts: sqlxml.NewOptions().WithPrescanLimit(-1)},
		{name: "negative depth", opts: sqlxml.NewOptions().WithMaxDepth(-1)},
		{name: "prefixed wrap element", opts: sqlxml.NewOptions().WithWrapElement("x:wrap")},
		{name: "non-ASCII wrap element", opts: sqlxml.NewOptions().WithWrapElement("hülle")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Check(t, tt.opts.Validate() != nil)
			_, err := sqlxml.New(tt.opts)
			assert.Assert(t, err != nil)
			if tt.code != "" {
				assertCode(t, err, tt.code)
			}
		})
	}
}

func TestJoinOptionsLaterWins(t *testing.T) {
	rt := newRuntime(t,
		sqlxml.NewOptions().WithServerEncoding("latin1").WithWrapElement("first"),
		sqlxml.NewOptions().WithWrapElement("second"),
	)
	assert.Equal(t, rt.ServerEncoding(), "ISO-8859-1")

	r := readable(rt, "text <a/>", sqlxml.TagXML)
	tokens, err := r.TokenReader()
	assert.NilError(t, err)
	defer tokens.Close()
	assert.Check(t, tokens.Wrapped())
}

func TestReadableBytes(t *testing.T) {
	tests := []struct {
		name   string
		server string
		input  string
		want   string
	}{
		{name: "no declaration under UTF-8 is untouched", server: "UTF-8", input: "hello <b>world</b>", want: "hello <b>world</b>"},
		{name: "no declaration gains one under latin1", server: "latin1", input: "<a>caf\xe9</a>", want: `<?xml version="1.0" encoding="ISO-8859-1"?><a>caf` + "\xe9</a>"},
		{name: "alias canonicalized", server: "latin1", input: `<?xml version="1.0" encoding="latin1"?><a/>`, want: `<?xml version="1.0" encoding="ISO-8859-1"?><a/>`},
		{name: "declaration without encoding under UTF-8", server: "utf8", input: `<?xml version="1.0"?><a/>`, want: `<?xml version="1.0" encoding="UTF-8"?><a/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t, sqlxml.NewOptions().WithServerEncoding(tt.server))
			s, err := readable(rt, tt.input, sqlxml.TagXML).Bytes()
			assert.NilError(t, err)
			assert.Check(t, !s.Wrapped())
			assert.Check(t, is.Equal(readAll(t, s), tt.want))
		})
	}
}

func TestReadableRegionOwnership(t *testing.T) {
	want := "<a>" + strings.Repeat("secret ", 40) + "</a>"
	tests := []struct {
		name string
		open func(r *sqlxml.Readable) (io.ReadCloser, error)
	}{
		{name: "bytes", open: func(r *sqlxml.Readable) (io.ReadCloser, error) { return r.Bytes() }},
		{name: "text", open: func(r *sqlxml.Readable) (io.ReadCloser, error) { return r.TextReader() }},
	}
	for _, tt := range tests {
		t.Run(tt.name+" free while open", func(t *testing.T) {
			data := []byte(want)
			var released int
			r := newRuntime(t).NewReadable(sqlxml.NewRegion(data, func() {
				released++
				clear(data)
			}), sqlxml.TagXML)

			s, err := tt.open(r)
			assert.NilError(t, err)
			r.Free()
			assert.Equal(t, released, 0)
			assert.Equal(t, readAll(t, s), want)
			assert.Equal(t, released, 1)
		})
		t.Run(tt.name+" close releases", func(t *testing.T) {
			var released int
			r := newRuntime(t).NewReadable(sqlxml.NewRegion([]byte(want), func() { released++ }), sqlxml.TagXML)

			s, err := tt.open(r)
			assert.NilError(t, err)
			buf := make([]byte, 4)
			_, err = io.ReadFull(s, buf)
			assert.NilError(t, err)
			assert.NilError(t, s.Close())
			assert.NilError(t, s.Close())
			assert.Equal(t, released, 1)
			r.Free()
			assert.Equal(t, released, 1)
		})
	}
}

func TestTokensCloseReleases(t *testing.T) {
	data := []byte("hello <b>world</b>")
	var released int
	r := newRuntime(t).NewReadable(sqlxml.NewRegion(data, func() {
		released++
		clear(data)
	}), sqlxml.TagXML)
	tokens, err := r.TokenReader()
	assert.NilError(t, err)
	r.Free()

	var text strings.Builder
	for {
		tok, err := tokens.Token()
		if err == io.EOF {
			break
		}
		assert.NilError(t, err)
		if cd, ok := tok.(xml.CharData); ok {
			text.Write(cd)
		}
	}
	assert.Equal(t, text.String(), "hello world")
	assert.NilError(t, tokens.Close())
	assert.Equal(t, released, 1)
}

func TestReadableEncodingMismatch(t *testing.T) {
	rt := newRuntime(t)
	var released int
	r := rt.NewReadable(sqlxml.NewRegion([]byte(`<?xml version="1.0" encoding="latin1"?><a/>`), func() { released++ }), sqlxml.TagXML)

	_, err := r.Bytes()
	assertCode(t, err, xmlerrors.ErrEncodingMismatch)
	assert.Check(t, errdefs.IsInvalidArgument(err))
	assert.Check(t, is.Equal(released, 1), "a failed claim releases the region")

	_, err = r.Bytes()
	assertCode(t, err, xmlerrors.ErrAlreadyConsumed)
	assert.Check(t, errdefs.IsConflict(err))

	r.Free()
	r.Free()
	assert.Equal(t, released, 1)
	_, err = r.TextReader()
	assertCode(t, err, xmlerrors.ErrAlreadyFreed)
}

func TestReadableString(t *testing.T) {
	rt := newRuntime(t, sqlxml.NewOptions().WithServerEncoding("ISO-8859-1"))
	got, err := readable(rt, `<?xml version="1.0" encoding="latin1"?><a>caf`+"\xe9</a>", sqlxml.TagXML).ReadString()
	assert.NilError(t, err)
	assert.Equal(t, got, `<?xml version="1.0"?><a>café</a>`)
}

func TestReadableByteOrderMark(t *testing.T) {
	rt := newRuntime(t)
	const input = "\xEF\xBB\xBF<?xml version=\"1.0\"?><a/>"

	s, err := readable(rt, input, sqlxml.TagXML).Bytes()
	assert.NilError(t, err)
	assert.Equal(t, readAll(t, s), "\xEF\xBB\xBF<?xml version=\"1.0\" encoding=\"UTF-8\"?><a/>")

	got, err := readable(rt, input, sqlxml.TagXML).ReadString()
	assert.NilError(t, err)
	assert.Equal(t, got, `<?xml version="1.0"?><a/>`)
}

func TestReadableTreeUnwrapsContent(t *testing.T) {
	rt := newRuntime(t)
	doc, err := readable(rt, "hello <b>world</b>", sqlxml.TagXML).Tree()
	assert.NilError(t, err)

	want := &sqlxml.Node{
		Type: sqlxml.DocumentNode,
		Children: []*sqlxml.Node{
			{Type: sqlxml.TextNode, Data: "hello "},
			{Type: sqlxml.ElementNode, Name: xml.Name{Local: "b"}, Children: []*sqlxml.Node{
				{Type: sqlxml.TextNode, Data: "world"},
			}},
		},
	}
	if diff := cmp.Diff(want, doc, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestReadableTreeDecodesServerEncoding(t *testing.T) {
	rt := newRuntime(t, sqlxml.NewOptions().WithServerEncoding("latin1"))
	doc, err := readable(rt, "<a>caf\xe9</a><b/>", sqlxml.TagXML).Tree()
	assert.NilError(t, err)
	els := doc.Elements()
	assert.Assert(t, is.Len(els, 2))
	assert.Check(t, is.Equal(els[0].Text(), "café"))
}

func TestReadableTreeDepthLimit(t *testing.T) {
	rt := newRuntime(t, sqlxml.NewOptions().WithMaxDepth(2))
	_, err := readable(rt, "<a><b><c/></b></a>", sqlxml.TagXML).Tree()
	assertCode(t, err, xmlerrors.ErrLimitExceeded)
}

func TestReadableDoctypeNotWrapped(t *testing.T) {
	rt := newRuntime(t)
	tokens, err := readable(rt, "<!DOCTYPE a><a/>", sqlxml.TagXML).TokenReader()
	assert.NilError(t, err)
	defer tokens.Close()
	assert.Check(t, !tokens.Wrapped())

	var names []string
	for {
		tok, err := tokens.Token()
		if err == io.EOF {
			break
		}
		assert.NilError(t, err)
		if se, ok := tok.(xml.StartElement); ok {
			names = append(names, se.Name.Local)
		}
	}
	assert.DeepEqual(t, names, []string{"a"})
}

func TestReadableWalk(t *testing.T) {
	rt := newRuntime(t)
	var starts, ends []string
	var text strings.Builder
	h := sqlxml.Handler{
		StartElement: func(_ context.Context, el xml.StartElement) error {
			starts = append(starts, el.Name.Local)
			return nil
		},
		EndElement: func(_ context.Context, el xml.EndElement) error {
			ends = append(ends, el.Name.Local)
			return nil
		},
		CharData: func(_ context.Context, data xml.CharData) error {
			text.Write(data)
			return nil
		},
	}
	err := readable(rt, "one <a>two</a><!-- c --><b/>", sqlxml.TagXML).Walk(context.Background(), h)
	assert.NilError(t, err)
	assert.DeepEqual(t, starts, []string{"a", "b"})
	assert.DeepEqual(t, ends, []string{"a", "b"})
	assert.Equal(t, text.String(), "one two")
}

func TestReadableWalkStops(t *testing.T) {
	rt := newRuntime(t)
	stop := errors.New("stop")
	err := readable(rt, "<a><b/></a>", sqlxml.TagXML).Walk(context.Background(), sqlxml.Handler{
		StartElement: func(_ context.Context, el xml.StartElement) error {
			if el.Name.Local == "b" {
				return stop
			}
			return nil
		},
	})
	assert.Check(t, errors.Is(err, stop))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = readable(rt, "<a/>", sqlxml.TagXML).Walk(ctx, sqlxml.Handler{})
	assert.Check(t, errors.Is(err, context.Canceled))
}

func TestReadableAdopt(t *testing.T) {
	rt := newRuntime(t)

	region := sqlxml.NewRegion([]byte("<a>"), nil)
	got, err := rt.NewReadable(region, sqlxml.TagXML).Adopt(sqlxml.TagXML)
	assert.NilError(t, err)
	assert.Check(t, got == region)

	var released int
	r := rt.NewReadable(sqlxml.NewRegion([]byte("<a>"), func() { released++ }), sqlxml.TagText)
	_, err = r.Adopt(sqlxml.TagXML)
	assertCode(t, err, xmlerrors.ErrVerificationFailed)
	assert.Check(t, errdefs.IsDataLoss(err))
	assert.Equal(t, released, 1)

	r = readable(rt, "<a/>", sqlxml.TagXML)
	_, err = r.ReadString()
	assert.NilError(t, err)
	_, err = r.Adopt(sqlxml.TagXML)
	assertCode(t, err, xmlerrors.ErrAlreadyConsumed)
}

func TestReadableSingleClaimUnderContention(t *testing.T) {
	rt := newRuntime(t)
	const workers = 24
	for range 10 {
		r := readable(rt, "<a/>", sqlxml.TagXML)
		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			wins     atomic.Int32
			consumed atomic.Int32
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				var err error
				switch i % 3 {
				case 0:
					var s *sqlxml.Stream
					if s, err = r.Bytes(); err == nil {
						_ = s.Close()
					}
				case 1:
					_, err = r.Tree()
				default:
					_, err = r.Adopt(sqlxml.TagXML)
				}
				switch {
				case err == nil:
					wins.Add(1)
				case xmlerrors.IsCode(err, xmlerrors.ErrAlreadyConsumed):
					consumed.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		assert.Equal(t, wins.Load(), int32(1))
		assert.Equal(t, consumed.Load(), int32(workers-1))
	}
}

func TestWritable(t *testing.T) {
	tests := []struct {
		name   string
		opts   sqlxml.Options
		tag    sqlxml.TypeTag
		write  func(w *sqlxml.Writable) error
		want   string
		code   xmlerrors.ErrorCode
		adoptd xmlerrors.ErrorCode
	}{
		{
			name:  "bytes untouched under UTF-8",
			tag:   sqlxml.TagXML,
			write: func(w *sqlxml.Writable) error { return w.SetBytes([]byte("a <b/>")) },
			want:  "a <b/>",
		},
		{
			name:  "bytes declaration canonicalized",
			opts:  sqlxml.NewOptions().WithServerEncoding("latin1"),
			tag:   sqlxml.TagXML,
			write: func(w *sqlxml.Writable) error { return w.SetBytes([]byte(`<?xml version="1.0" encoding="latin1"?><a/>`)) },
			want:  `<?xml version="1.0" encoding="ISO-8859-1"?><a/>`,
		},
		{
			name:   "bytes with mismatched declaration",
			tag:    sqlxml.TagXML,
			write:  func(w *sqlxml.Writable) error { return w.SetBytes([]byte(`<?xml version="1.0" encoding="latin1"?><a/>`)) },
			code:   xmlerrors.ErrEncodingMismatch,
			adoptd: xmlerrors.ErrEncodingMismatch,
		},
		{
			name:   "strict write without declaration",
			opts:   sqlxml.NewOptions().WithServerEncoding("latin1").WithStrictWrite(true),
			tag:    sqlxml.TagXML,
			write:  func(w *sqlxml.Writable) error { return w.SetBytes([]byte("<a/>")) },
			code:   xmlerrors.ErrUndeclaredEncoding,
			adoptd: xmlerrors.ErrUndeclaredEncoding,
		},
		{
			name:  "string transcoded with declaration",
			opts:  sqlxml.NewOptions().WithServerEncoding("latin1"),
			tag:   sqlxml.TagXML,
			write: func(w *sqlxml.Writable) error { return w.SetString("<a>café</a>") },
			want:  `<?xml version="1.0" encoding="ISO-8859-1"?><a>caf` + "\xe9</a>",
		},
		{
			name:  "string declaration encoding ignored",
			tag:   sqlxml.TagXML,
			write: func(w *sqlxml.Writable) error { return w.SetString(`<?xml version="1.0" encoding="EBCDIC"?><a/>`) },
			want:  `<?xml version="1.0" encoding="UTF-8"?><a/>`,
		},
		{
			name:   "malformed xml fails inline verification",
			tag:    sqlxml.TagXML,
			write:  func(w *sqlxml.Writable) error { return w.SetBytes([]byte("<a><b></a>")) },
			code:   xmlerrors.ErrVerificationFailed,
			adoptd: xmlerrors.ErrVerificationFailed,
		},
		{
			name:  "bytea is not verified",
			tag:   sqlxml.TagBytea,
			write: func(w *sqlxml.Writable) error { return w.SetBytes([]byte("<a><b></a>")) },
			want:  "<a><b></a>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t, tt.opts)
			w := rt.NewWritable(tt.tag)
			err := tt.write(w)
			if tt.code != "" {
				assertCode(t, err, tt.code)
			} else {
				assert.NilError(t, err)
			}

			region, err := w.Adopt()
			if tt.adoptd != "" {
				assertCode(t, err, tt.adoptd)
				_, err = w.Adopt()
				assertCode(t, err, xmlerrors.ErrAlreadyFreed)
				return
			}
			assert.NilError(t, err)
			assert.Check(t, is.Equal(readAll(t, region.View()), tt.want))
		})
	}
}

func TestWritableProtocol(t *testing.T) {
	rt := newRuntime(t)
	w := rt.NewWritable(sqlxml.TagXML)

	_, err := w.Adopt()
	assertCode(t, err, xmlerrors.ErrNotYetProduced)
	assert.Check(t, errdefs.IsFailedPrecondition(err))

	out, err := w.Writer()
	assert.NilError(t, err)
	_, err = w.TextWriter()
	assertCode(t, err, xmlerrors.ErrAlreadyConsumed)

	_, err = io.WriteString(out, "<?xml ver")
	assert.NilError(t, err)
	_, err = io.WriteString(out, `sion="1.0"?><a/>`)
	assert.NilError(t, err)

	// Adopt finishes the open writer.
	region, err := w.Adopt()
	assert.NilError(t, err)
	assert.Equal(t, readAll(t, region.View()), `<?xml version="1.0" encoding="UTF-8"?><a/>`)

	_, err = io.WriteString(out, "<b/>")
	assertCode(t, err, xmlerrors.ErrStreamClosed)
	_, err = w.Adopt()
	assertCode(t, err, xmlerrors.ErrAlreadyConsumed)

	w.Free()
	w.Free()
}

func TestWritableAdoptFlushesPendingDeclaration(t *testing.T) {
	rt := newRuntime(t)
	w := rt.NewWritable(sqlxml.TagBytea)
	out, err := w.Writer()
	assert.NilError(t, err)
	_, err = io.WriteString(out, "<?")
	assert.NilError(t, err)

	region, err := w.Adopt()
	assert.NilError(t, err)
	assert.Equal(t, readAll(t, region.View()), "<?")
}

func TestWritableAdoptTruncatedDeclaration(t *testing.T) {
	rt := newRuntime(t)
	w := rt.NewWritable(sqlxml.TagBytea)
	out, err := w.Writer()
	assert.NilError(t, err)
	_, err = io.WriteString(out, "<?xm")
	assert.NilError(t, err)

	_, err = w.Adopt()
	assertCode(t, err, xmlerrors.ErrMalformedDeclaration)
	_, err = w.Adopt()
	assert.Assert(t, err != nil)
}

func TestWritableTokenWriter(t *testing.T) {
	rt := newRuntime(t, sqlxml.NewOptions().WithServerEncoding("windows-1252"))
	w := rt.NewWritable(sqlxml.TagXML)
	enc, err := w.TokenWriter()
	assert.NilError(t, err)

	tokens := []xml.Token{
		xml.StartElement{Name: xml.Name{Local: "price"}},
		xml.CharData("5€"),
		xml.EndElement{Name: xml.Name{Local: "price"}},
	}
	for _, tok := range tokens {
		assert.NilError(t, enc.EncodeToken(tok))
	}
	assert.NilError(t, enc.Close())

	region, err := w.Adopt()
	assert.NilError(t, err)
	assert.Equal(t, readAll(t, region.View()), `<?xml version="1.0" encoding="windows-1252"?><price>5`+"\x80</price>")
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	rt := newRuntime(t, sqlxml.NewOptions().WithRegisterer(reg))

	_, err := readable(rt, "text", sqlxml.TagXML).Tree()
	assert.NilError(t, err)
	_, err = readable(rt, "<!DOCTYPE a><a/>", sqlxml.TagXML).Tree()
	assert.NilError(t, err)

	expected := `
# HELP sqlxml_wraps_total The number of content form decisions for parsed reads
# TYPE sqlxml_wraps_total counter
sqlxml_wraps_total{decision="document"} 1
sqlxml_wraps_total{decision="wrapped"} 1
`
	assert.NilError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sqlxml_wraps_total"))

	_, err = sqlxml.New(sqlxml.NewOptions().WithRegisterer(reg))
	assert.Check(t, err != nil)
}

func TestCustomVerifier(t *testing.T) {
	rt := newRuntime(t, sqlxml.NewOptions().WithVerifier(sqlxml.TagBytea, rejectAll{}))
	_, err := rt.NewReadable(sqlxml.NewRegion([]byte("x"), nil), sqlxml.TagXML).Adopt(sqlxml.TagBytea)
	assert.Check(t, errors.Is(err, errRejected))
}

var errRejected = errors.New("rejected")

type rejectAll struct{}

func (rejectAll) VerifyBuffer(sqlxml.Buffer) error { return errRejected }

func (rejectAll) VerifyStream(io.Reader) error { return errRejected }
