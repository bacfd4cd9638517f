package contentform

import (
	"bytes"
	"io"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
	"github.com/jacoelho/sqlxml/internal/streamseq"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		prolog string
		input  string
		want   Form
	}{
		{name: "doctype first", input: "<!DOCTYPE a><a/>", want: MustBeDocument},
		{name: "doctype after comment and pi", input: "<!-- c --><?pi x?>\n<!DOCTYPE a [<!ELEMENT a EMPTY>]><a/>", want: MustBeDocument},
		{name: "doctype after declaration", prolog: `<?xml version="1.0" encoding="UTF-8"?>`, input: "\n<!DOCTYPE a><a/>", want: MustBeDocument},
		{name: "text before element", input: "hello <b>world</b>", want: CannotBeDocument},
		{name: "element first", input: "  <a/>", want: Inconclusive},
		{name: "element then text", input: "<a/>tail", want: Inconclusive},
		{name: "only text", input: "plain", want: CannotBeDocument},
		{name: "empty", input: "", want: CannotBeDocument},
		{name: "only whitespace", input: " \n\t", want: CannotBeDocument},
		{name: "cdata before element", input: "<![CDATA[x]]><a/>", want: CannotBeDocument},
		{name: "malformed markup", input: "<<<", want: CannotBeDocument},
		{name: "stray end tag", input: "</a>", want: CannotBeDocument},
		{name: "byte order mark then doctype", input: "\uFEFF<!DOCTYPE a><a/>", want: MustBeDocument},
		{name: "latin1 prolog", prolog: `<?xml version="1.0" encoding="ISO-8859-1"?>`, input: "caf\xE9<a/>", want: CannotBeDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := streamseq.New(streamseq.Bytes([]byte(tt.input)))
			got, err := Classify(seq, []byte(tt.prolog), 0)
			assert.NilError(t, err)
			assert.Check(t, is.Equal(got, tt.want))

			// Classification never consumes input.
			rest, err := io.ReadAll(seq)
			assert.NilError(t, err)
			assert.Check(t, is.Equal(string(rest), tt.input))
		})
	}
}

func TestClassifyCancelsMark(t *testing.T) {
	seq := streamseq.New(streamseq.Bytes([]byte("<a/>")))
	_, err := Classify(seq, nil, 16)
	assert.NilError(t, err)
	assert.Check(t, xmlerrors.IsCode(seq.Reset(), xmlerrors.ErrMarkNotSet))
}

func TestClassifyIsBounded(t *testing.T) {
	input := bytes.Repeat([]byte("<!-- padding -->"), 64)
	input = append(input, "<!DOCTYPE a><a/>"...)
	seq := streamseq.New(streamseq.Buffered(bytes.NewReader(input)))
	got, err := Classify(seq, nil, 32)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(got, CannotBeDocument))

	rest, err := io.ReadAll(seq)
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(rest, input))
}

func TestClassifyUnmarkableInput(t *testing.T) {
	seq := streamseq.New(streamseq.Reader(bytes.NewReader([]byte("<!DOCTYPE a><a/>"))))
	got, err := Classify(seq, nil, 0)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(got, CannotBeDocument))
	rest, err := io.ReadAll(seq)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(rest), "<!DOCTYPE a><a/>"))
}

func TestClassifyClosedInput(t *testing.T) {
	seq := streamseq.New(streamseq.Bytes([]byte("<a/>")))
	assert.NilError(t, seq.Close())
	got, err := Classify(seq, nil, 0)
	assert.Check(t, is.Equal(got, CannotBeDocument))
	assert.Check(t, err == nil || xmlerrors.IsCode(err, xmlerrors.ErrStreamClosed))
}

func TestStateBOMOnlyOnce(t *testing.T) {
	st := NewState()
	st.OnCharData([]byte("\uFEFF"))
	assert.Check(t, !st.Decided())
	st.OnCharData([]byte("\uFEFF"))
	assert.Check(t, is.Equal(st.Form(), CannotBeDocument))
}

func TestStateFirstDecisionWins(t *testing.T) {
	st := NewState()
	st.OnOutsideMarkup()
	st.OnDirective([]byte("DOCTYPE a"))
	st.OnCharData([]byte("text"))
	st.OnStartElement()
	assert.Check(t, is.Equal(st.Form(), MustBeDocument))
	assert.Check(t, !st.Form().NeedsWrap())
	assert.Check(t, Inconclusive.NeedsWrap())
	assert.Check(t, CannotBeDocument.NeedsWrap())
}

func TestClassifyBytes(t *testing.T) {
	assert.Check(t, is.Equal(ClassifyBytes([]byte("<!DOCTYPE a><a/>")), MustBeDocument))
	assert.Check(t, is.Equal(ClassifyBytes([]byte("x<a/>")), CannotBeDocument))
}
