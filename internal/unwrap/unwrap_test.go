package unwrap

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func collect(t *testing.T, r xml.TokenReader) []string {
	t.Helper()
	var out []string
	for {
		tok, err := r.Token()
		if errors.Is(err, io.EOF) {
			return out
		}
		assert.NilError(t, err)
		switch v := tok.(type) {
		case xml.StartElement:
			out = append(out, "<"+v.Name.Local+">")
		case xml.EndElement:
			out = append(out, "</"+v.Name.Local+">")
		case xml.CharData:
			out = append(out, string(v))
		case xml.ProcInst:
			out = append(out, "?"+v.Target)
		case xml.Comment:
			out = append(out, "!--"+string(v))
		}
	}
}

func TestTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "wrapper removed",
			input: `<?xml version="1.0"?><w>hello <b>world</b></w>`,
			want:  []string{"?xml", "hello ", "<b>", "world", "</b>"},
		},
		{
			name:  "nested element with wrapper name kept",
			input: `<w><w>x</w><!--c--></w>`,
			want:  []string{"<w>", "x", "</w>", "!--c"},
		},
		{
			name:  "several top-level elements",
			input: `<w><a/><b></b>tail</w>`,
			want:  []string{"<a>", "</a>", "<b>", "</b>", "tail"},
		},
		{
			name:  "empty wrapper",
			input: `<w></w>`,
			want:  nil,
		},
		{
			name:  "no wrapper passes through",
			input: `<a>x</a>`,
			want:  []string{"<a>", "x", "</a>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := xml.NewDecoder(strings.NewReader(tt.input))
			got := collect(t, Tokens(dec, "w"))
			assert.Check(t, is.DeepEqual(got, tt.want))
		})
	}
}

func TestTokensPropagatesErrors(t *testing.T) {
	dec := xml.NewDecoder(strings.NewReader(`<w><a></w>`))
	r := Tokens(dec, "w")
	var err error
	for err == nil {
		_, err = r.Token()
	}
	assert.Check(t, !errors.Is(err, io.EOF))
	var syntaxErr *xml.SyntaxError
	assert.Check(t, errors.As(err, &syntaxErr))
}
