package xmltree

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
	"github.com/jacoelho/sqlxml/internal/unwrap"
)

func build(t *testing.T, input string, maxDepth int) (*Node, error) {
	t.Helper()
	return Build(xml.NewDecoder(strings.NewReader(input)), maxDepth)
}

func TestBuildWrappedContent(t *testing.T) {
	dec := xml.NewDecoder(strings.NewReader("<w>hello <b>world</b></w>"))
	doc, err := Build(unwrap.Tokens(dec, "w"), 0)
	assert.NilError(t, err)

	want := &Node{Type: DocumentNode, Children: []*Node{
		{Type: TextNode, Data: "hello "},
		{Type: ElementNode, Name: xml.Name{Local: "b"}, Children: []*Node{
			{Type: TextNode, Data: "world"},
		}},
	}}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildDocument(t *testing.T) {
	input := `<?xml version="1.0"?>` + "\n" +
		`<!DOCTYPE r><?style x?><r a="1" xmlns:p="urn:p"><p:c>t<![CDATA[<x>]]>u</p:c><!--note--></r>`
	doc, err := build(t, input, 0)
	assert.NilError(t, err)

	assert.Check(t, is.Len(doc.Children, 4))
	assert.Check(t, is.Equal(doc.Children[0].Type, TextNode))
	assert.Check(t, is.Equal(doc.Children[1].Type, DirectiveNode))
	assert.Check(t, is.Equal(doc.Children[1].Data, "DOCTYPE r"))
	assert.Check(t, is.Equal(doc.Children[2].Type, ProcInstNode))
	assert.Check(t, is.Equal(doc.Children[2].Name.Local, "style"))

	root := doc.Elements()[0]
	assert.Check(t, is.Equal(root.Name.Local, "r"))
	assert.Check(t, is.Len(root.Attrs, 2))
	child := root.Elements()[0]
	assert.Check(t, is.DeepEqual(child.Name, xml.Name{Space: "urn:p", Local: "c"}))
	assert.Check(t, is.Len(child.Children, 1), "CDATA merges with adjacent text")
	assert.Check(t, is.Equal(child.Text(), "t<x>u"))
	assert.Check(t, is.Equal(root.Children[1].Type, CommentNode))
}

func TestBuildDepthLimit(t *testing.T) {
	_, err := build(t, "<a><b><c/></b></a>", 2)
	assert.Check(t, xmlerrors.IsCode(err, xmlerrors.ErrLimitExceeded))

	_, err = build(t, "<a><b/></a>", 2)
	assert.NilError(t, err)
}

func TestBuildSyntaxError(t *testing.T) {
	_, err := build(t, "<a><b></a>", 0)
	assert.Check(t, err != nil)
}

func TestOutline(t *testing.T) {
	doc, err := build(t, `<a x="1">hi<!--c--><b/></a>`, 0)
	assert.NilError(t, err)
	var sb strings.Builder
	assert.NilError(t, Outline(&sb, doc))
	want := "document\n" +
		"  element a x=\"1\"\n" +
		"    text \"hi\"\n" +
		"    comment \"c\"\n" +
		"    element b\n"
	assert.Check(t, is.Equal(sb.String(), want))
}
