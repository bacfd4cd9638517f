// Package xmltree builds a small in-memory tree from an XML token stream.
package xmltree

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	xmlerrors "github.com/jacoelho/sqlxml/errors"
)

// NodeType classifies nodes in the tree.
type NodeType int

const (
	// DocumentNode is the root returned by Build; its children are the
	// top-level nodes of the input.
	DocumentNode NodeType = iota
	// ElementNode identifies an element.
	ElementNode
	// TextNode identifies character data, including CDATA sections.
	TextNode
	// CommentNode identifies a comment.
	CommentNode
	// ProcInstNode identifies a processing instruction other than the
	// declaration.
	ProcInstNode
	// DirectiveNode identifies a <!...> construct such as DOCTYPE.
	DirectiveNode
)

// Node is one node of the tree. Data holds text, comment, directive or
// processing instruction content; Name.Local holds a processing instruction
// target.
type Node struct {
	Name     xml.Name
	Data     string
	Attrs    []xml.Attr
	Children []*Node
	Type     NodeType
}

// Text returns the concatenated character data under n.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	if n.Type == TextNode {
		return n.Data
	}
	var b strings.Builder
	for _, c := range n.Children {
		if c.Type == TextNode || c.Type == ElementNode {
			b.WriteString(c.Text())
		}
	}
	return b.String()
}

// Elements returns the element children of n.
func (n *Node) Elements() []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Type == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// Build consumes r to its end. A maxDepth of 0 disables the element depth
// limit.
func Build(r xml.TokenReader, maxDepth int) (*Node, error) {
	doc := &Node{Type: DocumentNode}
	stack := []*Node{doc}
	var pending string
	flush := func() {
		if pending == "" {
			return
		}
		top := stack[len(stack)-1]
		top.Children = append(top.Children, &Node{Type: TextNode, Data: pending})
		pending = ""
	}
	for {
		tok, err := r.Token()
		if tok != nil {
			top := stack[len(stack)-1]
			switch t := tok.(type) {
			case xml.StartElement:
				flush()
				if maxDepth > 0 && len(stack) > maxDepth {
					return nil, xmlerrors.Newf(xmlerrors.ErrLimitExceeded, "element depth exceeds %d", maxDepth)
				}
				el := &Node{Type: ElementNode, Name: t.Name, Attrs: cloneAttrs(t.Attr)}
				top.Children = append(top.Children, el)
				stack = append(stack, el)
			case xml.EndElement:
				flush()
				if len(stack) == 1 {
					return nil, fmt.Errorf("unexpected end element </%s>", t.Name.Local)
				}
				stack = stack[:len(stack)-1]
			case xml.CharData:
				// Adjacent character data, as split by CDATA sections, forms one node.
				pending += string(t)
			case xml.Comment:
				flush()
				top.Children = append(top.Children, &Node{Type: CommentNode, Data: string(t)})
			case xml.ProcInst:
				flush()
				if t.Target != "xml" {
					top.Children = append(top.Children, &Node{Type: ProcInstNode, Name: xml.Name{Local: t.Target}, Data: string(t.Inst)})
				}
			case xml.Directive:
				flush()
				top.Children = append(top.Children, &Node{Type: DirectiveNode, Data: string(t)})
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("unclosed element <%s>", stack[len(stack)-1].Name.Local)
	}
	flush()
	return doc, nil
}

func cloneAttrs(attrs []xml.Attr) []xml.Attr {
	if len(attrs) == 0 {
		return nil
	}
	return append([]xml.Attr(nil), attrs...)
}

// Outline writes an indented one-line-per-node description of n.
func Outline(w io.Writer, n *Node) error {
	return outline(w, n, 0)
}

func outline(w io.Writer, n *Node, depth int) error {
	indent := strings.Repeat("  ", depth)
	var line string
	switch n.Type {
	case DocumentNode:
		line = "document"
	case ElementNode:
		line = "element " + qualified(n.Name)
		for _, a := range n.Attrs {
			line += fmt.Sprintf(" %s=%q", qualified(a.Name), a.Value)
		}
	case TextNode:
		line = fmt.Sprintf("text %q", n.Data)
	case CommentNode:
		line = fmt.Sprintf("comment %q", n.Data)
	case ProcInstNode:
		line = fmt.Sprintf("pi %s %q", n.Name.Local, n.Data)
	case DirectiveNode:
		line = fmt.Sprintf("directive %q", n.Data)
	}
	if _, err := fmt.Fprintln(w, indent+line); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := outline(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return "{" + name.Space + "}" + name.Local
}
