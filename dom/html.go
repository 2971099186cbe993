package dom

import (
	"fmt"
	"io"

	"github.com/valyala/quicktemplate"
	"golang.org/x/net/html"
)

// Parse reads an HTML document into a tree of Nodes.
func Parse(r io.Reader) (*Node, error) {
	src, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return convert(src), nil
}

func convert(src *html.Node) *Node {
	var n *Node
	switch src.Type {
	case html.DocumentNode:
		n = NewDocument()
	case html.ElementNode:
		n = NewElement(src.Data)
		for _, a := range src.Attr {
			name := a.Key
			if a.Namespace != "" {
				name = a.Namespace + ":" + a.Key
			}
			n.SetAttr(name, a.Val)
		}
	case html.TextNode:
		return NewText(src.Data)
	case html.CommentNode:
		return NewComment(src.Data)
	default:
		return nil
	}
	for c := src.FirstChild; c != nil; c = c.NextSibling {
		if child := convert(c); child != nil {
			n.AppendChild(child)
		}
	}
	return n
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true, "wbr": true,
}

var rawTextElements = map[string]bool{
	"script": true, "style": true,
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

// WriteHTML serializes n and its subtree as HTML.
func WriteHTML(w io.Writer, n *Node) error {
	ew := &errWriter{w: w}
	qw := quicktemplate.AcquireWriter(ew)
	defer quicktemplate.ReleaseWriter(qw)

	if n.Type == DocumentNode {
		qw.N().S("<!DOCTYPE html>")
	}
	writeNode(qw, n, false)
	return ew.err
}

func writeNode(qw *quicktemplate.Writer, n *Node, raw bool) {
	switch n.Type {
	case DocumentNode:
		for _, c := range n.children {
			writeNode(qw, c, false)
		}
	case TextNode:
		if raw {
			qw.N().S(n.Data)
		} else {
			qw.E().S(n.Data)
		}
	case CommentNode:
		qw.N().S("<!--")
		qw.N().S(n.Data)
		qw.N().S("-->")
	case ElementNode:
		qw.N().S("<")
		qw.N().S(n.Tag)
		for _, a := range n.attrs {
			qw.N().S(" ")
			qw.N().S(a.Name)
			qw.N().S(`="`)
			qw.E().S(a.Value)
			qw.N().S(`"`)
		}
		qw.N().S(">")
		if voidElements[n.Tag] {
			return
		}
		for _, c := range n.children {
			writeNode(qw, c, rawTextElements[n.Tag])
		}
		qw.N().S("</")
		qw.N().S(n.Tag)
		qw.N().S(">")
	}
}
