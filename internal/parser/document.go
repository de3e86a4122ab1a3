package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

// Document is a rendered page that can be queried for match candidates.
type Document interface {
	QuerySelectorAll(group string) []Node
}

// Node is one element of a rendered document.
type Node interface {
	// QuerySelector returns the first descendant matching a CSS selector.
	QuerySelector(sel string) (Node, bool)
	// QuerySelectorAll returns all descendants matching a CSS selector group.
	QuerySelectorAll(sel string) []Node
	// XPath evaluates expr relative to this node and returns the first hit.
	XPath(expr string) (Node, bool)
	// InnerText returns the visible text with block elements on their own lines.
	InnerText() string
	// Attr returns an attribute value.
	Attr(name string) (string, bool)
}

// NewDocument wraps a fetched response.
func NewDocument(resp *types.Response) (Document, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, err
	}
	return &htmlDocument{doc: doc}, nil
}

// ParseHTML builds a Document from raw markup.
func ParseHTML(markup string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(markup))
	if err != nil {
		return nil, err
	}
	return &htmlDocument{doc: doc}, nil
}

type htmlDocument struct {
	doc *goquery.Document
}

func (d *htmlDocument) QuerySelectorAll(group string) []Node {
	return wrapSelection(d.doc.Find(group))
}

type htmlNode struct {
	sel *goquery.Selection
}

func wrapSelection(sel *goquery.Selection) []Node {
	nodes := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &htmlNode{sel: s})
	})
	return nodes
}

func (n *htmlNode) QuerySelector(sel string) (Node, bool) {
	found := n.sel.Find(sel).First()
	if found.Length() == 0 {
		return nil, false
	}
	return &htmlNode{sel: found}, true
}

func (n *htmlNode) QuerySelectorAll(sel string) []Node {
	return wrapSelection(n.sel.Find(sel))
}

func (n *htmlNode) XPath(expr string) (Node, bool) {
	root := n.raw()
	if root == nil {
		return nil, false
	}
	hit, err := htmlquery.Query(root, expr)
	if err != nil || hit == nil {
		return nil, false
	}
	return &htmlNode{sel: goquery.NewDocumentFromNode(hit).Selection}, true
}

func (n *htmlNode) InnerText() string {
	root := n.raw()
	if root == nil {
		return ""
	}
	return renderText(root)
}

func (n *htmlNode) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

// Contains reports whether other is a strict descendant of n.
func (n *htmlNode) Contains(other Node) bool {
	o, ok := other.(*htmlNode)
	if !ok {
		return false
	}
	self, target := n.raw(), o.raw()
	if self == nil || target == nil || self == target {
		return false
	}
	for p := target.Parent; p != nil; p = p.Parent {
		if p == self {
			return true
		}
	}
	return false
}

func (n *htmlNode) raw() *html.Node {
	if n.sel == nil || len(n.sel.Nodes) == 0 {
		return nil
	}
	return n.sel.Nodes[0]
}

var skipTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true, atom.Head: true,
}

var blockTags = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true, atom.Fieldset: true,
	atom.Figure: true, atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true,
	atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true, atom.Ol: true,
	atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true, atom.Td: true,
	atom.Th: true, atom.Tr: true, atom.Ul: true,
}

// renderText approximates a browser's innerText: whitespace inside text runs
// collapses to one space and block-level elements start new lines.
func renderText(root *html.Node) string {
	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			writeCollapsed(&b, n.Data)
			return
		case html.ElementNode:
			if skipTags[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Br {
				b.WriteByte('\n')
				return
			}
		}

		block := n.Type == html.ElementNode && blockTags[n.DataAtom]
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(root)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func writeCollapsed(b *strings.Builder, s string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			b.WriteByte(' ')
		}
		return
	}
	if s[0] == ' ' || s[0] == '\t' || s[0] == '\n' || s[0] == '\r' {
		b.WriteByte(' ')
	}
	b.WriteString(strings.Join(fields, " "))
	last := s[len(s)-1]
	if last == ' ' || last == '\t' || last == '\n' || last == '\r' {
		b.WriteByte(' ')
	}
}
