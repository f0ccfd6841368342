// Package htmldom implements dom.Document over golang.org/x/net/html trees.
// Geometry is not computed; callers supply element boxes with SetRect.
package htmldom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/crimson-sun/stepwise/internal/dom"
)

// Document is a parsed HTML document.
type Document struct {
	root *html.Node

	mu       sync.Mutex
	elements map[*html.Node]*Element
	rects    map[*html.Node]dom.Rect
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{
		root:     root,
		elements: make(map[*html.Node]*Element),
		rects:    make(map[*html.Node]dom.Rect),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the <html> element.
func (d *Document) Root() dom.Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.wrap(c)
		}
	}
	return nil
}

// ElementByID returns the first element with the given id.
func (d *Document) ElementByID(id string) dom.Element {
	if id == "" {
		return nil
	}
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil
	}
	return d.wrap(found)
}

// QueryAll matches a CSS selector against the whole document.
func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldom: selector %q: %w", selector, err)
	}
	nodes := sel.MatchAll(d.root)
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

// Find returns the first element matching selector, or nil.
func (d *Document) Find(selector string) *Element {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	n := sel.MatchFirst(d.root)
	if n == nil {
		return nil
	}
	return d.wrap(n)
}

// SetRect records the layout box of el.
func (d *Document) SetRect(el *Element, r dom.Rect) {
	d.mu.Lock()
	d.rects[el.node] = r
	d.mu.Unlock()
}

// Detach removes el from the tree. The Element stays usable but is no
// longer Connected.
func (d *Document) Detach(el *Element) {
	if p := el.node.Parent; p != nil {
		p.RemoveChild(el.node)
	}
}

func (d *Document) wrap(n *html.Node) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.elements[n]; ok {
		return el
	}
	el := &Element{doc: d, node: n}
	d.elements[n] = el
	return el
}

// Element is a dom.Element backed by an *html.Node.
type Element struct {
	doc  *Document
	node *html.Node
}

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.node }

func (e *Element) TagName() string { return strings.ToLower(e.node.Data) }

func (e *Element) ID() string { return attr(e.node, "id") }

func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) Attrs() []dom.Attr {
	out := make([]dom.Attr, 0, len(e.node.Attr))
	for _, a := range e.node.Attr {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		out = append(out, dom.Attr{Name: name, Value: a.Val})
	}
	return out
}

func (e *Element) Classes() []string {
	return strings.Fields(attr(e.node, "class"))
}

func (e *Element) Parent() dom.Element {
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

func (e *Element) Children() []dom.Element {
	var out []dom.Element
	for c := e.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.doc.wrap(c))
		}
	}
	return out
}

func (e *Element) Text() string {
	var b strings.Builder
	walk(e.node, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		return true
	})
	return b.String()
}

func (e *Element) Rect() dom.Rect {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.rects[e.node]
}

func (e *Element) Connected() bool {
	for n := e.node; n != nil; n = n.Parent {
		if n == e.doc.root {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// walk visits n and its descendants in document order until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}
