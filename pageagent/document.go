package pageagent

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Marker classes carrying the agent's visual treatments. Hidden state
// is scanned by marker, not by stored records, so clear-all catches
// elements hidden this session even if never persisted.
const (
	HiddenClass    = "dv-hidden"
	HighlightClass = "dv-highlight"
)

// crosshairStyleID tags the transient style element injected while
// selection mode is on.
const crosshairStyleID = "dv-crosshair"

// Document wraps one page's parsed HTML tree and the class-toggle
// primitives the agent applies to it.
type Document struct {
	root *html.Node
}

// ParseDocument parses a full HTML document.
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("pageagent: parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// AddClass adds a class token to a node if not already present.
func AddClass(n *html.Node, class string) {
	classes := strings.Fields(attr(n, "class"))
	for _, c := range classes {
		if c == class {
			return
		}
	}
	setAttr(n, "class", strings.Join(append(classes, class), " "))
}

// RemoveClass removes a class token from a node.
func RemoveClass(n *html.Node, class string) {
	classes := strings.Fields(attr(n, "class"))
	out := classes[:0]
	for _, c := range classes {
		if c != class {
			out = append(out, c)
		}
	}
	setAttr(n, "class", strings.Join(out, " "))
}

// HasClass reports whether a node carries a class token.
func HasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// ElementsWithClass returns every element under the document root
// carrying the class, in document order.
func (d *Document) ElementsWithClass(class string) []*html.Node {
	var out []*html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && HasClass(n, class) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(d.root)
	return out
}

// EnableCrosshair injects the transient selection-mode cursor style
// into <head>. Idempotent.
func (d *Document) EnableCrosshair() {
	if d.findStyle() != nil {
		return
	}
	head := d.findTag("head")
	if head == nil {
		return
	}
	style := &html.Node{
		Type: html.ElementNode,
		Data: "style",
		Attr: []html.Attribute{{Key: "id", Val: crosshairStyleID}},
	}
	style.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: "* { cursor: crosshair !important; }",
	})
	head.AppendChild(style)
}

// DisableCrosshair removes the selection-mode cursor style.
func (d *Document) DisableCrosshair() {
	if style := d.findStyle(); style != nil && style.Parent != nil {
		style.Parent.RemoveChild(style)
	}
}

func (d *Document) findStyle() *html.Node {
	var found *html.Node
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "style" && attr(n, "id") == crosshairStyleID {
			found = n
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(d.root)
	return found
}

func (d *Document) findTag(tag string) *html.Node {
	var found *html.Node
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return false
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	visit(d.root)
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
