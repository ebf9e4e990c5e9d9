// Package elemid derives durable identifiers for DOM elements and
// re-resolves them against a live tree on later visits.
//
// The primary fingerprint is a structural path: a root-to-node sequence
// of tag+position (or tag#id) fragments, rooted at <body>. Structural
// paths are unique at capture time but fragile: dynamic pages reorder
// and insert nodes between visits. Resolution therefore falls back to a
// looser tag+class+id fingerprint when the path no longer matches.
//
// Resolution is best-effort by design: a miss returns nil, never an
// error. A rule whose element vanished stays stored for a future visit
// where the element may reappear.
package elemid

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// maxTextSnapshot caps the stored textContent snapshot. The snapshot is
// a last-resort disambiguator and panel display string, not content.
const maxTextSnapshot = 160

// textPolicy strips any markup from captured text so stored records are
// safe to render in panel HTML without a second sanitization pass.
var textPolicy = bluemonday.StrictPolicy()

// Record is the durable identifier for one DOM element. Two records
// describe the same logical rule iff their DOMPath strings are equal.
type Record struct {
	DOMPath    string   `json:"domPath"`
	TagName    string   `json:"tagName"`
	ClassNames []string `json:"classNames"`
	ID         string   `json:"id,omitempty"`
	Text       string   `json:"textContent,omitempty"`
	ParentPath string   `json:"parentPath,omitempty"`
	Children   []Record `json:"children,omitempty"`
}

// SamePath reports whether r and other identify the same logical rule.
func (r Record) SamePath(other Record) bool {
	return r.DOMPath == other.DOMPath
}

// Identify captures a Record for n. When includeChildren is true, one
// level of immediate element children is captured as well; the children
// themselves never carry a Children field, so capture depth is bounded.
func Identify(n *html.Node, includeChildren bool) Record {
	rec := Record{
		DOMPath:    buildPath(n),
		TagName:    strings.ToLower(n.Data),
		ClassNames: classList(n),
		ID:         attrVal(n, "id"),
		Text:       textSnapshot(n),
	}

	if p := n.Parent; p != nil && p.Type == html.ElementNode && !isBody(p) {
		rec.ParentPath = buildPath(p)
	}

	if includeChildren {
		var kids []Record
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			kids = append(kids, Identify(c, false))
		}
		if len(kids) > 0 {
			rec.Children = kids
		}
	}

	return rec
}

// Resolve re-finds the live node for a previously captured record.
// It first walks the structural path exactly; if the path no longer
// matches, it scans all elements with the record's tag and accepts the
// first whose class set is a superset of the record's and whose id
// matches (or the record has no id). Position is deliberately not used
// in the fallback; position is exactly what changed when the path
// broke. Returns nil when nothing qualifies.
func Resolve(doc *html.Node, rec Record) *html.Node {
	if n := resolveExact(doc, rec.DOMPath); n != nil {
		return n
	}
	return resolveLoose(doc, rec)
}

// --- path construction ---

// buildPath walks from n up to (but excluding) <body>, accumulating a
// selector fragment per level, joined root→leaf with " > ".
func buildPath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode && !isBody(cur); cur = cur.Parent {
		parts = append(parts, fragment(cur))
	}
	// parts is leaf→root; reverse in place.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// fragment returns the selector piece for one level: tag#id when an id
// exists, tag:nth-child(k) when the node has element siblings, bare tag
// otherwise.
func fragment(n *html.Node) string {
	tag := strings.ToLower(n.Data)
	if id := attrVal(n, "id"); id != "" {
		return tag + "#" + id
	}
	idx, total := siblingPosition(n)
	if total > 1 {
		return fmt.Sprintf("%s:nth-child(%d)", tag, idx)
	}
	return tag
}

// siblingPosition returns n's 1-based position among its element
// siblings and the total element-sibling count.
func siblingPosition(n *html.Node) (idx, total int) {
	if n.Parent == nil {
		return 1, 1
	}
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	if idx == 0 {
		idx = 1
	}
	return idx, total
}

// --- exact resolution ---

type pathStep struct {
	tag string
	id  string
	nth int // 0 means no positional constraint
}

func parsePath(path string) ([]pathStep, bool) {
	if path == "" {
		return nil, false
	}
	raw := strings.Split(path, " > ")
	steps := make([]pathStep, 0, len(raw))
	for _, frag := range raw {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			return nil, false
		}
		var step pathStep
		if i := strings.Index(frag, "#"); i >= 0 {
			step.tag = frag[:i]
			step.id = frag[i+1:]
		} else if i := strings.Index(frag, ":nth-child("); i >= 0 {
			step.tag = frag[:i]
			numEnd := strings.Index(frag[i:], ")")
			if numEnd < 0 {
				return nil, false
			}
			if _, err := fmt.Sscanf(frag[i:i+numEnd+1], ":nth-child(%d)", &step.nth); err != nil || step.nth < 1 {
				return nil, false
			}
		} else {
			step.tag = frag
		}
		if step.tag == "" {
			return nil, false
		}
		steps = append(steps, step)
	}
	return steps, true
}

func resolveExact(doc *html.Node, path string) *html.Node {
	steps, ok := parsePath(path)
	if !ok {
		return nil
	}
	cur := findBody(doc)
	if cur == nil {
		return nil
	}
	for _, step := range steps {
		cur = matchChild(cur, step)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// matchChild selects the element child of parent that satisfies step.
func matchChild(parent *html.Node, step pathStep) *html.Node {
	pos := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		pos++
		tag := strings.ToLower(c.Data)
		switch {
		case step.id != "":
			if tag == step.tag && attrVal(c, "id") == step.id {
				return c
			}
		case step.nth > 0:
			if pos == step.nth {
				if tag == step.tag {
					return c
				}
				return nil // occupant changed tag; path is stale
			}
		default:
			if tag == step.tag {
				return c
			}
		}
	}
	return nil
}

// --- loose resolution ---

func resolveLoose(doc *html.Node, rec Record) *html.Node {
	if rec.TagName == "" {
		return nil
	}
	want := make(map[string]bool, len(rec.ClassNames))
	for _, c := range rec.ClassNames {
		want[c] = true
	}

	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if strings.ToLower(n.Data) != rec.TagName {
			return true
		}
		if rec.ID != "" && attrVal(n, "id") != rec.ID {
			return true
		}
		have := make(map[string]bool)
		for _, c := range classList(n) {
			have[c] = true
		}
		for c := range want {
			if !have[c] {
				return true
			}
		}
		found = n
		return false
	})
	return found
}

// walk visits every element node under root in document order until
// visit returns false.
func walk(root *html.Node, visit func(*html.Node) bool) bool {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if !visit(c) {
				return false
			}
		}
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

// --- node helpers ---

func isBody(n *html.Node) bool {
	return n.Type == html.ElementNode && strings.EqualFold(n.Data, "body")
}

func findBody(doc *html.Node) *html.Node {
	if isBody(doc) {
		return doc
	}
	var body *html.Node
	walk(doc, func(n *html.Node) bool {
		if isBody(n) {
			body = n
			return false
		}
		return true
	})
	return body
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func classList(n *html.Node) []string {
	raw := attrVal(n, "class")
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// textSnapshot collects the trimmed descendant text of n, sanitized and
// capped. Whitespace runs collapse to single spaces.
func textSnapshot(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			sb.WriteString(cur.Data)
			sb.WriteByte(' ')
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				switch strings.ToLower(c.Data) {
				case "script", "style", "noscript":
					continue
				}
			}
			collect(c)
		}
	}
	collect(n)

	text := strings.Join(strings.Fields(textPolicy.Sanitize(sb.String())), " ")
	if len(text) > maxTextSnapshot {
		text = text[:maxTextSnapshot]
	}
	return text
}
