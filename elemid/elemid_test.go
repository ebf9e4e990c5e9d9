package elemid

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

// parse returns the document node for an HTML body fragment.
func parse(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader("<html><head></head><body>" + body + "</body></html>"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

// byID finds the element with the given id attribute.
func byID(t *testing.T, doc *html.Node, id string) *html.Node {
	t.Helper()
	var found *html.Node
	walk(doc, func(n *html.Node) bool {
		if attrVal(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		t.Fatalf("no element with id %q", id)
	}
	return found
}

func TestIdentifyPathShape(t *testing.T) {
	doc := parse(t, `
		<div id="wrap">
			<p>first</p>
			<p id="target" class="note big">hello <b>world</b></p>
			<p>third</p>
		</div>`)

	rec := Identify(byID(t, doc, "target"), false)

	if rec.DOMPath != "div#wrap > p:nth-child(2)" {
		t.Errorf("path = %q", rec.DOMPath)
	}
	if rec.TagName != "p" || rec.ID != "target" {
		t.Errorf("tag/id = %q/%q", rec.TagName, rec.ID)
	}
	if len(rec.ClassNames) != 2 || rec.ClassNames[0] != "note" || rec.ClassNames[1] != "big" {
		t.Errorf("classes = %v", rec.ClassNames)
	}
	if rec.Text != "hello world" {
		t.Errorf("text = %q", rec.Text)
	}
	if rec.ParentPath != "div#wrap" {
		t.Errorf("parentPath = %q", rec.ParentPath)
	}
}

func TestIdentifySingleChildOmitsPosition(t *testing.T) {
	doc := parse(t, `<section><article class="only">x</article></section>`)
	var target *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Data == "article" {
			target = n
			return false
		}
		return true
	})

	rec := Identify(target, false)
	if rec.DOMPath != "section > article" {
		t.Errorf("path = %q", rec.DOMPath)
	}
}

func TestIdentifyChildrenOneLevelOnly(t *testing.T) {
	doc := parse(t, `
		<div id="outer">
			<div id="mid"><span id="inner">deep</span></div>
			<p>text</p>
		</div>`)

	rec := Identify(byID(t, doc, "outer"), true)
	if len(rec.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(rec.Children))
	}
	for _, child := range rec.Children {
		if child.Children != nil {
			t.Errorf("grandchildren captured on %q", child.DOMPath)
		}
	}
}

func TestResolveRoundTrip(t *testing.T) {
	doc := parse(t, `
		<div id="wrap">
			<ul>
				<li>a</li>
				<li class="pick">b</li>
				<li>c</li>
			</ul>
		</div>`)

	var want *html.Node
	walk(doc, func(n *html.Node) bool {
		if attrVal(n, "class") == "pick" {
			want = n
			return false
		}
		return true
	})

	rec := Identify(want, false)
	if got := Resolve(doc, rec); got != want {
		t.Errorf("round-trip resolved %p, want %p (path %q)", got, want, rec.DOMPath)
	}
}

func TestResolveFallbackAfterReorder(t *testing.T) {
	before := parse(t, `
		<div>
			<span>noise</span>
			<div class="ad banner" id="promo">buy</div>
		</div>`)
	rec := Identify(byID(t, before, "promo"), false)

	// Same element, new position and new wrapper: the structural path is
	// stale but tag+class+id still match.
	after := parse(t, `
		<main>
			<div class="ad banner extra" id="promo">buy</div>
			<div><span>noise</span></div>
		</main>`)

	got := Resolve(after, rec)
	if got == nil {
		t.Fatal("fallback did not resolve")
	}
	if attrVal(got, "id") != "promo" {
		t.Errorf("resolved wrong node: id=%q", attrVal(got, "id"))
	}
}

func TestResolveClassSubsetRejected(t *testing.T) {
	before := parse(t, `<div><p class="a b c" id="">x</p><p>y</p></div>`)
	var target *html.Node
	walk(before, func(n *html.Node) bool {
		if attrVal(n, "class") != "" {
			target = n
			return false
		}
		return true
	})
	rec := Identify(target, false)

	// Candidate carries only a subset of the recorded classes.
	after := parse(t, `<section><p class="a b">x</p></section>`)
	if got := Resolve(after, rec); got != nil {
		t.Errorf("resolved %v, want nil", got)
	}
}

func TestResolveMissReturnsNil(t *testing.T) {
	doc := parse(t, `<div><p>only</p></div>`)

	for _, rec := range []Record{
		{DOMPath: "div:nth-child(9) > span", TagName: "span"},
		{DOMPath: "table > tr", TagName: "tr"},
		{DOMPath: "", TagName: ""},
		{DOMPath: "garbage >> ::", TagName: "nope"},
	} {
		if got := Resolve(doc, rec); got != nil {
			t.Errorf("Resolve(%q) = %v, want nil", rec.DOMPath, got)
		}
	}
}

func TestResolveStaleNthChildTag(t *testing.T) {
	before := parse(t, `<div><em>a</em><em class="mark">b</em></div>`)
	var target *html.Node
	walk(before, func(n *html.Node) bool {
		if attrVal(n, "class") == "mark" {
			target = n
			return false
		}
		return true
	})
	rec := Identify(target, false)

	// Position 2 is now occupied by a different tag; the exact walk must
	// fail and the loose pass takes over via tag+class.
	after := parse(t, `<div><em>a</em><strong>z</strong><em class="mark">b</em></div>`)
	got := Resolve(after, rec)
	if got == nil || attrVal(got, "class") != "mark" {
		t.Fatalf("stale-position resolve failed: %v", got)
	}
}

func TestTextSnapshotSanitizedAndCapped(t *testing.T) {
	doc := parse(t, `<div id="t">  <script>evil()</script>Hello   <i>there</i> `+strings.Repeat("x", 400)+`</div>`)
	rec := Identify(byID(t, doc, "t"), false)

	if strings.Contains(rec.Text, "evil") {
		t.Errorf("script text leaked into snapshot: %q", rec.Text)
	}
	if !strings.HasPrefix(rec.Text, "Hello there") {
		t.Errorf("snapshot = %q", rec.Text)
	}
	if len(rec.Text) > maxTextSnapshot {
		t.Errorf("snapshot length %d exceeds cap", len(rec.Text))
	}
}
