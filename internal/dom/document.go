// Package dom is a snapshot host for the thumbnail rewriter: a parsed HTML
// document with an author-style cascade, exposed through the thumbs.Element
// and thumbs.Document interfaces. Writes can be recorded as mutation records
// so the dispatcher sees its own changes the way a MutationObserver would.
package dom

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"thumbfix/thumbs"
)

// StylesheetLoader returns the text of an external stylesheet.
type StylesheetLoader func(absURL string) (string, bool)

const maxExternalSheets = 12

// Document is not safe for concurrent use.
type Document struct {
	node   *html.Node
	base   *url.URL
	sheet  *Stylesheet
	logger *log.Logger
	loader StylesheetLoader
	media  Media

	elems map[*html.Node]*Element
	next  thumbs.ElementKey

	recording bool
	records   []thumbs.MutationRecord
}

type Option func(*Document)

// WithURL sets the page address used for path-based workarounds, the corner
// stylesheet host check and resolving stylesheet links.
func WithURL(u *url.URL) Option {
	return func(d *Document) { d.base = u }
}

func WithMedia(m Media) Option {
	return func(d *Document) { d.media = m }
}

func WithLogger(l *log.Logger) Option {
	return func(d *Document) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithStylesheetLoader enables <link rel="stylesheet"> in the cascade.
func WithStylesheetLoader(fn StylesheetLoader) Option {
	return func(d *Document) { d.loader = fn }
}

// Parse reads an HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	node, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return FromNode(node, opts...), nil
}

// FromNode wraps an already parsed document node.
func FromNode(node *html.Node, opts ...Option) *Document {
	d := &Document{
		node:   node,
		logger: log.Default(),
		media:  DefaultMedia(),
		elems:  map[*html.Node]*Element{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sheet = newStylesheet(d.media, d.logger)
	d.collectStyles()
	return d
}

func (d *Document) collectStyles() {
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Style:
				if c := n.FirstChild; c != nil && c.Type == html.TextNode {
					d.sheet.Add(c.Data)
				}
			case atom.Link:
				rel := strings.ToLower(getAttr(n, "rel"))
				if strings.Contains(rel, "stylesheet") {
					if href := strings.TrimSpace(getAttr(n, "href")); href != "" {
						links = append(links, href)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.node)

	if d.loader == nil {
		return
	}
	seen := map[string]struct{}{}
	for _, href := range links {
		if len(seen) >= maxExternalSheets {
			break
		}
		abs := d.resolve(href)
		if abs == "" {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if txt, ok := d.loader(abs); ok {
			d.sheet.Add(txt)
		}
	}
}

func (d *Document) resolve(href string) string {
	hu, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if d.base == nil {
		if hu.IsAbs() {
			return hu.String()
		}
		return ""
	}
	return d.base.ResolveReference(hu).String()
}

// Node is the underlying document node.
func (d *Document) Node() *html.Node { return d.node }

// Stylesheet exposes the collected author rules.
func (d *Document) Stylesheet() *Stylesheet { return d.sheet }

// Path implements thumbs.Document.
func (d *Document) Path() string {
	if d.base == nil {
		return ""
	}
	return d.base.Path
}

// Host is the page host, empty when no URL was given.
func (d *Document) Host() string {
	if d.base == nil {
		return ""
	}
	return d.base.Hostname()
}

// Root implements thumbs.Document. It returns the document element.
func (d *Document) Root() thumbs.Element {
	for c := d.node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.wrap(c)
		}
	}
	return nil
}

func (d *Document) wrap(n *html.Node) *Element {
	if el, ok := d.elems[n]; ok {
		return el
	}
	d.next++
	el := &Element{doc: d, node: n, key: d.next}
	d.elems[n] = el
	return el
}

// Element returns the wrapper for n, or nil when n is not an element.
func (d *Document) Element(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return d.wrap(n)
}

var (
	selectorMu    sync.Mutex
	selectorCache = map[string]cascadia.Selector{}
)

func compile(selector string) (cascadia.Selector, error) {
	selectorMu.Lock()
	defer selectorMu.Unlock()
	if sel, ok := selectorCache[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, err
	}
	selectorCache[selector] = sel
	return sel, nil
}

// QueryAll implements thumbs.Document.
func (d *Document) QueryAll(root thumbs.Element, selector string) []thumbs.Element {
	el, ok := root.(*Element)
	if !ok || el == nil || el.doc != d {
		return nil
	}
	sel, err := compile(selector)
	if err != nil {
		d.logger.Warn("bad selector", "selector", selector, "err", err)
		return nil
	}
	nodes := cascadia.QueryAll(el.node, sel)
	out := make([]thumbs.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out
}

// Select is QueryAll from the document node, returning concrete elements.
func (d *Document) Select(selector string) []*Element {
	sel, err := compile(selector)
	if err != nil {
		return nil
	}
	var out []*Element
	for _, n := range cascadia.QueryAll(d.node, sel) {
		out = append(out, d.wrap(n))
	}
	return out
}

// Record turns mutation recording on or off.
func (d *Document) Record(on bool) { d.recording = on }

// TakeRecords returns and clears the recorded mutations.
func (d *Document) TakeRecords() []thumbs.MutationRecord {
	out := d.records
	d.records = nil
	return out
}

func (d *Document) record(rec thumbs.MutationRecord) {
	if d.recording {
		d.records = append(d.records, rec)
	}
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes, recording a childList mutation.
func (d *Document) AppendHTML(parent *Element, fragment string) ([]*Element, error) {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent.node)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	var added []*Element
	var recorded []thumbs.Element
	for _, n := range nodes {
		parent.node.AppendChild(n)
		if n.Type == html.ElementNode {
			el := d.wrap(n)
			added = append(added, el)
			recorded = append(recorded, el)
		}
	}
	if len(recorded) > 0 {
		d.record(thumbs.MutationRecord{Kind: thumbs.ChildList, Target: parent, Added: recorded})
	}
	return added, nil
}

// InjectStylesheet appends a <style> element with the given id to <head>
// unless one already exists, and adds its rules to the cascade.
func (d *Document) InjectStylesheet(id, css string) bool {
	if len(d.Select("#"+id)) > 0 {
		return false
	}
	heads := d.Select("head")
	if len(heads) == 0 {
		return false
	}
	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: "id", Val: id}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	heads[0].node.AppendChild(style)
	d.sheet.Add(css)
	return true
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.node)
}

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}
