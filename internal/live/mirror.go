package live

import (
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// mirror keeps an html.Node copy of the element tree the browser has pushed
// to us. Only the document node and elements are mirrored; text, comments,
// shadow roots and frame documents are skipped.
type mirror struct {
	mu   sync.RWMutex
	doc  *html.Node
	byID map[cdp.NodeID]*html.Node
	ids  map[*html.Node]cdp.NodeID
}

func newMirror() *mirror {
	return &mirror{
		doc:  &html.Node{Type: html.DocumentNode},
		byID: map[cdp.NodeID]*html.Node{},
		ids:  map[*html.Node]cdp.NodeID{},
	}
}

// reset replaces the mirror with the tree rooted at root, as returned by
// DOM.getDocument.
func (m *mirror) reset(root *cdp.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = &html.Node{Type: html.DocumentNode}
	m.byID = map[cdp.NodeID]*html.Node{}
	m.ids = map[*html.Node]cdp.NodeID{}
	if root == nil {
		return
	}
	m.byID[root.NodeID] = m.doc
	m.ids[m.doc] = root.NodeID
	for _, c := range root.Children {
		if n := m.build(c); n != nil {
			m.doc.AppendChild(n)
		}
	}
}

// build converts src and its known children, registering their ids. It
// returns nil for nodes that are not mirrored.
func (m *mirror) build(src *cdp.Node) *html.Node {
	if src == nil || src.NodeType != cdp.NodeTypeElement {
		return nil
	}
	if old, ok := m.byID[src.NodeID]; ok {
		// Moved node: the browser reports it again under its new parent.
		if old.Parent != nil {
			old.Parent.RemoveChild(old)
		}
		m.forget(old)
	}
	tag := strings.ToLower(firstNonEmpty(src.LocalName, src.NodeName))
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrsOf(src.Attributes),
	}
	m.byID[src.NodeID] = n
	m.ids[n] = src.NodeID
	for _, c := range src.Children {
		if cn := m.build(c); cn != nil {
			n.AppendChild(cn)
		}
	}
	return n
}

// forget drops n and its subtree from the id maps.
func (m *mirror) forget(n *html.Node) {
	if id, ok := m.ids[n]; ok {
		delete(m.byID, id)
		delete(m.ids, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		m.forget(c)
	}
}

func attrsOf(flat []string) []html.Attribute {
	out := make([]html.Attribute, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out = append(out, html.Attribute{Key: strings.ToLower(flat[i]), Val: flat[i+1]})
	}
	return out
}

// setChildren handles DOM.setChildNodes: the children of parent are replaced
// by nodes. It returns the mirrored elements.
func (m *mirror) setChildren(parent cdp.NodeID, nodes []*cdp.Node) (*html.Node, []*html.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[parent]
	if !ok {
		return nil, nil
	}
	for c := p.FirstChild; c != nil; {
		next := c.NextSibling
		m.forget(c)
		p.RemoveChild(c)
		c = next
	}
	var added []*html.Node
	for _, src := range nodes {
		if n := m.build(src); n != nil {
			p.AppendChild(n)
			added = append(added, n)
		}
	}
	return p, added
}

// insert handles DOM.childNodeInserted. prev is the previous sibling id, 0
// for the first position.
func (m *mirror) insert(parent, prev cdp.NodeID, src *cdp.Node) (*html.Node, *html.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[parent]
	if !ok {
		return nil, nil
	}
	n := m.build(src)
	if n == nil {
		return p, nil
	}
	var ref *html.Node
	if prev == 0 {
		ref = p.FirstChild
	} else if ps, ok := m.byID[prev]; ok && ps.Parent == p {
		ref = ps.NextSibling
	}
	// A previous sibling that is not mirrored (text, comment) leaves the
	// position approximate; order does not affect rewrites.
	if ref != nil {
		p.InsertBefore(n, ref)
	} else {
		p.AppendChild(n)
	}
	return p, n
}

// remove handles DOM.childNodeRemoved.
func (m *mirror) remove(id cdp.NodeID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.Parent == nil {
		return false
	}
	n.Parent.RemoveChild(n)
	m.forget(n)
	return true
}

// setAttr stores an attribute value and reports whether the node is known.
func (m *mirror) setAttr(id cdp.NodeID, name, value string) (*html.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.Type != html.ElementNode {
		return nil, false
	}
	setNodeAttr(n, name, value)
	return n, true
}

func (m *mirror) removeAttr(id cdp.NodeID, name string) (*html.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.Type != html.ElementNode {
		return nil, false
	}
	name = strings.ToLower(name)
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			break
		}
	}
	return n, true
}

// replaceAttrs overwrites every attribute of id, used after an inline style
// invalidation when the node is described again.
func (m *mirror) replaceAttrs(id cdp.NodeID, flat []string) (*html.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.Type != html.ElementNode {
		return nil, false
	}
	n.Attr = attrsOf(flat)
	return n, true
}

func setNodeAttr(n *html.Node, name, value string) {
	name = strings.ToLower(name)
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func (m *mirror) attr(n *html.Node, name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = strings.ToLower(name)
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (m *mirror) node(id cdp.NodeID) (*html.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	return n, ok
}

func (m *mirror) id(n *html.Node) (cdp.NodeID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[n]
	return id, ok
}

// documentElement is the first element child of the document node.
func (m *mirror) documentElement() *html.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := m.doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func (m *mirror) parent(n *html.Node) *html.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := n.Parent; p != nil && p.Type == html.ElementNode {
		return p
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
