package dom

import (
	"strings"

	"golang.org/x/net/html"

	"thumbfix/thumbs"
)

var (
	_ thumbs.Document = (*Document)(nil)
	_ thumbs.Recorder = (*Document)(nil)
	_ thumbs.Element  = (*Element)(nil)
)

// Element wraps an element node. Wrappers are unique per node, so the key is
// stable for the document's lifetime.
type Element struct {
	doc  *Document
	node *html.Node
	key  thumbs.ElementKey
}

func (e *Element) Node() *html.Node { return e.node }

func (e *Element) Key() thumbs.ElementKey { return e.key }

func (e *Element) Tag() string { return strings.ToLower(e.node.Data) }

func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) SetAttr(name, value string) {
	e.setAttr(name, value)
	e.doc.record(thumbs.MutationRecord{Kind: thumbs.Attributes, Target: e, AttributeName: name})
}

func (e *Element) setAttr(name, value string) {
	for i, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			e.node.Attr[i].Val = value
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr deletes an attribute, recording the change when present.
func (e *Element) RemoveAttr(name string) {
	for i, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			e.node.Attr = append(e.node.Attr[:i], e.node.Attr[i+1:]...)
			e.doc.record(thumbs.MutationRecord{Kind: thumbs.Attributes, Target: e, AttributeName: name})
			return
		}
	}
}

func (e *Element) HasClass(name string) bool {
	for _, c := range strings.Fields(getAttr(e.node, "class")) {
		if c == name {
			return true
		}
	}
	return false
}

// Style reads the inline declaration for prop.
func (e *Element) Style(prop string) string {
	return InlineStyle(getAttr(e.node, "style"), prop)
}

// SetStyle rewrites the style attribute with prop replaced; an empty value
// removes the declaration.
func (e *Element) SetStyle(prop, value string) {
	e.SetAttr("style", SetInlineStyle(getAttr(e.node, "style"), prop, value))
}

func (e *Element) ComputedStyle(prop string) string {
	return e.doc.sheet.Compute(e.node, strings.ToLower(prop))
}

// Parent returns nil for the document element.
func (e *Element) Parent() thumbs.Element {
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

// BoxSize is always zero: snapshots have no layout.
func (e *Element) BoxSize() (float64, float64) { return 0, 0 }

// Complete is always true: nothing loads in a snapshot.
func (e *Element) Complete() bool { return true }
