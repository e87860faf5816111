package live

import (
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"golang.org/x/net/html"

	htmldom "thumbfix/internal/dom"
	"thumbfix/thumbs"
)

var _ thumbs.Element = (*element)(nil)

// element reads attributes from the mirror and sends writes and layout
// queries to the browser.
type element struct {
	h    *Host
	node *html.Node
	id   cdp.NodeID
}

func (e *element) Key() thumbs.ElementKey { return thumbs.ElementKey(e.id) }

func (e *element) Tag() string { return strings.ToLower(e.node.Data) }

func (e *element) Attr(name string) (string, bool) { return e.h.mirror.attr(e.node, name) }

// SetAttr writes through to the page. A failed write is logged and the mirror
// is left alone, so the element reads as unchanged.
func (e *element) SetAttr(name, value string) {
	if err := e.h.be.SetAttribute(e.h.ctx, e.id, name, value); err != nil {
		e.h.backendError("set attribute", e.id, err)
		return
	}
	e.h.mirror.setAttr(e.id, name, value)
}

func (e *element) HasClass(name string) bool {
	class, _ := e.Attr("class")
	for _, c := range strings.Fields(class) {
		if c == name {
			return true
		}
	}
	return false
}

func (e *element) Style(prop string) string {
	style, _ := e.Attr("style")
	return htmldom.InlineStyle(style, prop)
}

func (e *element) SetStyle(prop, value string) {
	style, _ := e.Attr("style")
	e.SetAttr("style", htmldom.SetInlineStyle(style, prop, value))
}

func (e *element) ComputedStyle(prop string) string {
	v, err := e.h.be.ComputedStyle(e.h.ctx, e.id, prop)
	if err != nil {
		e.h.backendError("computed style", e.id, err)
		return ""
	}
	return v
}

func (e *element) Parent() thumbs.Element {
	if el := e.h.element(e.h.mirror.parent(e.node)); el != nil {
		return el
	}
	return nil
}

// BoxSize is zero for elements without a layout box.
func (e *element) BoxSize() (float64, float64) {
	w, h, err := e.h.be.BoxSize(e.h.ctx, e.id)
	if err != nil {
		e.h.logger.Debug("no box model", "node", e.id, "err", err)
		return 0, 0
	}
	return w, h
}

// Complete treats an unanswerable query as a finished load.
func (e *element) Complete() bool {
	ok, err := e.h.be.Complete(e.h.ctx, e.id)
	if err != nil {
		e.h.backendError("complete", e.id, err)
		return true
	}
	return ok
}
