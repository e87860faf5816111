// Package live drives the rewriter against a page open in Chrome. DOM events
// from the DevTools protocol are mirrored into an html.Node tree and turned
// into mutation batches for a thumbs.Dispatcher.
package live

import (
	"context"
	neturl "net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andybalholm/cascadia"
	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"golang.org/x/net/html"

	"thumbfix/thumbs"
)

var _ thumbs.Document = (*Host)(nil)

// Host adapts a browser tab to thumbs.Document.
type Host struct {
	ctx    context.Context
	be     backend
	mirror *mirror
	logger *log.Logger
	queue  *eventQueue

	// stale is set when the browser no longer knows our node ids; the pump
	// reloads the tree on its next wake-up.
	stale atomic.Bool

	mu    sync.Mutex
	elems map[*html.Node]*element
	path  string

	selMu     sync.Mutex
	selectors map[string]cascadia.Selector
}

func newHost(ctx context.Context, be backend, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.Default()
	}
	return &Host{
		ctx:       ctx,
		be:        be,
		mirror:    newMirror(),
		logger:    logger,
		queue:     newEventQueue(),
		elems:     map[*html.Node]*element{},
		selectors: map[string]cascadia.Selector{},
	}
}

// load fetches the whole document and rebuilds the mirror.
func (h *Host) load() error {
	root, err := h.be.Document(h.ctx)
	if err != nil {
		return err
	}
	h.mirror.reset(root)
	h.mu.Lock()
	h.elems = map[*html.Node]*element{}
	h.mu.Unlock()
	h.stale.Store(false)
	return nil
}

func (h *Host) element(n *html.Node) *element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	id, ok := h.mirror.id(n)
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if el, ok := h.elems[n]; ok {
		return el
	}
	el := &element{h: h, node: n, id: id}
	h.elems[n] = el
	return el
}

// Root implements thumbs.Document.
func (h *Host) Root() thumbs.Element {
	if el := h.element(h.mirror.documentElement()); el != nil {
		return el
	}
	return nil
}

// QueryAll implements thumbs.Document. Matching runs on the mirror and covers
// descendants of root only.
func (h *Host) QueryAll(root thumbs.Element, selector string) []thumbs.Element {
	el, ok := root.(*element)
	if !ok || el == nil {
		return nil
	}
	sel, err := h.compile(selector)
	if err != nil {
		h.logger.Error("bad selector", "selector", selector, "err", err)
		return nil
	}
	h.mirror.mu.RLock()
	nodes := cascadia.QueryAll(el.node, sel)
	h.mirror.mu.RUnlock()
	out := make([]thumbs.Element, 0, len(nodes))
	for _, n := range nodes {
		if e := h.element(n); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (h *Host) compile(selector string) (cascadia.Selector, error) {
	h.selMu.Lock()
	defer h.selMu.Unlock()
	if sel, ok := h.selectors[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, err
	}
	h.selectors[selector] = sel
	return sel, nil
}

// Path implements thumbs.Document.
func (h *Host) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

func (h *Host) setPath(rawURL string) {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.path = u.Path
	h.mu.Unlock()
}

// backendError logs a failed protocol call and flags the mirror as stale when
// the browser has forgotten the node.
func (h *Host) backendError(op string, id cdp.NodeID, err error) {
	if h.ctx.Err() != nil {
		return
	}
	msg := err.Error()
	if strings.Contains(msg, "No node with given id") || strings.Contains(msg, "Could not find node") {
		h.stale.Store(true)
		h.queue.wake()
	}
	h.logger.Warn("page write failed", "op", op, "node", id, "err", err)
}

// handleEvent is the chromedp listener. It runs on the connection's event
// goroutine and must not block or issue commands, so DOM events are queued
// for the pump.
func (h *Host) handleEvent(ev any) {
	switch e := ev.(type) {
	case *dom.EventSetChildNodes, *dom.EventChildNodeInserted, *dom.EventChildNodeRemoved,
		*dom.EventAttributeModified, *dom.EventAttributeRemoved,
		*dom.EventInlineStyleInvalidated, *dom.EventDocumentUpdated:
		h.queue.push(ev)
	case *page.EventNavigatedWithinDocument:
		h.setPath(e.URL)
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			h.setPath(e.Frame.URL)
		}
	}
}

// translate applies one protocol event to the mirror and returns the records
// a MutationObserver on the document would have delivered for it.
func (h *Host) translate(ev any) []thumbs.MutationRecord {
	switch e := ev.(type) {
	case *dom.EventDocumentUpdated:
		return h.reload()

	case *dom.EventSetChildNodes:
		parent, added := h.mirror.setChildren(e.ParentID, e.Nodes)
		if parent == nil || len(added) == 0 {
			return nil
		}
		return []thumbs.MutationRecord{h.childList(parent, added)}

	case *dom.EventChildNodeInserted:
		parent, n := h.mirror.insert(e.ParentNodeID, e.PreviousNodeID, e.Node)
		if n == nil {
			return nil
		}
		if e.Node.ChildNodeCount > int64(len(e.Node.Children)) {
			// The subtree arrives later as setChildNodes.
			if err := h.be.RequestChildren(h.ctx, e.Node.NodeID); err != nil {
				h.logger.Debug("request children", "node", e.Node.NodeID, "err", err)
			}
		}
		return []thumbs.MutationRecord{h.childList(parent, []*html.Node{n})}

	case *dom.EventChildNodeRemoved:
		h.mirror.remove(e.NodeID)
		return nil

	case *dom.EventAttributeModified:
		n, ok := h.mirror.setAttr(e.NodeID, e.Name, e.Value)
		if !ok {
			return nil
		}
		return []thumbs.MutationRecord{h.attributes(n, e.Name)}

	case *dom.EventAttributeRemoved:
		n, ok := h.mirror.removeAttr(e.NodeID, e.Name)
		if !ok {
			return nil
		}
		return []thumbs.MutationRecord{h.attributes(n, e.Name)}

	case *dom.EventInlineStyleInvalidated:
		var out []thumbs.MutationRecord
		for _, id := range e.NodeIDs {
			desc, err := h.be.Describe(h.ctx, id)
			if err != nil {
				h.backendError("describe", id, err)
				continue
			}
			if n, ok := h.mirror.replaceAttrs(id, desc.Attributes); ok {
				out = append(out, h.attributes(n, "style"))
			}
		}
		return out
	}
	return nil
}

// reload rebuilds the mirror and reports the whole document as added.
func (h *Host) reload() []thumbs.MutationRecord {
	if err := h.load(); err != nil {
		h.logger.Error("reload document", "err", err)
		return nil
	}
	root := h.Root()
	if root == nil {
		return nil
	}
	return []thumbs.MutationRecord{{Kind: thumbs.ChildList, Added: []thumbs.Element{root}}}
}

func (h *Host) childList(parent *html.Node, added []*html.Node) thumbs.MutationRecord {
	rec := thumbs.MutationRecord{Kind: thumbs.ChildList}
	if p := h.element(parent); p != nil {
		rec.Target = p
	}
	for _, n := range added {
		if el := h.element(n); el != nil {
			rec.Added = append(rec.Added, el)
		}
	}
	return rec
}

func (h *Host) attributes(n *html.Node, name string) thumbs.MutationRecord {
	rec := thumbs.MutationRecord{Kind: thumbs.Attributes, AttributeName: strings.ToLower(name)}
	if el := h.element(n); el != nil {
		rec.Target = el
	}
	return rec
}

// pump turns queued events into batches until ctx is done. Everything queued
// at wake-up becomes one batch, the way observer callbacks coalesce.
func (h *Host) pump(ctx context.Context, out chan<- []thumbs.MutationRecord) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.queue.ready:
		}
		var batch []thumbs.MutationRecord
		if h.stale.Load() {
			batch = append(batch, h.reload()...)
		}
		for _, ev := range h.queue.drain() {
			batch = append(batch, h.translate(ev)...)
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return
		}
	}
}

// eventQueue is an unbounded FIFO; push never blocks.
type eventQueue struct {
	mu    sync.Mutex
	items []any
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev any) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// wake forces the pump to run even when nothing is queued.
func (q *eventQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
