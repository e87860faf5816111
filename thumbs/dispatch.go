package thumbs

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// Selectors used by the subtree scan, in the order they are applied.
var scanSelectors = []string{
	"img",
	"div[style*=background-image]",
	"a[style*=background-image]",
}

// ErrNotSettled is returned by Settle when rewrites keep producing mutations.
var ErrNotSettled = errors.New("thumbs: mutation cascade did not settle")

// Recorder is implemented by hosts that record their own DOM writes as
// mutation records, the way a MutationObserver would see them.
type Recorder interface {
	TakeRecords() []MutationRecord
}

// Dispatcher routes DOM changes to the rewriters. All methods must be called
// from one goroutine; Run provides that loop for asynchronous hosts.
type Dispatcher struct {
	doc    Document
	rw     *Rewriter
	logger *log.Logger
}

func NewDispatcher(doc Document, rw *Rewriter, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{doc: doc, rw: rw, logger: logger}
}

// Start performs the initial full-document pass.
func (d *Dispatcher) Start() {
	d.syncPath()
	if root := d.doc.Root(); root != nil {
		d.Scan(root)
	}
}

// Scan rewrites every image and background-bearing div or anchor below root.
func (d *Dispatcher) Scan(root Element) {
	for i, sel := range scanSelectors {
		for _, el := range d.doc.QueryAll(root, sel) {
			if i == 0 {
				d.image(el)
			} else {
				d.background(el)
			}
		}
	}
}

func hasBackground(el Element) bool {
	return el.Style("background-image") != ""
}

func isBackgroundTag(tag string) bool {
	return tag == "div" || tag == "a"
}

// HandleBatch processes one batch of mutation records to completion.
func (d *Dispatcher) HandleBatch(records []MutationRecord) {
	d.syncPath()
	for _, rec := range records {
		switch rec.Kind {
		case ChildList:
			for _, el := range rec.Added {
				if el == nil {
					continue
				}
				switch tag := el.Tag(); {
				case tag == "img":
					d.image(el)
				case isBackgroundTag(tag) && hasBackground(el):
					d.background(el)
				default:
					d.Scan(el)
				}
			}
		case Attributes:
			el := rec.Target
			if el == nil || !isObservedAttribute(rec.AttributeName) {
				continue
			}
			switch tag := el.Tag(); {
			case isBackgroundTag(tag) && hasBackground(el):
				d.background(el)
			case tag == "img":
				d.image(el)
			}
		}
	}
}

// syncPath follows in-page navigation; hosts that do not know their location
// leave the configured path alone.
func (d *Dispatcher) syncPath() {
	if p := d.doc.Path(); p != "" {
		d.rw.env.PagePath = p
	}
}

func (d *Dispatcher) image(el Element) {
	d.guard(KindImage, el, func() { d.rw.RewriteImage(el) })
}

func (d *Dispatcher) background(el Element) {
	d.guard(KindBackground, el, func() { d.rw.RewriteBackground(el) })
}

// guard keeps one misbehaving element from aborting the rest of the batch.
func (d *Dispatcher) guard(kind Kind, el Element, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("rewrite panicked", "kind", kind, "element", el.Key(), "panic", p)
			d.rw.stats.Observe(kind, OutcomePanic)
		}
	}()
	fn()
}

// Run consumes batches until ctx is cancelled or batches is closed. Each batch
// is handled completely before the next is received.
func (d *Dispatcher) Run(ctx context.Context, batches <-chan []MutationRecord) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			d.HandleBatch(batch)
		}
	}
}

// Settle feeds the host's recorded mutations back through the dispatcher until
// no new records appear. Rewrites are idempotent, so a well-behaved document
// settles in a couple of rounds.
func (d *Dispatcher) Settle(rec Recorder, maxRounds int) error {
	for round := 0; round < maxRounds; round++ {
		batch := rec.TakeRecords()
		if len(batch) == 0 {
			return nil
		}
		d.logger.Debug("dispatching recorded mutations", "round", round, "records", len(batch))
		d.HandleBatch(batch)
	}
	if pending := rec.TakeRecords(); len(pending) > 0 {
		return fmt.Errorf("%w after %d rounds (%d records pending)", ErrNotSettled, maxRounds, len(pending))
	}
	return nil
}
