package live

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// backend is the subset of the DevTools protocol the host needs. It is
// called from the host's worker goroutines, never from an event listener.
type backend interface {
	Document(ctx context.Context) (*cdp.Node, error)
	RequestChildren(ctx context.Context, id cdp.NodeID) error
	Describe(ctx context.Context, id cdp.NodeID) (*cdp.Node, error)
	SetAttribute(ctx context.Context, id cdp.NodeID, name, value string) error
	ComputedStyle(ctx context.Context, id cdp.NodeID, prop string) (string, error)
	BoxSize(ctx context.Context, id cdp.NodeID) (float64, float64, error)
	Complete(ctx context.Context, id cdp.NodeID) (bool, error)
	Evaluate(ctx context.Context, expr string, out any) error
}

// cdpBackend runs each call as a chromedp action on the tab context.
type cdpBackend struct{}

func run(ctx context.Context, fn func(ctx context.Context) error) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(fn))
}

func (cdpBackend) Document(ctx context.Context) (root *cdp.Node, err error) {
	err = run(ctx, func(ctx context.Context) error {
		root, err = dom.GetDocument().WithDepth(-1).Do(ctx)
		return err
	})
	return root, err
}

func (cdpBackend) RequestChildren(ctx context.Context, id cdp.NodeID) error {
	return run(ctx, func(ctx context.Context) error {
		return dom.RequestChildNodes(id).WithDepth(-1).Do(ctx)
	})
}

func (cdpBackend) Describe(ctx context.Context, id cdp.NodeID) (n *cdp.Node, err error) {
	err = run(ctx, func(ctx context.Context) error {
		n, err = dom.DescribeNode().WithNodeID(id).Do(ctx)
		return err
	})
	return n, err
}

func (cdpBackend) SetAttribute(ctx context.Context, id cdp.NodeID, name, value string) error {
	return run(ctx, func(ctx context.Context) error {
		return dom.SetAttributeValue(id, name, value).Do(ctx)
	})
}

func (cdpBackend) ComputedStyle(ctx context.Context, id cdp.NodeID, prop string) (string, error) {
	var value string
	err := run(ctx, func(ctx context.Context) error {
		props, err := css.GetComputedStyleForNode(id).Do(ctx)
		if err != nil {
			return err
		}
		for _, p := range props {
			if strings.EqualFold(p.Name, prop) {
				value = p.Value
				break
			}
		}
		return nil
	})
	return value, err
}

// BoxSize is the content box in CSS pixels. Elements that are not rendered
// have no box model and report zero.
func (cdpBackend) BoxSize(ctx context.Context, id cdp.NodeID) (float64, float64, error) {
	var w, h float64
	err := run(ctx, func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(id).Do(ctx)
		if err != nil {
			return err
		}
		w, h = float64(box.Width), float64(box.Height)
		return nil
	})
	return w, h, err
}

func (cdpBackend) Complete(ctx context.Context, id cdp.NodeID) (bool, error) {
	var complete bool
	err := run(ctx, func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(id).Do(ctx)
		if err != nil {
			return err
		}
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)
		res, exc, err := runtime.CallFunctionOn(`function() { return this.complete !== false; }`).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("complete: %s", exc.Text)
		}
		complete = string(res.Value) == "true"
		return nil
	})
	return complete, err
}

func (cdpBackend) Evaluate(ctx context.Context, expr string, out any) error {
	return chromedp.Run(ctx, chromedp.Evaluate(expr, out))
}
