package live

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
)

const (
	thumb  = "https://i.pximg.net/c/360x360_70/img-master/img/2020/01/01/12/00/00/12345678_p0_square1200.jpg"
	master = "https://i.pximg.net/img-master/img/2020/01/01/12/00/00/12345678_p0_master1200.jpg"
)

func quietLogger() *log.Logger {
	l := log.Default().With()
	l.SetLevel(log.FatalLevel)
	return l
}

func node(id cdp.NodeID, tag string, attrs []string, children ...*cdp.Node) *cdp.Node {
	return &cdp.Node{
		NodeID:         id,
		NodeType:       cdp.NodeTypeElement,
		NodeName:       strings.ToUpper(tag),
		LocalName:      tag,
		Attributes:     attrs,
		Children:       children,
		ChildNodeCount: int64(len(children)),
	}
}

func text(id cdp.NodeID, value string) *cdp.Node {
	return &cdp.Node{NodeID: id, NodeType: cdp.NodeTypeText, NodeName: "#text", NodeValue: value}
}

// testDocument is <html><head/><body><ul><li width=600><img src=thumb></li></ul></body></html>.
func testDocument() *cdp.Node {
	return &cdp.Node{
		NodeID:   1,
		NodeType: cdp.NodeTypeDocument,
		NodeName: "#document",
		Children: []*cdp.Node{
			node(2, "html", nil,
				node(3, "head", nil),
				node(4, "body", nil,
					text(50, "\n"),
					node(5, "ul", nil,
						node(6, "li", []string{"width", "600"},
							node(7, "img", []string{"src", thumb}),
						),
					),
				),
			),
		},
	}
}

type write struct {
	id          cdp.NodeID
	name, value string
}

type fakeBackend struct {
	mu        sync.Mutex
	root      *cdp.Node
	described map[cdp.NodeID][]string
	writes    []write
	requested []cdp.NodeID
	setErr    error
	dpr       float64
	standard  bool
	webkit    bool
	evals     []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{root: testDocument(), described: map[cdp.NodeID][]string{}, dpr: 2}
}

func (f *fakeBackend) Document(context.Context) (*cdp.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.root == nil {
		return nil, errors.New("no document")
	}
	return f.root, nil
}

func (f *fakeBackend) RequestChildren(_ context.Context, id cdp.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, id)
	return nil
}

func (f *fakeBackend) Describe(_ context.Context, id cdp.NodeID) (*cdp.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attrs, ok := f.described[id]
	if !ok {
		return nil, errors.New("No node with given id found")
	}
	return &cdp.Node{NodeID: id, NodeType: cdp.NodeTypeElement, Attributes: attrs}, nil
}

func (f *fakeBackend) SetAttribute(_ context.Context, id cdp.NodeID, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.writes = append(f.writes, write{id, name, value})
	return nil
}

func (f *fakeBackend) ComputedStyle(context.Context, cdp.NodeID, string) (string, error) {
	return "", nil
}

func (f *fakeBackend) BoxSize(context.Context, cdp.NodeID) (float64, float64, error) {
	return 0, 0, errors.New("Could not compute box model.")
}

func (f *fakeBackend) Complete(context.Context, cdp.NodeID) (bool, error) { return true, nil }

func (f *fakeBackend) Evaluate(_ context.Context, expr string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, expr)
	switch v := out.(type) {
	case *pageInfo:
		*v = pageInfo{DevicePixelRatio: f.dpr, URL: "https://www.pixiv.net/discovery", Host: "www.pixiv.net", Path: "/discovery"}
	case *bool:
		switch {
		case strings.Contains(expr, "CSS.supports") && strings.Contains(expr, "-webkit-image-set"):
			*v = f.webkit
		case strings.Contains(expr, "CSS.supports"):
			*v = f.standard
		default:
			*v = true
		}
	default:
		return errors.New("unexpected result type")
	}
	return nil
}

func (f *fakeBackend) writesFor(id cdp.NodeID) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for _, w := range f.writes {
		if w.id == id {
			out[w.name] = w.value
		}
	}
	return out
}

func newTestHost(be *fakeBackend) *Host {
	return newHost(context.Background(), be, quietLogger())
}
