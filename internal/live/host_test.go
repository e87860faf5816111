package live

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbfix/thumbs"
)

func newTestDispatcher(h *Host, dpr float64) *thumbs.Dispatcher {
	env := thumbs.DefaultEnv()
	env.DevicePixelRatio = dpr
	rw := thumbs.NewRewriter(thumbs.StaticSettings{}, env, nil, thumbs.WithLogger(quietLogger()))
	return thumbs.NewDispatcher(h, rw, quietLogger())
}

func TestHostInitialScan(t *testing.T) {
	be := newFakeBackend()
	h := newTestHost(be)
	require.NoError(t, h.load())

	root := h.Root()
	require.NotNil(t, root)
	assert.Equal(t, "html", root.Tag())
	assert.Nil(t, root.Parent())

	imgs := h.QueryAll(root, "img")
	require.Len(t, imgs, 1)
	assert.Equal(t, thumbs.ElementKey(7), imgs[0].Key())
	assert.Equal(t, "li", imgs[0].Parent().Tag())
	assert.Empty(t, h.QueryAll(imgs[0], "img"), "root is excluded")

	newTestDispatcher(h, 2).Start()

	writes := be.writesFor(7)
	assert.Equal(t, master, writes["src"])
	assert.Contains(t, writes["srcset"], master+" 2x")
	assert.Equal(t, "object-fit: contain", writes["style"])
	src, _ := imgs[0].Attr("src")
	assert.Equal(t, master, src, "writes are reflected in the mirror")
}

func TestHostWriteFailure(t *testing.T) {
	be := newFakeBackend()
	be.setErr = errors.New("No node with given id found")
	h := newTestHost(be)
	require.NoError(t, h.load())

	img := h.QueryAll(h.Root(), "img")[0]
	img.SetAttr("src", master)
	src, _ := img.Attr("src")
	assert.Equal(t, thumb, src, "a failed write leaves the mirror alone")
	assert.True(t, h.stale.Load())

	w, hgt := img.BoxSize()
	assert.Zero(t, w)
	assert.Zero(t, hgt)
	assert.True(t, img.Complete())
}

func TestHostTranslate(t *testing.T) {
	be := newFakeBackend()
	h := newTestHost(be)
	require.NoError(t, h.load())
	d := newTestDispatcher(h, 1)

	recs := h.translate(&dom.EventChildNodeInserted{
		ParentNodeID:   5,
		PreviousNodeID: 6,
		Node:           node(30, "li", []string{"width", "240"}, node(31, "img", []string{"src", thumb})),
	})
	require.Len(t, recs, 1)
	assert.Equal(t, thumbs.ChildList, recs[0].Kind)
	assert.Equal(t, "ul", recs[0].Target.Tag())
	require.Len(t, recs[0].Added, 1)
	d.HandleBatch(recs)
	assert.Equal(t, "https://i.pximg.net/c/240x240/img-master/img/2020/01/01/12/00/00/12345678_p0_master1200.jpg", be.writesFor(31)["src"])

	lazy := node(40, "div", nil)
	lazy.ChildNodeCount = 3
	recs = h.translate(&dom.EventChildNodeInserted{ParentNodeID: 4, Node: lazy})
	require.Len(t, recs, 1)
	assert.Equal(t, []cdp.NodeID{40}, be.requested, "unknown subtrees are requested")

	recs = h.translate(&dom.EventAttributeModified{NodeID: 6, Name: "Class", Value: "lazyloaded"})
	require.Len(t, recs, 1)
	assert.Equal(t, thumbs.Attributes, recs[0].Kind)
	assert.Equal(t, "class", recs[0].AttributeName)
	assert.True(t, recs[0].Target.HasClass("lazyloaded"))

	assert.Empty(t, h.translate(&dom.EventAttributeModified{NodeID: 999, Name: "src", Value: "x"}))
	assert.Empty(t, h.translate(&dom.EventChildNodeRemoved{ParentNodeID: 5, NodeID: 30}))
	assert.Empty(t, h.QueryAll(h.Root(), "li[width='240']"))

	be.described[7] = []string{"src", thumb, "style", "width: 100px"}
	recs = h.translate(&dom.EventInlineStyleInvalidated{NodeIDs: []cdp.NodeID{7}})
	require.Len(t, recs, 1)
	assert.Equal(t, "style", recs[0].AttributeName)
	assert.Equal(t, "100px", recs[0].Target.Style("width"))

	recs = h.translate(&dom.EventDocumentUpdated{})
	require.Len(t, recs, 1)
	assert.Equal(t, "html", recs[0].Added[0].Tag())
}

func TestHostPumpBatches(t *testing.T) {
	be := newFakeBackend()
	h := newTestHost(be)
	require.NoError(t, h.load())

	h.handleEvent(&dom.EventAttributeModified{NodeID: 7, Name: "src", Value: thumb})
	h.handleEvent(&dom.EventAttributeModified{NodeID: 6, Name: "class", Value: "x"})
	h.handleEvent(&network.EventLoadingFinished{})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []thumbs.MutationRecord, 1)
	go h.pump(ctx, out)

	select {
	case batch := <-out:
		assert.Len(t, batch, 2, "queued events coalesce into one batch")
	case <-time.After(2 * time.Second):
		t.Fatal("no batch")
	}

	h.stale.Store(true)
	h.queue.wake()
	select {
	case batch := <-out:
		require.Len(t, batch, 1)
		assert.Equal(t, thumbs.ChildList, batch[0].Kind, "stale mirror is reloaded")
	case <-time.After(2 * time.Second):
		t.Fatal("no reload batch")
	}

	cancel()
	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestHostPathTracking(t *testing.T) {
	h := newTestHost(newFakeBackend())
	h.handleEvent(&page.EventNavigatedWithinDocument{URL: "https://www.pixiv.net/bookmark_new_illust.php?p=2"})
	assert.Equal(t, "/bookmark_new_illust.php", h.Path())

	h.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ParentID: "parent", URL: "https://example.com/frame"}})
	assert.Equal(t, "/bookmark_new_illust.php", h.Path(), "child frames do not move the page")

	h.handleEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{URL: "https://www.pixiv.net/discovery"}})
	assert.Equal(t, "/discovery", h.Path())
	assert.Empty(t, h.queue.drain(), "page events are not queued")
}

func TestProbes(t *testing.T) {
	be := newFakeBackend()
	ctx := context.Background()

	info, err := probePage(ctx, be)
	require.NoError(t, err)
	assert.Equal(t, 2.0, info.DevicePixelRatio)
	assert.Equal(t, "www.pixiv.net", info.Host)

	assert.Equal(t, thumbs.ImageSetNone, probeImageSet(ctx, be))
	be.webkit = true
	assert.Equal(t, thumbs.ImageSetWebkit, probeImageSet(ctx, be))
	be.standard = true
	assert.Equal(t, thumbs.ImageSetStandard, probeImageSet(ctx, be))

	added, err := injectCorners(ctx, be)
	require.NoError(t, err)
	assert.True(t, added)
	script := be.evals[len(be.evals)-1]
	assert.Contains(t, script, `"`+thumbs.CornerStyleID+`"`)
	assert.Contains(t, script, "border-radius")
	assert.False(t, strings.Contains(script, "\ndiv["), "stylesheet is quoted as a single JS string")
}

func TestCookieParams(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	params := cookieParams([]*http.Cookie{
		{Name: "PHPSESSID", Value: "abc"},
		{Name: "device_token", Value: "x", Domain: ".pixiv.net", Path: "/p", Secure: true, Expires: exp},
		{Name: ""},
	}, "https://www.pixiv.net/discovery")
	require.Len(t, params, 2)
	assert.Equal(t, "www.pixiv.net", params[0].Domain)
	assert.Equal(t, "/", params[0].Path)
	assert.Nil(t, params[0].Expires)
	assert.Equal(t, ".pixiv.net", params[1].Domain)
	assert.Equal(t, "/p", params[1].Path)
	require.NotNil(t, params[1].Expires)
	assert.Equal(t, exp, params[1].Expires.Time())
}
