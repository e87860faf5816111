package dom

import (
	"bytes"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbfix/thumbs"
)

const thumb = "https://i.pximg.net/c/360x360_70/img-master/img/2020/01/01/12/00/00/12345678_p0_square1200.jpg"

func mustParse(t *testing.T, src string, opts ...Option) *Document {
	t.Helper()
	doc, err := Parse(strings.NewReader(src), opts...)
	require.NoError(t, err)
	return doc
}

func TestInlineStyle(t *testing.T) {
	doc := mustParse(t, `<div id="a" style="width: 184px; background-image: url(&quot;`+thumb+`&quot;)"></div>`)
	el := doc.Select("#a")[0]

	assert.Equal(t, "184px", el.Style("width"))
	assert.Equal(t, `url("`+thumb+`")`, el.Style("background-image"))
	assert.Equal(t, "", el.Style("height"))

	el.SetStyle("width", "")
	el.SetStyle("object-fit", "contain")
	style, _ := el.Attr("style")
	assert.Equal(t, `background-image: url("`+thumb+`"); object-fit: contain`, style)
}

func TestInlineStyleImportant(t *testing.T) {
	decls := parseInline("width: 10px !important; width: 20px")
	assert.Equal(t, "10px", inlineValue(decls, "width"))
}

func TestComputedStyle(t *testing.T) {
	src := `<html><head><style>
		.card img { width: 120px }
		#hero { width: 300px }
		@media (min-width: 2000px) { .card img { width: 999px } }
		@media (min-resolution: 2dppx) { .card img { height: 240px } }
		@media print { .card img { width: 1px } }
	</style></head><body>
		<div class="card"><img id="hero" src="x"><img id="plain" src="y" style="width: 88px"></div>
	</body></html>`

	doc := mustParse(t, src)
	hero := doc.Select("#hero")[0]
	plain := doc.Select("#plain")[0]
	assert.Equal(t, "300px", hero.ComputedStyle("width"), "id beats class")
	assert.Equal(t, "88px", plain.ComputedStyle("width"), "inline beats rules")
	assert.Equal(t, "", hero.ComputedStyle("height"))

	retina := mustParse(t, src, WithMedia(Media{Width: 1280, Height: 800, DevicePixelRatio: 2}))
	assert.Equal(t, "240px", retina.Select("#hero")[0].ComputedStyle("height"))
}

func TestExternalStylesheets(t *testing.T) {
	base, _ := url.Parse("https://www.pixiv.net/ranking.php")
	var asked []string
	loader := func(abs string) (string, bool) {
		asked = append(asked, abs)
		return ".thumb { width: 240px }", true
	}
	doc := mustParse(t, `<html><head>
		<link rel="stylesheet" href="/css/site.css">
		<link rel="stylesheet" href="/css/site.css">
		<link rel="icon" href="/favicon.ico">
	</head><body><div class="thumb"></div></body></html>`, WithURL(base), WithStylesheetLoader(loader))

	assert.Equal(t, []string{"https://www.pixiv.net/css/site.css"}, asked)
	assert.Equal(t, "240px", doc.Select(".thumb")[0].ComputedStyle("width"))
	assert.Equal(t, "/ranking.php", doc.Path())
	assert.Equal(t, "www.pixiv.net", doc.Host())
}

func TestQueryAllIsDescendantsOnly(t *testing.T) {
	doc := mustParse(t, `<div id="outer" style="background-image: url(a.jpg)">
		<img id="one"><div id="inner" style="background-image: url(b.jpg)"></div><div id="none"></div>
	</div>`)
	outer := doc.Select("#outer")[0]

	imgs := doc.QueryAll(outer, "img")
	require.Len(t, imgs, 1)
	bgs := doc.QueryAll(outer, "div[style*=background-image]")
	require.Len(t, bgs, 1)
	id, _ := bgs[0].Attr("id")
	assert.Equal(t, "inner", id)

	assert.Same(t, doc.Select("#one")[0], imgs[0].(*Element), "wrappers are stable")
	assert.Nil(t, doc.Root().Parent())
	assert.Equal(t, "html", doc.Root().Tag())
}

func TestInjectStylesheet(t *testing.T) {
	doc := mustParse(t, `<html><head></head><body><div type="illust"></div></body></html>`)
	require.True(t, doc.InjectStylesheet(thumbs.CornerStyleID, thumbs.CornerStylesheet))
	assert.False(t, doc.InjectStylesheet(thumbs.CornerStyleID, thumbs.CornerStylesheet))
	assert.Equal(t, "0", doc.Select(`div[type="illust"]`)[0].ComputedStyle("border-radius"))

	var buf bytes.Buffer
	require.NoError(t, doc.Render(&buf))
	assert.Equal(t, 1, strings.Count(buf.String(), `<style id="thumbfix-corners">`))
}

func TestRecording(t *testing.T) {
	doc := mustParse(t, `<html><body><div id="list"></div></body></html>`)
	list := doc.Select("#list")[0]

	list.SetAttr("class", "a")
	assert.Empty(t, doc.TakeRecords(), "recording is off by default")

	doc.Record(true)
	added, err := doc.AppendHTML(list, `<img src="`+thumb+`"> text <a href="#"></a>`)
	require.NoError(t, err)
	require.Len(t, added, 2)
	added[0].SetAttr("alt", "x")

	recs := doc.TakeRecords()
	require.Len(t, recs, 2)
	assert.Equal(t, thumbs.ChildList, recs[0].Kind)
	assert.Len(t, recs[0].Added, 2)
	assert.Equal(t, thumbs.Attributes, recs[1].Kind)
	assert.Equal(t, "alt", recs[1].AttributeName)
	assert.Empty(t, doc.TakeRecords())
}

func TestRewriteSnapshot(t *testing.T) {
	doc := mustParse(t, `<html><head></head><body>
		<ul><li width="600"><img id="thumb" src="`+thumb+`"></li></ul>
		<a id="bg" style="background-image: url(&quot;`+thumb+`&quot;); width: 184px"></a>
		<img id="icon" src="https://s.pximg.net/common/images/no_profile.png">
	</body></html>`)
	doc.Record(true)

	env := thumbs.DefaultEnv()
	env.DevicePixelRatio = 2
	env.ImageSet = thumbs.ImageSetStandard
	rw := newTestRewriter(env)
	disp := thumbs.NewDispatcher(doc, rw, nil)
	disp.Start()
	require.NoError(t, disp.Settle(doc, 4))

	img := doc.Select("#thumb")[0]
	src, _ := img.Attr("src")
	assert.Equal(t, "https://i.pximg.net/img-master/img/2020/01/01/12/00/00/12345678_p0_master1200.jpg", src)
	w, _ := img.Attr("width")
	assert.Equal(t, "600", w)

	bg := doc.Select("#bg")[0]
	assert.True(t, strings.HasPrefix(bg.Style("background-image"), `image-set(url("https://i.pximg.net/c/150x150/img-master/`), bg.Style("background-image"))
	assert.Equal(t, "no-repeat", bg.Style("background-repeat"))

	icon := doc.Select("#icon")[0]
	assert.Equal(t, thumbs.Bad, rw.Markers().Get(icon.Key()).State)
}

func newTestRewriter(env thumbs.Env) *thumbs.Rewriter {
	return thumbs.NewRewriter(thumbs.StaticSettings{}, env, nil)
}
