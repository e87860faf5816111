package live

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func childTags(n *html.Node) []string {
	var out []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c.Data)
	}
	return out
}

func TestMirrorReset(t *testing.T) {
	m := newMirror()
	m.reset(testDocument())

	root := m.documentElement()
	require.NotNil(t, root)
	assert.Equal(t, "html", root.Data)
	assert.Nil(t, m.parent(root), "the document node is not an element parent")

	img, ok := m.node(7)
	require.True(t, ok)
	assert.Equal(t, "img", img.Data)
	src, ok := m.attr(img, "SRC")
	assert.True(t, ok)
	assert.Equal(t, thumb, src)

	body, _ := m.node(4)
	assert.Equal(t, []string{"ul"}, childTags(body), "text nodes are not mirrored")
	_, ok = m.node(50)
	assert.False(t, ok)

	id, ok := m.id(img)
	assert.True(t, ok)
	assert.Equal(t, cdp.NodeID(7), id)
}

func TestMirrorInsertRemove(t *testing.T) {
	m := newMirror()
	m.reset(testDocument())

	parent, n := m.insert(4, 0, node(10, "div", []string{"class", "first"}))
	require.NotNil(t, n)
	assert.Equal(t, "body", parent.Data)
	_, n = m.insert(4, 5, node(11, "section", nil, node(12, "img", nil)))
	require.NotNil(t, n)
	body, _ := m.node(4)
	assert.Equal(t, []string{"div", "ul", "section"}, childTags(body))
	_, ok := m.node(12)
	assert.True(t, ok, "inserted subtree is registered")

	_, n = m.insert(999, 0, node(13, "p", nil))
	assert.Nil(t, n, "unknown parent")
	_, n = m.insert(4, 0, text(14, "x"))
	assert.Nil(t, n)

	assert.True(t, m.remove(11))
	_, ok = m.node(12)
	assert.False(t, ok, "removed subtree is forgotten")
	assert.Equal(t, []string{"div", "ul"}, childTags(body))
	assert.False(t, m.remove(11))
}

func TestMirrorSetChildren(t *testing.T) {
	m := newMirror()
	m.reset(testDocument())

	parent, added := m.setChildren(5, []*cdp.Node{
		node(20, "li", nil, node(21, "img", nil)),
		text(22, " "),
		node(23, "li", nil),
	})
	require.NotNil(t, parent)
	assert.Len(t, added, 2)
	_, ok := m.node(7)
	assert.False(t, ok, "replaced children are forgotten")
	_, ok = m.node(21)
	assert.True(t, ok)
}

func TestMirrorAttributes(t *testing.T) {
	m := newMirror()
	m.reset(testDocument())

	n, ok := m.setAttr(7, "Width", "600")
	require.True(t, ok)
	v, _ := m.attr(n, "width")
	assert.Equal(t, "600", v)

	_, ok = m.removeAttr(7, "src")
	require.True(t, ok)
	_, has := m.attr(n, "src")
	assert.False(t, has)

	_, ok = m.replaceAttrs(7, []string{"style", "width: 10px"})
	require.True(t, ok)
	_, has = m.attr(n, "width")
	assert.False(t, has)
	v, _ = m.attr(n, "style")
	assert.Equal(t, "width: 10px", v)

	_, ok = m.setAttr(1, "x", "y")
	assert.False(t, ok, "the document node has no attributes")
}
