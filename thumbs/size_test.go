package thumbs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCSSPixels(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"600px", 600, true},
		{" 12.5px ", 12.5, true},
		{"0px", 0, true},
		{"50%", 0, false},
		{"10em", 0, false},
		{"auto", 0, false},
		{"px", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CSSPixels(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDisplaySize(t *testing.T) {
	t.Run("ancestor attribute", func(t *testing.T) {
		d := newFakeDoc("/")
		body := d.add(d.root, "body", nil)
		div := d.add(body, "div", map[string]string{"width": "600"})
		img := d.add(div, "img", nil)
		assert.Equal(t, 600.0, ResolveDisplaySize(img))
	})

	t.Run("own attributes win", func(t *testing.T) {
		d := newFakeDoc("/")
		div := d.add(d.root, "div", map[string]string{"width": "600"})
		img := d.add(div, "img", map[string]string{"width": "120", "height": "240"})
		assert.Equal(t, 240.0, ResolveDisplaySize(img))
	})

	t.Run("inline style before ancestors", func(t *testing.T) {
		d := newFakeDoc("/")
		div := d.add(d.root, "div", map[string]string{"width": "600"})
		img := d.add(div, "img", map[string]string{"style": "width: 184px"})
		assert.Equal(t, 184.0, ResolveDisplaySize(img))
	})

	t.Run("non px inline style is absent", func(t *testing.T) {
		d := newFakeDoc("/")
		div := d.add(d.root, "div", map[string]string{"style": "width: 300px"})
		img := d.add(div, "img", map[string]string{"style": "width: 100%"})
		assert.Equal(t, 300.0, ResolveDisplaySize(img))
	})

	t.Run("computed style second pass", func(t *testing.T) {
		d := newFakeDoc("/")
		div := d.add(d.root, "div", nil)
		div.computed["width"] = "288px"
		img := d.add(div, "img", nil)
		img.computed["width"] = "auto"
		assert.Equal(t, 288.0, ResolveDisplaySize(img))
	})

	t.Run("root element is not consulted", func(t *testing.T) {
		d := newFakeDoc("/")
		d.root.attrs["width"] = "999"
		d.root.computed["width"] = "1000px"
		img := d.add(d.root, "img", nil)
		assert.Equal(t, 0.0, ResolveDisplaySize(img))
	})
}
