package thumbs

import (
	"strconv"
	"strings"
)

// CSSPixels parses a CSS length in px. Any other unit, or garbage, yields
// (0, false).
func CSSPixels(value string) (float64, bool) {
	v := strings.TrimSpace(value)
	if !strings.HasSuffix(v, "px") {
		return 0, false
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, v)
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func attrPixels(el Element, name string) float64 {
	raw, ok := el.Attr(name)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return f
}

func stylePixels(value string) float64 {
	f, _ := CSSPixels(value)
	return f
}

func larger(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// ResolveDisplaySize finds the size an element is laid out at by walking it
// and its ancestors: explicit width/height attributes and inline px sizes
// first, computed px sizes on a second pass. The document element itself is
// never consulted. Returns 0 when nothing is found.
func ResolveDisplaySize(el Element) float64 {
	for e := el; e != nil && e.Parent() != nil; e = e.Parent() {
		if size := larger(attrPixels(e, "width"), attrPixels(e, "height")); size > 0 {
			return size
		}
		if size := larger(stylePixels(e.Style("width")), stylePixels(e.Style("height"))); size > 0 {
			return size
		}
	}
	for e := el; e != nil && e.Parent() != nil; e = e.Parent() {
		if size := larger(stylePixels(e.ComputedStyle("width")), stylePixels(e.ComputedStyle("height"))); size > 0 {
			return size
		}
	}
	return 0
}

// ownSize is the background variant: the element's own inline size, then its
// computed size, no ancestor walk.
func ownSize(el Element) float64 {
	if size := larger(stylePixels(el.Style("width")), stylePixels(el.Style("height"))); size > 0 {
		return size
	}
	return larger(stylePixels(el.ComputedStyle("width")), stylePixels(el.ComputedStyle("height")))
}
