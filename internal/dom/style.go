package dom

import (
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
)

// Media describes the viewport @media rules are evaluated against.
type Media struct {
	Width            int
	Height           int
	DevicePixelRatio float64
}

// DefaultMedia is a common desktop viewport at 1x.
func DefaultMedia() Media {
	return Media{Width: 1280, Height: 800, DevicePixelRatio: 1}
}

type propState struct {
	val       string
	spec      cascadia.Specificity
	order     int
	important bool
}

type declaration struct {
	property  string
	value     string
	important bool
}

type rule struct {
	selector     cascadia.Sel
	specificity  cascadia.Specificity
	declarations []declaration
	order        int
}

// Stylesheet is the ordered rule list of a document's author styles.
type Stylesheet struct {
	media  Media
	rules  []rule
	order  int
	logger *log.Logger
}

func newStylesheet(media Media, logger *log.Logger) *Stylesheet {
	if media.Width <= 0 || media.Height <= 0 {
		def := DefaultMedia()
		media.Width, media.Height = def.Width, def.Height
	}
	if media.DevicePixelRatio <= 0 {
		media.DevicePixelRatio = 1
	}
	return &Stylesheet{media: media, logger: logger}
}

// Len is the number of selector rules collected.
func (ss *Stylesheet) Len() int { return len(ss.rules) }

// Add parses CSS text and appends its rules after the existing ones.
func (ss *Stylesheet) Add(txt string) {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" {
		return
	}
	sheet, err := parser.Parse(trimmed)
	if err != nil {
		ss.logger.Debug("skipping unparsable stylesheet", "err", err)
		return
	}
	ss.walk(sheet.Rules, 0)
}

func (ss *Stylesheet) walk(list []*cssast.Rule, depth int) {
	if depth >= 16 {
		return
	}
	for _, r := range list {
		if r == nil {
			continue
		}
		switch r.Kind {
		case cssast.AtRule:
			switch strings.ToLower(strings.TrimSpace(r.Name)) {
			case "@media":
				if mediaRuleActive(r.Prelude, ss.media) {
					ss.walk(r.Rules, depth+1)
				}
			case "@supports":
				ss.walk(r.Rules, depth+1)
			default:
				if r.EmbedsRules() {
					ss.walk(r.Rules, depth+1)
				}
			}
		case cssast.QualifiedRule:
			decls := convertDeclarations(r.Declarations)
			if len(decls) == 0 || len(r.Selectors) == 0 {
				continue
			}
			group, err := cascadia.ParseGroup(strings.Join(r.Selectors, ","))
			if err != nil {
				ss.logger.Debug("skipping selector group", "selectors", r.Selectors, "err", err)
				continue
			}
			for _, sel := range group {
				if sel == nil || sel.PseudoElement() != "" {
					continue
				}
				ss.rules = append(ss.rules, rule{selector: sel, specificity: sel.Specificity(), declarations: decls, order: ss.order})
				ss.order++
			}
		}
	}
}

func convertDeclarations(list []*cssast.Declaration) []declaration {
	if len(list) == 0 {
		return nil
	}
	out := make([]declaration, 0, len(list))
	for _, d := range list {
		if d == nil {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(d.Property))
		val := strings.TrimSpace(d.Value)
		if prop == "" || val == "" {
			continue
		}
		out = append(out, declaration{property: prop, value: val, important: d.Important})
	}
	return out
}

// parseInline reads a style attribute. douceur drops the value of a final
// declaration that lacks a semicolon, so one is always appended; anything it
// rejects is split by hand.
func parseInline(text string) []declaration {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !strings.HasSuffix(text, ";") {
		text += ";"
	}
	if decls, err := parser.ParseDeclarations(text); err == nil {
		return convertDeclarations(decls)
	}
	var out []declaration
	for _, part := range strings.Split(text, ";") {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		important := false
		if lower := strings.ToLower(value); strings.HasSuffix(lower, "!important") {
			important = true
			value = strings.TrimSpace(value[:len(value)-len("!important")])
		}
		prop := strings.ToLower(strings.TrimSpace(name))
		if prop == "" || value == "" {
			continue
		}
		out = append(out, declaration{property: prop, value: value, important: important})
	}
	return out
}

func formatInline(decls []declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		v := d.value
		if d.important {
			v += " !important"
		}
		parts = append(parts, d.property+": "+v)
	}
	return strings.Join(parts, "; ")
}

// inlineValue is the winning inline declaration for prop.
func inlineValue(decls []declaration, prop string) string {
	store := map[string]propState{}
	for i, d := range decls {
		if d.property == prop {
			applyDeclaration(store, d, cascadia.Specificity{}, i)
		}
	}
	return store[prop].val
}

// withInline replaces prop in decls, or removes it when value is empty.
func withInline(decls []declaration, prop, value string) []declaration {
	out := decls[:0:0]
	replaced := false
	for _, d := range decls {
		if d.property != prop {
			out = append(out, d)
			continue
		}
		if !replaced && value != "" {
			out = append(out, declaration{property: prop, value: value})
			replaced = true
		}
	}
	if !replaced && value != "" {
		out = append(out, declaration{property: prop, value: value})
	}
	return out
}

// InlineStyle returns the winning declaration for prop in a style attribute.
func InlineStyle(style, prop string) string {
	return inlineValue(parseInline(style), strings.ToLower(prop))
}

// SetInlineStyle returns style with prop replaced, or removed when value is
// empty.
func SetInlineStyle(style, prop, value string) string {
	return formatInline(withInline(parseInline(style), strings.ToLower(prop), value))
}

// Compute resolves prop for n from the author rules and the inline style.
func (ss *Stylesheet) Compute(n *html.Node, prop string) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	store := map[string]propState{}
	if ss != nil {
		for _, r := range ss.rules {
			if r.selector == nil || !r.selector.Match(n) {
				continue
			}
			for _, d := range r.declarations {
				if d.property == prop {
					applyDeclaration(store, d, r.specificity, r.order)
				}
			}
		}
	}
	for i, d := range parseInline(getAttr(n, "style")) {
		if d.property == prop {
			applyDeclaration(store, d, cascadia.Specificity{1 << 12, 0, 0}, (1<<30)+i)
		}
	}
	return store[prop].val
}

func applyDeclaration(store map[string]propState, d declaration, spec cascadia.Specificity, order int) {
	entry := propState{val: d.value, spec: spec, order: order, important: d.important}
	prev, ok := store[d.property]
	if !ok {
		store[d.property] = entry
		return
	}
	if prev.important && !d.important {
		return
	}
	if d.important && !prev.important {
		store[d.property] = entry
		return
	}
	if prev.spec.Less(spec) {
		store[d.property] = entry
		return
	}
	if spec.Less(prev.spec) {
		return
	}
	if order >= prev.order {
		store[d.property] = entry
	}
}

func mediaRuleActive(prelude string, m Media) bool {
	if strings.TrimSpace(prelude) == "" {
		return true
	}
	for _, raw := range strings.Split(prelude, ",") {
		query := strings.ToLower(strings.TrimSpace(raw))
		if query == "" {
			continue
		}
		mediaType := ""
		rest := query
		if parts := strings.Fields(query); len(parts) > 0 && !strings.HasPrefix(parts[0], "(") {
			mediaType = parts[0]
			rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(query, mediaType), " and"))
		}
		switch mediaType {
		case "", "all", "screen":
			if evaluateMediaFeatures(rest, m) {
				return true
			}
		case "only":
			if evaluateMediaFeatures(strings.TrimPrefix(rest, "screen"), m) {
				return true
			}
		}
	}
	return false
}

func evaluateMediaFeatures(expr string, m Media) bool {
	for _, clause := range strings.Split(expr, " and ") {
		c := strings.TrimSpace(clause)
		if c == "" {
			continue
		}
		c = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(c, "("), ")"))
		feature, value, _ := strings.Cut(c, ":")
		feature = strings.TrimSpace(feature)
		value = strings.TrimSpace(value)

		switch feature {
		case "min-width":
			if px, ok := lengthToPx(value, m.Width); ok && m.Width < px {
				return false
			}
		case "max-width":
			if px, ok := lengthToPx(value, m.Width); ok && m.Width > px {
				return false
			}
		case "min-height":
			if px, ok := lengthToPx(value, m.Height); ok && m.Height < px {
				return false
			}
		case "max-height":
			if px, ok := lengthToPx(value, m.Height); ok && m.Height > px {
				return false
			}
		case "orientation":
			orientation := "portrait"
			if m.Width > m.Height {
				orientation = "landscape"
			}
			if value != "" && value != orientation {
				return false
			}
		case "min-resolution", "-webkit-min-device-pixel-ratio":
			if r, ok := resolution(value); ok && m.DevicePixelRatio < r {
				return false
			}
		case "max-resolution", "-webkit-max-device-pixel-ratio":
			if r, ok := resolution(value); ok && m.DevicePixelRatio > r {
				return false
			}
		}
	}
	return true
}

// resolution converts dppx, x, dpi and bare ratios to device pixels per CSS
// pixel.
func resolution(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	scale := 1.0
	switch {
	case strings.HasSuffix(v, "dppx"):
		v = strings.TrimSuffix(v, "dppx")
	case strings.HasSuffix(v, "dpi"):
		v = strings.TrimSuffix(v, "dpi")
		scale = 1.0 / 96
	case strings.HasSuffix(v, "x"):
		v = strings.TrimSuffix(v, "x")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f * scale, true
}

func lengthToPx(val string, base int) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(val))
	num := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	switch {
	case v == "":
		return 0, false
	case strings.HasSuffix(v, "px"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f + 0.5), true
		}
	case strings.HasSuffix(v, "rem"):
		if f, ok := num(v[:len(v)-3]); ok {
			return int(f*16 + 0.5), true
		}
	case strings.HasSuffix(v, "em"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f*16 + 0.5), true
		}
	case strings.HasSuffix(v, "%"):
		if f, ok := num(v[:len(v)-1]); ok && base > 0 {
			return int(float64(base) * f / 100), true
		}
	default:
		if f, ok := num(v); ok {
			return int(f + 0.5), true
		}
	}
	return 0, false
}
