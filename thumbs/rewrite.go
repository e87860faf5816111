package thumbs

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	// LayoutThumbnailClass marks the fixed-aspect slot whose box is derived
	// from the URL's own width and height.
	LayoutThumbnailClass = "_layout-thumbnail"

	// DefaultMinAncestorSize is the smallest ancestor-derived size trusted for
	// choosing candidates; icons and spacers below it are ignored.
	DefaultMinAncestorSize = 16

	// DefaultMaxZeroSizeRetries bounds how often one element is retried for
	// the same path when no display size can be found.
	DefaultMaxZeroSizeRetries = 3

	discoveryPlaceholderSize = "198"
)

// lazyLoadClasses flag backgrounds that the page has not populated yet.
var lazyLoadClasses = []string{"js-lazyload", "lazyloaded", "lazyloading"}

// Pages that preload through zero-sized images before swapping to a div.
var discoveryPath = regexp.MustCompile(`^/(?:discovery|(?:bookmark|mypixiv)_new_illust(?:_r18)?\.php)`)

// Env describes the display the rewriter targets.
type Env struct {
	DevicePixelRatio float64
	ImageSet         ImageSetSupport
	PagePath         string
	MinAncestorSize  float64
}

// DefaultEnv is a 1x display without image-set() support.
func DefaultEnv() Env {
	return Env{DevicePixelRatio: 1, MinAncestorSize: DefaultMinAncestorSize}
}

// Rewriter applies the image and background rewrites. It is driven by a single
// goroutine (the dispatcher) and keeps its per-element state in Markers.
type Rewriter struct {
	settings   SettingsSource
	env        Env
	markers    *Markers
	logger     *log.Logger
	stats      Stats
	maxRetries int
}

// RewriterOption configures optional collaborators.
type RewriterOption func(*Rewriter)

func WithLogger(l *log.Logger) RewriterOption {
	return func(r *Rewriter) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithStats(s Stats) RewriterOption {
	return func(r *Rewriter) {
		if s != nil {
			r.stats = s
		}
	}
}

// WithMaxZeroSizeRetries sets the zero-size retry bound; n <= 0 keeps the
// default.
func WithMaxZeroSizeRetries(n int) RewriterOption {
	return func(r *Rewriter) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// NewRewriter wires a rewriter. A nil markers table gets a default one.
func NewRewriter(src SettingsSource, env Env, markers *Markers, opts ...RewriterOption) *Rewriter {
	if src == nil {
		src = StaticSettings{}
	}
	if env.DevicePixelRatio <= 0 {
		env.DevicePixelRatio = 1
	}
	if markers == nil {
		markers = NewMarkers(0)
	}
	r := &Rewriter{
		settings:   src,
		env:        env,
		markers:    markers,
		logger:     log.Default(),
		stats:      nopStats{},
		maxRetries: DefaultMaxZeroSizeRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Env returns the display description in use.
func (r *Rewriter) Env() Env { return r.env }

// Markers exposes the side table, mostly for inspection in tests and logs.
func (r *Rewriter) Markers() *Markers { return r.markers }

func (r *Rewriter) done(kind Kind, outcome Outcome) Outcome {
	r.stats.Observe(kind, outcome)
	return outcome
}

func isPlaceholderSrc(src string) bool {
	return src == "" || strings.HasPrefix(src, "data:") || strings.HasSuffix(src, "transparent.gif")
}

func hasAnyClass(el Element, classes []string) bool {
	for _, c := range classes {
		if el.HasClass(c) {
			return true
		}
	}
	return false
}

func inLayoutSlot(el Element) bool {
	p := el.Parent()
	return p != nil && p.HasClass(LayoutThumbnailClass)
}

// exhausted reports whether path already used up its zero-size retries.
func (r *Rewriter) exhausted(mk Marker, path string) bool {
	return mk.Pending == path && mk.Attempts >= r.maxRetries
}

func (r *Rewriter) zeroSize(kind Kind, el Element, ref Ref) Outcome {
	n := r.markers.NoteZeroSize(el.Key(), ref.Path)
	r.logger.Warn("no display size for thumbnail", "kind", kind, "path", ref.Path, "attempt", n, "max", r.maxRetries)
	return r.done(kind, OutcomeZeroSize)
}

// RewriteImage handles an img element, including those inside a layout
// thumbnail slot.
func (r *Rewriter) RewriteImage(el Element) Outcome {
	kind := KindImage
	if inLayoutSlot(el) {
		kind = KindLayout
	}
	key := el.Key()
	mk := r.markers.Get(key)
	if mk.State == Bad {
		return r.done(kind, OutcomeUnchanged)
	}
	src, _ := el.Attr("src")
	if isPlaceholderSrc(src) {
		return r.done(kind, OutcomePlaceholder)
	}

	w, _ := el.Attr("width")
	h, _ := el.Attr("height")
	if w == "0" && h == "0" && discoveryPath.MatchString(r.env.PagePath) {
		el.SetAttr("width", discoveryPlaceholderSize)
		el.SetAttr("height", discoveryPlaceholderSize)
	}

	s := r.settings.Current()
	ref, ok := Match(src, s)
	if !ok {
		if srcset, has := el.Attr("srcset"); has {
			ref, ok = Match(srcset, s)
		}
	}
	if !ok {
		r.markers.MarkBad(key)
		r.logger.Debug("not a thumbnail", "kind", kind, "src", src)
		return r.done(kind, OutcomeBad)
	}
	if mk.Settled(ref.Path) {
		return r.done(kind, OutcomeUnchanged)
	}
	if r.exhausted(mk, ref.Path) {
		return r.done(kind, OutcomeExhausted)
	}

	var size float64
	if kind == KindLayout {
		size = float64(ref.IntrinsicSize())
	} else {
		size = r.displaySize(el, ref)
	}
	if size <= 0 {
		return r.zeroSize(kind, el, ref)
	}

	r.markers.MarkDone(key, ref.Path)
	if !el.Complete() {
		el.SetAttr("src", "")
		el.SetAttr("srcset", "")
	}
	if kind == KindLayout {
		el.SetAttr("width", formatScale(float64(ref.Width)))
		el.SetAttr("height", formatScale(float64(ref.Height)))
	}
	set := GenerateImageSet(size, ref, s, r.env.DevicePixelRatio)
	el.SetAttr("srcset", set.Srcset())
	el.SetAttr("src", set.Default.URL)
	el.SetStyle("object-fit", "contain")
	if _, ok := el.Attr("width"); !ok && el.Style("width") == "" {
		el.SetAttr("width", formatScale(size))
	}
	if _, ok := el.Attr("height"); !ok && el.Style("height") == "" {
		el.SetAttr("height", formatScale(size))
	}
	r.logger.Debug("rewrote image", "kind", kind, "path", ref.Path, "size", size, "src", set.Default.URL)
	return r.done(kind, OutcomeRewritten)
}

func (r *Rewriter) displaySize(el Element, ref Ref) float64 {
	if size := ResolveDisplaySize(el); size > r.env.MinAncestorSize {
		return size
	}
	if bw, bh := el.BoxSize(); larger(bw, bh) > r.env.MinAncestorSize {
		return larger(bw, bh)
	}
	return float64(ref.IntrinsicSize())
}

// RewriteBackground handles a div or anchor whose inline background-image
// holds a thumbnail.
func (r *Rewriter) RewriteBackground(el Element) Outcome {
	const kind = KindBackground
	key := el.Key()
	mk := r.markers.Get(key)
	if mk.State == Bad {
		return r.done(kind, OutcomeUnchanged)
	}
	if hasAnyClass(el, lazyLoadClasses) {
		return r.done(kind, OutcomePlaceholder)
	}
	s := r.settings.Current()
	bg := el.Style("background-image")
	ref, ok := Match(bg, s)
	if !ok {
		r.markers.MarkBad(key)
		r.logger.Debug("not a thumbnail background", "value", bg)
		return r.done(kind, OutcomeBad)
	}
	if mk.Settled(ref.Path) {
		return r.done(kind, OutcomeUnchanged)
	}
	if r.exhausted(mk, ref.Path) {
		return r.done(kind, OutcomeExhausted)
	}

	size := ownSize(el)
	if size <= 0 {
		size = float64(ref.IntrinsicSize())
	}
	if size <= 0 {
		return r.zeroSize(kind, el, ref)
	}

	r.markers.MarkDone(key, ref.Path)
	el.SetStyle("background-image", "")
	set := GenerateImageSet(size, ref, s, r.env.DevicePixelRatio)
	el.SetStyle("background-size", "contain")
	el.SetStyle("background-position", "center")
	el.SetStyle("background-repeat", "no-repeat")
	el.SetStyle("background-image", set.CSS(r.env.ImageSet, r.env.DevicePixelRatio))
	r.logger.Debug("rewrote background", "path", ref.Path, "size", size, "imageset", r.env.ImageSet)
	return r.done(kind, OutcomeRewritten)
}
