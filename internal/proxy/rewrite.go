package proxy

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"thumbfix/internal/dom"
	"thumbfix/thumbs"
)

// outcomeCounter forwards rewrite outcomes to the metrics and keeps a local
// count for the response header.
type outcomeCounter struct {
	next      thumbs.Stats
	rewritten int
	attempts  int
}

func (c *outcomeCounter) Observe(kind thumbs.Kind, outcome thumbs.Outcome) {
	c.attempts++
	if outcome == thumbs.OutcomeRewritten {
		c.rewritten++
	}
	if c.next != nil {
		c.next.Observe(kind, outcome)
	}
}

type rewriteResult struct {
	doc       *dom.Document
	rewritten int
	attempts  int
}

// envFromQuery applies the dpr and imageset query parameters to the default
// display.
func (s *Server) envFromQuery(q neturl.Values) (thumbs.Env, error) {
	env := s.cfg.Env
	if v := q.Get("dpr"); v != "" {
		dpr, err := strconv.ParseFloat(v, 64)
		if err != nil || dpr <= 0 || dpr > 8 {
			return env, fmt.Errorf("invalid dpr %q", v)
		}
		env.DevicePixelRatio = dpr
	}
	if v := q.Get("imageset"); v != "" {
		support, err := thumbs.ParseImageSetSupport(v)
		if err != nil {
			return env, err
		}
		env.ImageSet = support
	}
	return env, nil
}

// rewriteDocument parses body as the page at base, runs the initial pass and
// settles the mutations the rewrites produced.
func (s *Server) rewriteDocument(ctx context.Context, body io.Reader, base *neturl.URL, env thumbs.Env, hdr http.Header, jar http.CookieJar) (*rewriteResult, error) {
	media := s.cfg.Viewport
	media.DevicePixelRatio = env.DevicePixelRatio
	opts := []dom.Option{dom.WithMedia(media), dom.WithLogger(s.logger)}
	if base != nil {
		opts = append(opts, dom.WithURL(base))
		if base.Scheme == "http" || base.Scheme == "https" {
			opts = append(opts, dom.WithStylesheetLoader(s.upstream.stylesheetLoader(ctx, hdr, jar)))
		}
	}
	doc, err := dom.Parse(body, opts...)
	if err != nil {
		return nil, err
	}
	if s.cfg.Corners && thumbs.WantsCorners(doc.Host()) {
		doc.InjectStylesheet(thumbs.CornerStyleID, thumbs.CornerStylesheet)
	}

	counter := &outcomeCounter{}
	if s.metrics != nil {
		counter.next = s.metrics
	}
	rw := thumbs.NewRewriter(s.settings, env, thumbs.NewMarkers(s.cfg.MarkerCapacity),
		thumbs.WithLogger(s.logger),
		thumbs.WithStats(counter),
		thumbs.WithMaxZeroSizeRetries(s.cfg.MaxZeroSizeRetries),
	)
	d := thumbs.NewDispatcher(doc, rw, s.logger)

	doc.Record(true)
	d.Start()
	if err := d.Settle(recordCounter{doc: doc, m: s}, maxSettleRounds); err != nil {
		if !errors.Is(err, thumbs.ErrNotSettled) {
			return nil, err
		}
		s.logger.Warn("document did not settle", "url", base, "err", err)
	}
	doc.Record(false)

	return &rewriteResult{doc: doc, rewritten: counter.rewritten, attempts: counter.attempts}, nil
}

// recordCounter reports the size of each recorded batch before it is handed
// to the dispatcher.
type recordCounter struct {
	doc *dom.Document
	m   *Server
}

func (r recordCounter) TakeRecords() []thumbs.MutationRecord {
	recs := r.doc.TakeRecords()
	if len(recs) > 0 && r.m.metrics != nil {
		r.m.metrics.RecordBatch(len(recs))
	}
	return recs
}

// insertBase adds <base href> so relative links keep resolving against the
// upstream page once served from here.
func insertBase(doc *dom.Document, target *neturl.URL) {
	gq := goquery.NewDocumentFromNode(doc.Node())
	if gq.Find("head base[href]").Length() > 0 {
		return
	}
	gq.Find("head").First().PrependHtml(`<base href="` + html.EscapeString(target.String()) + `">`)
}
