package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/css"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"thumbfix/thumbs"
)

// Options configures the Chrome process.
type Options struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	Logger    *log.Logger
}

// Browser owns a Chrome allocator. Each Watch opens its own tab.
type Browser struct {
	allocator context.Context
	cancel    context.CancelFunc
	logger    *log.Logger
}

func NewBrowser(opts Options) *Browser {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return &Browser{allocator: allocCtx, cancel: cancel, logger: logger}
}

func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// WatchOptions configures one watched page.
type WatchOptions struct {
	Settings thumbs.SettingsSource
	// Env fields left at zero are probed from the page: the device pixel
	// ratio and image-set() support.
	Env                thumbs.Env
	ViewportWidth      int
	ViewportHeight     int
	Corners            bool
	MaxZeroSizeRetries int
	MarkerCapacity     int
	Cookies            []*http.Cookie
	Stats              thumbs.Stats
	// Settle stops watching after this long and returns the page markup.
	// Zero watches until ctx is cancelled.
	Settle time.Duration
}

// Watch opens target and rewrites its thumbnails as the page changes. With
// opts.Settle set it returns the rewritten markup; otherwise it runs until ctx
// is done and returns ctx.Err().
func (b *Browser) Watch(ctx context.Context, target string, opts WatchOptions) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", errors.New("watch: empty target url")
	}
	tabCtx, cancelTab := chromedp.NewContext(b.allocator,
		chromedp.WithLogf(b.logger.Debugf),
		chromedp.WithErrorf(b.logger.Errorf),
	)
	defer cancelTab()

	// Bind the caller's cancellation to the tab.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	h := newHost(tabCtx, cdpBackend{}, b.logger)
	chromedp.ListenTarget(tabCtx, h.handleEvent)

	if err := chromedp.Run(tabCtx, b.setup(target, opts)...); err != nil {
		return "", fmt.Errorf("open %s: %w", target, err)
	}

	info, err := probePage(tabCtx, h.be)
	if err != nil {
		return "", err
	}
	h.setPath(info.URL)
	env := opts.Env
	if env.DevicePixelRatio <= 0 {
		env.DevicePixelRatio = info.DevicePixelRatio
	}
	if env.ImageSet == thumbs.ImageSetNone {
		env.ImageSet = probeImageSet(tabCtx, h.be)
	}
	if env.MinAncestorSize <= 0 {
		env.MinAncestorSize = thumbs.DefaultMinAncestorSize
	}
	b.logger.Info("watching page", "url", info.URL, "dpr", env.DevicePixelRatio, "imageset", env.ImageSet)

	if opts.Corners && thumbs.WantsCorners(info.Host) {
		if _, err := injectCorners(tabCtx, h.be); err != nil {
			b.logger.Warn("corner stylesheet", "err", err)
		}
	}

	if err := h.load(); err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}
	h.queue.drain()

	rw := thumbs.NewRewriter(opts.Settings, env, thumbs.NewMarkers(opts.MarkerCapacity),
		thumbs.WithLogger(b.logger),
		thumbs.WithStats(opts.Stats),
		thumbs.WithMaxZeroSizeRetries(opts.MaxZeroSizeRetries),
	)
	d := thumbs.NewDispatcher(h, rw, b.logger)

	runCtx := tabCtx
	if opts.Settle > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(tabCtx, opts.Settle)
		defer cancel()
	}
	batches := make(chan []thumbs.MutationRecord, 16)
	go h.pump(runCtx, batches)

	d.Start()
	err = d.Run(runCtx, batches)
	if opts.Settle <= 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}

	var markup string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read markup: %w", err)
	}
	return markup, nil
}

// setup returns the actions that prepare the tab and load target.
func (b *Browser) setup(target string, opts WatchOptions) []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}
	if opts.Env.DevicePixelRatio > 0 && opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		actions = append(actions, emulation.SetDeviceMetricsOverride(
			int64(opts.ViewportWidth), int64(opts.ViewportHeight), opts.Env.DevicePixelRatio, false))
	}
	if params := cookieParams(opts.Cookies, target); len(params) > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}))
	}
	return append(actions,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := dom.Enable().Do(ctx); err != nil {
				return err
			}
			return css.Enable().Do(ctx)
		}),
	)
}

func cookieParams(cookies []*http.Cookie, target string) []*network.CookieParam {
	u, err := neturl.Parse(target)
	if err != nil {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   cookieDomainForParam(c, u),
			Path:     cookiePathForParam(c),
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires.UTC())
			param.Expires = &exp
		}
		params = append(params, param)
	}
	return params
}

func cookieDomainForParam(c *http.Cookie, u *neturl.URL) string {
	if c.Domain != "" {
		return c.Domain
	}
	if u != nil {
		return u.Hostname()
	}
	return ""
}

func cookiePathForParam(c *http.Cookie) string {
	if c.Path != "" {
		return c.Path
	}
	return "/"
}
