package cli

import (
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"thumbfix/internal/live"
	"thumbfix/thumbs"
)

type watchFlags struct {
	once     bool
	settle   time.Duration
	dpr      float64
	imageSet string
	cookies  []string
	headless bool
	chrome   string
	output   string
}

func (c *CLI) watchCommand() *cobra.Command {
	var f watchFlags
	cmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Open a page in Chrome and keep its thumbnails rewritten",
		Long: `Open a page in Chrome and rewrite its thumbnails as the page renders and
changes, until interrupted.

With --once the page is watched for --settle and the rewritten markup is
printed. The device pixel ratio and image-set() support are read from the
browser unless given.`,
		Example: `  thumbfix watch https://www.pixiv.net/ranking.php
  thumbfix watch --once --dpr 2 --cookie "PHPSESSID=..." https://www.pixiv.net/discovery`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("headless") {
				f.headless = c.cfg.Live.Headless
			}
			if f.chrome == "" {
				f.chrome = c.cfg.Live.ExecPath
			}
			if f.once && f.settle <= 0 {
				f.settle = c.cfg.Live.SettleTime.Duration
			}
			return c.runWatch(cmd, args[0], f)
		},
	}

	cmd.Flags().BoolVar(&f.once, "once", false, "print the rewritten page after --settle and exit")
	cmd.Flags().DurationVar(&f.settle, "settle", 0, "how long --once waits for the page (default from config)")
	cmd.Flags().Float64Var(&f.dpr, "dpr", 0, "emulated device pixel ratio (default: ask the browser)")
	cmd.Flags().StringVar(&f.imageSet, "imageset", "", "image-set() support: none, webkit or standard (default: ask the browser)")
	cmd.Flags().StringArrayVar(&f.cookies, "cookie", nil, `cookies to send, as a Cookie header value ("a=1; b=2"); repeatable`)
	cmd.Flags().BoolVar(&f.headless, "headless", true, "run Chrome without a window")
	cmd.Flags().StringVar(&f.chrome, "chrome", "", "path to the Chrome executable")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "with --once, write to file instead of stdout")
	return cmd
}

func (c *CLI) runWatch(cmd *cobra.Command, target string, f watchFlags) error {
	ctx := cmd.Context()
	logger := log.FromContext(ctx)

	target, err := normalizeWatchURL(target)
	if err != nil {
		return err
	}
	cookies, err := parseCookies(f.cookies)
	if err != nil {
		return err
	}

	var env thumbs.Env
	env.MinAncestorSize = c.cfg.Rewrite.MinAncestorSize
	if f.dpr < 0 {
		return fmt.Errorf("invalid --dpr %v", f.dpr)
	}
	env.DevicePixelRatio = f.dpr
	if f.imageSet != "" {
		support, err := thumbs.ParseImageSetSupport(f.imageSet)
		if err != nil {
			return err
		}
		env.ImageSet = support
	}

	gw, closeStore, err := openSettings(ctx, c.cfg.Settings, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := gw.Watch(ctx); err != nil {
		logger.Warn("settings changes from other clients will not be seen", "err", err)
	}

	browser := live.NewBrowser(live.Options{
		Headless:  f.headless,
		ExecPath:  f.chrome,
		UserAgent: c.cfg.Live.UserAgent,
		Logger:    logger,
	})
	defer browser.Close()

	counts := &tally{}
	opts := live.WatchOptions{
		Settings:           gw,
		Env:                env,
		ViewportWidth:      c.cfg.Rewrite.ViewportWidth,
		ViewportHeight:     c.cfg.Rewrite.ViewportHeight,
		Corners:            c.cfg.Rewrite.Corners,
		MaxZeroSizeRetries: c.cfg.Rewrite.MaxZeroSizeRetries,
		MarkerCapacity:     c.cfg.Rewrite.MarkerCapacity,
		Cookies:            cookies,
		Stats:              counts,
	}
	if f.once {
		opts.Settle = f.settle
	}

	start := time.Now()
	markup, err := browser.Watch(ctx, target, opts)
	logger.Infof("%s (%s)", counts, time.Since(start).Round(time.Millisecond))
	if err != nil {
		return err
	}
	if !f.once {
		return nil
	}
	out := cmd.OutOrStdout()
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	_, err = fmt.Fprintln(out, markup)
	return err
}

var errNoCookies = errors.New("no cookies in --cookie value")

// parseCookies reads each value as a Cookie request header.
func parseCookies(values []string) ([]*http.Cookie, error) {
	var out []*http.Cookie
	for _, v := range values {
		parsed, err := http.ParseCookie(v)
		if err != nil {
			return nil, fmt.Errorf("--cookie %q: %w", v, err)
		}
		if len(parsed) == 0 {
			return nil, fmt.Errorf("--cookie %q: %w", v, errNoCookies)
		}
		out = append(out, parsed...)
	}
	return out, nil
}

// normalizeWatchURL adds https:// to bare hosts and rejects URLs without one.
func normalizeWatchURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := neturl.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u.String(), nil
}
