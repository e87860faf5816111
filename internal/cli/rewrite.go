package cli

import (
	"errors"
	"fmt"
	"io"
	neturl "net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"thumbfix/internal/dom"
	"thumbfix/thumbs"
)

// maxSettleRounds bounds the feedback loop of recorded writes.
const maxSettleRounds = 8

type rewriteFlags struct {
	dpr      float64
	imageSet string
	pageURL  string
	corners  bool
	output   string
}

func (c *CLI) rewriteCommand() *cobra.Command {
	var f rewriteFlags
	cmd := &cobra.Command{
		Use:   "rewrite [file]",
		Short: "Rewrite thumbnails in a saved HTML page",
		Long: `Rewrite thumbnails in a saved HTML page and print the result.

Reads standard input when no file is given. --url names the page the markup
came from; its host and path drive the site-specific fixes.`,
		Example: `  thumbfix rewrite page.html --dpr 2 --url https://www.pixiv.net/ranking.php
  curl -s https://example.com/ | thumbfix rewrite --imageset webkit`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(cmd.InOrStdin())
			if len(args) == 1 && args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				in = file
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
			if !cmd.Flags().Changed("corners") {
				f.corners = c.cfg.Rewrite.Corners
			}
			return c.runRewrite(cmd, in, out, f)
		},
	}

	cmd.Flags().Float64Var(&f.dpr, "dpr", 0, "device pixel ratio (default from config)")
	cmd.Flags().StringVar(&f.imageSet, "imageset", "", "image-set() support: none, webkit or standard (default from config)")
	cmd.Flags().StringVar(&f.pageURL, "url", "", "URL the page was saved from")
	cmd.Flags().BoolVar(&f.corners, "corners", true, "square the card corners on www.pixiv.net")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func (c *CLI) runRewrite(cmd *cobra.Command, in io.Reader, out io.Writer, f rewriteFlags) error {
	logger := log.FromContext(cmd.Context())
	start := time.Now()

	env := c.cfg.Env("")
	if f.dpr != 0 {
		if f.dpr < 0 {
			return fmt.Errorf("invalid --dpr %v", f.dpr)
		}
		env.DevicePixelRatio = f.dpr
	}
	if f.imageSet != "" {
		support, err := thumbs.ParseImageSetSupport(f.imageSet)
		if err != nil {
			return err
		}
		env.ImageSet = support
	}

	opts := []dom.Option{
		dom.WithLogger(logger),
		dom.WithMedia(dom.Media{
			Width:            c.cfg.Rewrite.ViewportWidth,
			Height:           c.cfg.Rewrite.ViewportHeight,
			DevicePixelRatio: env.DevicePixelRatio,
		}),
	}
	if f.pageURL != "" {
		u, err := neturl.Parse(f.pageURL)
		if err != nil {
			return fmt.Errorf("invalid --url: %w", err)
		}
		opts = append(opts, dom.WithURL(u))
	}
	doc, err := dom.Parse(in, opts...)
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	if f.corners && thumbs.WantsCorners(doc.Host()) {
		doc.InjectStylesheet(thumbs.CornerStyleID, thumbs.CornerStylesheet)
	}

	gw, closeStore, err := openSettings(cmd.Context(), c.cfg.Settings, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	counts := &tally{}
	rw := thumbs.NewRewriter(gw, env, thumbs.NewMarkers(c.cfg.Rewrite.MarkerCapacity),
		thumbs.WithLogger(logger),
		thumbs.WithStats(counts),
		thumbs.WithMaxZeroSizeRetries(c.cfg.Rewrite.MaxZeroSizeRetries),
	)
	d := thumbs.NewDispatcher(doc, rw, logger)
	doc.Record(true)
	d.Start()
	if err := d.Settle(doc, maxSettleRounds); err != nil {
		if !errors.Is(err, thumbs.ErrNotSettled) {
			return err
		}
		logger.Warn("document did not settle", "err", err)
	}
	doc.Record(false)

	if err := doc.Render(out); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	logger.Infof("%s (%s)", counts, time.Since(start).Round(time.Millisecond))
	return nil
}
