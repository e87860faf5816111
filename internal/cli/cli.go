// Package cli implements the thumbfix command-line interface.
//
// The commands are:
//   - rewrite: rewrite thumbnails in an HTML file and print the result
//   - serve: run the HTTP rewriting service
//   - watch: open a page in Chrome and keep its thumbnails rewritten
//   - settings: read and change the stored preferences
//
// Configuration comes from --config (or THUMBFIX_CONFIG) and the environment;
// see package config. The logger is carried in the command context.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"thumbfix/internal/config"
	"thumbfix/thumbs"
)

const appName = "thumbfix"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds state shared by all commands.
type CLI struct {
	Logger *log.Logger

	cfgPath string
	verbose bool
	cfg     config.Config
}

// New creates a CLI logging to w.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), cfg: config.Default()}
}

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "thumbfix replaces cropped pixiv thumbnails with uncropped renditions",
		Long:          `thumbfix rewrites pixiv thumbnail images and backgrounds to the uncropped master rendition, sized for the display, in saved pages, through an HTTP service, or live in Chrome.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			level := LogInfo
			if lv, err := log.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
				level = lv
			}
			if c.verbose {
				level = LogDebug
			}
			c.SetLogLevel(level)
			cmd.SetContext(log.WithContext(contextOf(cmd), c.Logger))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(c.rewriteCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.watchCommand())
	root.AddCommand(c.settingsCommand())

	return root
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// tally counts rewrite outcomes for the end-of-run summary.
type tally struct {
	next      thumbs.Stats
	attempts  int
	rewritten int
	bad       int
}

func (t *tally) Observe(kind thumbs.Kind, outcome thumbs.Outcome) {
	t.attempts++
	switch outcome {
	case thumbs.OutcomeRewritten:
		t.rewritten++
	case thumbs.OutcomeBad:
		t.bad++
	}
	if t.next != nil {
		t.next.Observe(kind, outcome)
	}
}

func (t *tally) String() string {
	return fmt.Sprintf("%d rewritten, %d not thumbnails, %d attempts", t.rewritten, t.bad, t.attempts)
}
