package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"thumbfix/internal/metrics"
	"thumbfix/internal/proxy"
)

const shutdownTimeout = 10 * time.Second

func (c *CLI) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP rewriting service",
		Long: `Run the HTTP rewriting service.

Routes: GET / (form), GET /ping, POST /rewrite, GET /fetch?url=,
GET and PUT /settings, GET /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.Addr
			}
			return c.runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, e.g. :8081 (default from config)")
	return cmd
}

func (c *CLI) runServe(ctx context.Context, addr string) error {
	logger := log.FromContext(ctx)

	gw, closeStore, err := openSettings(ctx, c.cfg.Settings, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := gw.Watch(ctx); err != nil {
		logger.Warn("settings changes from other clients will not be seen", "err", err)
	}

	pcfg := proxy.FromConfig(c.cfg)
	pcfg.Settings = gw
	pcfg.Metrics = metrics.New()
	pcfg.Logger = logger
	srv := &http.Server{
		Addr:              addr,
		Handler:           proxy.New(pcfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("listening", "addr", ln.Addr().String(), "settings", c.cfg.Settings.Backend)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return ctx.Err()
}
