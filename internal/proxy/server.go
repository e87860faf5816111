package proxy

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"thumbfix/internal/config"
	"thumbfix/internal/dom"
	"thumbfix/internal/metrics"
	"thumbfix/internal/settings"
	"thumbfix/thumbs"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>thumbfix</h1>
<form action="/fetch" method="get">
<h3>Fetch a page with uncropped thumbnails</h3>
URL: <input name="url" size="60"><br>
DPR: <input name="dpr" size="4" value="1"><br>
<button type="submit">Fetch</button>
</form>
</body></html>`

// maxSettleRounds bounds the feedback loop of recorded writes per document.
const maxSettleRounds = 8

// Config describes server wiring and runtime behaviour.
type Config struct {
	IndexHTML string
	// Env is the default display; dpr, imageset and path query parameters
	// override it per request.
	Env                thumbs.Env
	Viewport           dom.Media
	Corners            bool
	MaxZeroSizeRetries int
	MarkerCapacity     int

	CacheSize    int
	CacheTTL     time.Duration
	FetchTimeout time.Duration
	UserAgent    string
	MaxBodyBytes int64

	Settings *settings.Gateway
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

// DefaultConfig mirrors config.Default.
func DefaultConfig() Config {
	return FromConfig(config.Default())
}

// FromConfig maps the file/env configuration onto server wiring.
func FromConfig(c config.Config) Config {
	return Config{
		IndexHTML: defaultIndexHTML,
		Env:       c.Env(""),
		Viewport: dom.Media{
			Width:            c.Rewrite.ViewportWidth,
			Height:           c.Rewrite.ViewportHeight,
			DevicePixelRatio: c.Rewrite.DevicePixelRatio,
		},
		Corners:            c.Rewrite.Corners,
		MaxZeroSizeRetries: c.Rewrite.MaxZeroSizeRetries,
		MarkerCapacity:     c.Rewrite.MarkerCapacity,
		CacheSize:          c.Proxy.CacheSize,
		CacheTTL:           c.Proxy.CacheTTL.Duration,
		FetchTimeout:       c.Proxy.FetchTimeout.Duration,
		UserAgent:          c.Proxy.UserAgent,
		MaxBodyBytes:       c.Proxy.MaxBodyBytes,
		Logger:             log.Default(),
	}
}

// Server exposes the HTTP handlers of the rewriting service.
type Server struct {
	cfg        Config
	router     chi.Router
	handler    http.Handler
	logger     *log.Logger
	cache      *pageCache
	cookieJars *cookieJarStore
	upstream   *upstream
	settings   *settings.Gateway
	metrics    *metrics.Metrics
}

// New wires a new server with the provided configuration. Without a settings
// gateway an in-memory one is used.
func New(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Env.DevicePixelRatio <= 0 {
		cfg.Env.DevicePixelRatio = 1
	}
	if cfg.Env.MinAncestorSize <= 0 {
		cfg.Env.MinAncestorSize = thumbs.DefaultMinAncestorSize
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.NewGateway(settings.NewMemoryStore(), nil, cfg.Logger)
	}
	s := &Server{
		cfg:        cfg,
		router:     chi.NewRouter(),
		logger:     cfg.Logger,
		cache:      newPageCache(cfg.CacheSize, cfg.CacheTTL),
		cookieJars: newCookieJarStore(cfg.CacheSize),
		upstream:   newUpstream(cfg.FetchTimeout, cfg.UserAgent, cfg.MaxBodyBytes),
		settings:   cfg.Settings,
		metrics:    cfg.Metrics,
	}
	if s.metrics != nil {
		s.settings.OnChange(func(thumbs.Settings) { s.metrics.SettingsChanges.Inc() })
	}
	s.registerRoutes()
	s.handler = s.router
	return s
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(withLogging(s.logger, s.metrics))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/ping", s.handlePing)
	r.Post("/rewrite", s.handleRewrite)
	r.Get("/fetch", s.handleFetch)
	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}
