// Package config loads thumbfix configuration: built-in defaults, then an
// optional TOML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"thumbfix/thumbs"
)

// Settings backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Duration decodes TOML strings such as "5m".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Addr     string `toml:"addr"`
	LogLevel string `toml:"log_level"`

	Rewrite  RewriteConfig  `toml:"rewrite"`
	Settings SettingsConfig `toml:"settings"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Live     LiveConfig     `toml:"live"`
}

// RewriteConfig describes the display the rewriter targets.
type RewriteConfig struct {
	DevicePixelRatio   float64 `toml:"dpr"`
	ImageSet           string  `toml:"imageset"`
	MinAncestorSize    float64 `toml:"min_ancestor_size"`
	MaxZeroSizeRetries int     `toml:"max_zero_size_retries"`
	MarkerCapacity     int     `toml:"marker_capacity"`
	ViewportWidth      int     `toml:"viewport_width"`
	ViewportHeight     int     `toml:"viewport_height"`
	Corners            bool    `toml:"corners"`
}

type SettingsConfig struct {
	Backend  string `toml:"backend"`
	File     string `toml:"file"`
	RedisURL string `toml:"redis_url"`
	RedisKey string `toml:"redis_key"`
	// LegacyKey is the Redis hash (or file) holding pre-migration values.
	LegacyKey string `toml:"legacy_key"`
}

type ProxyConfig struct {
	CacheSize    int      `toml:"cache_size"`
	CacheTTL     Duration `toml:"cache_ttl"`
	FetchTimeout Duration `toml:"fetch_timeout"`
	UserAgent    string   `toml:"user_agent"`
	MaxBodyBytes int64    `toml:"max_body_bytes"`
}

type LiveConfig struct {
	Headless   bool     `toml:"headless"`
	ExecPath   string   `toml:"exec_path"`
	UserAgent  string   `toml:"user_agent"`
	SettleTime Duration `toml:"settle_time"`
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:     ":8081",
		LogLevel: "info",
		Rewrite: RewriteConfig{
			DevicePixelRatio:   1,
			ImageSet:           thumbs.ImageSetStandard.String(),
			MinAncestorSize:    thumbs.DefaultMinAncestorSize,
			MaxZeroSizeRetries: thumbs.DefaultMaxZeroSizeRetries,
			MarkerCapacity:     thumbs.DefaultMarkerCapacity,
			ViewportWidth:      1280,
			ViewportHeight:     800,
			Corners:            true,
		},
		Settings: SettingsConfig{
			Backend:  BackendMemory,
			RedisKey: "thumbfix:settings",
		},
		Proxy: ProxyConfig{
			CacheSize:    256,
			CacheTTL:     Duration{5 * time.Minute},
			FetchTimeout: Duration{15 * time.Second},
			UserAgent:    defaultUserAgent,
			MaxBodyBytes: 8 << 20,
		},
		Live: LiveConfig{
			Headless:   true,
			UserAgent:  defaultUserAgent,
			SettleTime: Duration{2 * time.Second},
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// THUMBFIX_CONFIG is consulted; a missing file named only by the environment
// is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("THUMBFIX_CONFIG"))
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("THUMBFIX_ADDR")); v != "" {
		c.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.Addr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("THUMBFIX_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("THUMBFIX_DPR")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("THUMBFIX_DPR: %w", err)
		}
		c.Rewrite.DevicePixelRatio = f
	}
	if v := strings.TrimSpace(os.Getenv("THUMBFIX_IMAGESET")); v != "" {
		c.Rewrite.ImageSet = v
	}
	if v := strings.TrimSpace(os.Getenv("THUMBFIX_SETTINGS")); v != "" {
		c.Settings.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("THUMBFIX_SETTINGS_FILE")); v != "" {
		c.Settings.File = v
		if os.Getenv("THUMBFIX_SETTINGS") == "" {
			c.Settings.Backend = BackendFile
		}
	}
	if v := strings.TrimSpace(os.Getenv("THUMBFIX_REDIS_URL")); v != "" {
		c.Settings.RedisURL = v
		if os.Getenv("THUMBFIX_SETTINGS") == "" {
			c.Settings.Backend = BackendRedis
		}
	}
	if v := strings.TrimSpace(os.Getenv("THUMBFIX_CHROME")); v != "" {
		c.Live.ExecPath = v
	}
	return nil
}

// Validate checks values the rest of the program relies on.
func (c Config) Validate() error {
	if c.Rewrite.DevicePixelRatio <= 0 {
		return fmt.Errorf("dpr must be positive, got %v", c.Rewrite.DevicePixelRatio)
	}
	if _, err := thumbs.ParseImageSetSupport(c.Rewrite.ImageSet); err != nil {
		return err
	}
	switch c.Settings.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Settings.File == "" {
			return errors.New("settings backend file needs settings.file")
		}
	case BackendRedis:
		if c.Settings.RedisURL == "" {
			return errors.New("settings backend redis needs settings.redis_url")
		}
	default:
		return fmt.Errorf("unknown settings backend %q", c.Settings.Backend)
	}
	return nil
}

// Env converts the rewrite section into a thumbs.Env.
func (c Config) Env(pagePath string) thumbs.Env {
	support, _ := thumbs.ParseImageSetSupport(c.Rewrite.ImageSet)
	return thumbs.Env{
		DevicePixelRatio: c.Rewrite.DevicePixelRatio,
		ImageSet:         support,
		PagePath:         pagePath,
		MinAncestorSize:  c.Rewrite.MinAncestorSize,
	}
}
