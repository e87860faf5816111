package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbfix/thumbs"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"THUMBFIX_CONFIG", "THUMBFIX_ADDR", "PORT", "THUMBFIX_LOG_LEVEL", "THUMBFIX_DPR",
		"THUMBFIX_IMAGESET", "THUMBFIX_SETTINGS", "THUMBFIX_SETTINGS_FILE", "THUMBFIX_REDIS_URL", "THUMBFIX_CHROME",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	env := cfg.Env("/discovery")
	assert.Equal(t, thumbs.ImageSetStandard, env.ImageSet)
	assert.Equal(t, 1.0, env.DevicePixelRatio)
	assert.Equal(t, "/discovery", env.PagePath)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "thumbfix.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = ":9000"

[rewrite]
dpr = 2
imageset = "webkit"

[settings]
backend = "file"
file = "/tmp/thumbfix.json"

[proxy]
cache_ttl = "30s"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 2.0, cfg.Rewrite.DevicePixelRatio)
	assert.Equal(t, thumbs.ImageSetWebkit, cfg.Env("").ImageSet)
	assert.Equal(t, BackendFile, cfg.Settings.Backend)
	assert.Equal(t, 30*time.Second, cfg.Proxy.CacheTTL.Duration)
	assert.Equal(t, 15*time.Second, cfg.Proxy.FetchTimeout.Duration, "unset keys keep defaults")
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7777")
	t.Setenv("THUMBFIX_DPR", "1.5")
	t.Setenv("THUMBFIX_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Addr)
	assert.Equal(t, 1.5, cfg.Rewrite.DevicePixelRatio)
	assert.Equal(t, BackendRedis, cfg.Settings.Backend)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err, "explicit path must exist")

	t.Setenv("THUMBFIX_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	_, err = Load("")
	assert.NoError(t, err, "env path may be absent")

	clearEnv(t)
	t.Setenv("THUMBFIX_DPR", "abc")
	_, err = Load("")
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("THUMBFIX_SETTINGS", "file")
	_, err = Load("")
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("THUMBFIX_IMAGESET", "moz")
	_, err = Load("")
	assert.Error(t, err)
}
