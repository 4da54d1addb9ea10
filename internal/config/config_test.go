package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfexport/safeclone"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "PDFEXPORT_ADDR", "PDFEXPORT_LOG_LEVEL", "PDFEXPORT_CHROME", "PDFEXPORT_FETCH_CSS"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Capture.Headless)
	assert.Equal(t, 45*time.Second, cfg.Capture.Timeout)
	assert.Equal(t, "-9999px", cfg.Render.ContainerOffset)
	assert.False(t, cfg.Render.FetchCSS)
	assert.Equal(t, 10*time.Minute, cfg.Render.CSSCacheTTL)

	opts := cfg.SafeCloneOptions()
	assert.Equal(t, safeclone.FallbackPassThrough, opts.Fallback)
	assert.Equal(t, 1280, opts.ViewportWidth)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("PDFEXPORT_LOG_LEVEL", "debug")
	t.Setenv("PDFEXPORT_CHROME", "/usr/bin/chromium")
	t.Setenv("PDFEXPORT_FETCH_CSS", "true")

	cfg := DefaultConfig()
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/usr/bin/chromium", cfg.Capture.ChromePath)
	assert.True(t, cfg.Render.FetchCSS)

	t.Setenv("PDFEXPORT_ADDR", "127.0.0.1:7000")
	assert.Equal(t, "127.0.0.1:7000", DefaultConfig().Server.Addr, "explicit address wins over PORT")
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pdfexport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: warn
server:
  addr: ":8181"
  read_timeout: 5s
render:
  color_scheme: dark
  fallback: black
  viewport_width: 1024
capture:
  headless: false
  timeout: 10s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, ":8181", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.False(t, cfg.Capture.Headless)
	assert.Equal(t, 10*time.Second, cfg.Capture.Timeout)

	opts := cfg.SafeCloneOptions()
	assert.Equal(t, "dark", opts.ColorScheme)
	assert.Equal(t, safeclone.FallbackBlack, opts.Fallback)
	assert.Equal(t, 1024, opts.ViewportWidth)
	assert.Equal(t, 800, opts.ViewportHeight)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unterminated"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}
