// Package config loads pdfexport settings from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pdfexport/safeclone"
)

// Config is the top-level pdfexport configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Server   ServerConfig  `yaml:"server"`
	Render   RenderConfig  `yaml:"render"`
	Capture  CaptureConfig `yaml:"capture"`
}

// ServerConfig wires the HTTP service.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// RenderConfig controls style resolution and clone mounting.
type RenderConfig struct {
	BaseURL         string        `yaml:"base_url"`
	FetchCSS        bool          `yaml:"fetch_css"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	CSSCacheTTL     time.Duration `yaml:"css_cache_ttl"`
	MaxStylesheets  int           `yaml:"max_stylesheets"`
	ViewportWidth   int           `yaml:"viewport_width"`
	ViewportHeight  int           `yaml:"viewport_height"`
	Media           string        `yaml:"media"`
	ColorScheme     string        `yaml:"color_scheme"`
	Fallback        string        `yaml:"fallback"`
	ContainerOffset string        `yaml:"container_offset"`
}

// CaptureConfig controls the headless Chrome rasterizer.
type CaptureConfig struct {
	ChromePath string        `yaml:"chrome_path"`
	Headless   bool          `yaml:"headless"`
	Timeout    time.Duration `yaml:"timeout"`
	Scale      float64       `yaml:"scale"`
	Landscape  bool          `yaml:"landscape"`
	// PaperWidth and PaperHeight are in inches (A4 by default).
	PaperWidth  float64 `yaml:"paper_width"`
	PaperHeight float64 `yaml:"paper_height"`
}

// DefaultConfig returns the built-in defaults overridden by the
// environment.
func DefaultConfig() Config {
	cfg := Config{
		Capture: CaptureConfig{Headless: true},
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// Load reads path, fills in defaults and applies environment overrides. An
// empty path is the same as DefaultConfig.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Config{Capture: CaptureConfig{Headless: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 8 << 20
	}
	if c.Render.FetchTimeout <= 0 {
		c.Render.FetchTimeout = 8 * time.Second
	}
	if c.Render.CSSCacheTTL <= 0 {
		c.Render.CSSCacheTTL = 10 * time.Minute
	}
	if c.Render.MaxStylesheets <= 0 {
		c.Render.MaxStylesheets = 16
	}
	if c.Render.ViewportWidth <= 0 {
		c.Render.ViewportWidth = 1280
	}
	if c.Render.ViewportHeight <= 0 {
		c.Render.ViewportHeight = 800
	}
	if c.Render.Media == "" {
		c.Render.Media = "screen"
	}
	if c.Render.ColorScheme == "" {
		c.Render.ColorScheme = "light"
	}
	if c.Render.Fallback == "" {
		c.Render.Fallback = string(safeclone.FallbackPassThrough)
	}
	if c.Render.ContainerOffset == "" {
		c.Render.ContainerOffset = "-9999px"
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 45 * time.Second
	}
	if c.Capture.Scale <= 0 {
		c.Capture.Scale = 1
	}
	if c.Capture.PaperWidth <= 0 {
		c.Capture.PaperWidth = 8.27
	}
	if c.Capture.PaperHeight <= 0 {
		c.Capture.PaperHeight = 11.69
	}
}

func (c *Config) applyEnv() {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Server.Addr = ":" + port
	}
	if addr := strings.TrimSpace(os.Getenv("PDFEXPORT_ADDR")); addr != "" {
		c.Server.Addr = addr
	}
	if lvl := strings.TrimSpace(os.Getenv("PDFEXPORT_LOG_LEVEL")); lvl != "" {
		c.LogLevel = lvl
	}
	if chrome := strings.TrimSpace(os.Getenv("PDFEXPORT_CHROME")); chrome != "" {
		c.Capture.ChromePath = chrome
	}
	if raw := strings.TrimSpace(os.Getenv("PDFEXPORT_FETCH_CSS")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.Render.FetchCSS = v
		}
	}
}

// SafeCloneOptions maps the render section onto safeclone options.
func (c Config) SafeCloneOptions() safeclone.Options {
	return safeclone.Options{
		BaseURL:         c.Render.BaseURL,
		FetchExternal:   c.Render.FetchCSS,
		HTTPTimeout:     c.Render.FetchTimeout,
		MaxStylesheets:  c.Render.MaxStylesheets,
		ViewportWidth:   c.Render.ViewportWidth,
		ViewportHeight:  c.Render.ViewportHeight,
		Media:           c.Render.Media,
		ColorScheme:     c.Render.ColorScheme,
		Fallback:        safeclone.ParseFallbackPolicy(c.Render.Fallback),
		ContainerOffset: c.Render.ContainerOffset,
	}
}
