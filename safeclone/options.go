package safeclone

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// FallbackPolicy decides what the rewriter writes when a color cannot be
// parsed.
type FallbackPolicy string

const (
	// FallbackPassThrough keeps the original value. The verifier will then
	// report the clone as unsafe.
	FallbackPassThrough FallbackPolicy = "passthrough"
	// FallbackBlack substitutes opaque black.
	FallbackBlack FallbackPolicy = "black"
)

// ParseFallbackPolicy maps a config string to a policy, defaulting to
// pass-through.
func ParseFallbackPolicy(s string) FallbackPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "black", "substitute", "default":
		return FallbackBlack
	default:
		return FallbackPassThrough
	}
}

// Options configures how a Document computes styles and mounts clones.
type Options struct {
	// BaseURL resolves relative <link rel=stylesheet> and @import targets.
	BaseURL string `yaml:"base_url"`
	// FetchExternal enables downloading linked stylesheets.
	FetchExternal bool `yaml:"fetch_external"`
	// HTTPTimeout bounds each stylesheet download (default 8s).
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// Header is sent with stylesheet requests.
	Header http.Header `yaml:"-"`
	// Cache, when set, is consulted before downloading a stylesheet.
	Cache *SheetCache `yaml:"-"`
	// MaxStylesheets caps fetched sheets including @import (default 16).
	MaxStylesheets int `yaml:"max_stylesheets"`

	// ViewportWidth and ViewportHeight drive width/height media queries.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
	// Media is the active media type, "screen" or "print".
	Media string `yaml:"media"`
	// ColorScheme answers prefers-color-scheme, "light" or "dark".
	ColorScheme string `yaml:"color_scheme"`

	// Fallback is applied to colors Normalize cannot parse.
	Fallback FallbackPolicy `yaml:"fallback"`
	// ContainerOffset is the left offset that keeps the mount point off
	// screen (default -9999px).
	ContainerOffset string `yaml:"container_offset"`

	Logger *slog.Logger `yaml:"-"`
}

func (o *Options) defaults() {
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 8 * time.Second
	}
	if o.MaxStylesheets <= 0 {
		o.MaxStylesheets = 16
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = 1280
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 800
	}
	o.Media = strings.ToLower(strings.TrimSpace(o.Media))
	if o.Media == "" {
		o.Media = "screen"
	}
	o.ColorScheme = strings.ToLower(strings.TrimSpace(o.ColorScheme))
	if o.ColorScheme != "dark" {
		o.ColorScheme = "light"
	}
	if o.Fallback == "" {
		o.Fallback = FallbackPassThrough
	}
	if strings.TrimSpace(o.ContainerOffset) == "" {
		o.ContainerOffset = "-9999px"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}
