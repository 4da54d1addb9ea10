// Package export runs the parse, clone, verify and render pipeline shared by
// the CLI and the HTTP service.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"pdfexport/internal/capture"
	"pdfexport/internal/logging"
	"pdfexport/safeclone"
)

// Mode selects what an export produces.
type Mode string

const (
	// ModeFragment renders the sanitized subtree as HTML.
	ModeFragment Mode = "fragment"
	// ModeDocument renders the whole page with the clone mounted offscreen.
	ModeDocument Mode = "document"
	ModePNG      Mode = "png"
	ModePDF      Mode = "pdf"
)

// DefaultSelector is the subtree Verify scans when a request names none.
// Export has no default: a body cannot be mounted inside its own container.
const DefaultSelector = "body"

// ParseMode accepts the mode names in any case. An empty string is
// ModeFragment.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeFragment, nil
	case ModeFragment, ModeDocument, ModePNG, ModePDF:
		return m, nil
	}
	return "", fmt.Errorf("unsupported export mode %q", s)
}

// ContentType is the MIME type of the mode's output.
func (m Mode) ContentType() string {
	switch m {
	case ModePNG:
		return capture.FormatPNG.ContentType()
	case ModePDF:
		return capture.FormatPDF.ContentType()
	}
	return "text/html; charset=utf-8"
}

func (m Mode) raster() bool { return m == ModePNG || m == ModePDF }

var (
	// ErrNoRasterizer is returned for png and pdf exports when no
	// rasterizer is configured.
	ErrNoRasterizer = errors.New("export: rasterizer not configured")
	// ErrNoSelector is returned by Export when the request names no subtree.
	ErrNoSelector = errors.New("export: selector required")
)

// UnsafeError aborts an export whose clone still carries unsafe colors.
type UnsafeError struct {
	Findings []safeclone.Finding
}

func (e *UnsafeError) Error() string {
	if len(e.Findings) == 0 {
		return "export: clone still contains unsafe colors"
	}
	f := e.Findings[0]
	return fmt.Sprintf("export: %d unsafe color declaration(s), first %s %s: %s",
		len(e.Findings), f.Path, f.Property, f.Value)
}

// Rasterizer turns a rendered document into image or PDF bytes, keeping only
// the element with the given id. *capture.Capturer implements it.
type Rasterizer interface {
	Capture(ctx context.Context, document string, containerID string, format capture.Format) ([]byte, error)
}

// Result is a completed export.
type Result struct {
	Mode        Mode
	Body        []byte
	ContainerID string
	Stats       safeclone.RewriteStats
	Elapsed     time.Duration
}

// ContentType is the MIME type of Body.
func (r *Result) ContentType() string { return r.Mode.ContentType() }

// Report is the outcome of verifying a subtree without cloning it.
type Report struct {
	Selector string              `json:"selector"`
	Safe     bool                `json:"safe"`
	Findings []safeclone.Finding `json:"findings"`
}

// Exporter holds the options every export shares. It is safe for
// concurrent use; each call parses its own document.
type Exporter struct {
	opts   safeclone.Options
	raster Rasterizer
	logger *slog.Logger
}

// New returns an Exporter. raster may be nil, in which case png and pdf
// exports fail with ErrNoRasterizer.
func New(opts safeclone.Options, raster Rasterizer, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Exporter{opts: opts, raster: raster, logger: logger}
}

// Export parses page, clones the subtree matched by selector into an
// export-safe copy and renders it in the requested mode. selector must be
// non-empty and must not match html, head or body. The clone is disposed
// before Export returns. No output is produced when the clone fails
// verification.
func (e *Exporter) Export(ctx context.Context, page io.Reader, selector string, mode Mode) (*Result, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, ErrNoSelector
	}
	if mode.raster() && e.raster == nil {
		return nil, ErrNoRasterizer
	}
	started := time.Now()
	doc, root, err := e.load(ctx, page, selector)
	if err != nil {
		return nil, err
	}

	res := &Result{Mode: mode}
	err = doc.WithPdfSafeClone(ctx, root, func(ctx context.Context, c *safeclone.Clone) error {
		res.ContainerID = c.ContainerID()
		res.Stats = c.Stats()
		findings, err := c.Findings()
		if err != nil {
			return err
		}
		if len(findings) > 0 {
			return &UnsafeError{Findings: findings}
		}
		var buf bytes.Buffer
		switch mode {
		case ModeFragment:
			err = c.Render(&buf)
		default:
			err = doc.Render(&buf)
		}
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		if !mode.raster() {
			res.Body = buf.Bytes()
			return nil
		}
		out, err := e.raster.Capture(ctx, buf.String(), c.ContainerID(), capture.Format(mode))
		if err != nil {
			return err
		}
		res.Body = out
		return nil
	})
	if err != nil {
		e.logger.Warn("export failed", "selector", selector, "mode", string(mode), "error", err)
		return nil, err
	}
	res.Elapsed = time.Since(started)
	e.logger.Info("export complete",
		"selector", selector,
		"mode", string(mode),
		"bytes", len(res.Body),
		"converted", res.Stats.Converted,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// Verify reports the unsafe declarations in the subtree matched by selector
// as written, without cloning it.
func (e *Exporter) Verify(ctx context.Context, page io.Reader, selector string) (*Report, error) {
	_, root, err := e.load(ctx, page, selector)
	if err != nil {
		return nil, err
	}
	findings := safeclone.ScanUnsafeColors(root)
	if findings == nil {
		findings = []safeclone.Finding{}
	}
	return &Report{
		Selector: selectorOrDefault(selector),
		Safe:     len(findings) == 0,
		Findings: findings,
	}, nil
}

func (e *Exporter) load(ctx context.Context, page io.Reader, selector string) (*safeclone.Document, *html.Node, error) {
	doc, err := safeclone.Parse(ctx, page, e.opts)
	if err != nil {
		return nil, nil, err
	}
	root, err := doc.Query(selectorOrDefault(selector))
	if err != nil {
		return nil, nil, err
	}
	return doc, root, nil
}

func selectorOrDefault(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return DefaultSelector
	}
	return s
}

// NormalizeLines rewrites every unsafe color in each line of values and
// returns the lines in order.
func NormalizeLines(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = safeclone.Normalize(v)
	}
	return out
}
