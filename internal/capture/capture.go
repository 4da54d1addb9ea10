// Package capture rasterizes a mounted export-safe clone with headless
// Chrome.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"pdfexport/internal/logging"
)

// Format selects the raster output.
type Format string

const (
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts png and pdf in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPNG, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("unsupported capture format %q", s)
}

// ContentType is the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "image/png"
}

var (
	ErrEmptyDocument = errors.New("capture: empty document")
	ErrNoContainer   = errors.New("capture: missing container id")
)

// Options configures the browser and the output geometry.
type Options struct {
	ChromePath     string
	Headless       bool
	Timeout        time.Duration
	Scale          float64
	ViewportWidth  int
	ViewportHeight int
	ColorScheme    string
	Landscape      bool
	PaperWidth     float64
	PaperHeight    float64
	Logger         *slog.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 45 * time.Second
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = 1280
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = 800
	}
	if o.ColorScheme == "" {
		o.ColorScheme = "light"
	}
	if o.PaperWidth <= 0 {
		o.PaperWidth = 8.27
	}
	if o.PaperHeight <= 0 {
		o.PaperHeight = 11.69
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
}

// Capturer owns one browser allocator. Each capture runs in its own tab.
type Capturer struct {
	allocator context.Context
	cancel    context.CancelFunc
	opts      Options
	logger    *slog.Logger
}

// New prepares the browser allocator. Chrome is started lazily by the first
// capture.
func New(opts Options) *Capturer {
	opts.defaults()
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
	)
	if opts.ChromePath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ChromePath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), flags...)
	return &Capturer{
		allocator: allocCtx,
		cancel:    cancel,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Close stops the browser.
func (c *Capturer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Capture loads document into a blank tab, hides everything except the
// container with the given id and returns the container element as PNG or
// the isolated page as PDF.
func (c *Capturer) Capture(ctx context.Context, document string, containerID string, format Format) ([]byte, error) {
	if strings.TrimSpace(document) == "" {
		return nil, ErrEmptyDocument
	}
	if strings.TrimSpace(containerID) == "" {
		return nil, ErrNoContainer
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	taskCtx, cancelTab := chromedp.NewContext(c.allocator)
	defer cancelTab()
	if ctx != nil {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithCancel(taskCtx)
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-taskCtx.Done():
			}
		}()
		defer cancel()
	}
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, c.opts.Timeout)
	defer cancelTimeout()

	started := time.Now()
	var out []byte
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(c.opts.ViewportWidth), int64(c.opts.ViewportHeight), c.opts.Scale, false),
		emulation.SetEmulatedMedia().WithFeatures([]*emulation.MediaFeature{
			{Name: "prefers-color-scheme", Value: c.opts.ColorScheme},
		}),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, document).Do(ctx)
		}),
		chromedp.WaitReady(containerID, chromedp.ByID),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var ok bool
			if err := chromedp.Evaluate(isolateScript(containerID), &ok).Do(ctx); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("capture: container %s not found", containerID)
			}
			return nil
		}),
	}
	switch format {
	case FormatPNG:
		actions = append(actions, chromedp.ScreenshotScale(containerID, c.opts.Scale, &out, chromedp.ByID))
	case FormatPDF:
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithLandscape(c.opts.Landscape).
				WithPaperWidth(c.opts.PaperWidth).
				WithPaperHeight(c.opts.PaperHeight).
				Do(ctx)
			if err != nil {
				return err
			}
			out = data
			return nil
		}))
	}

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("capture %s: %w", format, err)
	}
	c.logger.Debug("captured", "format", string(format), "bytes", len(out), "elapsed", time.Since(started))
	return out, nil
}

// isolateScript hides every element that is not an ancestor or descendant
// of the container and moves the container on screen.
func isolateScript(containerID string) string {
	return `(function(id) {
	var c = document.getElementById(id);
	if (!c) { return false; }
	for (var n = c; n.parentElement; n = n.parentElement) {
		var kids = n.parentElement.children;
		for (var i = 0; i < kids.length; i++) {
			if (kids[i] !== n && kids[i].tagName !== 'STYLE' && kids[i].tagName !== 'HEAD') {
				kids[i].style.setProperty('display', 'none', 'important');
			}
		}
	}
	c.style.setProperty('position', 'static', 'important');
	c.style.setProperty('left', '0', 'important');
	document.body.style.setProperty('margin', '0', 'important');
	return true;
})(` + strconv.Quote(containerID) + `)`
}
