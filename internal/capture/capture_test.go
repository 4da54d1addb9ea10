package capture

import (
	"bytes"
	"context"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	t.Parallel()
	f, err := ParseFormat(" PNG ")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, f)
	assert.Equal(t, "image/png", f.ContentType())

	f, err = ParseFormat("pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.ContentType())

	_, err = ParseFormat("gif")
	assert.Error(t, err)
}

func TestCaptureValidatesInput(t *testing.T) {
	t.Parallel()
	c := New(Options{})
	defer c.Close()

	_, err := c.Capture(context.Background(), "  ", "pdf-safe-1", FormatPNG)
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = c.Capture(context.Background(), "<p>x</p>", "", FormatPNG)
	assert.ErrorIs(t, err, ErrNoContainer)

	_, err = c.Capture(context.Background(), "<p>x</p>", "pdf-safe-1", Format("bmp"))
	assert.Error(t, err)
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()
	var o Options
	o.defaults()
	assert.Equal(t, 1.0, o.Scale)
	assert.Equal(t, 1280, o.ViewportWidth)
	assert.Equal(t, "light", o.ColorScheme)
	assert.NotNil(t, o.Logger)
}

func TestIsolateScriptQuotesID(t *testing.T) {
	t.Parallel()
	js := isolateScript(`pdf-safe-"x"`)
	assert.True(t, strings.HasSuffix(js, `})("pdf-safe-\"x\"")`))
	assert.Contains(t, js, "getElementById(id)")
}

func chromePath(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary on PATH")
	return ""
}

func TestCaptureScreenshotsWholeContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a browser")
	}
	c := New(Options{ChromePath: chromePath(t), Headless: true, Scale: 1})
	defer c.Close()

	doc := `<!doctype html><html><body>
		<p>page</p>
		<div id="pdf-safe-1" style="position:absolute;left:-10000px;width:300px">
			<div style="width:40px;height:10px;background:rgb(255, 0, 0)"></div>
			<div style="width:120px;height:30px;background:rgb(0, 0, 255)"></div>
		</div>
	</body></html>`
	out, err := c.Capture(context.Background(), doc, "pdf-safe-1", FormatPNG)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx(), "container width, not its first child")
	assert.Equal(t, 40, img.Bounds().Dy(), "both children")
}
