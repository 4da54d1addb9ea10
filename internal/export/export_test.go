package export

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfexport/internal/capture"
	"pdfexport/safeclone"
)

const page = `<!doctype html><html><head><style>
	:root { --brand: oklch(0.45 0.15 250) }
	.card { color: var(--brand); background-color: oklch(0.99 0 0) }
</style></head><body>
	<div class="card"><p>Total <b>42</b></p></div>
	<p class="broken" style="color: oklch(bogus)">x</p>
</body></html>`

type fakeRaster struct {
	document    string
	containerID string
	format      capture.Format
	err         error
}

func (f *fakeRaster) Capture(_ context.Context, document, containerID string, format capture.Format) ([]byte, error) {
	f.document, f.containerID, f.format = document, containerID, format
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-fake"), nil
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeFragment, false},
		{"Fragment", ModeFragment, false},
		{" document ", ModeDocument, false},
		{"PNG", ModePNG, false},
		{"pdf", ModePDF, false},
		{"svg", "", true},
	}
	for _, tc := range tests {
		got, err := ParseMode(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	assert.Equal(t, "application/pdf", ModePDF.ContentType())
	assert.Equal(t, "image/png", ModePNG.ContentType())
	assert.True(t, strings.HasPrefix(ModeDocument.ContentType(), "text/html"))
}

func TestExportFragment(t *testing.T) {
	t.Parallel()
	e := New(safeclone.Options{}, nil, nil)
	res, err := e.Export(context.Background(), strings.NewReader(page), ".card", ModeFragment)
	require.NoError(t, err)

	out := string(res.Body)
	assert.True(t, strings.HasPrefix(out, `<div class="card"`), out)
	assert.NotContains(t, out, "oklch")
	assert.Contains(t, out, "rgb(")
	assert.Contains(t, out, ">42</b>")
	assert.Equal(t, 3, res.Stats.Elements)
	assert.Positive(t, res.Stats.Converted)
	assert.True(t, strings.HasPrefix(res.ContainerID, "pdf-safe-"))
}

func TestExportDocumentMountsClone(t *testing.T) {
	t.Parallel()
	e := New(safeclone.Options{}, nil, nil)
	res, err := e.Export(context.Background(), strings.NewReader(page), ".card", ModeDocument)
	require.NoError(t, err)

	out := string(res.Body)
	assert.Contains(t, out, `id="`+res.ContainerID+`"`)
	assert.Contains(t, out, safeclone.ContainerAttr)
	assert.Contains(t, out, "oklch(0.45 0.15 250)", "the page stylesheet is left alone")
}

func TestExportRaster(t *testing.T) {
	t.Parallel()
	raster := &fakeRaster{}
	e := New(safeclone.Options{}, raster, nil)
	res, err := e.Export(context.Background(), strings.NewReader(page), ".card", ModePDF)
	require.NoError(t, err)

	assert.Equal(t, []byte("%PDF-fake"), res.Body)
	assert.Equal(t, "application/pdf", res.ContentType())
	assert.Equal(t, capture.FormatPDF, raster.format)
	assert.Equal(t, res.ContainerID, raster.containerID)
	assert.Contains(t, raster.document, `id="`+res.ContainerID+`"`)

	raster.err = errors.New("chrome went away")
	_, err = e.Export(context.Background(), strings.NewReader(page), ".card", ModePNG)
	assert.EqualError(t, err, "chrome went away")
}

func TestExportNeedsMountableRoot(t *testing.T) {
	t.Parallel()
	e := New(safeclone.Options{}, &fakeRaster{}, nil)
	for _, sel := range []string{"", "  "} {
		_, err := e.Export(context.Background(), strings.NewReader(page), sel, ModeDocument)
		assert.ErrorIs(t, err, ErrNoSelector, "%q", sel)
	}
	for _, sel := range []string{"body", "html"} {
		_, err := e.Export(context.Background(), strings.NewReader(page), sel, ModePNG)
		assert.ErrorIs(t, err, safeclone.ErrUnmountableRoot, sel)
	}
}

func TestExportWithoutRasterizer(t *testing.T) {
	t.Parallel()
	e := New(safeclone.Options{}, nil, nil)
	_, err := e.Export(context.Background(), strings.NewReader(page), ".card", ModePNG)
	assert.ErrorIs(t, err, ErrNoRasterizer)
}

func TestExportAbortsOnUnsafeClone(t *testing.T) {
	t.Parallel()
	e := New(safeclone.Options{}, nil, nil)
	res, err := e.Export(context.Background(), strings.NewReader(page), ".broken", ModeFragment)
	assert.Nil(t, res)
	var unsafe *UnsafeError
	require.True(t, errors.As(err, &unsafe))
	require.NotEmpty(t, unsafe.Findings)
	assert.Equal(t, "oklch(bogus)", unsafe.Findings[0].Value)
	assert.Contains(t, err.Error(), "oklch(bogus)")

	e = New(safeclone.Options{Fallback: safeclone.FallbackBlack}, nil, nil)
	res, err = e.Export(context.Background(), strings.NewReader(page), ".broken", ModeFragment)
	require.NoError(t, err)
	assert.Contains(t, string(res.Body), "rgb(0, 0, 0)")
}

func TestExportErrors(t *testing.T) {
	t.Parallel()
	e := New(safeclone.Options{}, nil, nil)
	_, err := e.Export(context.Background(), strings.NewReader(page), ".missing", ModeFragment)
	assert.ErrorIs(t, err, safeclone.ErrNoMatch)

	_, err = e.Export(context.Background(), strings.NewReader(page), "[[", ModeFragment)
	assert.ErrorIs(t, err, safeclone.ErrInvalidSelector)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Export(ctx, strings.NewReader(page), ".card", ModeFragment)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	t.Parallel()
	e := New(safeclone.Options{}, nil, nil)

	rep, err := e.Verify(context.Background(), strings.NewReader(page), ".card")
	require.NoError(t, err)
	assert.True(t, rep.Safe, "the card declares nothing inline")
	assert.Empty(t, rep.Findings)
	assert.NotNil(t, rep.Findings)

	rep, err = e.Verify(context.Background(), strings.NewReader(page), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSelector, rep.Selector)
	assert.False(t, rep.Safe)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, safeclone.Finding{Path: "body>p", Property: "color", Value: "oklch(bogus)"}, rep.Findings[0])
}

func TestNormalizeLines(t *testing.T) {
	t.Parallel()
	got := NormalizeLines([]string{"oklch(0.5 0 0)", "red", ""})
	assert.Equal(t, []string{"rgb(99, 99, 99)", "red", ""}, got)
}
