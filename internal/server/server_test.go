package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfexport/internal/capture"
	"pdfexport/internal/export"
	"pdfexport/safeclone"
)

const page = `<!doctype html><html><head><style>
	.card { color: oklch(0.45 0.15 250); border: 1px solid oklch(0.9 0.02 90) }
</style></head><body>
	<div class="card">Card</div>
	<p class="broken" style="color: oklch(bogus)">x</p>
</body></html>`

type stubRaster struct{}

func (stubRaster) Capture(_ context.Context, _ string, _ string, format capture.Format) ([]byte, error) {
	return []byte("raster:" + string(format)), nil
}

func newTestServer(t *testing.T, raster export.Rasterizer, maxBody int64) *httptest.Server {
	t.Helper()
	s := New(export.New(safeclone.Options{}, raster, nil), Config{MaxBodyBytes: maxBody})
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, contentType, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestPing(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, 0)
	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong\n", string(b))
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestExportFragment(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, 0)
	resp, body := post(t, ts.URL+"/export?selector=.card", "text/html", page)

	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	assert.True(t, strings.HasPrefix(resp.Header.Get(HeaderContainerID), "pdf-safe-"))
	assert.NotEqual(t, "0", resp.Header.Get(HeaderConverted))
	assert.True(t, strings.HasPrefix(body, `<div class="card"`))
	assert.NotContains(t, body, "oklch")
}

func TestExportRaster(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, stubRaster{}, 0)
	resp, body := post(t, ts.URL+"/export?selector=.card&mode=pdf", "text/html", page)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "raster:pdf", body)

	resp, _ = post(t, ts.URL+"/export?selector=.card&mode=png", "text/html", page)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestExportErrors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, 0)
	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"bad_mode", "?mode=gif", http.StatusBadRequest},
		{"bad_selector", "?selector=%5B%5B", http.StatusBadRequest},
		{"no_selector", "", http.StatusBadRequest},
		{"body_root", "?selector=body", http.StatusBadRequest},
		{"no_match", "?selector=.missing", http.StatusNotFound},
		{"no_rasterizer", "?selector=.card&mode=png", http.StatusNotImplemented},
		{"unsafe", "?selector=.broken", http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp, body := post(t, ts.URL+"/export"+tc.query, "text/html", page)
			assert.Equal(t, tc.status, resp.StatusCode, body)
			var er errorResponse
			require.NoError(t, json.Unmarshal([]byte(body), &er))
			assert.NotEmpty(t, er.Error)
			if tc.status == http.StatusUnprocessableEntity {
				require.NotEmpty(t, er.Findings)
				assert.Equal(t, "oklch(bogus)", er.Findings[0].Value)
			}
		})
	}
}

func TestExportBodyLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, 64)
	resp, body := post(t, ts.URL+"/export", "text/html", page)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode, body)
}

func TestVerify(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, 0)

	resp, body := post(t, ts.URL+"/verify", "text/html", page)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var rep export.Report
	require.NoError(t, json.Unmarshal([]byte(body), &rep))
	assert.False(t, rep.Safe)
	require.Len(t, rep.Findings, 1)
	assert.Equal(t, "body>p", rep.Findings[0].Path)

	_, body = post(t, ts.URL+"/verify?selector=.card", "text/html", page)
	require.NoError(t, json.Unmarshal([]byte(body), &rep))
	assert.True(t, rep.Safe)
	assert.Empty(t, rep.Findings)
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, 0)

	resp, body := post(t, ts.URL+"/normalize", "text/plain", "oklch(0.5 0 0)\n1px solid red\n")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rgb(99, 99, 99)\n1px solid red\n", body)

	resp, body = post(t, ts.URL+"/normalize", "application/json; charset=utf-8", `{"values":["oklch(0.5 0 0 / 50%)"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out normalizeRequest
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, []string{"rgba(99, 99, 99, 0.5)"}, out.Values)

	resp, _ = post(t, ts.URL+"/normalize", "application/json", `{"values":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, 0)
	post(t, ts.URL+"/export?selector=.card", "text/html", page)
	post(t, ts.URL+"/export?selector=.broken", "text/html", page)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	out := string(b)
	assert.Contains(t, out, `pdfexport_exports_total{mode="fragment",outcome="ok"} 1`)
	assert.Contains(t, out, `pdfexport_exports_total{mode="fragment",outcome="unsafe"} 1`)
	assert.Contains(t, out, "pdfexport_export_duration_seconds_count")
	assert.Contains(t, out, "pdfexport_colors_converted_total")
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil, 0)
	resp, err := http.Get(ts.URL + "/export")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
