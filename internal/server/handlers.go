package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"pdfexport/internal/export"
	"pdfexport/safeclone"
)

// Response headers set by /export.
const (
	HeaderContainerID = "X-Pdf-Safe-Container"
	HeaderConverted   = "X-Colors-Converted"
)

type errorResponse struct {
	Error    string              `json:"error"`
	Findings []safeclone.Finding `json:"findings,omitempty"`
}

type normalizeRequest struct {
	Values []string `json:"values"`
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, err := export.ParseMode(q.Get("mode"))
	if err != nil {
		s.metrics.exports.WithLabelValues("invalid", "bad_request").Inc()
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		s.metrics.exports.WithLabelValues(string(mode), "bad_request").Inc()
		return
	}
	res, err := s.exporter.Export(r.Context(), bytes.NewReader(body), q.Get("selector"), mode)
	if err != nil {
		status := statusFor(err)
		s.metrics.exports.WithLabelValues(string(mode), outcomeFor(status)).Inc()
		s.writeError(w, status, err)
		return
	}
	s.metrics.exports.WithLabelValues(string(mode), "ok").Inc()
	s.metrics.duration.WithLabelValues(string(mode)).Observe(res.Elapsed.Seconds())
	s.metrics.converted.Add(float64(res.Stats.Converted))

	w.Header().Set("Content-Type", res.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.Header().Set(HeaderContainerID, res.ContainerID)
	w.Header().Set(HeaderConverted, strconv.Itoa(res.Stats.Converted))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Body)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	rep, err := s.exporter.Verify(r.Context(), bytes.NewReader(body), r.URL.Query().Get("selector"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.metrics.findings.Add(float64(len(rep.Findings)))
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if isJSON(r.Header.Get("Content-Type")) {
		var req normalizeRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusOK, normalizeRequest{Values: export.NormalizeLines(req.Values)})
		return
	}
	text := strings.TrimSuffix(string(body), "\n")
	if text == "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}
	lines := export.NormalizeLines(strings.Split(text, "\n"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, strings.Join(lines, "\n")+"\n")
}

// readBody reads the whole request body under the size limit. It writes
// the error response itself and reports false on failure.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, err)
		} else {
			s.writeError(w, http.StatusBadRequest, err)
		}
		return nil, false
	}
	return body, true
}

func statusFor(err error) int {
	var unsafe *export.UnsafeError
	switch {
	case errors.As(err, &unsafe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, safeclone.ErrInvalidSelector), errors.Is(err, export.ErrNoSelector),
		errors.Is(err, safeclone.ErrUnmountableRoot):
		return http.StatusBadRequest
	case errors.Is(err, safeclone.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(err, safeclone.ErrStructuralClone), errors.Is(err, safeclone.ErrNotElement):
		return http.StatusUnprocessableEntity
	case errors.Is(err, export.ErrNoRasterizer):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func outcomeFor(status int) string {
	switch status {
	case http.StatusUnprocessableEntity:
		return "unsafe"
	case http.StatusBadRequest, http.StatusNotFound:
		return "bad_request"
	}
	return "error"
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	resp := errorResponse{Error: err.Error()}
	var unsafe *export.UnsafeError
	if errors.As(err, &unsafe) {
		resp.Findings = unsafe.Findings
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
