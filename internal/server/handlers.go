package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sizemap/internal/artifact"
	"github.com/sizemap/internal/emitter"
	"github.com/sizemap/internal/repository"
	"github.com/sizemap/internal/service"
	"github.com/sizemap/pkg/compression"
	apperrors "github.com/sizemap/pkg/errors"
	"github.com/sizemap/pkg/model"
)

// decompressFactor bounds how far a compressed upload may expand.
const decompressFactor = 8

var contentTypes = map[string]string{
	"json":   "application/json",
	"html":   "text/html; charset=utf-8",
	"svg":    "image/svg+xml",
	"folded": "text/plain; charset=utf-8",
	"pprof":  "application/octet-stream",
	"md":     "text/markdown; charset=utf-8",
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type reportResponse struct {
	*model.Report
}

type diffResponse struct {
	Before string             `json:"before"`
	After  string             `json:"after"`
	Deltas []model.EntryDelta `json:"deltas"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyze analyzes the request body as an artifact. The body may be
// gzip or zstd compressed.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	popts := s.svc.PipelineOptions()
	if v := q.Get("format"); v != "" {
		f, ok := model.ParseFormat(v)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "unknown format "+strconv.Quote(v))
			return
		}
		popts.Format = f
	}
	var err error
	if popts.Width, err = floatParam(q.Get("width"), popts.Width); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid width")
		return
	}
	if popts.Height, err = floatParam(q.Get("height"), popts.Height); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid height")
		return
	}
	save, err := boolParam(q.Get("save"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid save flag")
		return
	}

	output := q.Get("output")
	if output == "" {
		output = "json"
	}
	eopts, err := s.svc.EmitterOptions()
	if err != nil {
		writeError(w, err)
		return
	}
	eopts.Compression = compression.TypeNone
	em, ok := emitter.NewRegistry(eopts).Get(output)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "unknown output "+strconv.Quote(output))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) == 0 {
		writeJSONError(w, http.StatusBadRequest, "empty body")
		return
	}
	data, err := compression.Decompress(body, s.svc.Config().Server.MaxBodyBytes*decompressFactor)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := q.Get("name")
	if name == "" {
		name = "upload"
	}
	res, err := s.svc.Analyze(r.Context(), artifact.FromBytes(name, data), service.AnalyzeRequest{
		Pipeline: popts,
		Save:     save,
	})
	if err != nil {
		s.metrics.ObserveAnalysis(popts.Format.String(), len(data), 0, err)
		s.logger.Warn("Analysis of %s failed: %v", name, err)
		writeError(w, err)
		return
	}
	report := res.Report
	s.metrics.ObserveAnalysis(report.Format.String(), len(data), report.SymbolCount, nil)

	in := res.EmitterInput()
	if output == "json" {
		w.Header().Set("X-Report-ID", report.ID)
		writeJSON(w, http.StatusOK, emitter.NewDocument(in))
		return
	}
	var buf bytes.Buffer
	if err := em.Emit(r.Context(), in, &buf); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeEmitError, "failed to render "+output, err))
		return
	}
	w.Header().Set("Content-Type", contentTypes[output])
	w.Header().Set("X-Report-ID", report.ID)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.reports(w)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil || limit < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	reports, err := repo.List(r.Context(), repository.ListOptions{
		Artifact: q.Get("artifact"),
		SHA256:   q.Get("sha256"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if reports == nil {
		reports = []*model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

// handleGetReport returns a report with its entries. The depth query
// parameter limits the entries; zero returns all of them.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.reports(w)
	if !ok {
		return
	}
	depth, err := intParam(r.URL.Query().Get("depth"), 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid depth")
		return
	}
	id := chi.URLParam(r, "id")
	report, err := repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if report.Entries, err = repo.Entries(r.Context(), id, depth); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{report})
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	repo, ok := s.reports(w)
	if !ok {
		return
	}
	if err := repo.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.reports(w); !ok {
		return
	}
	depth, err := intParam(r.URL.Query().Get("depth"), 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid depth")
		return
	}
	before, after := chi.URLParam(r, "id"), chi.URLParam(r, "other")
	deltas, err := s.svc.Diff(r.Context(), before, after, depth)
	if err != nil {
		writeError(w, err)
		return
	}
	if deltas == nil {
		deltas = []model.EntryDelta{}
	}
	writeJSON(w, http.StatusOK, diffResponse{Before: before, After: after, Deltas: deltas})
}

// reports returns the report repository or answers 503 when the database
// is disabled.
func (s *Server) reports(w http.ResponseWriter) (repository.ReportRepository, bool) {
	repo := s.svc.Reports()
	if repo == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "report database is disabled")
		return nil, false
	}
	return repo, true
}

// statusFor maps application error codes to HTTP status codes.
func statusFor(err error) int {
	switch apperrors.GetErrorCode(err) {
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apperrors.CodeTruncated, apperrors.CodeMalformed:
		return http.StatusUnprocessableEntity
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetErrorCode(err)
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Code: code})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func floatParam(s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative dimension")
	}
	return v, nil
}

func boolParam(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
