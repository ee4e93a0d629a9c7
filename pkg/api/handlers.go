package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/mismo/pkg/artifacts"
	"github.com/Mindburn-Labs/mismo/pkg/conform"
	"github.com/Mindburn-Labs/mismo/pkg/contracts"
	"github.com/Mindburn-Labs/mismo/pkg/mismoxml"
	"github.com/Mindburn-Labs/mismo/pkg/pipeline"
	"github.com/Mindburn-Labs/mismo/pkg/runstore"
	"github.com/Mindburn-Labs/mismo/pkg/schemapack"
	"github.com/Mindburn-Labs/mismo/pkg/structural"
	"github.com/Mindburn-Labs/mismo/pkg/submission"
)

// ExportRequest is the body of POST /v1/exports.
type ExportRequest struct {
	DealReference string `json:"deal_reference"`
	PackID        string `json:"pack_id,omitempty"`
	SkipPreflight bool   `json:"skip_preflight,omitempty"`
}

// RunResponse is returned by the export and import endpoints.
type RunResponse struct {
	Run    runstore.Run               `json:"run"`
	Report *conform.ConformanceReport `json:"report"`
	// XML is the generated document of a completed export.
	XML string `json:"xml,omitempty"`
}

// ValidateResponse is returned by POST /v1/validate.
type ValidateResponse struct {
	Pack       schemapack.Ref              `json:"pack"`
	Validation contracts.ValidationReport `json:"validation"`
}

// PackInfo describes one registered schema pack.
type PackInfo struct {
	schemapack.Ref
	Products []string `json:"products,omitempty"`
	Default  bool     `json:"default"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Exporter == nil {
		WriteUnavailable(w, r, "exports need an entity store; none is configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	var req ExportRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBodyError(w, r, err, "Invalid request body")
		return
	}
	if req.DealReference == "" {
		WriteBadRequest(w, r, "Missing required field: deal_reference")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RunTimeout)
	defer cancel()
	res, err := s.opts.Exporter.Export(ctx, pipeline.ExportRequest{
		DealReference: req.DealReference,
		PackID:        req.PackID,
		SkipPreflight: req.SkipPreflight,
	})
	if err != nil {
		writeStartError(w, r, err)
		return
	}
	writeRun(w, res.Result, res.XML)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Importer == nil {
		WriteUnavailable(w, r, "imports are not configured")
		return
	}
	q := r.URL.Query()
	rawOnly := false
	if v := q.Get("raw_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteBadRequest(w, r, "raw_only must be a boolean")
			return
		}
		rawOnly = b
	}
	body, ok := s.readDocument(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RunTimeout)
	defer cancel()
	res, err := s.opts.Importer.Import(ctx, pipeline.ImportRequest{
		XML:     body,
		PackID:  q.Get("pack_id"),
		RawOnly: rawOnly,
	})
	if err != nil {
		writeStartError(w, r, err)
		return
	}
	writeRun(w, res.Result, nil)
}

// handleValidate runs structural validation only. Nothing is recorded.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	packID := r.URL.Query().Get("pack_id")
	if packID == "" {
		packID = mismoxml.DetectPack(s.opts.Registry, body)
	}
	pack, err := s.opts.Registry.Resolve(packID)
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	var rep contracts.ValidationReport
	if doc, err := mismoxml.Parse(body); err != nil {
		rep = structural.Malformed(err)
	} else {
		rep = s.opts.Structural.ValidateDocument(doc, pack)
	}
	status := http.StatusOK
	if rep.Failed() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ValidateResponse{Pack: pack.Ref(), Validation: rep})
}

func (s *Server) handlePacks(w http.ResponseWriter, _ *http.Request) {
	def := s.opts.Registry.Default()
	out := make([]PackInfo, 0)
	for _, p := range s.opts.Registry.List() {
		out = append(out, PackInfo{Ref: p.Ref(), Products: p.Products, Default: p.ID == def.ID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if hash := q.Get("content_hash"); hash != "" {
		runs, err := s.opts.Runs.FindByContentHash(r.Context(), hash)
		if err != nil {
			WriteInternal(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
		return
	}

	f := runstore.Filter{
		Direction:     conform.Direction(q.Get("direction")),
		Status:        runstore.Status(q.Get("status")),
		DealReference: q.Get("deal_reference"),
	}
	if f.Direction != "" && f.Direction != conform.DirectionExport && f.Direction != conform.DirectionImport {
		WriteBadRequest(w, r, "direction must be export or import")
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		WriteBadRequest(w, r, "unknown status "+strconv.Quote(string(f.Status)))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteBadRequest(w, r, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	runs, err := s.opts.Runs.List(r.Context(), f)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	if run.ConformanceReportRef == "" {
		WriteNotFound(w, r, "run has no stored report")
		return
	}
	data, ok := s.loadArtifact(w, r, run.ConformanceReportRef)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleGetDocument serves the document of a successful run. Documents of
// failed runs stay withheld.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	if !run.Status.Succeeded() || run.ContentHash == "" {
		WriteNotFound(w, r, "run has no releasable document")
		return
	}
	data, ok := s.loadArtifact(w, r, run.ContentHash)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("ETag", strconv.Quote(run.ContentHash))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.opts.Submitter == nil {
		WriteUnavailable(w, r, "submission is not configured")
		return
	}
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	if run.ContentHash == "" {
		WriteConflict(w, r, "run has no document to submit")
		return
	}
	data, ok := s.loadArtifact(w, r, run.ContentHash)
	if !ok {
		return
	}
	receipt, err := s.opts.Submitter.Submit(r.Context(), run, data)
	switch {
	case errors.Is(err, submission.ErrNotSubmittable):
		WriteConflict(w, r, err.Error())
	case err != nil:
		WriteError(w, r, http.StatusBadGateway, "submission endpoint did not accept the document")
	default:
		writeJSON(w, http.StatusAccepted, receipt)
	}
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (runstore.Run, bool) {
	runID := chi.URLParam(r, "runID")
	run, err := s.opts.Runs.Get(r.Context(), runID)
	if errors.Is(err, runstore.ErrNotFound) {
		WriteNotFound(w, r, "run "+runID+" not found")
		return runstore.Run{}, false
	}
	if err != nil {
		WriteInternal(w, r, err)
		return runstore.Run{}, false
	}
	return run, true
}

func (s *Server) loadArtifact(w http.ResponseWriter, r *http.Request, hash string) ([]byte, bool) {
	data, err := s.opts.Artifacts.Get(r.Context(), hash)
	if errors.Is(err, artifacts.ErrNotFound) {
		WriteNotFound(w, r, "artifact "+hash+" not found")
		return nil, false
	}
	if err != nil {
		WriteInternal(w, r, err)
		return nil, false
	}
	return data, true
}

func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		writeBodyError(w, r, err, "Could not read request body")
		return nil, false
	}
	if len(body) == 0 {
		WriteBadRequest(w, r, "Request body must be a MISMO XML document")
		return nil, false
	}
	return body, true
}

// writeRun maps a run outcome to 201 or 422. Both carry the full report.
func writeRun(w http.ResponseWriter, res pipeline.Result, xml []byte) {
	status := http.StatusCreated
	if !res.Run.Status.Succeeded() {
		status = http.StatusUnprocessableEntity
	}
	if res.Run.ContentHash != "" {
		w.Header().Set("X-Content-Hash", res.Run.ContentHash)
	}
	writeJSON(w, status, RunResponse{Run: res.Run, Report: res.Report, XML: string(xml)})
}

// writeStartError answers a request whose run never started.
func writeStartError(w http.ResponseWriter, r *http.Request, err error) {
	var unknown *schemapack.UnknownPackError
	switch {
	case errors.As(err, &unknown):
		WriteBadRequest(w, r, unknown.Error())
	case errors.Is(err, pipeline.ErrNoSink):
		WriteUnavailable(w, r, "mapped imports need an entity store; none is configured")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		WriteError(w, r, http.StatusServiceUnavailable, "run could not be started before the deadline")
	default:
		WriteInternal(w, r, err)
	}
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error, detail string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteError(w, r, http.StatusRequestEntityTooLarge, "Request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		return
	}
	WriteBadRequest(w, r, detail)
}
