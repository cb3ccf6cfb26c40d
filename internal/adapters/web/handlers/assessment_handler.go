package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lcalzada-xor/vulnintel/internal/adapters/reporting"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/pipeline"
)

// Assessor starts the workflow of a single vulnerability.
type Assessor interface {
	Assess(ctx context.Context, cveID string, force bool) (pipeline.Outcome, error)
}

// Notifier pushes messages to connected clients.
type Notifier interface {
	Broadcast(kind string, payload any)
}

// AssessmentHandler starts assessments and serves their progress and reports.
type AssessmentHandler struct {
	Checkpoints ports.CheckpointStore
	Reports     ports.ReportRepository
	Exporter    ports.ReportExporter
	Assessor    Assessor
	Notifier    Notifier

	// jobs outlive the request that started them
	baseCtx context.Context
	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewAssessmentHandler creates a handler whose background runs stop with ctx.
func NewAssessmentHandler(ctx context.Context, checkpoints ports.CheckpointStore, reports ports.ReportRepository, exporter ports.ReportExporter, assessor Assessor, notifier Notifier) *AssessmentHandler {
	return &AssessmentHandler{
		Checkpoints: checkpoints,
		Reports:     reports,
		Exporter:    exporter,
		Assessor:    assessor,
		Notifier:    notifier,
		baseCtx:     ctx,
		running:     make(map[string]bool),
	}
}

type assessmentResponse struct {
	domain.Checkpoint
	Complete bool `json:"done"`
}

// HandleGetAssessment returns the latest checkpoint of a vulnerability.
func (h *AssessmentHandler) HandleGetAssessment(w http.ResponseWriter, r *http.Request) {
	id := cveParam(w, r)
	if id == "" {
		return
	}
	if h.Checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, "Checkpointing is disabled")
		return
	}

	cp, err := h.Checkpoints.LatestCheckpoint(r.Context(), domain.ThreadID(id))
	if errors.Is(err, ports.ErrCheckpointNotFound) {
		writeError(w, http.StatusNotFound, "No assessment for "+id)
		return
	}
	if err != nil {
		slog.Error("load checkpoint failed", "cve", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load assessment")
		return
	}
	writeJSON(w, http.StatusOK, assessmentResponse{Checkpoint: *cp, Complete: cp.Done()})
}

// HandleStartAssessment runs the workflow in the background and answers 202.
// Stage progress is streamed over the websocket.
func (h *AssessmentHandler) HandleStartAssessment(w http.ResponseWriter, r *http.Request) {
	id := cveParam(w, r)
	if id == "" {
		return
	}
	if h.Assessor == nil {
		writeError(w, http.StatusServiceUnavailable, "Assessments are disabled")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	h.mu.Lock()
	if h.running[id] {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "Assessment already running for "+id)
		return
	}
	h.running[id] = true
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(id, force)

	writeJSON(w, http.StatusAccepted, map[string]string{"cve_id": id, "status": "started"})
}

func (h *AssessmentHandler) run(id string, force bool) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		delete(h.running, id)
		h.mu.Unlock()
	}()

	outcome, err := h.Assessor.Assess(h.baseCtx, id, force)
	payload := map[string]any{"cve_id": id, "status": outcome.Status, "outcome": outcome}
	if err != nil {
		slog.Error("assessment failed", "cve", id, "error", err)
		payload["status"] = pipeline.StatusFailed
		payload["error"] = err.Error()
	}
	if h.Notifier != nil {
		h.Notifier.Broadcast("assessment", payload)
	}
}

// Wait blocks until every background assessment has finished.
func (h *AssessmentHandler) Wait() {
	h.wg.Wait()
}

func (h *AssessmentHandler) latestReport(w http.ResponseWriter, r *http.Request) (*domain.AssessmentReport, bool) {
	id := cveParam(w, r)
	if id == "" {
		return nil, false
	}
	if h.Reports == nil {
		writeError(w, http.StatusServiceUnavailable, "Report storage is disabled")
		return nil, false
	}
	report, err := h.Reports.LatestReport(r.Context(), id)
	if errors.Is(err, ports.ErrReportNotFound) {
		writeError(w, http.StatusNotFound, "No report for "+id)
		return nil, false
	}
	if err != nil {
		slog.Error("load report failed", "cve", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load report")
		return nil, false
	}
	return report, true
}

// HandleGetReport returns the latest report as JSON.
func (h *AssessmentHandler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	report, ok := h.latestReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleGetReportPDF renders the latest report as a PDF download.
func (h *AssessmentHandler) HandleGetReportPDF(w http.ResponseWriter, r *http.Request) {
	report, ok := h.latestReport(w, r)
	if !ok {
		return
	}
	if h.Exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "PDF export is disabled")
		return
	}

	data, err := h.Exporter.Export(*report)
	if err != nil {
		slog.Error("pdf export failed", "cve", report.CVEID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render report")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", reporting.BaseName(*report)+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
