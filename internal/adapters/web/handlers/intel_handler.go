package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/pipeline"
)

const (
	defaultFindingLimit = 50
	maxFindingLimit     = 500
)

// IntelReader is the read side of the entity store.
type IntelReader interface {
	CoverageStats(ctx context.Context) (domain.CoverageStats, error)
	QueryCriticalExploited(ctx context.Context, minSeverity float64, limit int) ([]domain.CriticalFinding, error)
	QueryMissingScores(ctx context.Context) ([]string, error)
	GetSyncStatuses(ctx context.Context) ([]domain.SyncStatus, error)
}

// IntelHandler serves the stored intelligence.
type IntelHandler struct {
	Store IntelReader
}

// NewIntelHandler creates a new IntelHandler
func NewIntelHandler(store IntelReader) *IntelHandler {
	return &IntelHandler{Store: store}
}

type coverageResponse struct {
	domain.CoverageStats
	CoverageRatio float64 `json:"coverage_ratio"`
}

// HandleCoverage reports exploitation score coverage.
func (h *IntelHandler) HandleCoverage(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.CoverageStats(r.Context())
	if err != nil {
		slog.Error("coverage stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute coverage")
		return
	}
	writeJSON(w, http.StatusOK, coverageResponse{CoverageStats: stats, CoverageRatio: stats.Ratio()})
}

// HandleCritical lists exploited findings above a severity threshold.
func (h *IntelHandler) HandleCritical(w http.ResponseWriter, r *http.Request) {
	minSeverity, ok := floatQuery(r, "min_severity", pipeline.DefaultMinSeverity)
	if !ok || minSeverity < 0 || minSeverity > 10 {
		writeError(w, http.StatusBadRequest, "min_severity must be a number between 0 and 10")
		return
	}
	limit, ok := intQuery(r, "limit", defaultFindingLimit)
	if !ok || limit == 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxFindingLimit)

	findings, err := h.Store.QueryCriticalExploited(r.Context(), minSeverity, limit)
	if err != nil {
		slog.Error("critical findings query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to query findings")
		return
	}
	if findings == nil {
		findings = []domain.CriticalFinding{}
	}
	writeJSON(w, http.StatusOK, findings)
}

// HandleMissingScores lists vulnerabilities without an exploitation score.
func (h *IntelHandler) HandleMissingScores(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	ids, err := h.Store.QueryMissingScores(r.Context())
	if err != nil {
		slog.Error("missing scores query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to query missing scores")
		return
	}
	total := len(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": total, "cve_ids": ids})
}

// HandleSyncStatus returns the last synchronization of every feed.
func (h *IntelHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.Store.GetSyncStatuses(r.Context())
	if err != nil {
		slog.Error("sync status query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load sync status")
		return
	}
	if statuses == nil {
		statuses = []domain.SyncStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}
