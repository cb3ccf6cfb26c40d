package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// cveParam returns the {cve} route variable, or "" after answering 400.
func cveParam(w http.ResponseWriter, r *http.Request) string {
	id := mux.Vars(r)["cve"]
	if !domain.IsValidCVE(id) {
		writeError(w, http.StatusBadRequest, "Invalid CVE identifier")
		return ""
	}
	return id
}

func floatQuery(r *http.Request, key string, def float64) (float64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}

func intQuery(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil && v >= 0
}
