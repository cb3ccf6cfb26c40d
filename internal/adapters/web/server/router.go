package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()

	// Rate limiters
	readLimiter := middleware.NewRateLimiter(s.Options.RequestsPerMinute, 1*time.Minute)
	assessLimiter := middleware.NewRateLimiter(s.Options.AssessmentsPerMinute, 1*time.Minute)

	// Routes stay on the root router so a known path with the wrong method
	// answers 405 instead of falling through a subrouter as 404.
	limitReads := middleware.RateLimitMiddleware(readLimiter)
	read := func(f http.HandlerFunc) http.Handler { return limitReads(f) }

	if h := s.IntelHandler; h != nil {
		r.Handle("/api/coverage", read(h.HandleCoverage)).Methods(http.MethodGet)
		r.Handle("/api/findings/critical", read(h.HandleCritical)).Methods(http.MethodGet)
		r.Handle("/api/findings/missing-scores", read(h.HandleMissingScores)).Methods(http.MethodGet)
		r.Handle("/api/sync-status", read(h.HandleSyncStatus)).Methods(http.MethodGet)
	}

	if h := s.AssessmentHandler; h != nil {
		cve := "{cve:CVE-[0-9]{4}-[0-9]+}"
		protect := func(f http.HandlerFunc) http.Handler {
			return limitReads(middleware.TokenAuthMiddleware(s.Options.APIToken)(
				middleware.RateLimitMiddleware(assessLimiter)(f)))
		}
		r.Handle("/api/assessments/"+cve, read(h.HandleGetAssessment)).Methods(http.MethodGet)
		r.Handle("/api/assessments/"+cve, protect(h.HandleStartAssessment)).Methods(http.MethodPost)
		r.Handle("/api/reports/"+cve, read(h.HandleGetReport)).Methods(http.MethodGet)
		r.Handle("/api/reports/"+cve+"/pdf", read(h.HandleGetReportPDF)).Methods(http.MethodGet)
	}

	if s.WSManager != nil {
		r.HandleFunc("/ws", s.WSManager.HandleWebSocket).Methods(http.MethodGet)
	}

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return r
}
