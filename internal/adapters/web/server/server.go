package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/adapters/web"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/web/handlers"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options configures the operator API.
type Options struct {
	Addr string
	// APIToken protects mutating routes; empty leaves them open.
	APIToken       string
	AllowedOrigins []string
	// RequestsPerMinute bounds read requests per client.
	RequestsPerMinute int
	// AssessmentsPerMinute bounds assessment starts per client.
	AssessmentsPerMinute int
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	Addr              string
	Options           Options
	WSManager         *web.WSManager
	IntelHandler      *handlers.IntelHandler
	AssessmentHandler *handlers.AssessmentHandler
	srv               *http.Server
}

// NewServer creates a new web server.
func NewServer(opts Options, ws *web.WSManager, intel *handlers.IntelHandler, assessments *handlers.AssessmentHandler) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 120
	}
	if opts.AssessmentsPerMinute <= 0 {
		opts.AssessmentsPerMinute = 10
	}
	return &Server{
		Addr:              opts.Addr,
		Options:           opts,
		WSManager:         ws,
		IntelHandler:      intel,
		AssessmentHandler: assessments,
	}
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(SetupRoutes(s), "vulnintel-api")
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Graceful Shutdown implementation
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		slog.Info("web server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.WSManager != nil {
			s.WSManager.Close()
		}
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("web server shutdown error", "error", err)
		}
		if s.AssessmentHandler != nil {
			s.AssessmentHandler.Wait()
		}
	}()

	slog.Info("web server listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}
