package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/checkpoint"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/feeds"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/inventory"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/reasoning"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/reporting"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/storage"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/web"
	"github.com/lcalzada-xor/vulnintel/internal/adapters/web/handlers"
	webserver "github.com/lcalzada-xor/vulnintel/internal/adapters/web/server"
	"github.com/lcalzada-xor/vulnintel/internal/config"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/assessment"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/ingest"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/pipeline"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/scoring"
	"github.com/lcalzada-xor/vulnintel/internal/retry"
	"github.com/lcalzada-xor/vulnintel/internal/telemetry"
)

// ErrReasoningUnconfigured is returned by assessment operations when no
// Gemini API key is configured.
var ErrReasoningUnconfigured = errors.New("reasoning service not configured (set GEMINI_API_KEY)")

// Application holds the core components of the application.
// It acts as the Facade for the entire system, orchestrating services and infrastructure.
type Application struct {
	Config      *config.Config
	Store       *storage.SQLiteAdapter
	Ingest      *ingest.Service
	Checkpoints ports.CheckpointStore
	Reports     ports.ReportSink
	Exporter    ports.ReportExporter
	WSManager   *web.WSManager

	// Workflow and Pipeline are nil without a reasoning service.
	Workflow *assessment.Workflow
	Pipeline *pipeline.Pipeline

	closers []io.Closer
}

// New creates a new Application instance and bootstraps its components.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	app := &Application{
		Config: cfg,
	}

	if err := app.bootstrap(ctx); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}

	return app, nil
}

// bootstrap orchestrates the initialization sequence.
func (app *Application) bootstrap(ctx context.Context) error {
	// 1. Foundation & Infrastructure
	telemetry.InitMetrics()

	if err := app.initStorage(); err != nil {
		return err
	}
	if err := app.initCheckpoints(); err != nil {
		return err
	}

	// 2. Intel ingestion
	app.initIngest()

	// 3. Reporting
	app.initReporting()

	// 4. Assessment
	app.WSManager = web.NewWSManager(app.Config.Server.AllowedOrigins)
	return app.initAssessment(ctx)
}

func (app *Application) initStorage() error {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}

	store, err := storage.NewSQLiteAdapter(app.Config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init intel storage: %w", err)
	}
	app.Store = store
	app.closers = append(app.closers, store)
	return nil
}

func (app *Application) initCheckpoints() error {
	cp := app.Config.Checkpoints
	if cp.Backend != config.BackendRedis {
		app.Checkpoints = app.Store
		return nil
	}

	store, err := checkpoint.NewRedisStore(checkpoint.RedisOptions{URL: cp.RedisURL, TTL: cp.TTL})
	if err != nil {
		return fmt.Errorf("failed to init redis checkpoints: %w", err)
	}
	slog.Info("using redis checkpoint store", "ttl", cp.TTL)
	app.Checkpoints = store
	app.closers = append(app.closers, store)
	return nil
}

func (app *Application) initIngest() {
	fc := app.Config.Feeds

	nvdOpts := []feeds.NVDOption{feeds.WithNVDLimit(fc.NVDLimit)}
	if fc.NVDURL != "" {
		nvdOpts = append(nvdOpts, feeds.WithNVDURL(fc.NVDURL))
	}

	set := ingest.Feeds{
		Vulnerabilities: feeds.NewNVDFeed(fc.NVDAPIKey, nvdOpts...),
		Exploited:       feeds.NewKEVFeed(fc.KEVURL),
		Scores:          feeds.NewEPSSFeed(fc.EPSSURL),
	}
	if fc.AbuseIPDBAPIKey != "" {
		set.Reputations = feeds.NewAbuseIPDBFeed(fc.AbuseIPDBAPIKey, fc.AbuseIPDBURL, fc.AbuseIPDBMinConfidence, fc.AbuseIPDBLimit)
	} else {
		slog.Debug("ABUSEIPDB_API_KEY not set, reputation feed disabled")
	}

	app.Ingest = ingest.NewService(app.Store, set, ingest.WithScoreLimit(fc.ScoreLimit))
}

func (app *Application) initReporting() {
	sinks := reporting.MultiSink{app.Store}
	if app.Config.ExportPDF {
		app.Exporter = reporting.NewPDFExporter()
	}
	sinks = append(sinks, reporting.NewFileSink(app.Config.ReportDir, app.Exporter))
	app.Reports = sinks
}

func (app *Application) initAssessment(ctx context.Context) error {
	rc := app.Config.Reasoning
	if rc.APIKey == "" {
		slog.Warn("GEMINI_API_KEY not set, assessments disabled")
		return nil
	}

	models := make(map[ports.ReasoningTask]string, len(rc.Models))
	for task, model := range rc.Models {
		models[ports.ReasoningTask(task)] = model
	}
	provider, err := reasoning.NewGeminiProvider(ctx, reasoning.GeminiConfig{
		APIKey:       rc.APIKey,
		DefaultModel: rc.DefaultModel,
		Models:       models,
	})
	if err != nil {
		return fmt.Errorf("failed to init reasoning service: %w", err)
	}
	app.closers = append(app.closers, provider)

	reasoner := reasoning.NewRetrying(provider, retry.Policy{
		Attempts: rc.Attempts,
		Min:      4 * time.Second,
		Max:      10 * time.Second,
	}, rc.Timeout)

	critic, err := assessment.NewCritic(criticRules(app.Config.Assessment.Rules))
	if err != nil {
		return fmt.Errorf("invalid critic rules: %w", err)
	}

	wf, err := assessment.NewWorkflow(assessment.Stages{
		Enrichment:       assessment.NewEnricher(reasoner),
		RiskScoring:      assessment.NewRiskScorer(scoring.NewRiskCalculator()),
		AssetMatching:    assessment.NewRelevanceMatcher(reasoner, inventory.NewFileInventory(app.Config.InventoryPath)),
		TechniqueMapping: assessment.NewTechniqueMapper(reasoner),
		Critique:         critic,
		ReportGeneration: assessment.NewReportGenerator(reasoner),
	},
		assessment.WithCheckpointStore(app.Checkpoints),
		assessment.WithReportSink(app.Reports),
		assessment.WithMaxReflexion(app.Config.Assessment.MaxReflexion),
		assessment.WithObserver(stageLogger{}),
		assessment.WithObserver(app.WSManager),
	)
	if err != nil {
		return err
	}

	app.Workflow = wf
	app.Pipeline = pipeline.New(app.Store, app.Checkpoints, wf)
	return nil
}

func criticRules(configured []config.CriticRule) []assessment.Rule {
	if len(configured) == 0 {
		return assessment.DefaultRules
	}
	rules := make([]assessment.Rule, 0, len(configured))
	for _, r := range configured {
		rules = append(rules, assessment.Rule{
			Name:    r.Name,
			When:    r.When,
			Message: r.Message,
			Level:   assessment.RuleLevel(r.Level),
		})
	}
	return rules
}

// PipelineOptions returns the configured batch bounds.
func (app *Application) PipelineOptions() pipeline.Options {
	a := app.Config.Assessment
	return pipeline.Options{
		MinSeverity: a.MinSeverity,
		Limit:       a.Limit,
		Parallelism: a.Parallelism,
	}
}

// Assess runs the pipeline over the critical exploited batch.
func (app *Application) Assess(ctx context.Context, opts pipeline.Options) ([]pipeline.Outcome, error) {
	if app.Pipeline == nil {
		return nil, ErrReasoningUnconfigured
	}
	return app.Pipeline.Run(ctx, opts)
}

// AssessOne runs or resumes a single finding.
func (app *Application) AssessOne(ctx context.Context, cveID string, force bool) (pipeline.Outcome, error) {
	if app.Pipeline == nil {
		return pipeline.Outcome{CVEID: cveID, Status: pipeline.StatusFailed, Err: ErrReasoningUnconfigured}, ErrReasoningUnconfigured
	}
	return app.Pipeline.Assess(ctx, cveID, force)
}

// Resume continues an interrupted assessment from its last checkpoint.
func (app *Application) Resume(ctx context.Context, cveID string) (domain.AssessmentState, error) {
	if app.Workflow == nil {
		return domain.AssessmentState{}, ErrReasoningUnconfigured
	}
	return app.Workflow.Resume(ctx, cveID)
}

// NewWebServer builds the operator API. Assessments started over HTTP run
// under ctx.
func (app *Application) NewWebServer(ctx context.Context) *webserver.Server {
	var assessor handlers.Assessor
	if app.Pipeline != nil {
		assessor = app.Pipeline
	}

	return webserver.NewServer(webserver.Options{
		Addr:                 app.Config.Server.Addr,
		APIToken:             app.Config.Server.APIToken,
		AllowedOrigins:       app.Config.Server.AllowedOrigins,
		RequestsPerMinute:    app.Config.Server.RequestsPerMinute,
		AssessmentsPerMinute: app.Config.Server.AssessmentsPerMinute,
	},
		app.WSManager,
		handlers.NewIntelHandler(app.Store),
		handlers.NewAssessmentHandler(ctx, app.Checkpoints, app.Store, app.Exporter, assessor, app.WSManager),
	)
}

// Serve runs the operator API until ctx is cancelled.
func (app *Application) Serve(ctx context.Context) error {
	srv := app.NewWebServer(ctx)
	slog.Info("web server listening", "addr", srv.Addr)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("web server error: %w", err)
	}
	return nil
}

// Close releases every opened resource, newest first.
func (app *Application) Close() error {
	var errs *multierror.Error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	app.closers = nil
	return errs.ErrorOrNil()
}

// stageLogger logs every completed workflow step.
type stageLogger struct{}

func (stageLogger) OnStage(e domain.StageEvent) {
	slog.Info("stage completed",
		"cve", e.CVEID,
		"run_id", e.RunID,
		"step", e.Step,
		"stage", e.Stage,
		"next", e.Next,
		"errors", e.Errors,
		"reflexion", e.Reflexion,
	)
}
