package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"github.com/lcalzada-xor/vulnintel/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoCheckpointStore is returned by Resume when checkpointing is disabled.
	ErrNoCheckpointStore = errors.New("no checkpoint store configured")
	// ErrStepBudget is returned when a run exceeds the steps its transition
	// table allows, which means the table has a cycle outside the reflexion edge.
	ErrStepBudget = errors.New("workflow step budget exceeded")
)

// Stages holds the handler of every non-terminal stage.
type Stages struct {
	Enrichment       Node
	RiskScoring      Node
	AssetMatching    Node
	TechniqueMapping Node
	Critique         Node
	ReportGeneration Node
}

// Workflow drives one finding through the assessment stages.
type Workflow struct {
	nodes        map[domain.Stage]Node
	checkpoints  ports.CheckpointStore
	sink         ports.ReportSink
	observers    []ports.WorkflowObserver
	maxReflexion int
	tracer       trace.Tracer
	now          func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithCheckpointStore persists progress after every step.
func WithCheckpointStore(store ports.CheckpointStore) Option {
	return func(w *Workflow) { w.checkpoints = store }
}

// WithReportSink receives the final report.
func WithReportSink(sink ports.ReportSink) Option {
	return func(w *Workflow) { w.sink = sink }
}

// WithObserver adds a step observer.
func WithObserver(o ports.WorkflowObserver) Option {
	return func(w *Workflow) { w.observers = append(w.observers, o) }
}

// WithMaxReflexion sets the critique-driven retry budget.
func WithMaxReflexion(n int) Option {
	return func(w *Workflow) { w.maxReflexion = n }
}

// NewWorkflow validates the stage handlers and builds the workflow.
func NewWorkflow(stages Stages, opts ...Option) (*Workflow, error) {
	w := &Workflow{
		nodes: map[domain.Stage]Node{
			domain.StageEnrichment:       stages.Enrichment,
			domain.StageRiskScoring:      stages.RiskScoring,
			domain.StageAssetMatching:    stages.AssetMatching,
			domain.StageTechniqueMapping: stages.TechniqueMapping,
			domain.StageCritique:         stages.Critique,
			domain.StageReportGeneration: stages.ReportGeneration,
		},
		maxReflexion: domain.DefaultMaxReflexion,
		tracer:       otel.Tracer(telemetry.ServiceName),
		now:          time.Now,
	}
	for stage, node := range w.nodes {
		if node == nil {
			return nil, fmt.Errorf("no handler for stage %s", stage)
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.maxReflexion < 0 {
		return nil, fmt.Errorf("negative reflexion budget %d", w.maxReflexion)
	}
	return w, nil
}

// run is the progress of one workflow execution.
type run struct {
	id    string
	step  int
	stage domain.Stage
	state domain.AssessmentState
}

// Run assesses a finding from the first stage.
func (w *Workflow) Run(ctx context.Context, finding domain.CriticalFinding) (domain.AssessmentState, error) {
	r := &run{
		id:    uuid.NewString(),
		stage: domain.StageEnrichment,
		state: domain.NewAssessmentState(finding, w.maxReflexion),
	}
	return w.drive(ctx, r)
}

// Resume continues the latest checkpointed run of a vulnerability. A run that
// already reached the terminal stage is returned as is.
func (w *Workflow) Resume(ctx context.Context, cveID string) (domain.AssessmentState, error) {
	if w.checkpoints == nil {
		return domain.AssessmentState{}, ErrNoCheckpointStore
	}
	cp, err := w.checkpoints.LatestCheckpoint(ctx, domain.ThreadID(cveID))
	if err != nil {
		return domain.AssessmentState{}, err
	}
	if cp.Done() {
		slog.Info("assessment already complete", "cve", cveID, "run", cp.RunID)
		return cp.State, nil
	}

	slog.Info("resuming assessment", "cve", cveID, "run", cp.RunID, "step", cp.Step, "stage", cp.Next)
	return w.drive(ctx, &run{id: cp.RunID, step: cp.Step, stage: cp.Next, state: cp.State})
}

// maxSteps bounds a run: one pass over the forward stages plus two extra
// steps (mapping and critique) per reflexion cycle.
func (w *Workflow) maxSteps(state domain.AssessmentState) int {
	return len(w.nodes) + 2*state.MaxReflexion
}

func (w *Workflow) drive(ctx context.Context, r *run) (domain.AssessmentState, error) {
	ctx, span := w.tracer.Start(ctx, "assessment.workflow", trace.WithAttributes(
		attribute.String("cve.id", r.state.CVEID),
		attribute.String("run.id", r.id),
	))
	defer span.End()

	budget := w.maxSteps(r.state)
	for r.stage != domain.StageDone {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			telemetry.WorkflowRuns.WithLabelValues("cancelled").Inc()
			return r.state, err
		}
		if r.step >= budget {
			span.SetStatus(codes.Error, ErrStepBudget.Error())
			return r.state, fmt.Errorf("%w: %s after %d steps", ErrStepBudget, r.state.CVEID, r.step)
		}

		completed := r.stage
		state, next, err := w.step(ctx, completed, r.state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			telemetry.WorkflowRuns.WithLabelValues("error").Inc()
			return r.state, err
		}
		r.state, r.stage = state, next
		r.step++

		// The terminal checkpoint is only written once the report is handed
		// off, so a failed publish resumes at report generation.
		if r.stage == domain.StageDone {
			if err := w.finish(ctx, r); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				telemetry.WorkflowRuns.WithLabelValues("error").Inc()
				return r.state, err
			}
		}

		if err := w.checkpoint(ctx, r, completed); err != nil {
			span.RecordError(err)
			telemetry.WorkflowRuns.WithLabelValues("error").Inc()
			return r.state, err
		}
		w.notify(r, completed)
	}

	return r.state, nil
}

// step runs one stage handler, merges its patch and evaluates routing.
func (w *Workflow) step(ctx context.Context, stage domain.Stage, state domain.AssessmentState) (domain.AssessmentState, domain.Stage, error) {
	node, ok := w.nodes[stage]
	if !ok {
		return state, "", fmt.Errorf("no handler for stage %s", stage)
	}

	stageCtx, span := w.tracer.Start(ctx, "assessment.stage."+string(stage))
	patch := node.Run(stageCtx, state)
	span.SetAttributes(attribute.Int("patch.errors", len(patch.Errors)))
	span.End()
	telemetry.StageRuns.WithLabelValues(string(stage)).Inc()

	state = patch.Apply(state)

	route := RouteNext
	if stage == domain.StageCritique {
		var routing domain.StatePatch
		route, routing = RouteAfterCritique(state)
		state = routing.Apply(state)
		if route == RouteRetry {
			slog.Info("retrying technique mapping", "cve", state.CVEID,
				"reflexion", state.ReflexionCount, "max", state.MaxReflexion)
		}
	}

	next, ok := Next(stage, route)
	if !ok {
		return state, "", fmt.Errorf("no transition from %s on %s", stage, route)
	}
	return state, next, nil
}

func (w *Workflow) checkpoint(ctx context.Context, r *run, completed domain.Stage) error {
	if w.checkpoints == nil {
		return nil
	}
	err := w.checkpoints.SaveCheckpoint(ctx, domain.Checkpoint{
		ThreadID:  domain.ThreadID(r.state.CVEID),
		RunID:     r.id,
		Step:      r.step,
		Completed: completed,
		Next:      r.stage,
		State:     r.state,
		CreatedAt: w.now(),
	})
	if err != nil {
		return fmt.Errorf("checkpoint %s step %d: %w", r.state.CVEID, r.step, err)
	}
	return nil
}

func (w *Workflow) notify(r *run, completed domain.Stage) {
	if len(w.observers) == 0 {
		return
	}
	event := domain.StageEvent{
		RunID:     r.id,
		CVEID:     r.state.CVEID,
		Step:      r.step,
		Stage:     completed,
		Next:      r.stage,
		Errors:    len(r.state.Errors),
		Reflexion: r.state.ReflexionCount,
		Timestamp: w.now(),
	}
	for _, o := range w.observers {
		o.OnStage(event)
	}
}

// finish hands the final state to the report sink.
func (w *Workflow) finish(ctx context.Context, r *run) error {
	if !r.state.FinalReport.HasValue() {
		slog.Warn("no report generated", "cve", r.state.CVEID, "errors", len(r.state.Errors))
		telemetry.WorkflowRuns.WithLabelValues("no_report").Inc()
		return nil
	}

	telemetry.WorkflowRuns.WithLabelValues("report").Inc()
	if w.sink == nil {
		return nil
	}
	report := domain.AssessmentReport{
		ID:             uuid.NewString(),
		CVEID:          r.state.CVEID,
		GeneratedAt:    w.now(),
		ImpactedAssets: r.state.ImpactedAssets,
		Analysis:       r.state,
	}
	if err := w.sink.Publish(ctx, report); err != nil {
		return fmt.Errorf("publish report %s: %w", r.state.CVEID, err)
	}
	slog.Info("assessment completed", "cve", r.state.CVEID, "run", r.id,
		"steps", r.step, "reflexion", r.state.ReflexionCount, "errors", len(r.state.Errors))
	return nil
}
