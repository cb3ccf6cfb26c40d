// Package pipeline runs the assessment workflow over the most critical
// exploited findings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMinSeverity = 7.0
	DefaultLimit       = 10
	DefaultParallelism = 2
)

// Assessor runs or resumes the workflow of one finding.
type Assessor interface {
	Run(ctx context.Context, finding domain.CriticalFinding) (domain.AssessmentState, error)
	Resume(ctx context.Context, cveID string) (domain.AssessmentState, error)
}

// FindingSource is the part of the entity store the pipeline reads.
type FindingSource interface {
	QueryCriticalExploited(ctx context.Context, minSeverity float64, limit int) ([]domain.CriticalFinding, error)
	FindingByID(ctx context.Context, cveID string) (*domain.CriticalFinding, error)
}

// Status is what the pipeline did with a finding.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusResumed   Status = "resumed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is the result of one finding.
type Outcome struct {
	CVEID          string   `json:"cve_id"`
	Status         Status   `json:"status"`
	AdjustedScore  *float64 `json:"adjusted_risk_score,omitempty"`
	Reported       bool     `json:"reported"`
	ReflexionCount int      `json:"reflexion_count"`
	Errors         []string `json:"errors,omitempty"`
	Err            error    `json:"-"`
}

// Options selects and schedules a batch.
type Options struct {
	MinSeverity float64
	Limit       int
	Parallelism int
	// Force reassesses findings whose last run already completed.
	Force bool
}

func (o Options) withDefaults() Options {
	if o.MinSeverity <= 0 {
		o.MinSeverity = DefaultMinSeverity
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	return o
}

// Pipeline schedules one workflow per finding.
type Pipeline struct {
	findings    FindingSource
	checkpoints ports.CheckpointStore
	assessor    Assessor
}

// New creates a pipeline. A nil checkpoint store disables skip and resume.
func New(findings FindingSource, checkpoints ports.CheckpointStore, assessor Assessor) *Pipeline {
	return &Pipeline{findings: findings, checkpoints: checkpoints, assessor: assessor}
}

// Run assesses the critical exploited batch. Findings are independent: one
// failure is reported in its outcome and does not stop the others.
func (p *Pipeline) Run(ctx context.Context, opts Options) ([]Outcome, error) {
	opts = opts.withDefaults()

	batch, err := p.findings.QueryCriticalExploited(ctx, opts.MinSeverity, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("select findings: %w", err)
	}
	if len(batch) == 0 {
		slog.Info("no critical exploited findings, run ingestion first", "min_severity", opts.MinSeverity)
		return nil, nil
	}
	slog.Info("assessing findings", "count", len(batch), "parallelism", opts.Parallelism)

	outcomes := make([]Outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(opts.Parallelism)
	for i, finding := range batch {
		g.Go(func() error {
			outcomes[i] = p.assess(ctx, finding, opts.Force)
			return nil
		})
	}
	_ = g.Wait()

	var errs *multierror.Error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", o.CVEID, o.Err))
		}
	}
	if err := ctx.Err(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return outcomes, errs.ErrorOrNil()
}

// Assess runs a single vulnerability by id.
func (p *Pipeline) Assess(ctx context.Context, cveID string, force bool) (Outcome, error) {
	finding, err := p.findings.FindingByID(ctx, cveID)
	if err != nil {
		return Outcome{CVEID: cveID, Status: StatusFailed, Err: err}, err
	}
	out := p.assess(ctx, *finding, force)
	return out, out.Err
}

func (p *Pipeline) assess(ctx context.Context, finding domain.CriticalFinding, force bool) Outcome {
	logger := slog.With("cve", finding.ID)
	if finding.ExploitProbability != nil {
		logger.Info("processing finding", "epss", *finding.ExploitProbability)
	} else {
		logger.Warn("processing finding without exploitation score")
	}

	resume, done, err := p.progress(ctx, finding.ID, force)
	if err != nil {
		return Outcome{CVEID: finding.ID, Status: StatusFailed, Err: err}
	}
	if done {
		logger.Info("assessment already completed, skipping")
		return Outcome{CVEID: finding.ID, Status: StatusSkipped}
	}

	var state domain.AssessmentState
	status := StatusCompleted
	if resume {
		status = StatusResumed
		state, err = p.assessor.Resume(ctx, finding.ID)
	} else {
		state, err = p.assessor.Run(ctx, finding)
	}
	if err != nil {
		logger.Error("assessment failed", "error", err)
		return Outcome{CVEID: finding.ID, Status: StatusFailed, Errors: state.Errors, Err: err}
	}

	out := Outcome{
		CVEID:          finding.ID,
		Status:         status,
		Reported:       state.FinalReport.HasValue(),
		ReflexionCount: state.ReflexionCount,
		Errors:         state.Errors,
	}
	if v, ok := state.AdjustedRiskScore.Get(); ok {
		out.AdjustedScore = domain.Float(v)
	}
	return out
}

// progress inspects the latest checkpoint of a finding.
func (p *Pipeline) progress(ctx context.Context, cveID string, force bool) (resume, done bool, err error) {
	if p.checkpoints == nil {
		return false, false, nil
	}
	thread := domain.ThreadID(cveID)
	cp, err := p.checkpoints.LatestCheckpoint(ctx, thread)
	if errors.Is(err, ports.ErrCheckpointNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if !cp.Done() {
		return true, false, nil
	}
	if !force {
		return false, true, nil
	}
	if err := p.checkpoints.DeleteCheckpoints(ctx, thread); err != nil {
		return false, false, fmt.Errorf("reset checkpoints: %w", err)
	}
	return false, false, nil
}
