package ports

import (
	"context"
	"errors"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

var (
	// ErrCheckpointNotFound is returned when a thread has no saved progress.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrReportNotFound is returned when no report was persisted for a vulnerability.
	ErrReportNotFound = errors.New("report not found")
)

// CheckpointStore persists workflow progress keyed by thread id.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error
	// LatestCheckpoint returns ErrCheckpointNotFound when the thread has none.
	LatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error)
	DeleteCheckpoints(ctx context.Context, threadID string) error
}

// ReportSink receives the final report of a completed assessment.
type ReportSink interface {
	Publish(ctx context.Context, report domain.AssessmentReport) error
}

// ReportRepository is a sink that can also read reports back.
type ReportRepository interface {
	ReportSink
	// LatestReport returns ErrReportNotFound when nothing was published.
	LatestReport(ctx context.Context, cveID string) (*domain.AssessmentReport, error)
}

// ReportExporter renders a report into a document format.
type ReportExporter interface {
	Export(report domain.AssessmentReport) ([]byte, error)
}
