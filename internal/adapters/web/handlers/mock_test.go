package handlers

import (
	"context"
	"sync"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/pipeline"
	"github.com/stretchr/testify/mock"
)

// MockIntelStore is a mock of IntelReader
type MockIntelStore struct {
	mock.Mock
}

func (m *MockIntelStore) CoverageStats(ctx context.Context) (domain.CoverageStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(domain.CoverageStats), args.Error(1)
}

func (m *MockIntelStore) QueryCriticalExploited(ctx context.Context, minSeverity float64, limit int) ([]domain.CriticalFinding, error) {
	args := m.Called(ctx, minSeverity, limit)
	return args.Get(0).([]domain.CriticalFinding), args.Error(1)
}

func (m *MockIntelStore) QueryMissingScores(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockIntelStore) GetSyncStatuses(ctx context.Context) ([]domain.SyncStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.SyncStatus), args.Error(1)
}

// MockCheckpointStore is a mock of ports.CheckpointStore
type MockCheckpointStore struct {
	mock.Mock
}

func (m *MockCheckpointStore) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	return m.Called(ctx, cp).Error(0)
}

func (m *MockCheckpointStore) LatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	args := m.Called(ctx, threadID)
	cp, _ := args.Get(0).(*domain.Checkpoint)
	return cp, args.Error(1)
}

func (m *MockCheckpointStore) DeleteCheckpoints(ctx context.Context, threadID string) error {
	return m.Called(ctx, threadID).Error(0)
}

// MockReportRepository is a mock of ports.ReportRepository
type MockReportRepository struct {
	mock.Mock
}

func (m *MockReportRepository) Publish(ctx context.Context, report domain.AssessmentReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *MockReportRepository) LatestReport(ctx context.Context, cveID string) (*domain.AssessmentReport, error) {
	args := m.Called(ctx, cveID)
	r, _ := args.Get(0).(*domain.AssessmentReport)
	return r, args.Error(1)
}

// MockAssessor is a mock of Assessor
type MockAssessor struct {
	mock.Mock
}

func (m *MockAssessor) Assess(ctx context.Context, cveID string, force bool) (pipeline.Outcome, error) {
	args := m.Called(ctx, cveID, force)
	return args.Get(0).(pipeline.Outcome), args.Error(1)
}

type message struct {
	kind    string
	payload any
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []message
}

func (n *recordingNotifier) Broadcast(kind string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message{kind, payload})
}
