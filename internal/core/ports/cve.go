package ports

import (
	"context"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

// IntelStore defines the persistence operations for vulnerability intelligence.
type IntelStore interface {
	// Batch upserts. Malformed records are dropped, conflicts follow the
	// entity's merge policy, storage failures roll the batch back.
	UpsertVulnerabilities(ctx context.Context, records []domain.Vulnerability) (domain.UpsertResult, error)
	UpsertExploitedEntries(ctx context.Context, records []domain.ExploitedEntry) (domain.UpsertResult, error)
	UpsertIPReputations(ctx context.Context, records []domain.IPReputation) (domain.UpsertResult, error)
	UpsertExploitationScores(ctx context.Context, records []domain.ExploitationScore) (domain.UpsertResult, error)

	// Queries
	QueryCriticalExploited(ctx context.Context, minSeverity float64, limit int) ([]domain.CriticalFinding, error)
	FindingByID(ctx context.Context, cveID string) (*domain.CriticalFinding, error)
	QueryMissingScores(ctx context.Context) ([]string, error)
	CoverageStats(ctx context.Context) (domain.CoverageStats, error)
	GetIPReputation(ctx context.Context, ip string) (*domain.IPReputation, error)

	// Sync operations
	UpdateSyncStatus(ctx context.Context, status domain.SyncStatus) error
	GetSyncStatuses(ctx context.Context) ([]domain.SyncStatus, error)

	Close() error
}

// VulnerabilityFeed fetches catalog entries modified since a point in time.
// A zero since fetches everything.
type VulnerabilityFeed interface {
	FetchVulnerabilities(ctx context.Context, since time.Time) ([]domain.Vulnerability, error)
}

// ExploitedFeed fetches the known-exploited list.
type ExploitedFeed interface {
	FetchExploited(ctx context.Context) ([]domain.ExploitedEntry, error)
}

// ScoreFeed fetches exploitation scores for the given identifiers.
type ScoreFeed interface {
	FetchScores(ctx context.Context, cveIDs []string) ([]domain.ExploitationScore, error)
}

// ReputationFeed fetches IP reputation records.
type ReputationFeed interface {
	FetchReputations(ctx context.Context) ([]domain.IPReputation, error)
}
