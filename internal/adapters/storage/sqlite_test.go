package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a SQLiteAdapter backed by a temporary file
func setupTestDB(t *testing.T) *SQLiteAdapter {
	t.Helper()
	adapter, err := NewSQLiteAdapter(filepath.Join(t.TempDir(), "intel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func vuln(id string, severity float64, modified time.Time) domain.Vulnerability {
	return domain.Vulnerability{
		ID:           id,
		Description:  "desc " + id,
		Published:    modified.Add(-24 * time.Hour),
		LastModified: modified,
		Severity:     domain.Float(severity),
		References:   []string{"https://nvd.nist.gov/vuln/detail/" + id},
	}
}

func kev(id string, added time.Time) domain.ExploitedEntry {
	return domain.ExploitedEntry{
		CVEID:                      id,
		VendorProject:              "Acme",
		Product:                    "Gateway",
		VulnerabilityName:          "Acme Gateway RCE",
		DateAdded:                  added,
		ShortDescription:           "Remote code execution",
		RequiredAction:             "Apply updates",
		DueDate:                    added.Add(21 * 24 * time.Hour),
		KnownRansomwareCampaignUse: "Unknown",
	}
}

func TestUpsertVulnerabilities_Idempotent(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()
	batch := []domain.Vulnerability{vuln("CVE-2024-0001", 9.8, t0), vuln("CVE-2024-0002", 7.5, t0)}

	res, err := a.UpsertVulnerabilities(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)

	res, err = a.UpsertVulnerabilities(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 2, res.Skipped)

	var count int64
	require.NoError(t, a.db.Model(&VulnerabilityModel{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestUpsertVulnerabilities_Monotonic(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()

	_, err := a.UpsertVulnerabilities(ctx, []domain.Vulnerability{vuln("CVE-2024-0001", 5.0, t0)})
	require.NoError(t, err)

	// Older record is ignored
	older := vuln("CVE-2024-0001", 9.9, t0.Add(-time.Hour))
	older.Description = "stale"
	res, err := a.UpsertVulnerabilities(ctx, []domain.Vulnerability{older})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	stored, err := a.GetVulnerability(ctx, "CVE-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, 5.0, *stored.Severity)
	assert.True(t, stored.LastModified.Equal(t0))

	// Equal timestamp is not strictly newer
	same := vuln("CVE-2024-0001", 9.9, t0)
	res, err = a.UpsertVulnerabilities(ctx, []domain.Vulnerability{same})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)

	// Newer record wins
	newer := vuln("CVE-2024-0001", 9.1, t0.Add(time.Hour))
	res, err = a.UpsertVulnerabilities(ctx, []domain.Vulnerability{newer})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	stored, err = a.GetVulnerability(ctx, "CVE-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, 9.1, *stored.Severity)
	assert.True(t, stored.LastModified.Equal(t0.Add(time.Hour)))
	assert.Equal(t, newer.References, stored.References)
}

func TestUpsertVulnerabilities_DropsMalformed(t *testing.T) {
	a := setupTestDB(t)

	batch := []domain.Vulnerability{
		vuln("CVE-2024-0001", 9.8, t0),
		{ID: "", LastModified: t0},
		vuln("CVE-2024-0002", 42, t0),
		vuln("CVE-2024-0003", 6.1, t0),
	}
	res, err := a.UpsertVulnerabilities(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertResult{Received: 4, Dropped: 2, Applied: 2}, res)
}

func TestUpsertExploitedEntries_ContentChanged(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()
	entry := kev("CVE-2024-0001", t0)

	res, err := a.UpsertExploitedEntries(ctx, []domain.ExploitedEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	// Only required action changed: not a content change
	entry.RequiredAction = "Discontinue use"
	res, err = a.UpsertExploitedEntries(ctx, []domain.ExploitedEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	entry.ShortDescription = "Authentication bypass leading to RCE"
	res, err = a.UpsertExploitedEntries(ctx, []domain.ExploitedEntry{entry})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	var m ExploitedEntryModel
	require.NoError(t, a.db.First(&m, "cve_id = ?", entry.CVEID).Error)
	assert.Equal(t, "Authentication bypass leading to RCE", m.ShortDescription)
	assert.Equal(t, "Discontinue use", m.RequiredAction)
}

func TestUpsertIPReputations_RejectsStale(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()
	reported := t0
	rec := domain.IPReputation{
		IPAddress:            "192.0.2.10",
		IsPublic:             true,
		IPVersion:            4,
		AbuseConfidenceScore: 80,
		TotalReports:         12,
		LastReportedAt:       &reported,
		Reports: []domain.AbuseReport{
			{ReportedAt: t0, Comment: "ssh brute force", Categories: []int{18, 22}, ReporterID: 1},
		},
	}
	_, err := a.UpsertIPReputations(ctx, []domain.IPReputation{rec})
	require.NoError(t, err)

	// Older timestamp, same confidence: rejected
	older := t0.Add(-time.Hour)
	stale := rec
	stale.LastReportedAt = &older
	stale.TotalReports = 3
	res, err := a.UpsertIPReputations(ctx, []domain.IPReputation{stale})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	stored, err := a.GetIPReputation(ctx, rec.IPAddress)
	require.NoError(t, err)
	assert.Equal(t, 12, stored.TotalReports)
	require.Len(t, stored.Reports, 1)
	assert.Equal(t, []int{18, 22}, stored.Reports[0].Categories)

	// Same timestamp, confidence moved: applied
	changed := rec
	changed.AbuseConfidenceScore = 95
	res, err = a.UpsertIPReputations(ctx, []domain.IPReputation{changed})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	// Newer timestamp: applied
	newer := t0.Add(time.Hour)
	fresh := changed
	fresh.LastReportedAt = &newer
	fresh.TotalReports = 20
	res, err = a.UpsertIPReputations(ctx, []domain.IPReputation{fresh})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	stored, err = a.GetIPReputation(ctx, rec.IPAddress)
	require.NoError(t, err)
	assert.Equal(t, 95, stored.AbuseConfidenceScore)
	assert.Equal(t, 20, stored.TotalReports)
	assert.True(t, stored.LastReportedAt.Equal(newer))
}

func TestUpsertIPReputations_NullTimestampReplaced(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()
	rec := domain.IPReputation{IPAddress: "198.51.100.7", AbuseConfidenceScore: 10}

	_, err := a.UpsertIPReputations(ctx, []domain.IPReputation{rec})
	require.NoError(t, err)

	reported := t0
	rec.LastReportedAt = &reported
	res, err := a.UpsertIPReputations(ctx, []domain.IPReputation{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
}

func TestUpsertExploitationScores_AlwaysOverwrite(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()
	s := domain.ExploitationScore{CVEID: "CVE-2024-0001", Score: 0.4, Percentile: 0.9, FetchedAt: t0}

	_, err := a.UpsertExploitationScores(ctx, []domain.ExploitationScore{s})
	require.NoError(t, err)

	s.Score = 0.1
	s.FetchedAt = t0.Add(-time.Hour) // latest fetch wins even if dated earlier
	res, err := a.UpsertExploitationScores(ctx, []domain.ExploitationScore{s})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	var m ExploitationScoreModel
	require.NoError(t, a.db.First(&m, "cve_id = ?", s.CVEID).Error)
	assert.Equal(t, 0.1, m.Score)
}

func TestUpsertExploitationScores_Chunked(t *testing.T) {
	a := setupTestDB(t)

	scores := make([]domain.ExploitationScore, 1203)
	for i := range scores {
		scores[i] = domain.ExploitationScore{CVEID: fmt.Sprintf("CVE-2024-%05d", i), Score: 0.01, Percentile: 0.5}
	}
	res, err := a.UpsertExploitationScores(context.Background(), scores)
	require.NoError(t, err)
	assert.Equal(t, 1203, res.Received)
	assert.Equal(t, 1203, res.Applied)

	var count int64
	require.NoError(t, a.db.Model(&ExploitationScoreModel{}).Count(&count).Error)
	assert.Equal(t, int64(1203), count)
}

func TestUpsert_CancelledContextRollsBack(t *testing.T) {
	a := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.UpsertVulnerabilities(ctx, []domain.Vulnerability{vuln("CVE-2024-0001", 9.8, t0)})
	require.Error(t, err)

	var count int64
	require.NoError(t, a.db.Model(&VulnerabilityModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpsert_IdempotentForEveryEntity(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()

	t.Run("exploited entries", func(t *testing.T) {
		batch := []domain.ExploitedEntry{kev("CVE-2024-0001", t0), kev("CVE-2024-0002", t0)}

		res, err := a.UpsertExploitedEntries(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Applied)

		res, err = a.UpsertExploitedEntries(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, domain.UpsertResult{Received: 2, Skipped: 2}, res)

		var count int64
		require.NoError(t, a.db.Model(&ExploitedEntryModel{}).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("ip reputations", func(t *testing.T) {
		reported := t0
		batch := []domain.IPReputation{
			{IPAddress: "192.0.2.20", AbuseConfidenceScore: 90, TotalReports: 4, LastReportedAt: &reported},
			{IPAddress: "198.51.100.20", AbuseConfidenceScore: 100},
		}

		res, err := a.UpsertIPReputations(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Applied)

		res, err = a.UpsertIPReputations(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, domain.UpsertResult{Received: 2, Skipped: 2}, res)

		stored, err := a.GetIPReputation(ctx, "198.51.100.20")
		require.NoError(t, err)
		assert.Nil(t, stored.LastReportedAt)
		assert.Equal(t, 100, stored.AbuseConfidenceScore)
	})

	t.Run("exploitation scores", func(t *testing.T) {
		batch := []domain.ExploitationScore{
			{CVEID: "CVE-2024-0001", Score: 0.97, Percentile: 0.99, FetchedAt: t0},
			{CVEID: "CVE-2024-0002", Score: 0.02, Percentile: 0.4, FetchedAt: t0},
		}

		_, err := a.UpsertExploitationScores(ctx, batch)
		require.NoError(t, err)
		var first []ExploitationScoreModel
		require.NoError(t, a.db.Order("cve_id").Find(&first).Error)

		_, err = a.UpsertExploitationScores(ctx, batch)
		require.NoError(t, err)
		var second []ExploitationScoreModel
		require.NoError(t, a.db.Order("cve_id").Find(&second).Error)

		require.Len(t, second, 2)
		for i := range first {
			assert.Equal(t, first[i].CVEID, second[i].CVEID)
			assert.Equal(t, first[i].Score, second[i].Score)
			assert.Equal(t, first[i].Percentile, second[i].Percentile)
			assert.True(t, first[i].FetchedAt.Equal(second[i].FetchedAt))
		}
	})
}

func TestUpsertIPReputations_NormalizesKey(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()

	_, err := a.UpsertIPReputations(ctx, []domain.IPReputation{{IPAddress: " 192.0.2.1", AbuseConfidenceScore: 50}})
	require.NoError(t, err)
	res, err := a.UpsertIPReputations(ctx, []domain.IPReputation{{IPAddress: "192.0.2.1", AbuseConfidenceScore: 50}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)

	var count int64
	require.NoError(t, a.db.Model(&IPReputationModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := a.GetIPReputation(ctx, "192.0.2.1 ")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", stored.IPAddress)
}

// rejectInsert installs a trigger that aborts inserts of one key.
func rejectInsert(t *testing.T, a *SQLiteAdapter, table, key string) {
	t.Helper()
	require.NoError(t, a.db.Exec(fmt.Sprintf(
		"CREATE TRIGGER reject_%[1]s BEFORE INSERT ON %[1]s WHEN NEW.cve_id = '%[2]s' "+
			"BEGIN SELECT RAISE(ABORT, 'rejected by test'); END", table, key)).Error)
}

func TestUpsertVulnerabilities_EngineFailureRollsBackBatch(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()

	_, err := a.UpsertVulnerabilities(ctx, []domain.Vulnerability{vuln("CVE-2024-0001", 5.0, t0)})
	require.NoError(t, err)

	// The rejected row sits in the second insert statement of the batch.
	batch := []domain.Vulnerability{vuln("CVE-2024-0001", 9.8, t0.Add(time.Hour))}
	for i := 2; i <= 150; i++ {
		batch = append(batch, vuln(fmt.Sprintf("CVE-2024-%04d", i), 7.0, t0))
	}
	rejectInsert(t, a, "vulnerabilities", "CVE-2024-0120")

	_, err = a.UpsertVulnerabilities(ctx, batch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConstraint)

	var count int64
	require.NoError(t, a.db.Model(&VulnerabilityModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := a.GetVulnerability(ctx, "CVE-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, 5.0, *stored.Severity)
	assert.True(t, stored.LastModified.Equal(t0))
}

func TestUpsertExploitationScores_FailedChunkKeepsEarlierChunks(t *testing.T) {
	a := setupTestDB(t)

	scores := make([]domain.ExploitationScore, 1203)
	for i := range scores {
		scores[i] = domain.ExploitationScore{CVEID: fmt.Sprintf("CVE-2024-%05d", i), Score: 0.01, Percentile: 0.5}
	}
	rejectInsert(t, a, "exploitation_scores", "CVE-2024-00700")

	res, err := a.UpsertExploitationScores(context.Background(), scores)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConstraint)
	assert.Equal(t, 1203, res.Received)
	assert.Equal(t, 500, res.Applied)

	var count int64
	require.NoError(t, a.db.Model(&ExploitationScoreModel{}).Count(&count).Error)
	assert.Equal(t, int64(500), count)

	var m ExploitationScoreModel
	err = a.db.First(&m, "cve_id = ?", "CVE-2024-00600").Error
	assert.Error(t, err, "rows of the failed chunk are rolled back")
}

func TestSyncStatus(t *testing.T) {
	a := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, a.UpdateSyncStatus(ctx, domain.SyncStatus{Feed: domain.FeedNVD, LastSyncTime: t0, RecordCount: 10}))
	require.NoError(t, a.UpdateSyncStatus(ctx, domain.SyncStatus{Feed: domain.FeedNVD, LastSyncTime: t0.Add(time.Hour), RecordCount: 4}))
	require.NoError(t, a.UpdateSyncStatus(ctx, domain.SyncStatus{Feed: domain.FeedEPSS, LastSyncTime: t0, ErrorMessage: "timeout"}))

	statuses, err := a.GetSyncStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, domain.FeedEPSS, statuses[0].Feed)
	assert.Equal(t, "timeout", statuses[0].ErrorMessage)
	assert.Equal(t, 4, statuses[1].RecordCount)
	assert.True(t, statuses[1].LastSyncTime.Equal(t0.Add(time.Hour)))
}
