package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/telemetry"
	"gorm.io/gorm"
)

const (
	// insertBatchSize bounds the rows per INSERT statement.
	insertBatchSize = 100
	// scoreChunkSize is the number of exploitation scores committed per transaction.
	scoreChunkSize = 500
)

type validatable interface {
	Validate() error
}

// partition drops malformed records, logging each one.
func partition[T validatable](entity string, records []T) ([]T, int) {
	valid := make([]T, 0, len(records))
	dropped := 0
	for _, r := range records {
		if err := r.Validate(); err != nil {
			slog.Warn("dropping malformed record", "entity", entity, "error", err)
			dropped++
			continue
		}
		valid = append(valid, r)
	}
	return valid, dropped
}

// upsertAtomic writes models in one transaction using the entity's merge
// policy and returns the number of rows inserted or updated.
func upsertAtomic[M any](ctx context.Context, db *gorm.DB, spec entitySpec, models []M) (int64, error) {
	if len(models) == 0 {
		return 0, nil
	}
	var applied int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(spec.OnConflict()).CreateInBatches(models, insertBatchSize)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return applied, nil
}

func newResult(received, dropped, valid int, applied int64) domain.UpsertResult {
	skipped := valid - int(applied)
	if skipped < 0 {
		skipped = 0
	}
	return domain.UpsertResult{
		Received: received,
		Dropped:  dropped,
		Applied:  int(applied),
		Skipped:  skipped,
	}
}

func observe(entity string, res domain.UpsertResult, err error) {
	telemetry.StoreUpserts.WithLabelValues(entity, "applied").Add(float64(res.Applied))
	telemetry.StoreUpserts.WithLabelValues(entity, "skipped").Add(float64(res.Skipped))
	telemetry.StoreUpserts.WithLabelValues(entity, "dropped").Add(float64(res.Dropped))
	if err != nil {
		telemetry.StoreErrors.WithLabelValues(entity).Inc()
		slog.Error("upsert batch rolled back", "entity", entity, "error", err)
		return
	}
	slog.Debug("upsert batch committed", "entity", entity,
		"received", res.Received, "applied", res.Applied, "skipped", res.Skipped, "dropped", res.Dropped)
}

// UpsertVulnerabilities merges catalog entries. A stored row is replaced only
// by a strictly newer last modified time.
func (a *SQLiteAdapter) UpsertVulnerabilities(ctx context.Context, records []domain.Vulnerability) (domain.UpsertResult, error) {
	valid, dropped := partition(vulnerabilitySpec.Entity, records)
	models := make([]VulnerabilityModel, len(valid))
	for i, v := range valid {
		models[i] = vulnerabilityToModel(v)
	}

	applied, err := upsertAtomic(ctx, a.db, vulnerabilitySpec, models)
	res := newResult(len(records), dropped, len(valid), applied)
	observe(vulnerabilitySpec.Entity, res, err)
	if err != nil {
		return res, fmt.Errorf("upsert vulnerabilities: %w", err)
	}
	return res, nil
}

// UpsertExploitedEntries merges known-exploited entries. A stored row is
// refreshed only when its name or short description changed.
func (a *SQLiteAdapter) UpsertExploitedEntries(ctx context.Context, records []domain.ExploitedEntry) (domain.UpsertResult, error) {
	valid, dropped := partition(exploitedEntrySpec.Entity, records)
	models := make([]ExploitedEntryModel, len(valid))
	for i, e := range valid {
		models[i] = exploitedEntryToModel(e)
	}

	applied, err := upsertAtomic(ctx, a.db, exploitedEntrySpec, models)
	res := newResult(len(records), dropped, len(valid), applied)
	observe(exploitedEntrySpec.Entity, res, err)
	if err != nil {
		return res, fmt.Errorf("upsert exploited entries: %w", err)
	}
	return res, nil
}

// UpsertIPReputations merges reputation records. A stored row is replaced when
// the incoming report time is newer or the confidence score changed.
func (a *SQLiteAdapter) UpsertIPReputations(ctx context.Context, records []domain.IPReputation) (domain.UpsertResult, error) {
	valid, dropped := partition(ipReputationSpec.Entity, records)
	models := make([]IPReputationModel, len(valid))
	for i, r := range valid {
		models[i] = ipReputationToModel(r)
	}

	applied, err := upsertAtomic(ctx, a.db, ipReputationSpec, models)
	res := newResult(len(records), dropped, len(valid), applied)
	observe(ipReputationSpec.Entity, res, err)
	if err != nil {
		return res, fmt.Errorf("upsert ip reputations: %w", err)
	}
	return res, nil
}

// UpsertExploitationScores overwrites scores unconditionally. Records are
// committed in chunks, each in its own transaction. A failing chunk is rolled
// back and returned; chunks written before it stay committed.
func (a *SQLiteAdapter) UpsertExploitationScores(ctx context.Context, records []domain.ExploitationScore) (domain.UpsertResult, error) {
	valid, dropped := partition(exploitationScoreSpec.Entity, records)
	total := domain.UpsertResult{Received: len(records), Dropped: dropped}

	for start := 0; start < len(valid); start += scoreChunkSize {
		end := min(start+scoreChunkSize, len(valid))
		chunk := valid[start:end]

		models := make([]ExploitationScoreModel, len(chunk))
		for i, s := range chunk {
			models[i] = exploitationScoreToModel(s)
		}

		applied, err := upsertAtomic(ctx, a.db, exploitationScoreSpec, models)
		if err != nil {
			observe(exploitationScoreSpec.Entity, total, err)
			return total, fmt.Errorf("upsert exploitation scores chunk %d-%d: %w", start, end, err)
		}
		total.Add(newResult(0, 0, len(chunk), applied))
	}

	observe(exploitationScoreSpec.Entity, total, nil)
	return total, nil
}
