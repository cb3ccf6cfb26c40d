package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// SeedFile is an offline snapshot of the feeds.
type SeedFile struct {
	Vulnerabilities []domain.Vulnerability     `json:"vulnerabilities"`
	Exploited       []domain.ExploitedEntry    `json:"exploited"`
	Scores          []domain.ExploitationScore `json:"scores"`
	Reputations     []domain.IPReputation      `json:"reputations"`
}

// SeedLoader loads seed files into the entity store.
type SeedLoader struct {
	store ports.IntelStore
	now   func() time.Time
}

// NewSeedLoader creates a new seed loader.
func NewSeedLoader(store ports.IntelStore) *SeedLoader {
	return &SeedLoader{store: store, now: time.Now}
}

// LoadFromFile upserts every entity of a seed file and records a sync status
// per non-empty feed.
func (s *SeedLoader) LoadFromFile(ctx context.Context, path string) (domain.UpsertResult, error) {
	slog.Info("loading seed file", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed SeedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return domain.UpsertResult{}, fmt.Errorf("failed to parse seed file: %w", err)
	}

	type step struct {
		feed  string
		count int
		run   func() (domain.UpsertResult, error)
	}
	steps := []step{
		{domain.FeedNVD, len(seed.Vulnerabilities), func() (domain.UpsertResult, error) {
			return s.store.UpsertVulnerabilities(ctx, seed.Vulnerabilities)
		}},
		{domain.FeedKEV, len(seed.Exploited), func() (domain.UpsertResult, error) {
			return s.store.UpsertExploitedEntries(ctx, seed.Exploited)
		}},
		{domain.FeedEPSS, len(seed.Scores), func() (domain.UpsertResult, error) {
			return s.store.UpsertExploitationScores(ctx, seed.Scores)
		}},
		{domain.FeedAbuseIPDB, len(seed.Reputations), func() (domain.UpsertResult, error) {
			return s.store.UpsertIPReputations(ctx, seed.Reputations)
		}},
	}

	var total domain.UpsertResult
	var errs *multierror.Error
	for _, st := range steps {
		if st.count == 0 {
			continue
		}
		res, err := st.run()
		total.Add(res)

		status := domain.SyncStatus{Feed: st.feed, LastSyncTime: s.now().UTC(), RecordCount: res.Applied}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", st.feed, err))
			status.ErrorMessage = err.Error()
		}
		if err := s.store.UpdateSyncStatus(ctx, status); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s sync status: %w", st.feed, err))
		}
	}

	slog.Info("seed file loaded", "path", path,
		"received", total.Received, "applied", total.Applied, "skipped", total.Skipped, "dropped", total.Dropped)
	return total, errs.ErrorOrNil()
}

// LoadFromMultipleFiles loads each file, continuing past failures.
func (s *SeedLoader) LoadFromMultipleFiles(ctx context.Context, paths []string) (domain.UpsertResult, error) {
	var total domain.UpsertResult
	var errs *multierror.Error
	loaded := 0

	for _, path := range paths {
		res, err := s.LoadFromFile(ctx, path)
		total.Add(res)
		if err != nil {
			slog.Error("failed to load seed file", "path", path, "error", err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		loaded++
	}

	slog.Info("seed files loaded", "loaded", loaded, "total", len(paths))
	return total, errs.ErrorOrNil()
}
