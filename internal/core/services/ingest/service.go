// Package ingest pulls the external feeds into the entity store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// ErrUnknownFeed is returned when Run is asked for a feed it does not know.
var ErrUnknownFeed = errors.New("unknown feed")

// Order is the default feed order. Scores run last so that they cover the
// vulnerabilities fetched in the same run.
var Order = []string{domain.FeedKEV, domain.FeedNVD, domain.FeedAbuseIPDB, domain.FeedEPSS}

// Feeds groups the configured sources. A nil feed is skipped.
type Feeds struct {
	Vulnerabilities ports.VulnerabilityFeed
	Exploited       ports.ExploitedFeed
	Scores          ports.ScoreFeed
	Reputations     ports.ReputationFeed
}

// Summary is the outcome of one ingest run.
type Summary struct {
	Results  map[string]domain.UpsertResult `json:"results"`
	Coverage domain.CoverageStats          `json:"coverage"`
}

// Service runs feeds into the store and keeps sync bookkeeping.
type Service struct {
	store      ports.IntelStore
	feeds      Feeds
	scoreLimit int
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithScoreLimit caps how many unscored vulnerabilities one run looks up.
func WithScoreLimit(n int) Option {
	return func(s *Service) { s.scoreLimit = n }
}

// WithClock overrides the time source used for sync timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an ingest service.
func NewService(store ports.IntelStore, feeds Feeds, opts ...Option) *Service {
	s := &Service{store: store, feeds: feeds, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ingests the named feeds, or every configured feed when none is named.
// A failing feed is recorded in its sync status and does not stop the others.
func (s *Service) Run(ctx context.Context, names ...string) (Summary, error) {
	if len(names) == 0 {
		names = Order
	}
	for _, name := range names {
		if !slices.Contains(Order, name) {
			return Summary{}, fmt.Errorf("%w: %s", ErrUnknownFeed, name)
		}
	}

	previous, err := s.lastSyncs(ctx)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Results: map[string]domain.UpsertResult{}}
	var errs *multierror.Error
	for _, name := range Order {
		if !slices.Contains(names, name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		started := s.now().UTC()
		res, ran, err := s.runFeed(ctx, name, previous[name])
		if !ran {
			slog.Debug("feed not configured, skipping", "feed", name)
			continue
		}
		summary.Results[name] = res

		status := domain.SyncStatus{Feed: name, LastSyncTime: started, RecordCount: res.Applied}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
			status.ErrorMessage = err.Error()
			// A failed sync keeps the previous timestamp.
			if prev, ok := previous[name]; ok {
				status.LastSyncTime = prev.LastSyncTime
			}
			slog.Error("feed sync failed", "feed", name, "error", err)
		} else {
			slog.Info("feed synced", "feed", name,
				"received", res.Received, "applied", res.Applied,
				"skipped", res.Skipped, "dropped", res.Dropped)
		}
		if err := s.store.UpdateSyncStatus(ctx, status); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	coverage, err := s.LogCoverage(ctx)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	summary.Coverage = coverage
	return summary, errs.ErrorOrNil()
}

// runFeed reports ran=false when the feed is not configured.
func (s *Service) runFeed(ctx context.Context, name string, prev domain.SyncStatus) (domain.UpsertResult, bool, error) {
	switch name {
	case domain.FeedKEV:
		if s.feeds.Exploited == nil {
			return domain.UpsertResult{}, false, nil
		}
		entries, err := s.feeds.Exploited.FetchExploited(ctx)
		if err != nil {
			return domain.UpsertResult{}, true, err
		}
		res, err := s.store.UpsertExploitedEntries(ctx, entries)
		return res, true, err

	case domain.FeedNVD:
		if s.feeds.Vulnerabilities == nil {
			return domain.UpsertResult{}, false, nil
		}
		var since time.Time
		if prev.ErrorMessage == "" {
			since = prev.LastSyncTime
		}
		vulns, err := s.feeds.Vulnerabilities.FetchVulnerabilities(ctx, since)
		if err != nil {
			return domain.UpsertResult{}, true, err
		}
		res, err := s.store.UpsertVulnerabilities(ctx, vulns)
		return res, true, err

	case domain.FeedAbuseIPDB:
		if s.feeds.Reputations == nil {
			return domain.UpsertResult{}, false, nil
		}
		reps, err := s.feeds.Reputations.FetchReputations(ctx)
		if err != nil {
			return domain.UpsertResult{}, true, err
		}
		res, err := s.store.UpsertIPReputations(ctx, reps)
		return res, true, err

	case domain.FeedEPSS:
		if s.feeds.Scores == nil {
			return domain.UpsertResult{}, false, nil
		}
		res, err := s.SyncScores(ctx)
		return res, true, err
	}
	return domain.UpsertResult{}, false, nil
}

// SyncScores fetches exploitation scores for every vulnerability that has none.
func (s *Service) SyncScores(ctx context.Context) (domain.UpsertResult, error) {
	if s.feeds.Scores == nil {
		return domain.UpsertResult{}, nil
	}
	missing, err := s.store.QueryMissingScores(ctx)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("query missing scores: %w", err)
	}
	if s.scoreLimit > 0 && len(missing) > s.scoreLimit {
		missing = missing[:s.scoreLimit]
	}
	if len(missing) == 0 {
		slog.Info("every vulnerability already has an exploitation score")
		return domain.UpsertResult{}, nil
	}

	slog.Info("fetching exploitation scores", "missing", len(missing))
	scores, err := s.feeds.Scores.FetchScores(ctx, missing)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	return s.store.UpsertExploitationScores(ctx, scores)
}

// LogCoverage logs and returns how much of the catalog carries a score.
func (s *Service) LogCoverage(ctx context.Context) (domain.CoverageStats, error) {
	stats, err := s.store.CoverageStats(ctx)
	if err != nil {
		return domain.CoverageStats{}, fmt.Errorf("coverage stats: %w", err)
	}
	slog.Info("exploitation score coverage",
		"total", stats.TotalVulnerabilities,
		"with_score", stats.WithScore,
		"without_score", stats.WithoutScore,
		"ratio", fmt.Sprintf("%.1f%%", stats.Ratio()*100))
	return stats, nil
}

func (s *Service) lastSyncs(ctx context.Context) (map[string]domain.SyncStatus, error) {
	statuses, err := s.store.GetSyncStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync statuses: %w", err)
	}
	out := make(map[string]domain.SyncStatus, len(statuses))
	for _, st := range statuses {
		out[st.Feed] = st
	}
	return out, nil
}
