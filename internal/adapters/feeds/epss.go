package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

const (
	// EPSSURL is the FIRST EPSS API endpoint.
	EPSSURL = "https://api.first.org/data/v1/epss"
	// EPSSBatchSize is the number of identifiers per request.
	EPSSBatchSize = 100
)

type epssResponse struct {
	Status string      `json:"status"`
	Total  int         `json:"total"`
	Data   []epssEntry `json:"data"`
}

type epssEntry struct {
	CVE        string     `json:"cve"`
	EPSS       *flexFloat `json:"epss"`
	Percentile *flexFloat `json:"percentile"`
	Date       string     `json:"date"`
}

// EPSSFeed reads exploitation probabilities from FIRST.
type EPSSFeed struct {
	client *Client
	url    string
	now    func() time.Time
}

// NewEPSSFeed creates the EPSS ingestor. An empty url selects EPSSURL.
func NewEPSSFeed(url string) *EPSSFeed {
	if url == "" {
		url = EPSSURL
	}
	return &EPSSFeed{
		client: NewClient(ClientOptions{RequestsPerSecond: 2, Burst: 2}),
		url:    url,
		now:    time.Now,
	}
}

// FetchScores requests scores in batches of EPSSBatchSize. A failed batch is
// logged and skipped.
func (f *EPSSFeed) FetchScores(ctx context.Context, cveIDs []string) ([]domain.ExploitationScore, error) {
	var out []domain.ExploitationScore
	fetched := f.now().UTC()

	for i := 0; i < len(cveIDs); i += EPSSBatchSize {
		batch := cveIDs[i:min(i+EPSSBatchSize, len(cveIDs))]
		n := i/EPSSBatchSize + 1

		var resp epssResponse
		params := url.Values{"cve": {strings.Join(batch, ",")}}
		if err := f.client.GetJSON(ctx, f.url, params, &resp); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			slog.Warn("epss batch failed", "batch", n, "size", len(batch), "error", err)
			continue
		}

		out = append(out, parseAll(domain.FeedEPSS, resp.Data, func(e epssEntry) (domain.ExploitationScore, error) {
			return convertEPSS(e, fetched)
		})...)
		slog.Debug("epss batch fetched", "batch", n, "size", len(batch), "scores", len(resp.Data))
	}
	return out, nil
}

func convertEPSS(e epssEntry, fetched time.Time) (domain.ExploitationScore, error) {
	if e.CVE == "" || e.EPSS == nil || e.Percentile == nil {
		return domain.ExploitationScore{}, fmt.Errorf("incomplete epss entry %q", e.CVE)
	}
	return domain.ExploitationScore{
		CVEID:      e.CVE,
		Score:      float64(*e.EPSS),
		Percentile: float64(*e.Percentile),
		FetchedAt:  fetched,
	}, nil
}
