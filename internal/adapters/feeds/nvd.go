package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goark/go-cvss/v3/metric"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

const (
	// NVDURL is the CVE API 2.0 endpoint.
	NVDURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	// NVDPageSize is the largest page the API serves.
	NVDPageSize = 2000
	// NVDDefaultLookback is the window fetched when no previous sync exists.
	NVDDefaultLookback = 30 * 24 * time.Hour
	// nvdMaxRange is the widest date range the API accepts.
	nvdMaxRange = 120 * 24 * time.Hour

	nvdTimeFormat = "2006-01-02T15:04:05.000"
)

// cvssPriority lists metric families from newest to oldest.
var cvssPriority = []string{"cvssMetricV40", "cvssMetricV31", "cvssMetricV30", "cvssMetricV2"}

type nvdResponse struct {
	ResultsPerPage  int `json:"resultsPerPage"`
	StartIndex      int `json:"startIndex"`
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	LastModified string `json:"lastModified"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics    map[string][]nvdMetric `json:"metrics"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore    *float64 `json:"baseScore"`
		VectorString string   `json:"vectorString"`
	} `json:"cvssData"`
}

// NVDFeed reads the NVD vulnerability catalog.
type NVDFeed struct {
	client   *Client
	baseURL  string
	pageSize int
	limit    int
	now      func() time.Time
}

// NVDOption configures an NVDFeed.
type NVDOption func(*NVDFeed)

// WithNVDURL overrides the API endpoint.
func WithNVDURL(u string) NVDOption { return func(f *NVDFeed) { f.baseURL = u } }

// WithNVDPageSize sets the page size, capped at NVDPageSize.
func WithNVDPageSize(n int) NVDOption {
	return func(f *NVDFeed) { f.pageSize = min(max(n, 1), NVDPageSize) }
}

// WithNVDLimit stops after n records. Zero fetches every page.
func WithNVDLimit(n int) NVDOption { return func(f *NVDFeed) { f.limit = n } }

// NewNVDFeed creates the NVD ingestor. An empty apiKey uses the public rate.
func NewNVDFeed(apiKey string, opts ...NVDOption) *NVDFeed {
	co := ClientOptions{RequestsPerSecond: 5.0 / 30, Burst: 5}
	if apiKey != "" {
		co.Headers = map[string]string{"apiKey": apiKey}
		co.RequestsPerSecond = 50.0 / 30
		co.Burst = 50
	}
	f := &NVDFeed{
		client:   NewClient(co),
		baseURL:  NVDURL,
		pageSize: NVDPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchVulnerabilities pages through entries modified since the given time.
func (f *NVDFeed) FetchVulnerabilities(ctx context.Context, since time.Time) ([]domain.Vulnerability, error) {
	end := f.now().UTC()
	start := since.UTC()
	if since.IsZero() {
		start = end.Add(-NVDDefaultLookback)
	}
	if end.Sub(start) > nvdMaxRange {
		slog.Warn("nvd range too wide, truncating", "since", start, "max_days", int(nvdMaxRange.Hours()/24))
		start = end.Add(-nvdMaxRange)
	}

	var out []domain.Vulnerability
	for index := 0; ; {
		size := f.pageSize
		if f.limit > 0 {
			size = min(size, f.limit-len(out))
		}
		params := url.Values{}
		params.Set("resultsPerPage", strconv.Itoa(size))
		params.Set("startIndex", strconv.Itoa(index))
		params.Set("lastModStartDate", start.Format(nvdTimeFormat))
		params.Set("lastModEndDate", end.Format(nvdTimeFormat))

		var page nvdResponse
		if err := f.client.GetJSON(ctx, f.baseURL, params, &page); err != nil {
			return out, fmt.Errorf("nvd page at %d: %w", index, err)
		}
		if len(page.Vulnerabilities) == 0 {
			break
		}

		raw := make([]nvdCVE, 0, len(page.Vulnerabilities))
		for _, v := range page.Vulnerabilities {
			raw = append(raw, v.CVE)
		}
		out = append(out, parseAll(domain.FeedNVD, raw, convertNVD)...)

		index += len(page.Vulnerabilities)
		slog.Info("nvd progress", "fetched", index, "total", page.TotalResults)
		if index >= page.TotalResults || (f.limit > 0 && len(out) >= f.limit) {
			break
		}
	}
	return out, nil
}

func convertNVD(c nvdCVE) (domain.Vulnerability, error) {
	if c.ID == "" {
		return domain.Vulnerability{}, fmt.Errorf("nvd entry without id")
	}
	published, err := parseTime(c.Published)
	if err != nil {
		return domain.Vulnerability{}, fmt.Errorf("%s published: %w", c.ID, err)
	}
	modified, err := parseTime(c.LastModified)
	if err != nil {
		return domain.Vulnerability{}, fmt.Errorf("%s lastModified: %w", c.ID, err)
	}

	description := "No description available."
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			description = d.Value
			break
		}
	}

	refs := make([]string, 0, len(c.References))
	for _, r := range c.References {
		if r.URL != "" {
			refs = append(refs, r.URL)
		}
	}

	score, vector := extractCVSS(c.Metrics)
	return domain.Vulnerability{
		ID:           c.ID,
		Description:  description,
		Published:    published,
		LastModified: modified,
		Severity:     score,
		CVSSVector:   vector,
		References:   refs,
	}, nil
}

// extractCVSS takes the primary metric of the newest CVSS version present.
// A v3 metric without a base score is scored from its vector.
func extractCVSS(metrics map[string][]nvdMetric) (*float64, string) {
	for _, family := range cvssPriority {
		list := metrics[family]
		if len(list) == 0 {
			continue
		}
		data := list[0].CVSSData
		if data.BaseScore != nil {
			return data.BaseScore, data.VectorString
		}
		if score, ok := VectorScore(data.VectorString); ok {
			return &score, data.VectorString
		}
		return nil, data.VectorString
	}
	return nil, ""
}

// VectorScore computes the base score of a CVSS v3 vector.
func VectorScore(vector string) (float64, bool) {
	if !strings.HasPrefix(vector, "CVSS:3") {
		return 0, false
	}
	bm, err := metric.NewBase().Decode(vector)
	if err != nil {
		return 0, false
	}
	return bm.Score(), true
}
