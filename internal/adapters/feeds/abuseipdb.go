package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

// AbuseIPDBURL is the AbuseIPDB API root.
const AbuseIPDBURL = "https://api.abuseipdb.com/api/v2"

// ErrNoAPIKey is returned by feeds that cannot run anonymously.
var ErrNoAPIKey = errors.New("api key not configured")

type abuseBlacklist struct {
	Data []abuseRecord `json:"data"`
}

type abuseCheck struct {
	Data abuseRecord `json:"data"`
}

type abuseRecord struct {
	IPAddress            string        `json:"ipAddress"`
	IsPublic             *bool         `json:"isPublic"`
	IPVersion            int           `json:"ipVersion"`
	IsWhitelisted        *bool         `json:"isWhitelisted"`
	AbuseConfidenceScore *int          `json:"abuseConfidenceScore"`
	CountryCode          string        `json:"countryCode"`
	UsageType            string        `json:"usageType"`
	ISP                  string        `json:"isp"`
	Domain               string        `json:"domain"`
	TotalReports         int           `json:"totalReports"`
	LastReportedAt       *string       `json:"lastReportedAt"`
	Reports              []abuseReport `json:"reports"`
}

type abuseReport struct {
	ReportedAt          string `json:"reportedAt"`
	Comment             string `json:"comment"`
	Categories          []int  `json:"categories"`
	ReporterID          int    `json:"reporterId"`
	ReporterCountryCode string `json:"reporterCountryCode"`
	ReporterCountryName string `json:"reporterCountryName"`
}

// AbuseIPDBFeed reads IP reputation data.
type AbuseIPDBFeed struct {
	client        *Client
	baseURL       string
	apiKey        string
	minConfidence int
	limit         int
}

// NewAbuseIPDBFeed creates the reputation ingestor. The blacklist holds
// addresses at or above minConfidence, at most limit of them.
func NewAbuseIPDBFeed(apiKey, baseURL string, minConfidence, limit int) *AbuseIPDBFeed {
	if baseURL == "" {
		baseURL = AbuseIPDBURL
	}
	return &AbuseIPDBFeed{
		client: NewClient(ClientOptions{
			Headers:           map[string]string{"Key": apiKey},
			RequestsPerSecond: 1,
			Burst:             1,
		}),
		baseURL:       baseURL,
		apiKey:        apiKey,
		minConfidence: minConfidence,
		limit:         limit,
	}
}

// FetchReputations downloads the blacklist.
func (f *AbuseIPDBFeed) FetchReputations(ctx context.Context) ([]domain.IPReputation, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("abuseipdb: %w", ErrNoAPIKey)
	}
	params := url.Values{}
	params.Set("confidenceMinimum", strconv.Itoa(f.minConfidence))
	params.Set("limit", strconv.Itoa(f.limit))

	var resp abuseBlacklist
	if err := f.client.GetJSON(ctx, f.baseURL+"/blacklist", params, &resp); err != nil {
		return nil, fmt.Errorf("fetch abuseipdb blacklist: %w", err)
	}
	return parseAll(domain.FeedAbuseIPDB, resp.Data, convertAbuse), nil
}

// CheckIP fetches the full record, reports included, for one address.
func (f *AbuseIPDBFeed) CheckIP(ctx context.Context, ip string, maxAgeDays int) (*domain.IPReputation, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("abuseipdb: %w", ErrNoAPIKey)
	}
	params := url.Values{}
	params.Set("ipAddress", ip)
	params.Set("maxAgeInDays", strconv.Itoa(maxAgeDays))
	params.Set("verbose", "")

	var resp abuseCheck
	if err := f.client.GetJSON(ctx, f.baseURL+"/check", params, &resp); err != nil {
		return nil, fmt.Errorf("check %s: %w", ip, err)
	}
	rec, err := convertAbuse(resp.Data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func convertAbuse(r abuseRecord) (domain.IPReputation, error) {
	if r.IPAddress == "" || r.AbuseConfidenceScore == nil {
		return domain.IPReputation{}, fmt.Errorf("incomplete abuseipdb record %q", r.IPAddress)
	}
	rep := domain.IPReputation{
		IPAddress:            r.IPAddress,
		IsPublic:             true,
		IPVersion:            r.IPVersion,
		AbuseConfidenceScore: *r.AbuseConfidenceScore,
		CountryCode:          r.CountryCode,
		UsageType:            r.UsageType,
		ISP:                  r.ISP,
		Domain:               r.Domain,
		TotalReports:         r.TotalReports,
	}
	if r.IsPublic != nil {
		rep.IsPublic = *r.IsPublic
	}
	if r.IsWhitelisted != nil {
		rep.IsWhitelisted = *r.IsWhitelisted
	}
	if rep.IPVersion == 0 {
		rep.IPVersion = 4
	}
	if r.LastReportedAt != nil && *r.LastReportedAt != "" {
		t, err := parseTime(*r.LastReportedAt)
		if err != nil {
			return domain.IPReputation{}, fmt.Errorf("%s lastReportedAt: %w", r.IPAddress, err)
		}
		rep.LastReportedAt = &t
	}
	for _, ar := range r.Reports {
		at, err := parseTime(ar.ReportedAt)
		if err != nil {
			return domain.IPReputation{}, fmt.Errorf("%s report: %w", r.IPAddress, err)
		}
		rep.Reports = append(rep.Reports, domain.AbuseReport{
			ReportedAt:          at,
			Comment:             ar.Comment,
			Categories:          ar.Categories,
			ReporterID:          ar.ReporterID,
			ReporterCountryCode: ar.ReporterCountryCode,
			ReporterCountryName: ar.ReporterCountryName,
		})
	}
	return rep, nil
}
