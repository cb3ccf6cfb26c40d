package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

// KEVURL is the CISA Known Exploited Vulnerabilities catalog.
const KEVURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

type kevCatalog struct {
	CatalogVersion  string     `json:"catalogVersion"`
	DateReleased    string     `json:"dateReleased"`
	Count           int        `json:"count"`
	Vulnerabilities []kevEntry `json:"vulnerabilities"`
}

type kevEntry struct {
	CVEID                      string `json:"cveID"`
	VendorProject              string `json:"vendorProject"`
	Product                    string `json:"product"`
	VulnerabilityName          string `json:"vulnerabilityName"`
	DateAdded                  string `json:"dateAdded"`
	ShortDescription           string `json:"shortDescription"`
	RequiredAction             string `json:"requiredAction"`
	DueDate                    string `json:"dueDate"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
}

// KEVFeed reads the CISA known-exploited catalog.
type KEVFeed struct {
	client *Client
	url    string
}

// NewKEVFeed creates the KEV ingestor. An empty url selects KEVURL.
func NewKEVFeed(url string) *KEVFeed {
	if url == "" {
		url = KEVURL
	}
	return &KEVFeed{client: NewClient(ClientOptions{RequestsPerSecond: 1, Burst: 1}), url: url}
}

func (f *KEVFeed) FetchExploited(ctx context.Context) ([]domain.ExploitedEntry, error) {
	var catalog kevCatalog
	if err := f.client.GetJSON(ctx, f.url, nil, &catalog); err != nil {
		return nil, fmt.Errorf("fetch kev catalog: %w", err)
	}
	slog.Info("kev catalog fetched", "version", catalog.CatalogVersion, "entries", len(catalog.Vulnerabilities))
	return parseAll(domain.FeedKEV, catalog.Vulnerabilities, convertKEV), nil
}

func convertKEV(e kevEntry) (domain.ExploitedEntry, error) {
	if strings.TrimSpace(e.CVEID) == "" {
		return domain.ExploitedEntry{}, fmt.Errorf("kev entry without cveID")
	}
	added, err := parseTime(e.DateAdded)
	if err != nil {
		return domain.ExploitedEntry{}, fmt.Errorf("%s dateAdded: %w", e.CVEID, err)
	}
	entry := domain.ExploitedEntry{
		CVEID:                      e.CVEID,
		VendorProject:              e.VendorProject,
		Product:                    e.Product,
		VulnerabilityName:          e.VulnerabilityName,
		DateAdded:                  added,
		ShortDescription:           e.ShortDescription,
		RequiredAction:             e.RequiredAction,
		KnownRansomwareCampaignUse: e.KnownRansomwareCampaignUse,
	}
	if e.DueDate != "" {
		due, err := parseTime(e.DueDate)
		if err != nil {
			return domain.ExploitedEntry{}, fmt.Errorf("%s dueDate: %w", e.CVEID, err)
		}
		entry.DueDate = due
	}
	return entry, nil
}
