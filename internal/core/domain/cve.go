package domain

import "time"

// Vulnerability is a catalog entry from the NVD (or a compatible feed).
type Vulnerability struct {
	ID           string    `json:"cve_id"` // e.g., "CVE-2024-0001"
	Description  string    `json:"description"`
	Published    time.Time `json:"published"`
	LastModified time.Time `json:"last_modified"`
	Severity     *float64  `json:"cvss_score"`            // CVSS base score 0-10, nil when unscored
	CVSSVector   string    `json:"cvss_vector,omitempty"` // e.g., "CVSS:3.1/AV:N/AC:L/..."
	References   []string  `json:"references,omitempty"`
}

// ExploitedEntry is a record from the CISA Known Exploited Vulnerabilities list.
// It shares its key with a Vulnerability, but the vulnerability may not be
// present yet when the entry is ingested.
type ExploitedEntry struct {
	CVEID                      string    `json:"cveID"`
	VendorProject              string    `json:"vendorProject"`
	Product                    string    `json:"product"`
	VulnerabilityName          string    `json:"vulnerabilityName"`
	DateAdded                  time.Time `json:"dateAdded"`
	ShortDescription           string    `json:"shortDescription"`
	RequiredAction             string    `json:"requiredAction"`
	DueDate                    time.Time `json:"dueDate"`
	KnownRansomwareCampaignUse string    `json:"knownRansomwareCampaignUse"` // "Known", "Unknown" or empty
}

// AbuseReport is one community report attached to an IP reputation record.
type AbuseReport struct {
	ReportedAt          time.Time `json:"reportedAt"`
	Comment             string    `json:"comment"`
	Categories          []int     `json:"categories"`
	ReporterID          int       `json:"reporterId"`
	ReporterCountryCode string    `json:"reporterCountryCode"`
	ReporterCountryName string    `json:"reporterCountryName,omitempty"`
}

// IPReputation is an AbuseIPDB record for a single address.
type IPReputation struct {
	IPAddress            string        `json:"ipAddress"`
	IsPublic             bool          `json:"isPublic"`
	IPVersion            int           `json:"ipVersion"`
	IsWhitelisted        bool          `json:"isWhitelisted"`
	AbuseConfidenceScore int           `json:"abuseConfidenceScore"` // 0-100
	CountryCode          string        `json:"countryCode"`
	UsageType            string        `json:"usageType"`
	ISP                  string        `json:"isp"`
	Domain               string        `json:"domain"`
	TotalReports         int           `json:"totalReports"`
	LastReportedAt       *time.Time    `json:"lastReportedAt"`
	Reports              []AbuseReport `json:"reports,omitempty"`
}

// ExploitationScore is an EPSS probability for a vulnerability.
type ExploitationScore struct {
	CVEID      string    `json:"cve"`
	Score      float64   `json:"epss"`       // 0-1
	Percentile float64   `json:"percentile"` // 0-1
	FetchedAt  time.Time `json:"fetched_at"`
}

// CriticalFinding is the joined read model of a vulnerability that is
// confirmed exploited, with its exploitation score when one is known.
type CriticalFinding struct {
	ID                         string    `json:"cve_id"`
	Description                string    `json:"description"`
	Severity                   *float64  `json:"cvss_score"`
	Published                  time.Time `json:"published"`
	VendorProject              string    `json:"vendorProject"`
	Product                    string    `json:"product"`
	VulnerabilityName          string    `json:"vulnerabilityName"`
	DateAdded                  time.Time `json:"dateAdded"`
	KnownRansomwareCampaignUse string    `json:"knownRansomwareCampaignUse"`
	ExploitProbability         *float64  `json:"epss_score"`
	ExploitPercentile          *float64  `json:"epss_percentile"`
}

// CoverageStats reports how many vulnerabilities carry an exploitation score.
type CoverageStats struct {
	TotalVulnerabilities int `json:"total_cves"`
	WithScore            int `json:"cves_with_epss"`
	WithoutScore         int `json:"cves_without_epss"`
}

// Ratio returns the scored fraction, 0 for an empty catalog.
func (s CoverageStats) Ratio() float64 {
	if s.TotalVulnerabilities == 0 {
		return 0
	}
	return float64(s.WithScore) / float64(s.TotalVulnerabilities)
}

// SyncStatus tracks the last synchronization with an external feed.
type SyncStatus struct {
	Feed         string    `json:"feed"`
	LastSyncTime time.Time `json:"last_sync_time"`
	RecordCount  int       `json:"record_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Feed names used for sync bookkeeping and metrics labels.
const (
	FeedNVD       = "nvd"
	FeedKEV       = "kev"
	FeedEPSS      = "epss"
	FeedAbuseIPDB = "abuseipdb"
)

// Float is a helper for building nullable scores.
func Float(v float64) *float64 { return &v }

// UpsertResult summarises one batch write.
type UpsertResult struct {
	Received int `json:"received"`
	Dropped  int `json:"dropped"` // failed validation
	Applied  int `json:"applied"` // inserted or updated
	Skipped  int `json:"skipped"` // merge policy kept the stored row
}

// Add accumulates another result, used when a batch is written in chunks.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Received += o.Received
	r.Dropped += o.Dropped
	r.Applied += o.Applied
	r.Skipped += o.Skipped
}
