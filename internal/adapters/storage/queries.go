package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"gorm.io/gorm"
)

// findingRow is the scan target of the critical findings join.
type findingRow struct {
	CVEID                      string    `gorm:"column:cve_id"`
	Description                string    `gorm:"column:description"`
	CVSSScore                  *float64  `gorm:"column:cvss_score"`
	Published                  time.Time `gorm:"column:published"`
	VendorProject              string    `gorm:"column:vendor_project"`
	Product                    string    `gorm:"column:product"`
	VulnerabilityName          string    `gorm:"column:vulnerability_name"`
	DateAdded                  time.Time `gorm:"column:date_added"`
	KnownRansomwareCampaignUse string    `gorm:"column:known_ransomware_campaign_use"`
	EPSSScore                  *float64  `gorm:"column:epss_score"`
	EPSSPercentile             *float64  `gorm:"column:epss_percentile"`
}

func (r findingRow) toDomain() domain.CriticalFinding {
	return domain.CriticalFinding{
		ID:                         r.CVEID,
		Description:                r.Description,
		Severity:                   r.CVSSScore,
		Published:                  r.Published,
		VendorProject:              r.VendorProject,
		Product:                    r.Product,
		VulnerabilityName:          r.VulnerabilityName,
		DateAdded:                  r.DateAdded,
		KnownRansomwareCampaignUse: r.KnownRansomwareCampaignUse,
		ExploitProbability:         r.EPSSScore,
		ExploitPercentile:          r.EPSSPercentile,
	}
}

func (a *SQLiteAdapter) findingQuery(ctx context.Context) *gorm.DB {
	return a.db.WithContext(ctx).
		Table("vulnerabilities AS v").
		Select(`v.cve_id, v.description, v.cvss_score, v.published,
			k.vendor_project, k.product, k.vulnerability_name, k.date_added,
			k.known_ransomware_campaign_use,
			e.score AS epss_score, e.percentile AS epss_percentile`).
		Joins("JOIN exploited_entries AS k ON k.cve_id = v.cve_id").
		Joins("LEFT JOIN exploitation_scores AS e ON e.cve_id = v.cve_id")
}

// QueryCriticalExploited returns exploited vulnerabilities with severity at
// least minSeverity, most likely to be exploited first. Ties fall back to
// severity, then to the most recently listed, then to the identifier.
// A limit <= 0 returns every match.
func (a *SQLiteAdapter) QueryCriticalExploited(ctx context.Context, minSeverity float64, limit int) ([]domain.CriticalFinding, error) {
	q := a.findingQuery(ctx).
		Where("v.cvss_score >= ?", minSeverity).
		Order("COALESCE(e.score, 0) DESC, v.cvss_score DESC, k.date_added DESC, v.cve_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []findingRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query critical exploited: %w", classify(err))
	}

	findings := make([]domain.CriticalFinding, len(rows))
	for i, r := range rows {
		findings[i] = r.toDomain()
	}
	return findings, nil
}

// FindingByID returns the joined finding for one vulnerability, or
// ErrNotFound when it is not both cataloged and exploited.
func (a *SQLiteAdapter) FindingByID(ctx context.Context, cveID string) (*domain.CriticalFinding, error) {
	var rows []findingRow
	if err := a.findingQuery(ctx).Where("v.cve_id = ?", cveID).Limit(1).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("finding %s: %w", cveID, classify(err))
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	f := rows[0].toDomain()
	return &f, nil
}

// QueryMissingScores returns vulnerabilities without an exploitation score,
// most recently published first.
func (a *SQLiteAdapter) QueryMissingScores(ctx context.Context) ([]string, error) {
	var ids []string
	err := a.db.WithContext(ctx).
		Table("vulnerabilities AS v").
		Joins("LEFT JOIN exploitation_scores AS e ON e.cve_id = v.cve_id").
		Where("e.cve_id IS NULL").
		Order("v.published DESC, v.cve_id ASC").
		Pluck("v.cve_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("query missing scores: %w", classify(err))
	}
	return ids, nil
}

// CoverageStats counts vulnerabilities with and without an exploitation score.
func (a *SQLiteAdapter) CoverageStats(ctx context.Context) (domain.CoverageStats, error) {
	var row struct {
		Total      int `gorm:"column:total"`
		WithScores int `gorm:"column:with_scores"`
	}
	err := a.db.WithContext(ctx).
		Table("vulnerabilities AS v").
		Select("COUNT(v.cve_id) AS total, COUNT(e.cve_id) AS with_scores").
		Joins("LEFT JOIN exploitation_scores AS e ON e.cve_id = v.cve_id").
		Scan(&row).Error
	if err != nil {
		return domain.CoverageStats{}, fmt.Errorf("coverage stats: %w", classify(err))
	}
	return domain.CoverageStats{
		TotalVulnerabilities: row.Total,
		WithScore:            row.WithScores,
		WithoutScore:         row.Total - row.WithScores,
	}, nil
}

// GetIPReputation returns the stored record for an address.
func (a *SQLiteAdapter) GetIPReputation(ctx context.Context, ip string) (*domain.IPReputation, error) {
	var m IPReputationModel
	if err := a.db.WithContext(ctx).First(&m, "ip_address = ?", domain.NormalizeIP(ip)).Error; err != nil {
		return nil, classify(err)
	}
	r := ipReputationToDomain(m)
	return &r, nil
}

// GetVulnerability returns the stored catalog entry.
func (a *SQLiteAdapter) GetVulnerability(ctx context.Context, cveID string) (*domain.Vulnerability, error) {
	var m VulnerabilityModel
	if err := a.db.WithContext(ctx).First(&m, "cve_id = ?", cveID).Error; err != nil {
		return nil, classify(err)
	}
	v := vulnerabilityToDomain(m)
	return &v, nil
}

// UpdateSyncStatus records the outcome of the last feed synchronization.
func (a *SQLiteAdapter) UpdateSyncStatus(ctx context.Context, status domain.SyncStatus) error {
	m := SyncStatusModel{
		Feed:         status.Feed,
		LastSyncTime: utc(status.LastSyncTime),
		RecordCount:  status.RecordCount,
		ErrorMessage: status.ErrorMessage,
	}
	if err := a.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("update sync status %s: %w", status.Feed, classify(err))
	}
	return nil
}

// GetSyncStatuses returns the sync status of every feed seen so far.
func (a *SQLiteAdapter) GetSyncStatuses(ctx context.Context) ([]domain.SyncStatus, error) {
	var models []SyncStatusModel
	if err := a.db.WithContext(ctx).Order("feed").Find(&models).Error; err != nil {
		return nil, classify(err)
	}
	out := make([]domain.SyncStatus, len(models))
	for i, m := range models {
		out[i] = syncStatusToDomain(m)
	}
	return out, nil
}
