package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// ReportModel stores a published assessment report.
type ReportModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	CVEID       string    `gorm:"column:cve_id;index"`
	GeneratedAt time.Time `gorm:"column:generated_at;index"`
	PayloadJSON string    `gorm:"column:payload_json"`
}

func (ReportModel) TableName() string { return "assessment_reports" }

// Publish stores the report.
func (a *SQLiteAdapter) Publish(ctx context.Context, report domain.AssessmentReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	m := ReportModel{
		ID:          report.ID,
		CVEID:       report.CVEID,
		GeneratedAt: utc(report.GeneratedAt),
		PayloadJSON: string(payload),
	}
	if err := a.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("save report %s: %w", report.CVEID, classify(err))
	}
	return nil
}

// LatestReport returns the most recently generated report for a vulnerability.
func (a *SQLiteAdapter) LatestReport(ctx context.Context, cveID string) (*domain.AssessmentReport, error) {
	var m ReportModel
	err := a.db.WithContext(ctx).
		Where("cve_id = ?", cveID).
		Order("generated_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(classify(err), ErrNotFound) {
			return nil, ports.ErrReportNotFound
		}
		return nil, classify(err)
	}

	var report domain.AssessmentReport
	if err := json.Unmarshal([]byte(m.PayloadJSON), &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", cveID, err)
	}
	return &report, nil
}
