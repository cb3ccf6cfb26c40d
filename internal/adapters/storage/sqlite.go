package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("record not found")
	// ErrConstraint is returned when the engine rejects a row on a constraint.
	ErrConstraint = errors.New("constraint violation")
	// ErrBusy is returned when the database stayed locked past the busy timeout.
	ErrBusy = errors.New("database busy")
)

// SQLiteAdapter implements ports.IntelStore, ports.CheckpointStore and
// ports.ReportRepository using GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

// VulnerabilityModel is the GORM model for catalog entries.
type VulnerabilityModel struct {
	CVEID          string    `gorm:"column:cve_id;primaryKey"`
	Description    string    `gorm:"column:description"`
	Published      time.Time `gorm:"column:published;index"`
	LastModified   time.Time `gorm:"column:last_modified;not null"`
	CVSSScore      *float64  `gorm:"column:cvss_score;index"`
	CVSSVector     string    `gorm:"column:cvss_vector"`
	ReferencesJSON string    `gorm:"column:references_json"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (VulnerabilityModel) TableName() string { return "vulnerabilities" }

// ExploitedEntryModel is the GORM model for the known-exploited list.
type ExploitedEntryModel struct {
	CVEID                      string    `gorm:"column:cve_id;primaryKey"`
	VendorProject              string    `gorm:"column:vendor_project"`
	Product                    string    `gorm:"column:product"`
	VulnerabilityName          string    `gorm:"column:vulnerability_name"`
	DateAdded                  time.Time `gorm:"column:date_added;index"`
	ShortDescription           string    `gorm:"column:short_description"`
	RequiredAction             string    `gorm:"column:required_action"`
	DueDate                    time.Time `gorm:"column:due_date"`
	KnownRansomwareCampaignUse string    `gorm:"column:known_ransomware_campaign_use"`
	CreatedAt                  time.Time `gorm:"column:created_at"`
	UpdatedAt                  time.Time `gorm:"column:updated_at"`
}

func (ExploitedEntryModel) TableName() string { return "exploited_entries" }

// IPReputationModel is the GORM model for IP reputation records.
type IPReputationModel struct {
	IPAddress            string     `gorm:"column:ip_address;primaryKey"`
	IsPublic             bool       `gorm:"column:is_public"`
	IPVersion            int        `gorm:"column:ip_version"`
	IsWhitelisted        bool       `gorm:"column:is_whitelisted"`
	AbuseConfidenceScore int        `gorm:"column:abuse_confidence_score"`
	CountryCode          string     `gorm:"column:country_code"`
	UsageType            string     `gorm:"column:usage_type"`
	ISP                  string     `gorm:"column:isp"`
	Domain               string     `gorm:"column:domain"`
	TotalReports         int        `gorm:"column:total_reports"`
	LastReportedAt       *time.Time `gorm:"column:last_reported_at"`
	ReportsJSON          string     `gorm:"column:reports_json"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (IPReputationModel) TableName() string { return "ip_reputations" }

// ExploitationScoreModel is the GORM model for EPSS scores.
type ExploitationScoreModel struct {
	CVEID      string    `gorm:"column:cve_id;primaryKey"`
	Score      float64   `gorm:"column:score;index"`
	Percentile float64   `gorm:"column:percentile"`
	FetchedAt  time.Time `gorm:"column:fetched_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (ExploitationScoreModel) TableName() string { return "exploitation_scores" }

// SyncStatusModel stores the last synchronization per feed.
type SyncStatusModel struct {
	Feed         string    `gorm:"column:feed;primaryKey"`
	LastSyncTime time.Time `gorm:"column:last_sync_time"`
	RecordCount  int       `gorm:"column:record_count"`
	ErrorMessage string    `gorm:"column:error_message"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (SyncStatusModel) TableName() string { return "sync_status" }

// NewSQLiteAdapter opens the database at path and migrates the schema.
//
// The connection runs in WAL mode with a busy timeout and immediate
// transactions so concurrent batch writers serialize instead of failing.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("register tracing plugin: %w", err)
	}

	// Auto Migrate
	if err := db.AutoMigrate(
		&VulnerabilityModel{},
		&ExploitedEntryModel{},
		&IPReputationModel{},
		&ExploitationScoreModel{},
		&SyncStatusModel{},
		&CheckpointModel{},
		&ReportModel{},
	); err != nil {
		return nil, err
	}

	// Create Indices for the critical findings ordering
	db.Exec("CREATE INDEX IF NOT EXISTS idx_ip_reputations_confidence ON ip_reputations(abuse_confidence_score)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_exploited_ransomware ON exploited_entries(known_ransomware_campaign_use)")

	return &SQLiteAdapter{db: db}, nil
}

// dsn appends the connection pragmas understood by mattn/go-sqlite3.
func dsn(path string) string {
	params := "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	if path == ":memory:" {
		return "file::memory:?cache=shared&_busy_timeout=5000"
	}
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return "file:" + path + "?" + params
}

// classify maps engine errors onto the package sentinels, keeping the cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", ErrConstraint, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	return err
}

// Close closes the database connection.
func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection, used by the readiness endpoint.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Ensure interface compliance
var (
	_ ports.IntelStore       = (*SQLiteAdapter)(nil)
	_ ports.CheckpointStore  = (*SQLiteAdapter)(nil)
	_ ports.ReportRepository = (*SQLiteAdapter)(nil)
)
