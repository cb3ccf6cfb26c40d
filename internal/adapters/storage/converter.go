package storage

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

// utc normalizes timestamps so text comparison in SQLite orders them correctly.
func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func encodeJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func vulnerabilityToModel(v domain.Vulnerability) VulnerabilityModel {
	var refs string
	if len(v.References) > 0 {
		refs = encodeJSON(v.References)
	}
	return VulnerabilityModel{
		CVEID:          v.ID,
		Description:    v.Description,
		Published:      utc(v.Published),
		LastModified:   utc(v.LastModified),
		CVSSScore:      v.Severity,
		CVSSVector:     v.CVSSVector,
		ReferencesJSON: refs,
	}
}

func vulnerabilityToDomain(m VulnerabilityModel) domain.Vulnerability {
	v := domain.Vulnerability{
		ID:           m.CVEID,
		Description:  m.Description,
		Published:    m.Published,
		LastModified: m.LastModified,
		Severity:     m.CVSSScore,
		CVSSVector:   m.CVSSVector,
	}
	if m.ReferencesJSON != "" {
		_ = json.Unmarshal([]byte(m.ReferencesJSON), &v.References)
	}
	return v
}

func exploitedEntryToModel(e domain.ExploitedEntry) ExploitedEntryModel {
	return ExploitedEntryModel{
		CVEID:                      e.CVEID,
		VendorProject:              e.VendorProject,
		Product:                    e.Product,
		VulnerabilityName:          e.VulnerabilityName,
		DateAdded:                  utc(e.DateAdded),
		ShortDescription:           e.ShortDescription,
		RequiredAction:             e.RequiredAction,
		DueDate:                    utc(e.DueDate),
		KnownRansomwareCampaignUse: e.KnownRansomwareCampaignUse,
	}
}

func ipReputationToModel(r domain.IPReputation) IPReputationModel {
	var reports string
	if len(r.Reports) > 0 {
		normalized := slices.Clone(r.Reports)
		for i := range normalized {
			normalized[i].ReportedAt = utc(normalized[i].ReportedAt)
		}
		reports = encodeJSON(normalized)
	}
	return IPReputationModel{
		IPAddress:            domain.NormalizeIP(r.IPAddress),
		IsPublic:             r.IsPublic,
		IPVersion:            r.IPVersion,
		IsWhitelisted:        r.IsWhitelisted,
		AbuseConfidenceScore: r.AbuseConfidenceScore,
		CountryCode:          r.CountryCode,
		UsageType:            r.UsageType,
		ISP:                  r.ISP,
		Domain:               r.Domain,
		TotalReports:         r.TotalReports,
		LastReportedAt:       utcPtr(r.LastReportedAt),
		ReportsJSON:          reports,
	}
}

func ipReputationToDomain(m IPReputationModel) domain.IPReputation {
	r := domain.IPReputation{
		IPAddress:            m.IPAddress,
		IsPublic:             m.IsPublic,
		IPVersion:            m.IPVersion,
		IsWhitelisted:        m.IsWhitelisted,
		AbuseConfidenceScore: m.AbuseConfidenceScore,
		CountryCode:          m.CountryCode,
		UsageType:            m.UsageType,
		ISP:                  m.ISP,
		Domain:               m.Domain,
		TotalReports:         m.TotalReports,
		LastReportedAt:       m.LastReportedAt,
	}
	if m.ReportsJSON != "" {
		_ = json.Unmarshal([]byte(m.ReportsJSON), &r.Reports)
	}
	return r
}

func exploitationScoreToModel(s domain.ExploitationScore) ExploitationScoreModel {
	fetched := utc(s.FetchedAt)
	if fetched.IsZero() {
		fetched = time.Now().UTC()
	}
	return ExploitationScoreModel{
		CVEID:      s.CVEID,
		Score:      s.Score,
		Percentile: s.Percentile,
		FetchedAt:  fetched,
	}
}

func syncStatusToDomain(m SyncStatusModel) domain.SyncStatus {
	return domain.SyncStatus{
		Feed:         m.Feed,
		LastSyncTime: m.LastSyncTime,
		RecordCount:  m.RecordCount,
		ErrorMessage: m.ErrorMessage,
	}
}
