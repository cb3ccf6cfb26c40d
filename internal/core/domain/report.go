package domain

import (
	"errors"
	"time"
)

// Domain Errors
var (
	ErrNoReport = errors.New("assessment produced no report")
)

// AssessmentReport is the artifact persisted by report sinks once a workflow
// reaches its terminal stage.
type AssessmentReport struct {
	ID             string          `json:"id"`
	CVEID          string          `json:"cve_id"`
	GeneratedAt    time.Time       `json:"generated_at"`
	ImpactedAssets []string        `json:"impacted_assets"`
	Analysis       AssessmentState `json:"analysis"`
}

// ReportSummary holds the headline numbers rendered at the top of exports.
type ReportSummary struct {
	RiskScore         Optional[float64]
	AdjustedRiskScore Optional[float64]
	RiskLevel         RiskLevel
	TechniqueCount    int
	MappingConfidence float64
	ReflexionCycles   int
	ErrorCount        int
}

// Summary extracts the headline numbers of the report.
func (r AssessmentReport) Summary() ReportSummary {
	return ReportSummary{
		RiskScore:         r.Analysis.RiskScore,
		AdjustedRiskScore: r.Analysis.AdjustedRiskScore,
		RiskLevel:         r.Analysis.RiskLevel,
		TechniqueCount:    len(r.Analysis.Techniques),
		MappingConfidence: r.Analysis.MappingConfidence(),
		ReflexionCycles:   r.Analysis.ReflexionCount,
		ErrorCount:        len(r.Analysis.Errors),
	}
}
