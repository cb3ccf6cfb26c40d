package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// ReportGenerator writes the analyst-facing report from the final state.
type ReportGenerator struct {
	reasoner ports.ReasoningService
}

// NewReportGenerator creates the report generation stage.
func NewReportGenerator(reasoner ports.ReasoningService) *ReportGenerator {
	return &ReportGenerator{reasoner: reasoner}
}

type reportInput struct {
	CVEID             string                               `json:"cve_id"`
	VulnerabilityName string                               `json:"vulnerability_name"`
	RiskLevel         domain.RiskLevel                     `json:"risk_level"`
	RiskScore         domain.Optional[float64]             `json:"risk_score"`
	AdjustedRiskScore domain.Optional[float64]             `json:"adjusted_risk_score"`
	ImpactedAssets    []string                             `json:"impacted_assets"`
	Enrichment        domain.Optional[domain.EnrichedData] `json:"enriched_data"`
	Techniques        []domain.Technique                   `json:"ttp_mappings"`
	Errors            []string                             `json:"errors,omitempty"`
}

func (g *ReportGenerator) Run(ctx context.Context, s domain.AssessmentState) domain.StatePatch {
	data, err := json.Marshal(reportInput{
		CVEID:             s.CVEID,
		VulnerabilityName: s.Raw.VulnerabilityName,
		RiskLevel:         s.RiskLevel,
		RiskScore:         s.RiskScore,
		AdjustedRiskScore: s.AdjustedRiskScore,
		ImpactedAssets:    s.ImpactedAssets,
		Enrichment:        s.Enrichment,
		Techniques:        s.Techniques,
		Errors:            s.Errors,
	})
	if err == nil {
		var out domain.Report
		err = g.reasoner.Reason(ctx, ports.ReasoningRequest{
			Task:        ports.TaskReportGeneration,
			Instruction: reportInstruction,
			Prompt:      fmt.Sprintf("State Data: %s", data),
			Schema:      reportSchema,
		}, &out)
		if err == nil {
			slog.Info("report generated", "cve", s.CVEID)
			return domain.StatePatch{FinalReport: domain.Some(out)}
		}
	}

	slog.Error("report generation failed", "cve", s.CVEID, "error", err)
	return domain.StatePatch{
		FinalReport: domain.Null[domain.Report](),
		Errors:      []string{fmt.Sprintf("Report generation failed: %v", err)},
	}
}
