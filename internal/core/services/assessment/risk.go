package assessment

import (
	"context"
	"log/slog"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/scoring"
	"github.com/lcalzada-xor/vulnintel/internal/telemetry"
)

// RiskScorer computes the base risk score from the raw finding.
type RiskScorer struct {
	calc *scoring.RiskCalculator
}

// NewRiskScorer creates the scoring stage.
func NewRiskScorer(calc *scoring.RiskCalculator) *RiskScorer {
	if calc == nil {
		calc = scoring.NewRiskCalculator()
	}
	return &RiskScorer{calc: calc}
}

func (r *RiskScorer) Run(_ context.Context, s domain.AssessmentState) domain.StatePatch {
	res := r.calc.Calculate(s.Raw.Severity, s.Raw.ExploitProbability, s.Raw.KnownRansomwareCampaignUse)

	for _, input := range res.Degraded {
		telemetry.DegradedInputs.WithLabelValues(input).Inc()
		slog.Warn("risk score computed with defaulted input", "cve", s.CVEID, "input", input)
	}
	slog.Info("risk score computed", "cve", s.CVEID, "score", res.Score, "level", res.Level)

	return domain.StatePatch{
		RiskScore: domain.Some(res.Score),
		RiskLevel: domain.Some(res.Level),
	}
}
