package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

type mappingResult struct {
	Techniques []domain.Technique `json:"techniques"`
}

// TechniqueMapper maps a finding onto ATT&CK techniques.
type TechniqueMapper struct {
	reasoner ports.ReasoningService
}

// NewTechniqueMapper creates the technique mapping stage.
func NewTechniqueMapper(reasoner ports.ReasoningService) *TechniqueMapper {
	return &TechniqueMapper{reasoner: reasoner}
}

func (m *TechniqueMapper) Run(ctx context.Context, s domain.AssessmentState) domain.StatePatch {
	var res mappingResult
	err := m.reasoner.Reason(ctx, ports.ReasoningRequest{
		Task:        ports.TaskTechniqueMapping,
		Instruction: techniqueMappingInstruction,
		Prompt:      mappingPrompt(s),
		Schema:      techniqueMappingSchema,
	}, &res)
	if err != nil {
		slog.Error("technique mapping failed", "cve", s.CVEID, "attempt", s.ReflexionCount+1, "error", err)
		return domain.StatePatch{
			Techniques: domain.Some([]domain.Technique{}),
			Confidence: map[string]float64{domain.ConfidenceTechniqueMapping: 0},
			Errors:     []string{fmt.Sprintf("Technique mapping failed: %v", err)},
		}
	}

	techniques := make([]domain.Technique, 0, len(res.Techniques))
	for _, t := range res.Techniques {
		t.ID = strings.TrimSpace(t.ID)
		if !domain.IsValidTechniqueID(t.ID) {
			slog.Warn("discarding malformed technique id", "cve", s.CVEID, "technique", t.ID)
			continue
		}
		t.Confidence = min(max(t.Confidence, 0), 1)
		techniques = append(techniques, t)
	}

	confidence := AggregateConfidence(techniques)
	slog.Info("technique mapping completed", "cve", s.CVEID,
		"attempt", s.ReflexionCount+1, "techniques", len(techniques), "confidence", confidence)

	return domain.StatePatch{
		Techniques: domain.Some(techniques),
		Confidence: map[string]float64{domain.ConfidenceTechniqueMapping: confidence},
	}
}

// AggregateConfidence is the highest individual confidence, 0 for none.
func AggregateConfidence(techniques []domain.Technique) float64 {
	best := 0.0
	for _, t := range techniques {
		best = max(best, t.Confidence)
	}
	return best
}

func mappingPrompt(s domain.AssessmentState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vulnerability: %s\nName: %s\nDescription: %s\n", s.CVEID, s.Raw.VulnerabilityName, s.Raw.Description)
	if e, ok := s.Enrichment.Get(); ok {
		fmt.Fprintf(&b, "Affected component: %s\nAttack vector: %s\nImpact type: %s\nWeakness: %s\n",
			e.AffectedComponent, e.AttackVector, e.ImpactType, e.CWE)
	}

	// Feedback from the previous critique on retry cycles.
	if c, ok := s.Critique.Get(); ok && s.ReflexionCount > 0 && len(c.Failures) > 0 {
		b.WriteString("\nA previous mapping was rejected for these reasons:\n")
		for _, f := range c.Failures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("Address them in the new mapping.\n")
	}
	return b.String()
}
