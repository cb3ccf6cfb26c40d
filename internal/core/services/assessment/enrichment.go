package assessment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// EnrichmentConfidence is recorded when the description was analysed.
const EnrichmentConfidence = 0.9

// Node is one stage handler of the workflow. Handlers never fail: a failed
// step is reported through the errors of the returned patch.
type Node interface {
	Run(ctx context.Context, state domain.AssessmentState) domain.StatePatch
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc func(ctx context.Context, state domain.AssessmentState) domain.StatePatch

func (f NodeFunc) Run(ctx context.Context, state domain.AssessmentState) domain.StatePatch {
	return f(ctx, state)
}

// Enricher extracts structured facts from the vulnerability description.
type Enricher struct {
	reasoner ports.ReasoningService
}

// NewEnricher creates the enrichment stage.
func NewEnricher(reasoner ports.ReasoningService) *Enricher {
	return &Enricher{reasoner: reasoner}
}

func (e *Enricher) Run(ctx context.Context, s domain.AssessmentState) domain.StatePatch {
	prompt := fmt.Sprintf("Vulnerability: %s\nName: %s\nVendor/Product: %s %s\nDescription: %s",
		s.CVEID, s.Raw.VulnerabilityName, s.Raw.VendorProject, s.Raw.Product, s.Raw.Description)

	var out domain.EnrichedData
	err := e.reasoner.Reason(ctx, ports.ReasoningRequest{
		Task:        ports.TaskEnrichment,
		Instruction: enrichmentInstruction,
		Prompt:      prompt,
		Schema:      enrichmentSchema,
	}, &out)
	if err != nil {
		slog.Error("enrichment failed", "cve", s.CVEID, "error", err)
		return domain.StatePatch{
			Enrichment: domain.Null[domain.EnrichedData](),
			Confidence: map[string]float64{domain.ConfidenceEnrichment: 0},
			Errors:     []string{fmt.Sprintf("Enrichment failed: %v", err)},
		}
	}

	slog.Info("enrichment completed", "cve", s.CVEID, "component", out.AffectedComponent, "cwe", out.CWE)
	return domain.StatePatch{
		Enrichment: domain.Some(out),
		Confidence: map[string]float64{domain.ConfidenceEnrichment: EnrichmentConfidence},
	}
}
