package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"github.com/lcalzada-xor/vulnintel/internal/core/services/scoring"
)

const (
	multiplierSevere   = 1.2 // HIGH or CRITICAL impact
	multiplierModerate = 1.1
	multiplierNone     = 1.0
)

type matchResult struct {
	ImpactedAssetIDs []string `json:"impacted_asset_ids"`
	IsRelevant       bool     `json:"is_relevant"`
	ImpactLevel      string   `json:"impact_level"`
	Reasoning        string   `json:"reasoning"`
}

// RelevanceMatcher decides whether a finding affects the organisation's
// assets and adjusts the base risk score accordingly.
type RelevanceMatcher struct {
	reasoner  ports.ReasoningService
	inventory ports.AssetInventory
	maxScore  float64
}

// NewRelevanceMatcher creates the asset matching stage.
func NewRelevanceMatcher(reasoner ports.ReasoningService, inventory ports.AssetInventory) *RelevanceMatcher {
	return &RelevanceMatcher{
		reasoner:  reasoner,
		inventory: inventory,
		maxScore:  scoring.MaxScore,
	}
}

func (m *RelevanceMatcher) Run(ctx context.Context, s domain.AssessmentState) domain.StatePatch {
	res, err := m.match(ctx, s)
	if err != nil {
		slog.Error("asset matching failed", "cve", s.CVEID, "error", err)
		return domain.StatePatch{
			Relevant:       domain.Some(false),
			ImpactedAssets: domain.Some([]string{}),
			Errors:         []string{fmt.Sprintf("Asset matching failed: %v", err)},
		}
	}

	level := domain.ImpactLevel(res.ImpactLevel)
	adj := AdjustRisk(s.RiskScore, res.IsRelevant, level, res.ImpactedAssetIDs, m.maxScore)

	slog.Info("asset matching completed", "cve", s.CVEID,
		"relevant", res.IsRelevant, "impact_level", level,
		"base", s.RiskScore.String(), "adjusted", adj.AdjustedScore.String())

	assets := res.ImpactedAssetIDs
	if assets == nil {
		assets = []string{}
	}
	return domain.StatePatch{
		ImpactedAssets:    domain.Some(assets),
		Relevant:          domain.Some(res.IsRelevant),
		AdjustedRiskScore: adj.AdjustedScore,
		RiskAdjustment:    domain.Some(adj),
	}
}

func (m *RelevanceMatcher) match(ctx context.Context, s domain.AssessmentState) (*matchResult, error) {
	if m.inventory == nil {
		return nil, fmt.Errorf("no asset inventory configured")
	}
	assets, err := m.inventory.Assets(ctx)
	if err != nil {
		return nil, err
	}
	inventory, err := json.MarshalIndent(assets, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode inventory: %w", err)
	}

	component := "Unknown"
	if e, ok := s.Enrichment.Get(); ok && e.AffectedComponent != "" {
		component = e.AffectedComponent
	}
	description := s.Raw.Description
	if description == "" {
		description = "No description available"
	}

	prompt := fmt.Sprintf(`Compare the vulnerability data with the asset inventory.

VULNERABILITY DATA (CVE: %s):
- Description: %s
- Affected Component (Analysis): %s

INTERNAL ASSET INVENTORY (CMDB):
%s`, s.CVEID, description, component, inventory)

	var res matchResult
	if err := m.reasoner.Reason(ctx, ports.ReasoningRequest{
		Task:        ports.TaskAssetMatching,
		Instruction: assetMatchingInstruction,
		Prompt:      prompt,
		Schema:      assetMatchingSchema,
	}, &res); err != nil {
		return nil, err
	}
	if !domain.ImpactLevel(res.ImpactLevel).Valid() {
		return nil, fmt.Errorf("%w: impact level %q", ports.ErrReasoningFailed, res.ImpactLevel)
	}
	return &res, nil
}

// AdjustRisk applies the asset relevance multiplier to the base score.
//
// A relevant finding is scaled by 1.2 for HIGH or CRITICAL impact and 1.1
// otherwise, capped at maxScore and rounded to four decimals. An irrelevant
// finding keeps its base score. Without a base score the adjusted score is
// explicitly null.
func AdjustRisk(base domain.Optional[float64], relevant bool, level domain.ImpactLevel, assets []string, maxScore float64) domain.RiskAdjustment {
	score, ok := base.Get()
	if !ok {
		return domain.RiskAdjustment{
			OriginalScore: domain.Null[float64](),
			AdjustedScore: domain.Null[float64](),
			Multiplier:    domain.Null[float64](),
			ImpactLevel:   level,
			Rationale:     "Score not computable: base risk score unavailable.",
		}
	}

	if !relevant {
		return domain.RiskAdjustment{
			OriginalScore: domain.Some(score),
			AdjustedScore: domain.Some(score),
			Multiplier:    domain.Some(multiplierNone),
			ImpactLevel:   level,
			Rationale:     "No impacted assets: score unchanged.",
		}
	}

	multiplier := multiplierModerate
	if level == domain.ImpactHigh || level == domain.ImpactCritical {
		multiplier = multiplierSevere
	}
	adjusted := scoring.Round4(math.Min(maxScore, score*multiplier))
	return domain.RiskAdjustment{
		OriginalScore: domain.Some(score),
		AdjustedScore: domain.Some(adjusted),
		Multiplier:    domain.Some(multiplier),
		ImpactLevel:   level,
		Rationale: fmt.Sprintf("Assets %v impacted (impact_level=%s). Multiplier %.1fx applied.",
			assets, level, multiplier),
	}
}
