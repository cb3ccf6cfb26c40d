package domain

import (
	"maps"
	"slices"
)

// Stage is a node of the assessment workflow.
type Stage string

const (
	StageEnrichment       Stage = "enrichment"
	StageRiskScoring      Stage = "risk_scoring"
	StageAssetMatching    Stage = "asset_matching"
	StageTechniqueMapping Stage = "technique_mapping"
	StageCritique         Stage = "critique"
	StageReportGeneration Stage = "report_generation"
	StageDone             Stage = "done"
)

// DefaultMaxReflexion is the number of critique-driven retries of technique mapping.
const DefaultMaxReflexion = 2

// RiskLevel classifies a computed risk score.
type RiskLevel string

const (
	RiskLevelHigh RiskLevel = "high_risk"
	RiskLevelLow  RiskLevel = "low_risk"
)

// ImpactLevel is the effect a vulnerability has on matched infrastructure.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "LOW"
	ImpactMedium   ImpactLevel = "MEDIUM"
	ImpactHigh     ImpactLevel = "HIGH"
	ImpactCritical ImpactLevel = "CRITICAL"
)

// ImpactLevels lists the accepted impact levels in ascending order.
var ImpactLevels = []ImpactLevel{ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical}

// Valid reports whether l is one of the accepted levels.
func (l ImpactLevel) Valid() bool {
	return slices.Contains(ImpactLevels, l)
}

// EnrichedData is the structured analysis extracted from a description.
type EnrichedData struct {
	AffectedComponent string `json:"affected_component"`
	AttackVector      string `json:"attack_vector"`
	ImpactType        string `json:"impact_type"`
	CWE               string `json:"cwe"`
}

// Technique is a mapped MITRE ATT&CK technique.
type Technique struct {
	ID         string  `json:"technique_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// RiskAdjustment explains how the base risk score was adjusted for the
// organisation's assets.
type RiskAdjustment struct {
	OriginalScore Optional[float64] `json:"original_score"`
	AdjustedScore Optional[float64] `json:"adjusted_score"`
	Multiplier    Optional[float64] `json:"multiplier_applied"`
	ImpactLevel   ImpactLevel       `json:"impact_level"`
	Rationale     string            `json:"rationale"`
}

// Report is the final narrative and structured summary for analysts.
type Report struct {
	Narrative      string `json:"narrative"`
	StructuredJSON string `json:"structured_json"`
}

// Critique is the verdict of the most recent validation pass.
type Critique struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Confidence map keys.
const (
	ConfidenceEnrichment       = "enrichment"
	ConfidenceTechniqueMapping = "technique_mapping"
)

// AssessmentState is the accumulated record of one workflow run.
//
// Stages never mutate it. Each stage returns a StatePatch which the workflow
// merges with Apply.
type AssessmentState struct {
	CVEID             string                   `json:"cve_id"`
	Raw               CriticalFinding          `json:"raw_data"`
	Enrichment        Optional[EnrichedData]   `json:"enriched_data,omitzero"`
	RiskScore         Optional[float64]        `json:"risk_score,omitzero"`
	RiskLevel         RiskLevel                `json:"risk_level,omitempty"`
	ImpactedAssets    []string                 `json:"impacted_assets"`
	Relevant          bool                     `json:"is_relevant"`
	AdjustedRiskScore Optional[float64]        `json:"adjusted_risk_score,omitzero"`
	RiskAdjustment    Optional[RiskAdjustment] `json:"risk_adjustment,omitzero"`
	Techniques        []Technique              `json:"ttp_mappings"`
	Confidence        map[string]float64       `json:"confidence_scores"`
	Critique          Optional[Critique]       `json:"critique,omitzero"`
	ReflexionCount    int                      `json:"reflexion_count"`
	MaxReflexion      int                      `json:"max_reflexion"`
	Errors            []string                 `json:"errors"`
	FinalReport       Optional[Report]         `json:"final_report,omitzero"`
}

// NewAssessmentState creates the initial state for a finding with every
// optional field unset.
func NewAssessmentState(f CriticalFinding, maxReflexion int) AssessmentState {
	if maxReflexion < 0 {
		maxReflexion = DefaultMaxReflexion
	}
	return AssessmentState{
		CVEID:          f.ID,
		Raw:            f,
		ImpactedAssets: []string{},
		Techniques:     []Technique{},
		Confidence:     map[string]float64{},
		Errors:         []string{},
		MaxReflexion:   maxReflexion,
	}
}

// Clone returns a deep copy so callers can hold a snapshot safely.
func (s AssessmentState) Clone() AssessmentState {
	out := s
	out.ImpactedAssets = slices.Clone(s.ImpactedAssets)
	out.Techniques = slices.Clone(s.Techniques)
	out.Errors = slices.Clone(s.Errors)
	out.Confidence = maps.Clone(s.Confidence)
	if out.Confidence == nil {
		out.Confidence = map[string]float64{}
	}
	if c, ok := s.Critique.Get(); ok {
		c.Failures = slices.Clone(c.Failures)
		c.Warnings = slices.Clone(c.Warnings)
		out.Critique = Some(c)
	}
	if s.Raw.Severity != nil {
		out.Raw.Severity = Float(*s.Raw.Severity)
	}
	if s.Raw.ExploitProbability != nil {
		out.Raw.ExploitProbability = Float(*s.Raw.ExploitProbability)
	}
	if s.Raw.ExploitPercentile != nil {
		out.Raw.ExploitPercentile = Float(*s.Raw.ExploitPercentile)
	}
	return out
}

// MappingConfidence returns the aggregate technique confidence, 0 when unknown.
func (s AssessmentState) MappingConfidence() float64 {
	return s.Confidence[ConfidenceTechniqueMapping]
}

// Severity returns the base severity, 0 when the vulnerability is unscored.
func (s AssessmentState) Severity() float64 {
	if s.Raw.Severity == nil {
		return 0
	}
	return *s.Raw.Severity
}
