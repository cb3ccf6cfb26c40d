package domain

import "slices"

// StatePatch is the partial result of one workflow stage.
//
// Unset fields leave the state untouched. Set fields (including explicit
// nulls) replace the state field. Confidence merges key by key and Errors
// are appended.
type StatePatch struct {
	Enrichment        Optional[EnrichedData]
	RiskScore         Optional[float64]
	RiskLevel         Optional[RiskLevel]
	ImpactedAssets    Optional[[]string]
	Relevant          Optional[bool]
	AdjustedRiskScore Optional[float64]
	RiskAdjustment    Optional[RiskAdjustment]
	Techniques        Optional[[]Technique]
	Confidence        map[string]float64
	Critique          Optional[Critique]
	ReflexionCount    Optional[int]
	Errors            []string
	FinalReport       Optional[Report]
}

// IsEmpty reports whether applying the patch would change nothing.
func (p StatePatch) IsEmpty() bool {
	return !p.Enrichment.IsSet() && !p.RiskScore.IsSet() && !p.RiskLevel.IsSet() &&
		!p.ImpactedAssets.IsSet() && !p.Relevant.IsSet() && !p.AdjustedRiskScore.IsSet() &&
		!p.RiskAdjustment.IsSet() && !p.Techniques.IsSet() && len(p.Confidence) == 0 &&
		!p.Critique.IsSet() && !p.ReflexionCount.IsSet() && len(p.Errors) == 0 &&
		!p.FinalReport.IsSet()
}

// Apply merges the patch into a copy of s and returns it. s is not modified.
func (p StatePatch) Apply(s AssessmentState) AssessmentState {
	out := s.Clone()

	if p.Enrichment.IsSet() {
		out.Enrichment = p.Enrichment
	}
	if p.RiskScore.IsSet() {
		out.RiskScore = p.RiskScore
	}
	if v, ok := p.RiskLevel.Get(); ok {
		out.RiskLevel = v
	} else if p.RiskLevel.IsNull() {
		out.RiskLevel = ""
	}
	if p.ImpactedAssets.IsSet() {
		v, _ := p.ImpactedAssets.Get()
		out.ImpactedAssets = append([]string{}, v...)
	}
	if v, ok := p.Relevant.Get(); ok {
		out.Relevant = v
	}
	if p.AdjustedRiskScore.IsSet() {
		out.AdjustedRiskScore = p.AdjustedRiskScore
	}
	if p.RiskAdjustment.IsSet() {
		out.RiskAdjustment = p.RiskAdjustment
	}
	if p.Techniques.IsSet() {
		v, _ := p.Techniques.Get()
		out.Techniques = append([]Technique{}, v...)
	}
	for k, v := range p.Confidence {
		out.Confidence[k] = v
	}
	if c, ok := p.Critique.Get(); ok {
		c.Failures = slices.Clone(c.Failures)
		c.Warnings = slices.Clone(c.Warnings)
		out.Critique = Some(c)
	} else if p.Critique.IsNull() {
		out.Critique = p.Critique
	}
	if v, ok := p.ReflexionCount.Get(); ok {
		out.ReflexionCount = v
	}
	out.Errors = append(out.Errors, p.Errors...)
	if p.FinalReport.IsSet() {
		out.FinalReport = p.FinalReport
	}
	return out
}
