package scoring

import (
	"math"
	"strings"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

const (
	severityWeight    = 0.4
	probabilityWeight = 0.4
	ransomwareWeight  = 0.2

	// HighRiskThreshold is the lowest score classified as high risk.
	HighRiskThreshold = 0.6
	// DefaultExploitProbability stands in for a missing exploitation score.
	DefaultExploitProbability = 0.05
	// MaxScore is the largest score the calculator can produce.
	MaxScore = 1.0
)

// Degraded input names.
const (
	InputSeverity           = "severity"
	InputExploitProbability = "exploit_probability"
)

// negativeRansomware are the campaign-use values meaning "not used in ransomware".
var negativeRansomware = map[string]bool{
	"none":    true,
	"unknown": true,
	"":        true,
	"n/a":     true,
}

// Result is the outcome of a risk calculation.
type Result struct {
	Score    float64
	Level    domain.RiskLevel
	Degraded []string // inputs that were missing and replaced by defaults
}

// RiskCalculator computes the base risk score of a finding.
type RiskCalculator struct{}

// NewRiskCalculator creates a new risk calculator instance
func NewRiskCalculator() *RiskCalculator {
	return &RiskCalculator{}
}

// Calculate combines severity, exploitation probability and ransomware use
// into a score in [0, 1].
//
// A missing severity counts as 0. A missing probability counts as
// DefaultExploitProbability. Both are reported in Result.Degraded.
func (rc *RiskCalculator) Calculate(severity, exploitProbability *float64, ransomwareUse string) Result {
	var degraded []string

	sev := 0.0
	if severity != nil {
		sev = *severity
	} else {
		degraded = append(degraded, InputSeverity)
	}

	p := DefaultExploitProbability
	if exploitProbability != nil {
		p = *exploitProbability
	} else {
		degraded = append(degraded, InputExploitProbability)
	}

	flag := 0.0
	if IsRansomwareLinked(ransomwareUse) {
		flag = 1.0
	}

	score := severityWeight*(sev/10.0) + probabilityWeight*p + ransomwareWeight*flag
	score = math.Max(0, math.Min(score, MaxScore))

	return Result{
		Score:    score,
		Level:    GetRiskLevel(score),
		Degraded: degraded,
	}
}

// IsRansomwareLinked reports whether a campaign-use value indicates known
// ransomware use. Comparison ignores case and surrounding whitespace.
func IsRansomwareLinked(use string) bool {
	return !negativeRansomware[strings.ToLower(strings.TrimSpace(use))]
}

// GetRiskLevel converts numeric score to a risk level
func GetRiskLevel(score float64) domain.RiskLevel {
	if score >= HighRiskThreshold {
		return domain.RiskLevelHigh
	}
	return domain.RiskLevelLow
}

// Round4 rounds to four decimal places, the precision scores are stored with.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
