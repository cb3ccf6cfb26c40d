package scoring

import (
	"testing"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	rc := NewRiskCalculator()

	tests := []struct {
		name       string
		severity   *float64
		p          *float64
		ransomware string
		expected   float64
		level      domain.RiskLevel
		degraded   []string
	}{
		{
			name:       "Critical exploited with ransomware",
			severity:   domain.Float(9.8),
			p:          domain.Float(0.9),
			ransomware: "Known",
			expected:   0.952,
			level:      domain.RiskLevelHigh,
		},
		{
			name:       "Medium severity without exploitation score",
			severity:   domain.Float(5.0),
			ransomware: "Unknown",
			expected:   0.22,
			level:      domain.RiskLevelLow,
			degraded:   []string{InputExploitProbability},
		},
		{
			name:       "Real zero probability is not defaulted",
			severity:   domain.Float(5.0),
			p:          domain.Float(0),
			ransomware: "",
			expected:   0.2,
			level:      domain.RiskLevelLow,
		},
		{
			name:       "Missing severity counts as zero",
			p:          domain.Float(1.0),
			ransomware: "Known",
			expected:   0.6,
			level:      domain.RiskLevelHigh,
			degraded:   []string{InputSeverity},
		},
		{
			name:       "Maximum inputs",
			severity:   domain.Float(10),
			p:          domain.Float(1),
			ransomware: "Known",
			expected:   1.0,
			level:      domain.RiskLevelHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rc.Calculate(tt.severity, tt.p, tt.ransomware)
			assert.InDelta(t, tt.expected, res.Score, 1e-9)
			assert.Equal(t, tt.level, res.Level)
			assert.Equal(t, tt.degraded, res.Degraded)
		})
	}
}

func TestIsRansomwareLinked(t *testing.T) {
	tests := []struct {
		use    string
		linked bool
	}{
		{"Known", true},
		{"known", true},
		{"Yes", true},
		{"Unknown", false},
		{"UNKNOWN", false},
		{" none ", false},
		{"N/A", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.linked, IsRansomwareLinked(tt.use), tt.use)
	}
}

func TestGetRiskLevel(t *testing.T) {
	assert.Equal(t, domain.RiskLevelHigh, GetRiskLevel(0.6))
	assert.Equal(t, domain.RiskLevelLow, GetRiskLevel(0.5999))
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.8640, Round4(0.86400000001))
	assert.Equal(t, 0.1235, Round4(0.12346))
}
