package reporting

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

func sampleReport() domain.AssessmentReport {
	state := domain.NewAssessmentState(domain.CriticalFinding{
		ID:                         "CVE-2024-0001",
		Description:                "Remote code execution in Acme Gateway",
		Severity:                   domain.Float(9.8),
		VendorProject:              "Acme",
		Product:                    "Gateway",
		VulnerabilityName:          "Acme Gateway RCE",
		KnownRansomwareCampaignUse: "Known",
		ExploitProbability:         domain.Float(0.9),
	}, domain.DefaultMaxReflexion)
	state.RiskScore = domain.Some(0.952)
	state.RiskLevel = domain.RiskLevelHigh
	state.Relevant = true
	state.ImpactedAssets = []string{"srv-01"}
	state.AdjustedRiskScore = domain.Some(1.0)
	state.Techniques = []domain.Technique{
		{ID: "T1190", Name: "Exploit Public-Facing Application", Confidence: 0.9},
		{ID: "T1059", Name: "Command and Scripting Interpreter", Confidence: 0.6},
	}
	state.Confidence[domain.ConfidenceTechniqueMapping] = 0.75
	state.FinalReport = domain.Some(domain.Report{
		Narrative:      "srv-01 runs the vulnerable gateway and is reachable from the internet.",
		StructuredJSON: `{"priority":"immediate"}`,
	})

	return domain.AssessmentReport{
		ID:             "a3c1e6f0-0000-4000-8000-000000000001",
		CVEID:          "CVE-2024-0001",
		GeneratedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		ImpactedAssets: []string{"srv-01"},
		Analysis:       state,
	}
}

func TestPDFExporterExport(t *testing.T) {
	exporter := NewPDFExporter()

	pdfData, err := exporter.Export(sampleReport())
	if err != nil {
		t.Fatalf("Failed to export PDF: %v", err)
	}

	if len(pdfData) == 0 {
		t.Fatal("PDF data is empty")
	}

	// PDF files start with %PDF-
	if !bytes.HasPrefix(pdfData, []byte("%PDF-")) {
		t.Error("Generated data does not have PDF header")
	}

	if len(pdfData) < 1000 {
		t.Errorf("PDF file size %d bytes seems too small", len(pdfData))
	}

	t.Logf("Generated PDF size: %d bytes", len(pdfData))
}

func TestPDFExporterWithMinimalData(t *testing.T) {
	exporter := NewPDFExporter()

	report := domain.AssessmentReport{
		ID:          "minimal",
		CVEID:       "CVE-2024-0002",
		GeneratedAt: time.Now(),
		Analysis:    domain.NewAssessmentState(domain.CriticalFinding{ID: "CVE-2024-0002"}, 0),
	}

	pdfData, err := exporter.Export(report)
	if err != nil {
		t.Fatalf("Failed to export minimal PDF: %v", err)
	}
	if !bytes.HasPrefix(pdfData, []byte("%PDF-")) {
		t.Error("Minimal report does not have PDF header")
	}
}

func TestPDFExporterWithMaximalData(t *testing.T) {
	exporter := NewPDFExporter()

	report := sampleReport()
	for i := 0; i < 30; i++ {
		report.Analysis.Techniques = append(report.Analysis.Techniques, domain.Technique{
			ID:         fmt.Sprintf("T1%03d", i),
			Name:       strings.Repeat("Very Long Technique Name ", 4),
			Confidence: float64(i%10) / 10,
		})
		report.Analysis.Errors = append(report.Analysis.Errors, "Too few techniques mapped: 1")
	}
	report.Analysis.FinalReport = domain.Some(domain.Report{
		Narrative: strings.Repeat("This is a very long narrative that should test the PDF layout and text wrapping. ", 60),
	})

	pdfData, err := exporter.Export(report)
	if err != nil {
		t.Fatalf("Failed to export maximal PDF: %v", err)
	}
	if !bytes.HasPrefix(pdfData, []byte("%PDF-")) {
		t.Error("Maximal report does not have PDF header")
	}
	t.Logf("Maximal PDF size: %d bytes", len(pdfData))
}

func TestGetRiskColor(t *testing.T) {
	exporter := &PDFExporter{}

	tests := []struct {
		score float64
		want  [3]int
	}{
		{1.0, [3]int{220, 53, 69}},
		{0.8, [3]int{220, 53, 69}},
		{0.7, [3]int{255, 149, 0}},
		{0.5, [3]int{255, 204, 0}},
		{0.1, [3]int{52, 199, 89}},
		{0, [3]int{52, 199, 89}},
	}

	for _, tt := range tests {
		r, g, b := exporter.getRiskColor(tt.score)
		if [3]int{r, g, b} != tt.want {
			t.Errorf("getRiskColor(%v) = %v, want %v", tt.score, [3]int{r, g, b}, tt.want)
		}
	}
}

func TestGetConfidenceColor(t *testing.T) {
	exporter := &PDFExporter{}

	for _, c := range []float64{0, 0.3, 0.5, 0.6, 0.71, 1} {
		r, g, b := exporter.getConfidenceColor(c)
		for _, v := range []int{r, g, b} {
			if v < 0 || v > 255 {
				t.Errorf("color component %d out of range for confidence %v", v, c)
			}
		}
	}
}

// Benchmark PDF generation
func BenchmarkPDFExport(b *testing.B) {
	exporter := NewPDFExporter()
	report := sampleReport()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := exporter.Export(report)
		if err != nil {
			b.Fatalf("Export failed: %v", err)
		}
	}
}
