package reporting

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// PDFExporter exports assessment reports to PDF format
type PDFExporter struct {
	generatedBy string
}

var _ ports.ReportExporter = (*PDFExporter)(nil)

// NewPDFExporter creates a new PDF exporter instance
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{generatedBy: "vulnintel"}
}

// Export renders an assessment report.
func (e *PDFExporter) Export(report domain.AssessmentReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	e.addHeader(pdf, tr, report)
	e.addRiskScore(pdf, report)
	e.addOverview(pdf, report)
	e.addTechniques(pdf, tr, report)
	e.addNarrative(pdf, tr, report)
	e.addErrors(pdf, tr, report)
	e.addFooter(pdf, report)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func sectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, tr func(string) string, report domain.AssessmentReport) {
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 15, "Vulnerability Assessment: "+report.CVEID, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if name := report.Analysis.Raw.VulnerabilityName; name != "" {
		pdf.SetFont("Arial", "", 14)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 8, tr(name), "", 1, "L", false, 0, "")
		pdf.Ln(2)
	}

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")), "", 1, "L", false, 0, "")
	if vp := strings.TrimSpace(report.Analysis.Raw.VendorProject + " " + report.Analysis.Raw.Product); vp != "" {
		pdf.CellFormat(0, 6, tr("Affected: "+vp), "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)
}

// addRiskScore draws the adjusted score when computed, the base score otherwise.
func (e *PDFExporter) addRiskScore(pdf *gofpdf.Fpdf, report domain.AssessmentReport) {
	a := report.Analysis
	score, label := a.RiskScore, "Base risk"
	if a.AdjustedRiskScore.HasValue() {
		score, label = a.AdjustedRiskScore, "Adjusted risk"
	}

	r, g, b := e.getRiskColor(score.OrElse(0))
	pdf.SetFillColor(r, g, b)
	pdf.Rect(20, pdf.GetY(), 170, 30, "F")
	y := pdf.GetY()

	pdf.SetFont("Arial", "B", 36)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetXY(25, y+5)
	scoreStr := "n/a"
	if v, ok := score.Get(); ok {
		scoreStr = fmt.Sprintf("%.2f", v)
	}
	pdf.CellFormat(80, 20, scoreStr, "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "B", 18)
	pdf.SetXY(110, y+8)
	level := string(a.RiskLevel)
	if level == "" {
		level = "unscored"
	}
	pdf.CellFormat(80, 14, fmt.Sprintf("%s: %s", label, strings.ReplaceAll(level, "_", " ")), "", 0, "L", false, 0, "")

	pdf.SetY(y + 35)
	pdf.Ln(5)
}

// getRiskColor returns RGB color based on a score in [0, 1]
func (e *PDFExporter) getRiskColor(score float64) (r, g, b int) {
	switch {
	case score >= 0.8:
		return 220, 53, 69 // Red (Critical)
	case score >= 0.6:
		return 255, 149, 0 // Orange (High)
	case score >= 0.4:
		return 255, 204, 0 // Yellow (Medium)
	default:
		return 52, 199, 89 // Green (Low)
	}
}

func (e *PDFExporter) addOverview(pdf *gofpdf.Fpdf, report domain.AssessmentReport) {
	sectionTitle(pdf, "Assessment Overview")
	s := report.Summary()
	raw := report.Analysis.Raw

	optional := func(p *float64, format string) string {
		if p == nil {
			return "n/a"
		}
		return fmt.Sprintf(format, *p)
	}
	assets := "none"
	if len(report.ImpactedAssets) > 0 {
		assets = strings.Join(report.ImpactedAssets, ", ")
	}

	stats := []struct {
		label string
		value string
	}{
		{"CVSS Severity", optional(raw.Severity, "%.1f")},
		{"EPSS Probability", optional(raw.ExploitProbability, "%.4f")},
		{"Ransomware Use", raw.KnownRansomwareCampaignUse},
		{"Impacted Assets", assets},
		{"Techniques Mapped", fmt.Sprintf("%d", s.TechniqueCount)},
		{"Mapping Confidence", fmt.Sprintf("%.2f", s.MappingConfidence)},
		{"Reflexion Cycles", fmt.Sprintf("%d", s.ReflexionCycles)},
		{"Errors", fmt.Sprintf("%d", s.ErrorCount)},
	}

	colWidth := 85.0
	for i, stat := range stats {
		x := 20.0
		if i%2 == 1 {
			x = 105.0
		}
		pdf.SetXY(x, pdf.GetY())

		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(45, 7, stat.label+":", "", 0, "L", false, 0, "")

		value := stat.value
		if len(value) > 24 {
			value = value[:21] + "..."
		}
		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(0, 102, 204)
		pdf.CellFormat(colWidth-45, 7, value, "", 0, "R", false, 0, "")

		if i%2 == 1 {
			pdf.Ln(7)
		}
	}
	pdf.Ln(10)
}

func (e *PDFExporter) addTechniques(pdf *gofpdf.Fpdf, tr func(string) string, report domain.AssessmentReport) {
	sectionTitle(pdf, "ATT&CK Techniques")

	techniques := report.Analysis.Techniques
	if len(techniques) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 7, "No techniques mapped", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(30, 8, "ID", "1", 0, "C", true, 0, "")
	pdf.CellFormat(110, 8, "Technique", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "Confidence", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, t := range techniques {
		name := t.Name
		if len(name) > 60 {
			name = name[:57] + "..."
		}
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(30, 7, t.ID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(110, 7, tr(name), "1", 0, "L", false, 0, "")
		r, g, b := e.getConfidenceColor(t.Confidence)
		pdf.SetTextColor(r, g, b)
		pdf.CellFormat(30, 7, fmt.Sprintf("%.2f", t.Confidence), "1", 1, "C", false, 0, "")
	}
	pdf.Ln(8)
}

func (e *PDFExporter) getConfidenceColor(c float64) (r, g, b int) {
	switch {
	case c > 0.7:
		return 52, 199, 89
	case c > 0.5:
		return 255, 149, 0
	default:
		return 220, 53, 69
	}
}

func (e *PDFExporter) addNarrative(pdf *gofpdf.Fpdf, tr func(string) string, report domain.AssessmentReport) {
	r, ok := report.Analysis.FinalReport.Get()
	if !ok || r.Narrative == "" {
		return
	}
	if pdf.GetY() > 230 {
		pdf.AddPage()
	}
	sectionTitle(pdf, "Analysis")
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.MultiCell(0, 5, tr(r.Narrative), "", "L", false)
	pdf.Ln(5)
}

func (e *PDFExporter) addErrors(pdf *gofpdf.Fpdf, tr func(string) string, report domain.AssessmentReport) {
	errs := report.Analysis.Errors
	if len(errs) == 0 {
		return
	}
	if pdf.GetY() > 250 {
		pdf.AddPage()
	}
	sectionTitle(pdf, "Processing Notes")
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(150, 60, 60)
	for _, msg := range errs {
		pdf.MultiCell(0, 5, tr("- "+msg), "", "L", false)
	}
}

func (e *PDFExporter) addFooter(pdf *gofpdf.Fpdf, report domain.AssessmentReport) {
	pdf.SetY(-20)

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(3)

	id := report.ID
	if len(id) > 8 {
		id = id[:8]
	}
	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated by %s | Report ID: %s", e.generatedBy, id), "", 1, "C", false, 0, "")
}
