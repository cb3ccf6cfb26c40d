// Package reporting publishes and renders assessment reports.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// DefaultReportDir is where file sinks write unless configured otherwise.
const DefaultReportDir = "reports"

// FileSink writes each report as report_<cve>_<timestamp>.json, and
// optionally a PDF rendering with the same base name.
type FileSink struct {
	dir      string
	exporter ports.ReportExporter
}

var _ ports.ReportSink = (*FileSink)(nil)

// NewFileSink creates a sink writing into dir. A nil exporter skips PDFs.
func NewFileSink(dir string, exporter ports.ReportExporter) *FileSink {
	if dir == "" {
		dir = DefaultReportDir
	}
	return &FileSink{dir: dir, exporter: exporter}
}

// BaseName returns the file name of a report without extension.
func BaseName(report domain.AssessmentReport) string {
	cve := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, report.CVEID)
	return fmt.Sprintf("report_%s_%s", cve, report.GeneratedAt.UTC().Format("20060102_150405"))
}

func (s *FileSink) Publish(ctx context.Context, report domain.AssessmentReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.CVEID, err)
	}
	base := filepath.Join(s.dir, BaseName(report))
	if err := os.WriteFile(base+".json", data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", report.CVEID, err)
	}
	slog.Info("report saved", "cve", report.CVEID, "path", base+".json")

	if s.exporter == nil {
		return nil
	}
	pdf, err := s.exporter.Export(report)
	if err != nil {
		return fmt.Errorf("render report %s: %w", report.CVEID, err)
	}
	if err := os.WriteFile(base+".pdf", pdf, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", report.CVEID, err)
	}
	return nil
}
