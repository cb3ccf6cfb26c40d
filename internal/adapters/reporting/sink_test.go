package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_WritesJSON(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, nil)

	require.NoError(t, sink.Publish(context.Background(), sampleReport()))

	path := filepath.Join(dir, "report_CVE-2024-0001_20240301_120000.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "CVE-2024-0001", doc["cve_id"])
	assert.Equal(t, []any{"srv-01"}, doc["impacted_assets"])
	analysis, ok := doc["analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, analysis["adjusted_risk_score"])

	_, err = os.Stat(filepath.Join(dir, "report_CVE-2024-0001_20240301_120000.pdf"))
	assert.True(t, os.IsNotExist(err), "no exporter, no pdf")
}

func TestFileSink_WritesPDF(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, NewPDFExporter())

	require.NoError(t, sink.Publish(context.Background(), sampleReport()))

	data, err := os.ReadFile(filepath.Join(dir, "report_CVE-2024-0001_20240301_120000.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(data[:5]))
}

func TestFileSink_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	require.NoError(t, NewFileSink(dir, nil).Publish(context.Background(), sampleReport()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileSink_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewFileSink(t.TempDir(), nil).Publish(ctx, sampleReport())
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingSink struct {
	got []string
	err error
}

func (r *recordingSink) Publish(_ context.Context, report domain.AssessmentReport) error {
	r.got = append(r.got, report.CVEID)
	return r.err
}

func TestMultiSink_PublishesToAll(t *testing.T) {
	failing := &recordingSink{err: errors.New("disk full")}
	ok := &recordingSink{}

	err := MultiSink{failing, nil, ok}.Publish(context.Background(), sampleReport())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"CVE-2024-0001"}, failing.got)
	assert.Equal(t, []string{"CVE-2024-0001"}, ok.got, "later sinks still receive the report")

	assert.NoError(t, MultiSink{ok}.Publish(context.Background(), sampleReport()))
}
