package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-sec/vigil/internal/audits"
	"github.com/vigil-sec/vigil/internal/view"
	"github.com/vigil-sec/vigil/report"
)

func sampleDetail() audits.Detail {
	high := audits.SeverityHigh
	created := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	completed := created.Add(2 * time.Minute)
	return audits.Detail{
		Audit: audits.Audit{
			ID:              7,
			ProjectName:     "payments-api",
			Status:          audits.StatusCompleted,
			Progress:        100,
			Size:            2048,
			OverallSeverity: &high,
			FindingsCount:   2,
			CreatedAt:       created,
			CompletedAt:     &completed,
		},
		Findings: []audits.Finding{
			{ID: 1, Severity: audits.SeverityHigh, Category: "Injection", Title: "SQL query built from untrusted input", Location: "db/query.go", Line: 42, Remediation: "Use parameterized queries."},
			{ID: 2, Severity: audits.SeverityLow, Category: "Logging", Title: "=HYPERLINK(\"x\")", Location: "log.go", Line: 3},
		},
	}
}

func TestWriteHistoryCSV(t *testing.T) {
	d := sampleDetail()
	queued := audits.Audit{ID: 8, ProjectName: "web", Status: audits.StatusQueued, CreatedAt: d.Audit.CreatedAt}
	var buf bytes.Buffer
	require.NoError(t, WriteHistoryCSV(&buf, []audits.Audit{d.Audit, queued}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Overall Severity", rows[0][4])
	assert.Equal(t, []string{"7", "payments-api", "COMPLETED", "100", "HIGH", "2", "2048", "2024-05-01T09:30:00Z", "2024-05-01T09:32:00Z"}, rows[1])
	assert.Equal(t, "", rows[2][4])
	assert.Equal(t, "", rows[2][8])
}

func TestWriteFindingsCSVEscapesFormulas(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFindingsCSV(&buf, sampleDetail().Findings))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "HIGH", rows[1][1])
	assert.Equal(t, "42", rows[1][5])
	assert.True(t, strings.HasPrefix(rows[2][3], "'="), rows[2][3])
}

type stubRenderer struct {
	html []string
	err  error
}

func (s *stubRenderer) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	s.html = append(s.html, html)
	if s.err != nil {
		return nil, s.err
	}
	return []byte("%PDF"), nil
}

func newExporter(t *testing.T, r Renderer) *PDFExporter {
	t.Helper()
	engine, err := view.NewEngine()
	require.NoError(t, err)
	return NewPDFExporter(r, engine)
}

func TestRenderAudit(t *testing.T) {
	renderer := &stubRenderer{}
	pdf, err := newExporter(t, renderer).RenderAudit(context.Background(), sampleDetail())
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf))
	require.Len(t, renderer.html, 1)
	html := renderer.html[0]
	assert.Contains(t, html, "Audit #7: payments-api")
	assert.Contains(t, html, "SQL query built from untrusted input")
	assert.Contains(t, html, "db/query.go:42")
}

func TestRenderAuditUnavailable(t *testing.T) {
	_, err := newExporter(t, nil).RenderAudit(context.Background(), sampleDetail())
	assert.ErrorIs(t, err, ErrPDFUnavailable)

	_, err = newExporter(t, &stubRenderer{err: report.ErrUnavailable}).RenderAudit(context.Background(), sampleDetail())
	assert.ErrorIs(t, err, ErrPDFUnavailable)

	_, err = newExporter(t, &stubRenderer{err: errors.New("boom")}).RenderAudit(context.Background(), sampleDetail())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPDFUnavailable)
}

func TestBuildReportSummary(t *testing.T) {
	data := BuildReport(sampleDetail(), time.Now())
	require.Len(t, data.Summary, len(audits.Severities))
	counts := map[audits.Severity]int{}
	for _, row := range data.Summary {
		counts[row.Severity] = row.Count
	}
	assert.Equal(t, 1, counts[audits.SeverityHigh])
	assert.Equal(t, 1, counts[audits.SeverityLow])
	assert.Equal(t, 0, counts[audits.SeverityCritical])
}
