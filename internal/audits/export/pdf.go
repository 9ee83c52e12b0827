package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vigil-sec/vigil/internal/audits"
	"github.com/vigil-sec/vigil/report"
)

// ErrPDFUnavailable is returned when no PDF renderer is configured or the
// renderer cannot be reached.
var ErrPDFUnavailable = errors.New("export: pdf rendering unavailable")

// ReportTemplate is the html/template name of the audit report.
const ReportTemplate = "reports/audit.html"

// Renderer converts HTML to PDF.
type Renderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// TemplateExecutor renders a named template.
type TemplateExecutor interface {
	Execute(w io.Writer, name string, data any) error
}

// SeverityCount is one row of the report's summary table.
type SeverityCount struct {
	Severity audits.Severity
	Count    int
}

// ReportData is the input of the audit report template.
type ReportData struct {
	Title       string
	GeneratedAt time.Time
	Audit       audits.Audit
	Findings    []audits.Finding
	Summary     []SeverityCount
}

// PDFExporter renders audit reports through Gotenberg.
type PDFExporter struct {
	renderer  Renderer
	templates TemplateExecutor
	now       func() time.Time
}

// NewPDFExporter constructs a PDFExporter. renderer may be nil when PDF
// export is disabled.
func NewPDFExporter(renderer Renderer, templates TemplateExecutor) *PDFExporter {
	return &PDFExporter{renderer: renderer, templates: templates, now: time.Now}
}

// Enabled reports whether PDF rendering is configured.
func (e *PDFExporter) Enabled() bool {
	return e != nil && e.renderer != nil
}

// BuildReport assembles the template data for detail.
func BuildReport(detail audits.Detail, generatedAt time.Time) ReportData {
	st := audits.DeriveStats(detail.Findings)
	summary := make([]SeverityCount, 0, len(audits.Severities))
	for _, sev := range audits.Severities {
		summary = append(summary, SeverityCount{Severity: sev, Count: st.BySeverity[sev]})
	}
	return ReportData{
		Title:       fmt.Sprintf("Audit #%d: %s", detail.Audit.ID, detail.Audit.ProjectName),
		GeneratedAt: generatedAt,
		Audit:       detail.Audit,
		Findings:    detail.Findings,
		Summary:     summary,
	}
}

// HTML renders the report document without converting it.
func (e *PDFExporter) HTML(detail audits.Detail) (string, error) {
	var buf bytes.Buffer
	if err := e.templates.Execute(&buf, ReportTemplate, BuildReport(detail, e.now())); err != nil {
		return "", fmt.Errorf("export: render report html: %w", err)
	}
	return buf.String(), nil
}

// RenderAudit produces the PDF report of one audit.
func (e *PDFExporter) RenderAudit(ctx context.Context, detail audits.Detail) ([]byte, error) {
	if e == nil || e.renderer == nil {
		return nil, ErrPDFUnavailable
	}
	html, err := e.HTML(detail)
	if err != nil {
		return nil, err
	}
	pdf, err := e.renderer.RenderHTML(ctx, html)
	if errors.Is(err, report.ErrUnavailable) {
		return nil, errors.Join(ErrPDFUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("export: render pdf: %w", err)
	}
	return pdf, nil
}
