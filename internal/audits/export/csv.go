// Package export renders audit history and findings as CSV and PDF.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/vigil-sec/vigil/internal/audits"
)

// WriteHistoryCSV emits one row per audit.
func WriteHistoryCSV(w io.Writer, items []audits.Audit) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"ID", "Project", "Status", "Progress", "Overall Severity", "Findings", "Size", "Created At", "Completed At"}); err != nil {
		return err
	}
	for _, a := range items {
		if err := writer.Write([]string{
			strconv.FormatInt(a.ID, 10),
			a.ProjectName,
			string(a.Status),
			strconv.Itoa(a.Progress),
			severityCell(a.OverallSeverity),
			strconv.Itoa(a.FindingsCount),
			strconv.FormatInt(a.Size, 10),
			a.CreatedAt.UTC().Format(time.RFC3339),
			timeCell(a.CompletedAt),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFindingsCSV emits the findings of one audit.
func WriteFindingsCSV(w io.Writer, findings []audits.Finding) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"ID", "Severity", "Category", "Title", "Location", "Line", "Remediation"}); err != nil {
		return err
	}
	for _, f := range findings {
		if err := writer.Write([]string{
			strconv.FormatInt(f.ID, 10),
			string(f.Severity),
			f.Category,
			sanitize(f.Title),
			sanitize(f.Location),
			strconv.Itoa(f.Line),
			sanitize(f.Remediation),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func severityCell(s *audits.Severity) string {
	if s == nil {
		return ""
	}
	return string(*s)
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// sanitize stops spreadsheet applications from evaluating a cell as a
// formula.
func sanitize(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}
