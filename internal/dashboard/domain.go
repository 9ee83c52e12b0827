// Package dashboard aggregates per user KPIs for the landing page.
package dashboard

import (
	"time"

	"github.com/vigil-sec/vigil/internal/audits"
)

// RecentLimit is the number of audits listed on the dashboard.
const RecentLimit = 5

// RecentAudit is a compact audit row.
type RecentAudit struct {
	ID              int64     `json:"id"`
	ProjectName     string    `json:"project_name"`
	Status          string    `json:"status"`
	OverallSeverity string    `json:"overall_severity,omitempty"`
	FindingsCount   int       `json:"findings_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Stats are the KPIs of one user.
type Stats struct {
	ProjectCount int            `json:"project_count"`
	AuditCount   int            `json:"audit_count"`
	FindingCount int            `json:"finding_count"`
	ByStatus     map[string]int `json:"by_status"`
	BySeverity   map[string]int `json:"by_severity"`
	Credits      int            `json:"credits"`
	Recent       []RecentAudit  `json:"recent"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

// Row is one labelled count.
type Row struct {
	Key   string
	Count int
}

// StatusRows lists audit counts in lifecycle order, including zeros.
func (s Stats) StatusRows() []Row {
	rows := make([]Row, 0, len(audits.Statuses))
	for _, st := range audits.Statuses {
		rows = append(rows, Row{Key: string(st), Count: s.ByStatus[string(st)]})
	}
	return rows
}

// SeverityRows lists finding counts from most to least severe, including zeros.
func (s Stats) SeverityRows() []Row {
	rows := make([]Row, 0, len(audits.Severities))
	for _, sev := range audits.Severities {
		rows = append(rows, Row{Key: string(sev), Count: s.BySeverity[string(sev)]})
	}
	return rows
}

// ActiveAudits counts audits that have not finished.
func (s Stats) ActiveAudits() int {
	return s.ByStatus[string(audits.StatusQueued)] + s.ByStatus[string(audits.StatusInProgress)] + s.ByStatus[string(audits.StatusRunning)]
}
