// Package audits runs simulated security audits over project files and
// serves their history and findings.
package audits

import (
	"errors"
	"time"

	"github.com/vigil-sec/vigil/internal/shared"
)

var (
	// ErrNotDeletable is returned when deleting an audit that already started.
	ErrNotDeletable = errors.New("audits: only queued audits can be deleted")
	// ErrNotRerunnable is returned when rerunning an audit that has not finished.
	ErrNotRerunnable = errors.New("audits: only finished audits can be rerun")
	// ErrInvalidDateRange is returned when the start date is after the end date.
	ErrInvalidDateRange = errors.New("audits: start date is after end date")
	// ErrQueueUnavailable is returned when an audit could not be handed to the worker.
	ErrQueueUnavailable = errors.New("audits: queue unavailable")
)

// Status is the lifecycle state of an audit.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusQueued, StatusInProgress, StatusRunning, StatusCompleted, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Finished reports whether the audit reached a terminal state.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Severity ranks a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank orders severities; higher is worse. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Audit is one simulated scan of a project.
type Audit struct {
	ID              int64
	ProjectID       int64
	ProjectName     string
	Status          Status
	Progress        int
	Size            int64
	OverallSeverity *Severity
	FindingsCount   int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Deletable reports whether the audit may be deleted.
func (a Audit) Deletable() bool {
	return a.Status == StatusQueued
}

// Rerunnable reports whether the audit may be started again.
func (a Audit) Rerunnable() bool {
	return a.Status.Finished()
}

// SeverityLabel is the overall severity or "None".
func (a Audit) SeverityLabel() string {
	if a.OverallSeverity == nil {
		return "None"
	}
	return string(*a.OverallSeverity)
}

// Finding is one issue reported by an audit.
type Finding struct {
	ID          int64
	AuditID     int64
	FileID      *int64
	Severity    Severity
	Category    string
	Title       string
	Location    string
	Line        int
	Remediation string
	CreatedAt   time.Time
}

// Detail is an audit with its findings ordered by severity.
type Detail struct {
	Audit    Audit
	Findings []Finding
}

// HistoryPage is one page of the audit history.
type HistoryPage struct {
	Audits     []Audit
	Pagination shared.Pagination
	From       *time.Time
	To         *time.Time
}
