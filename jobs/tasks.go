package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditSimulate is the task type that drives one audit to completion.
	TaskAuditSimulate = "audit:simulate"
)

const (
	auditMaxRetry = 3
	auditTimeout  = 2 * time.Minute
)

// AuditSimulationPayload identifies the audit a worker should simulate.
type AuditSimulationPayload struct {
	AuditID int64 `json:"audit_id"`
}

// NewAuditSimulationTask constructs an Asynq task for auditID.
func NewAuditSimulationTask(auditID int64) (*asynq.Task, error) {
	if auditID <= 0 {
		return nil, fmt.Errorf("jobs: invalid audit id %d", auditID)
	}
	data, err := json.Marshal(AuditSimulationPayload{AuditID: auditID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditSimulate, data,
		asynq.MaxRetry(auditMaxRetry),
		asynq.Timeout(auditTimeout),
	), nil
}

// ParseAuditSimulationPayload decodes a task payload.
func ParseAuditSimulationPayload(t *asynq.Task) (AuditSimulationPayload, error) {
	var payload AuditSimulationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.AuditID <= 0 {
		return payload, fmt.Errorf("jobs: invalid audit id %d", payload.AuditID)
	}
	return payload, nil
}
