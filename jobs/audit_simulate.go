package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vigil-sec/vigil/internal/jobmetrics"
	"github.com/vigil-sec/vigil/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditRunner executes the simulation of a single audit.
type AuditRunner interface {
	Run(ctx context.Context, auditID int64) error
}

// AuditSimulationJob handles TaskAuditSimulate tasks.
type AuditSimulationJob struct {
	Runner  AuditRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditSimulationJob initialises the audit simulation handler.
func NewAuditSimulationJob(runner AuditRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditSimulationJob {
	return &AuditSimulationJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle runs the simulation. Malformed payloads and audits that no longer
// exist are not retried.
func (j *AuditSimulationJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Runner == nil {
		return errors.New("audit simulation: handler not configured")
	}
	payload, err := ParseAuditSimulationPayload(t)
	if err != nil {
		j.logger().Warn("drop malformed task", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	tracker := j.metrics().Track(TaskAuditSimulate)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("audit_id", payload.AuditID))
	start := time.Now()
	logger.Info("starting audit simulation")

	if err := j.Runner.Run(ctx, payload.AuditID); err != nil {
		logger.Error("audit simulation failed", slog.Any("error", err))
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	logger.Info("completed audit simulation", slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *AuditSimulationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditSimulate))
	}
	return slog.Default().With(slog.String("job", TaskAuditSimulate))
}

func (j *AuditSimulationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
