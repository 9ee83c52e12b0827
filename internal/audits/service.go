package audits

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vigil-sec/vigil/internal/shared"
)

// ExportLimit caps the rows of one history export.
const ExportLimit = 5000

// Enqueuer hands audits to the simulation worker.
type Enqueuer interface {
	EnqueueAuditSimulation(ctx context.Context, auditID int64) error
}

// Invalidator drops cached per-user views after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// QueueObserver is notified of queued audits.
type QueueObserver interface {
	AuditQueued()
}

// Options configures a Service.
type Options struct {
	Repo        Repository
	Queue       Enqueuer
	Invalidator Invalidator
	Observer    QueueObserver
	CreditCost  int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service implements audit use cases for the web process.
type Service struct {
	repo        Repository
	queue       Enqueuer
	invalidator Invalidator
	observer    QueueObserver
	cost        int
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a Service.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:        opts.Repo,
		queue:       opts.Queue,
		invalidator: opts.Invalidator,
		observer:    opts.Observer,
		cost:        opts.CreditCost,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// CreditCost is the number of credits one audit consumes.
func (s *Service) CreditCost() int {
	return s.cost
}

// Create charges credits, queues an audit for projectID and hands it to the
// worker.
func (s *Service) Create(ctx context.Context, userID, projectID int64) (Audit, error) {
	a, err := s.repo.Create(ctx, userID, projectID, s.cost)
	if err != nil {
		return Audit{}, err
	}
	s.invalidate(ctx, userID)
	if err := s.enqueue(ctx, a.ID); err != nil {
		return a, err
	}
	return a, nil
}

// StartAudit is Create returning only the new audit's id.
func (s *Service) StartAudit(ctx context.Context, userID, projectID int64) (int64, error) {
	a, err := s.Create(ctx, userID, projectID)
	return a.ID, err
}

// History returns one page of the user's audits matching q.
func (s *Service) History(ctx context.Context, q HistoryQuery) (HistoryPage, HistoryFilter, error) {
	f, err := s.filter(q)
	if err != nil {
		return HistoryPage{}, HistoryFilter{}, err
	}
	items, total, err := s.repo.History(ctx, f)
	if err != nil {
		return HistoryPage{}, f, err
	}
	from, to := f.Bounds()
	return HistoryPage{
		Audits:     items,
		Pagination: shared.NewPagination(f.Page, f.PageSize, total),
		From:       from,
		To:         to,
	}, f, nil
}

// Export returns every audit matching q up to ExportLimit.
func (s *Service) Export(ctx context.Context, q HistoryQuery) ([]Audit, error) {
	f, err := s.filter(q)
	if err != nil {
		return nil, err
	}
	return s.repo.Export(ctx, f, ExportLimit)
}

// Detail loads an audit with its findings.
func (s *Service) Detail(ctx context.Context, userID, id int64) (Detail, error) {
	a, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return Detail{}, err
	}
	findings, err := s.repo.Findings(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Audit: a, Findings: findings}, nil
}

// Delete removes a queued audit.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	a, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !a.Deletable() {
		return ErrNotDeletable
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Rerun resets a finished audit and queues it again.
func (s *Service) Rerun(ctx context.Context, userID, id int64) (Audit, error) {
	a, err := s.repo.Rerun(ctx, userID, id)
	if err != nil {
		return Audit{}, err
	}
	s.invalidate(ctx, userID)
	if err := s.enqueue(ctx, a.ID); err != nil {
		return a, err
	}
	return a, nil
}

func (s *Service) filter(q HistoryQuery) (HistoryFilter, error) {
	f, err := BuildHistoryFilter(q, s.now())
	if err != nil {
		return HistoryFilter{}, err
	}
	for _, d := range f.Dropped {
		s.logger.Warn("ignoring audit history filter", slog.Int64("user_id", q.UserID), slog.String("value", d))
	}
	return f, nil
}

// enqueue hands the audit to the worker. A queue failure leaves the audit
// FAILED so it can be rerun.
func (s *Service) enqueue(ctx context.Context, id int64) error {
	if s.queue == nil {
		return nil
	}
	if err := s.queue.EnqueueAuditSimulation(ctx, id); err != nil {
		s.logger.Error("enqueue audit simulation", slog.Int64("audit_id", id), slog.Any("error", err))
		if markErr := s.repo.MarkFailed(ctx, id); markErr != nil {
			s.logger.Error("mark audit failed", slog.Int64("audit_id", id), slog.Any("error", markErr))
		}
		return shared.NewUserError("The audit could not be queued. Rerun it from the audit page.", errors.Join(ErrQueueUnavailable, err))
	}
	if s.observer != nil {
		s.observer.AuditQueued()
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate dashboard", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
