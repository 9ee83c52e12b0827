package audits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// FindingsObserver records generated findings per severity.
type FindingsObserver interface {
	AddFindings(severity string, count int)
}

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	Store       SimulationStore
	Catalog     Catalog
	Invalidator Invalidator
	Observer    FindingsObserver
	// Step is the pause between lifecycle stages.
	Step   time.Duration
	Seed   uint64
	Logger *slog.Logger
}

// Simulator advances queued audits through their lifecycle and produces
// findings from the rule catalog.
type Simulator struct {
	store       SimulationStore
	catalog     Catalog
	invalidator Invalidator
	observer    FindingsObserver
	step        time.Duration
	logger      *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator constructs a Simulator. A zero Seed picks a random one.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulator{
		store:       opts.Store,
		catalog:     opts.Catalog,
		invalidator: opts.Invalidator,
		observer:    opts.Observer,
		step:        opts.Step,
		logger:      opts.Logger,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Run simulates one audit. Audits that already finished are left alone. Any
// failure after loading marks the audit FAILED.
func (s *Simulator) Run(ctx context.Context, auditID int64) error {
	target, err := s.store.Target(ctx, auditID)
	if err != nil {
		return fmt.Errorf("audits: load target %d: %w", auditID, err)
	}
	if target.Audit.Status.Finished() {
		s.logger.Info("audit already finished", slog.Int64("audit_id", auditID), slog.String("status", string(target.Audit.Status)))
		return nil
	}
	defer s.invalidate(target.OwnerID)

	st, err := s.run(ctx, target)
	if err != nil {
		if markErr := s.store.MarkFailed(context.WithoutCancel(ctx), auditID); markErr != nil {
			err = errors.Join(err, markErr)
		}
		return err
	}
	if s.observer != nil {
		for sev, n := range st.BySeverity {
			s.observer.AddFindings(string(sev), n)
		}
	}
	s.logger.Info("audit completed",
		slog.Int64("audit_id", auditID),
		slog.Int("findings", st.Count),
		slog.String("overall", severityString(st.Overall)),
	)
	return nil
}

func (s *Simulator) run(ctx context.Context, target Target) (Stats, error) {
	id := target.Audit.ID
	if err := s.store.Advance(ctx, id, StatusInProgress, 10); err != nil {
		return Stats{}, err
	}
	if err := s.pause(ctx); err != nil {
		return Stats{}, err
	}
	if err := s.store.Advance(ctx, id, StatusRunning, 50); err != nil {
		return Stats{}, err
	}
	if err := s.pause(ctx); err != nil {
		return Stats{}, err
	}
	return s.store.Complete(ctx, id, s.Generate(target.Files))
}

// Generate draws findings for files from the catalog.
func (s *Simulator) Generate(files []SourceFile) []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Finding
	for _, file := range files {
		for _, rule := range s.catalog.ForLanguage(file.Language) {
			if s.rng.Float64() >= rule.Chance {
				continue
			}
			fileID := file.ID
			out = append(out, Finding{
				FileID:      &fileID,
				Severity:    rule.Severity,
				Category:    rule.Category,
				Title:       rule.Title,
				Location:    file.Path,
				Line:        1 + s.rng.IntN(400),
				Remediation: rule.Remediation,
			})
		}
	}
	return out
}

func (s *Simulator) pause(ctx context.Context) error {
	if s.step <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.step)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Simulator) invalidate(userID int64) {
	if s.invalidator == nil || userID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate dashboard", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func severityString(s *Severity) string {
	if s == nil {
		return "NONE"
	}
	return string(*s)
}
