package audits

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vigil-sec/vigil/internal/credits"
	"github.com/vigil-sec/vigil/internal/shared"
)

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	balance  map[int64]int
	owners   map[int64]int64 // project -> owner
	files    map[int64][]SourceFile
	audits   map[int64]*Audit
	findings map[int64][]Finding
	advances []Status
	failed   []int64
	failOn   Status
	// failAfter flips the audit to FAILED right after it reaches this status.
	failAfter Status
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		balance:  map[int64]int{},
		owners:   map[int64]int64{},
		files:    map[int64][]SourceFile{},
		audits:   map[int64]*Audit{},
		findings: map[int64][]Finding{},
	}
}

func (m *memoryStore) ownerOf(a *Audit) int64 {
	return m.owners[a.ProjectID]
}

func (m *memoryStore) History(ctx context.Context, f HistoryFilter) ([]Audit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID := f.Args[0].(int64)
	var all []Audit
	for _, a := range m.audits {
		if m.ownerOf(a) == userID {
			all = append(all, *a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memoryStore) Export(ctx context.Context, f HistoryFilter, limit int) ([]Audit, error) {
	items, _, err := m.History(ctx, HistoryFilter{Args: f.Args, Page: 1, PageSize: limit})
	return items, err
}

func (m *memoryStore) Get(ctx context.Context, userID, id int64) (Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[id]
	if !ok || m.ownerOf(a) != userID {
		return Audit{}, shared.ErrNotFound
	}
	return *a, nil
}

func (m *memoryStore) Findings(ctx context.Context, auditID int64) ([]Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Finding(nil), m.findings[auditID]...)
	SortFindings(out)
	return out, nil
}

func (m *memoryStore) Create(ctx context.Context, userID, projectID int64, cost int) (Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[projectID] != userID {
		return Audit{}, shared.ErrNotFound
	}
	if m.balance[userID] < cost {
		return Audit{}, shared.NewUserError("Not enough credits to start an audit", credits.ErrInsufficientCredits)
	}
	m.balance[userID] -= cost
	m.nextID++
	a := &Audit{ID: m.nextID, ProjectID: projectID, ProjectName: "project", Status: StatusQueued, CreatedAt: time.Now()}
	m.audits[a.ID] = a
	return *a, nil
}

func (m *memoryStore) Delete(ctx context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[id]
	if !ok || m.ownerOf(a) != userID {
		return shared.ErrNotFound
	}
	if a.Status != StatusQueued {
		return ErrNotDeletable
	}
	delete(m.audits, id)
	return nil
}

func (m *memoryStore) Rerun(ctx context.Context, userID, id int64) (Audit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[id]
	if !ok || m.ownerOf(a) != userID {
		return Audit{}, shared.ErrNotFound
	}
	if !a.Rerunnable() {
		return Audit{}, ErrNotRerunnable
	}
	delete(m.findings, id)
	a.Status, a.Progress, a.FindingsCount = StatusQueued, 0, 0
	a.OverallSeverity, a.StartedAt, a.CompletedAt = nil, nil, nil
	return *a, nil
}

func (m *memoryStore) MarkFailed(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, id)
	if a, ok := m.audits[id]; ok && !a.Status.Finished() {
		a.Status = StatusFailed
	}
	return nil
}

func (m *memoryStore) Target(ctx context.Context, id int64) (Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.audits[id]
	if !ok {
		return Target{}, shared.ErrNotFound
	}
	return Target{Audit: *a, OwnerID: m.ownerOf(a), Files: m.files[a.ProjectID]}, nil
}

func (m *memoryStore) Advance(ctx context.Context, id int64, status Status, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == m.failOn {
		return context.DeadlineExceeded
	}
	a := m.audits[id]
	if a.Status.Finished() {
		return shared.ErrNotFound
	}
	a.Status, a.Progress = status, progress
	if a.StartedAt == nil {
		now := time.Now()
		a.StartedAt = &now
	}
	m.advances = append(m.advances, status)
	if status == m.failAfter {
		a.Status = StatusFailed
	}
	return nil
}

func (m *memoryStore) Complete(ctx context.Context, id int64, findings []Finding) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.audits[id]; !ok || a.Status.Finished() {
		return Stats{}, shared.ErrNotFound
	}
	for i := range findings {
		m.nextID++
		findings[i].ID = m.nextID
		findings[i].AuditID = id
	}
	m.findings[id] = append(m.findings[id], findings...)
	st := DeriveStats(m.findings[id])
	a := m.audits[id]
	a.Status, a.Progress = StatusCompleted, 100
	a.FindingsCount, a.OverallSeverity = st.Count, st.Overall
	now := time.Now()
	a.CompletedAt = &now
	return st, nil
}

type recordingQueue struct {
	mu     sync.Mutex
	queued []int64
	err    error
}

func (q *recordingQueue) EnqueueAuditSimulation(ctx context.Context, auditID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.queued = append(q.queued, auditID)
	return nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[int64]int
}

func (c *countingInvalidator) Invalidate(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[int64]int{}
	}
	c.calls[userID]++
	return nil
}

type countingObserver struct {
	queued   int
	findings map[string]int
}

func (o *countingObserver) AuditQueued() { o.queued++ }

func (o *countingObserver) AddFindings(severity string, count int) {
	if o.findings == nil {
		o.findings = map[string]int{}
	}
	o.findings[severity] += count
}
