package audithttp

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-sec/vigil/internal/audits"
	"github.com/vigil-sec/vigil/internal/audits/export"
	"github.com/vigil-sec/vigil/internal/shared"
	"github.com/vigil-sec/vigil/internal/view"
	_ "github.com/vigil-sec/vigil/testing"
)

type stubRepo struct {
	audits   map[int64]audits.Audit
	findings map[int64][]audits.Finding
	filters  []audits.HistoryFilter
	deleted  []int64
}

func newStubRepo() *stubRepo {
	high := audits.SeverityHigh
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return &stubRepo{
		audits: map[int64]audits.Audit{
			1: {ID: 1, ProjectName: "api", Status: audits.StatusCompleted, Progress: 100, OverallSeverity: &high, FindingsCount: 1, CreatedAt: now},
			2: {ID: 2, ProjectName: "web", Status: audits.StatusQueued, CreatedAt: now.Add(-time.Hour)},
		},
		findings: map[int64][]audits.Finding{
			1: {{ID: 5, AuditID: 1, Severity: audits.SeverityHigh, Category: "Injection", Title: "Shell command built from untrusted input", Location: "run.py", Line: 9}},
		},
	}
}

func (s *stubRepo) History(ctx context.Context, f audits.HistoryFilter) ([]audits.Audit, int, error) {
	s.filters = append(s.filters, f)
	return []audits.Audit{s.audits[1], s.audits[2]}, 2, nil
}

func (s *stubRepo) Export(ctx context.Context, f audits.HistoryFilter, limit int) ([]audits.Audit, error) {
	s.filters = append(s.filters, f)
	return []audits.Audit{s.audits[1], s.audits[2]}, nil
}

func (s *stubRepo) Get(ctx context.Context, userID, id int64) (audits.Audit, error) {
	a, ok := s.audits[id]
	if !ok || userID != 1 {
		return audits.Audit{}, shared.ErrNotFound
	}
	return a, nil
}

func (s *stubRepo) Findings(ctx context.Context, auditID int64) ([]audits.Finding, error) {
	return s.findings[auditID], nil
}

func (s *stubRepo) Create(ctx context.Context, userID, projectID int64, cost int) (audits.Audit, error) {
	return audits.Audit{}, nil
}

func (s *stubRepo) Delete(ctx context.Context, userID, id int64) error {
	s.deleted = append(s.deleted, id)
	delete(s.audits, id)
	return nil
}

func (s *stubRepo) Rerun(ctx context.Context, userID, id int64) (audits.Audit, error) {
	a := s.audits[id]
	if !a.Rerunnable() {
		return audits.Audit{}, audits.ErrNotRerunnable
	}
	a.Status = audits.StatusQueued
	s.audits[id] = a
	return a, nil
}

func (s *stubRepo) MarkFailed(ctx context.Context, id int64) error { return nil }

type countingObserver struct{ formats []string }

func (c *countingObserver) ExportGenerated(format string) { c.formats = append(c.formats, format) }

type fixture struct {
	router   chi.Router
	repo     *stubRepo
	observer *countingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	repo := newStubRepo()
	observer := &countingObserver{}
	h := NewHandler(Options{
		Service:          audits.NewService(audits.Options{Repo: repo, CreditCost: 10}),
		PDF:              export.NewPDFExporter(nil, templates),
		Templates:        templates,
		CSRF:             shared.NewCSRFManager("secret"),
		Observer:         observer,
		ExportsPerMinute: 2,
	})
	router := chi.NewRouter()
	router.Route("/audits", h.MountRoutes)
	return &fixture{router: router, repo: repo, observer: observer}
}

func (f *fixture) serve(req *http.Request) (*httptest.ResponseRecorder, *shared.Session) {
	sess := &shared.Session{ID: "s1"}
	ctx := shared.ContextWithSession(req.Context(), sess)
	ctx = shared.ContextWithPrincipal(ctx, shared.Principal{UserID: 1, Role: "USER"})
	req.RemoteAddr = "203.0.113.9:5555"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec, sess
}

func TestHistoryPage(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.serve(httptest.NewRequest(http.MethodGet, "/audits?timeframe=7d&status=COMPLETED&status=BOGUS&start=2024-05-01&end=2024-05-31", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "api")
	assert.Contains(t, body, "/audits/export.csv?")

	require.Len(t, f.repo.filters, 1)
	filter := f.repo.filters[0]
	assert.Equal(t, []audits.Status{audits.StatusCompleted}, filter.Statuses)
	_, to := filter.Bounds()
	require.NotNil(t, to)
	assert.Equal(t, time.Date(2024, 5, 31, 23, 59, 59, 999999999, time.UTC), *to)
}

func TestHistoryRejectsBadDates(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.serve(httptest.NewRequest(http.MethodGet, "/audits?start=2024-06-10&end=2024-06-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "The start date must not be after the end date")

	rec, _ = f.serve(httptest.NewRequest(http.MethodGet, "/audits?start=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Start date must look like")
	assert.Empty(t, f.repo.filters)
}

func TestDetailAndNotFound(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.serve(httptest.NewRequest(http.MethodGet, "/audits/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Shell command built from untrusted input")

	rec, _ = f.serve(httptest.NewRequest(http.MethodGet, "/audits/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteOnlyQueued(t *testing.T) {
	f := newFixture(t)
	rec, sess := f.serve(httptest.NewRequest(http.MethodPost, "/audits/1/delete", strings.NewReader(url.Values{}.Encode())))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/audits/1", rec.Header().Get("Location"))
	assert.Equal(t, "Only queued audits can be deleted", sess.PopFlash().Message)
	assert.Empty(t, f.repo.deleted)

	rec, _ = f.serve(httptest.NewRequest(http.MethodPost, "/audits/2/delete", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/audits", rec.Header().Get("Location"))
	assert.Equal(t, []int64{2}, f.repo.deleted)
}

func TestRerun(t *testing.T) {
	f := newFixture(t)
	rec, sess := f.serve(httptest.NewRequest(http.MethodPost, "/audits/2/rerun", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, shared.FlashError, sess.PopFlash().Kind)

	rec, sess = f.serve(httptest.NewRequest(http.MethodPost, "/audits/1/rerun", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "Audit queued again", sess.PopFlash().Message)
	assert.Equal(t, audits.StatusQueued, f.repo.audits[1].Status)
}

func TestExports(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.serve(httptest.NewRequest(http.MethodGet, "/audits/export.csv?severity=HIGH", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=\"audit-history-")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rec, _ = f.serve(httptest.NewRequest(http.MethodGet, "/audits/1/findings.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="audit-1-findings.csv"`)
	assert.Equal(t, []string{"csv", "csv"}, f.observer.formats)

	// Third export within the minute is rate limited.
	rec, _ = f.serve(httptest.NewRequest(http.MethodGet, "/audits/1/report.pdf", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestPDFUnavailable(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.serve(httptest.NewRequest(http.MethodGet, "/audits/1/report.pdf", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec, _ = f.serve(httptest.NewRequest(http.MethodGet, "/audits/1", nil))
	assert.NotContains(t, rec.Body.String(), "/audits/1/report.pdf")
}

func TestParseQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/audits?page=3&severity=LOW&severity=INFO&timeframe=24h", nil)
	q, form, err := parseQuery(r, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), q.UserID)
	assert.Equal(t, 3, q.Page)
	assert.Equal(t, []string{"LOW", "INFO"}, q.Severities)
	assert.Equal(t, "24h", form.Timeframe)
	assert.Nil(t, q.StartDate)
}
