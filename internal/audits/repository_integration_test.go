//go:build integration

package audits

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vigil-sec/vigil/internal/credits"
	"github.com/vigil-sec/vigil/internal/platform/db"
	"github.com/vigil-sec/vigil/internal/shared"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		postgres.WithDatabase("vigil_test"),
		postgres.WithUsername("vigil"),
		postgres.WithPassword("vigil"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(dsn, nil))

	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

type historyFixture struct {
	pool      *pgxpool.Pool
	ownerID   int64
	otherID   int64
	projectID int64
}

func seedHistory(t *testing.T, pool *pgxpool.Pool, now time.Time) historyFixture {
	t.Helper()
	ctx := context.Background()
	fx := historyFixture{pool: pool}

	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO users (email, password_hash) VALUES ('owner@vigil.test', 'x') RETURNING id`).Scan(&fx.ownerID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO users (email, password_hash) VALUES ('other@vigil.test', 'x') RETURNING id`).Scan(&fx.otherID))
	_, err := pool.Exec(ctx, `INSERT INTO credits (user_id, balance) VALUES ($1, 100), ($2, 100)`, fx.ownerID, fx.otherID)
	require.NoError(t, err)
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO projects (owner_id, name) VALUES ($1, 'api') RETURNING id`, fx.ownerID).Scan(&fx.projectID))

	var otherProject int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO projects (owner_id, name) VALUES ($1, 'theirs') RETURNING id`, fx.otherID).Scan(&otherProject))

	insert := func(projectID int64, age time.Duration, status Status, severity *Severity) {
		var sev *string
		if severity != nil {
			s := string(*severity)
			sev = &s
		}
		_, err := pool.Exec(ctx, `INSERT INTO audits (project_id, project_name, status, overall_severity, created_at, updated_at)
			VALUES ($1, 'api', $2, $3, $4, $4)`, projectID, status, sev, now.Add(-age))
		require.NoError(t, err)
	}
	high, low := SeverityHigh, SeverityLow
	insert(fx.projectID, 1*time.Hour, StatusCompleted, &high)
	insert(fx.projectID, 3*24*time.Hour, StatusFailed, nil)
	insert(fx.projectID, 6*24*time.Hour+23*time.Hour, StatusCompleted, &low)
	insert(fx.projectID, 7*24*time.Hour+time.Hour, StatusCompleted, &high)
	insert(fx.projectID, 20*24*time.Hour, StatusQueued, nil)
	insert(otherProject, time.Hour, StatusCompleted, &high)
	return fx
}

func TestHistoryAgainstPostgres(t *testing.T) {
	pool := startPostgres(t)
	now := time.Now().UTC().Truncate(time.Second)
	fx := seedHistory(t, pool, now)
	repo := NewRepository(pool)
	ctx := context.Background()

	count := func(q HistoryQuery) int {
		t.Helper()
		q.UserID = fx.ownerID
		f, err := BuildHistoryFilter(q, now)
		require.NoError(t, err)
		_, total, err := repo.History(ctx, f)
		require.NoError(t, err)
		return total
	}

	assert.Equal(t, 5, count(HistoryQuery{}))
	assert.Equal(t, 3, count(HistoryQuery{Timeframe: "7d"}))

	start := now.Add(-10 * 24 * time.Hour)
	end := now.Add(-2 * 24 * time.Hour)
	assert.Equal(t, 3, count(HistoryQuery{StartDate: &start, EndDate: &end}))
	// Both windows apply: only the audits that are inside the range and
	// younger than seven days remain.
	assert.Equal(t, 2, count(HistoryQuery{StartDate: &start, EndDate: &end, Timeframe: "7d"}))

	assert.Equal(t, 1, count(HistoryQuery{Statuses: []string{"FAILED"}}))
	assert.Equal(t, 2, count(HistoryQuery{Severities: []string{"HIGH"}}))
	assert.Equal(t, 1, count(HistoryQuery{Severities: []string{"HIGH"}, Timeframe: "24h"}))
	assert.Equal(t, 5, count(HistoryQuery{Statuses: []string{"NOPE"}}))

	f, err := BuildHistoryFilter(HistoryQuery{UserID: fx.ownerID, Page: 2, PageSize: 2}, now)
	require.NoError(t, err)
	items, total, err := repo.History(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))
	assert.Equal(t, StatusCompleted, items[0].Status)
	require.NotNil(t, items[0].OverallSeverity)
	assert.Equal(t, SeverityLow, *items[0].OverallSeverity)
}

func TestCreateDeleteRerunAgainstPostgres(t *testing.T) {
	pool := startPostgres(t)
	fx := seedHistory(t, pool, time.Now())
	repo := NewRepository(pool)
	ctx := context.Background()

	a, err := repo.Create(ctx, fx.ownerID, fx.projectID, 40)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, a.Status)
	assert.Equal(t, "api", a.ProjectName)

	_, err = repo.Create(ctx, fx.ownerID, fx.projectID, 80)
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
	acct, err := credits.NewRepository(pool).Get(ctx, fx.ownerID)
	require.NoError(t, err)
	assert.Equal(t, 60, acct.Balance)

	require.NoError(t, repo.Advance(ctx, a.ID, StatusRunning, 50))
	assert.ErrorIs(t, repo.Delete(ctx, fx.ownerID, a.ID), ErrNotDeletable)
	_, err = repo.Rerun(ctx, fx.ownerID, a.ID)
	assert.ErrorIs(t, err, ErrNotRerunnable)

	st, err := repo.Complete(ctx, a.ID, []Finding{{Severity: SeverityMedium, Category: "c", Title: "t"}, {Severity: SeverityCritical, Category: "c", Title: "u"}})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count)

	done, err := repo.Get(ctx, fx.ownerID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.OverallSeverity)
	assert.Equal(t, SeverityCritical, *done.OverallSeverity)
	require.NotNil(t, done.StartedAt)

	reset, err := repo.Rerun(ctx, fx.ownerID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, reset.Status)
	assert.Nil(t, reset.OverallSeverity)
	assert.Zero(t, reset.FindingsCount)
	findings, err := repo.Findings(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, findings)

	require.NoError(t, repo.Delete(ctx, fx.ownerID, a.ID))
	_, err = repo.Get(ctx, fx.ownerID, a.ID)
	assert.Error(t, err)

	b, err := repo.Create(ctx, fx.ownerID, fx.projectID, 40)
	require.NoError(t, err)
	require.NoError(t, repo.Advance(ctx, b.ID, StatusRunning, 50))
	require.NoError(t, repo.MarkFailed(ctx, b.ID))
	_, err = repo.Complete(ctx, b.ID, []Finding{{Severity: SeverityHigh, Category: "c", Title: "late"}})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	failed, err := repo.Get(ctx, fx.ownerID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Zero(t, failed.FindingsCount)
	late, err := repo.Findings(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, late)
}

func TestUserEmailUniqueIgnoresCase(t *testing.T) {
	pool := startPostgres(t)
	seedHistory(t, pool, time.Now())

	_, err := pool.Exec(context.Background(), `INSERT INTO users (email, password_hash) VALUES ('OWNER@vigil.test', 'x')`)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err))
}
