package dashboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository computes raw dashboard figures.
type Repository interface {
	Stats(ctx context.Context, userID int64) (Stats, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Stats gathers every KPI of userID.
func (r *PGRepository) Stats(ctx context.Context, userID int64) (Stats, error) {
	st := Stats{ByStatus: map[string]int{}, BySeverity: map[string]int{}}

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects WHERE owner_id = $1`, userID).Scan(&st.ProjectCount); err != nil {
		return Stats{}, fmt.Errorf("dashboard: projects: %w", err)
	}

	err := r.pool.QueryRow(ctx, `SELECT balance FROM credits WHERE user_id = $1`, userID).Scan(&st.Credits)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Stats{}, fmt.Errorf("dashboard: credits: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT a.status, COUNT(*) FROM audits a
		JOIN projects p ON p.id = a.project_id WHERE p.owner_id = $1 GROUP BY a.status`, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("dashboard: statuses: %w", err)
	}
	if err := collectCounts(rows, st.ByStatus); err != nil {
		return Stats{}, fmt.Errorf("dashboard: statuses: %w", err)
	}
	for _, n := range st.ByStatus {
		st.AuditCount += n
	}

	rows, err = r.pool.Query(ctx, `SELECT f.severity, COUNT(*) FROM findings f
		JOIN audits a ON a.id = f.audit_id
		JOIN projects p ON p.id = a.project_id WHERE p.owner_id = $1 GROUP BY f.severity`, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("dashboard: severities: %w", err)
	}
	if err := collectCounts(rows, st.BySeverity); err != nil {
		return Stats{}, fmt.Errorf("dashboard: severities: %w", err)
	}
	for _, n := range st.BySeverity {
		st.FindingCount += n
	}

	rows, err = r.pool.Query(ctx, `SELECT a.id, a.project_name, a.status, a.overall_severity, a.findings_count, a.created_at
		FROM audits a JOIN projects p ON p.id = a.project_id
		WHERE p.owner_id = $1 ORDER BY a.created_at DESC, a.id DESC LIMIT $2`, userID, RecentLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("dashboard: recent: %w", err)
	}
	st.Recent, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecentAudit, error) {
		var (
			ra  RecentAudit
			sev pgtype.Text
		)
		err := row.Scan(&ra.ID, &ra.ProjectName, &ra.Status, &sev, &ra.FindingsCount, &ra.CreatedAt)
		ra.OverallSeverity = sev.String
		return ra, err
	})
	if err != nil {
		return Stats{}, fmt.Errorf("dashboard: recent: %w", err)
	}
	return st, nil
}

func collectCounts(rows pgx.Rows, into map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
