package audits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigil-sec/vigil/internal/credits"
	"github.com/vigil-sec/vigil/internal/platform/db"
	"github.com/vigil-sec/vigil/internal/shared"
)

// Repository is the web-facing audit store. Reads and writes are scoped to
// the owning user.
type Repository interface {
	History(ctx context.Context, f HistoryFilter) ([]Audit, int, error)
	Export(ctx context.Context, f HistoryFilter, limit int) ([]Audit, error)
	Get(ctx context.Context, userID, id int64) (Audit, error)
	Findings(ctx context.Context, auditID int64) ([]Finding, error)
	Create(ctx context.Context, userID, projectID int64, cost int) (Audit, error)
	Delete(ctx context.Context, userID, id int64) error
	Rerun(ctx context.Context, userID, id int64) (Audit, error)
	MarkFailed(ctx context.Context, id int64) error
}

// SourceFile is a project file as seen by the simulator.
type SourceFile struct {
	ID       int64
	Name     string
	Path     string
	Language string
}

// Target is everything the simulator needs about one audit.
type Target struct {
	Audit   Audit
	OwnerID int64
	Files   []SourceFile
}

// SimulationStore is the worker-facing audit store.
type SimulationStore interface {
	Target(ctx context.Context, id int64) (Target, error)
	Advance(ctx context.Context, id int64, status Status, progress int) error
	Complete(ctx context.Context, id int64, findings []Finding) (Stats, error)
	MarkFailed(ctx context.Context, id int64) error
}

// PGRepository implements Repository and SimulationStore on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const auditColumns = `a.id, a.project_id, a.project_name, a.status, a.progress, a.size,
	a.overall_severity, a.findings_count, a.started_at, a.completed_at, a.created_at, a.updated_at`

func scanAudit(row pgx.Row) (Audit, error) {
	var (
		a         Audit
		status    string
		severity  pgtype.Text
		started   pgtype.Timestamptz
		completed pgtype.Timestamptz
	)
	err := row.Scan(&a.ID, &a.ProjectID, &a.ProjectName, &status, &a.Progress, &a.Size,
		&severity, &a.FindingsCount, &started, &completed, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Audit{}, err
	}
	a.Status = Status(status)
	if severity.Valid {
		sev := Severity(severity.String)
		a.OverallSeverity = &sev
	}
	a.StartedAt = timePtr(started)
	a.CompletedAt = timePtr(completed)
	return a, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func collectAudits(rows pgx.Rows) ([]Audit, error) {
	defer rows.Close()
	var out []Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// History returns one filtered page and the total match count.
func (r *PGRepository) History(ctx context.Context, f HistoryFilter) ([]Audit, int, error) {
	var total int
	countSQL := `SELECT COUNT(*) FROM audits a JOIN projects p ON p.id = a.project_id WHERE ` + f.Where
	if err := r.pool.QueryRow(ctx, countSQL, f.Args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audits: count history: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	args := append(append([]any{}, f.Args...), f.PageSize, f.Offset())
	query := fmt.Sprintf(`SELECT %s FROM audits a JOIN projects p ON p.id = a.project_id
		WHERE %s ORDER BY a.created_at DESC, a.id ASC LIMIT $%d OFFSET $%d`,
		auditColumns, f.Where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audits: history: %w", err)
	}
	items, err := collectAudits(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("audits: scan history: %w", err)
	}
	return items, total, nil
}

// Export returns up to limit rows matching the filter, ignoring paging.
func (r *PGRepository) Export(ctx context.Context, f HistoryFilter, limit int) ([]Audit, error) {
	args := append(append([]any{}, f.Args...), limit)
	query := fmt.Sprintf(`SELECT %s FROM audits a JOIN projects p ON p.id = a.project_id
		WHERE %s ORDER BY a.created_at DESC, a.id ASC LIMIT $%d`, auditColumns, f.Where, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audits: export: %w", err)
	}
	items, err := collectAudits(rows)
	if err != nil {
		return nil, fmt.Errorf("audits: scan export: %w", err)
	}
	return items, nil
}

// Get loads one audit owned by userID.
func (r *PGRepository) Get(ctx context.Context, userID, id int64) (Audit, error) {
	a, err := scanAudit(r.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audits a
		JOIN projects p ON p.id = a.project_id WHERE a.id = $1 AND p.owner_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Audit{}, shared.ErrNotFound
	}
	if err != nil {
		return Audit{}, fmt.Errorf("audits: get: %w", err)
	}
	return a, nil
}

// Findings lists the findings of an audit, worst first.
func (r *PGRepository) Findings(ctx context.Context, auditID int64) ([]Finding, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, audit_id, file_id, severity, category, title,
		location, line, remediation, created_at FROM findings WHERE audit_id = $1 ORDER BY id`, auditID)
	if err != nil {
		return nil, fmt.Errorf("audits: findings: %w", err)
	}
	defer rows.Close()
	var out []Finding
	for rows.Next() {
		var (
			f        Finding
			fileID   pgtype.Int8
			severity string
		)
		if err := rows.Scan(&f.ID, &f.AuditID, &fileID, &severity, &f.Category, &f.Title,
			&f.Location, &f.Line, &f.Remediation, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("audits: scan finding: %w", err)
		}
		f.Severity = Severity(severity)
		if fileID.Valid {
			id := fileID.Int64
			f.FileID = &id
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audits: findings: %w", err)
	}
	SortFindings(out)
	return out, nil
}

// Create charges the audit cost and inserts a queued audit in one
// transaction.
func (r *PGRepository) Create(ctx context.Context, userID, projectID int64, cost int) (Audit, error) {
	var a Audit
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			name string
			size int64
		)
		err := tx.QueryRow(ctx, `SELECT p.name, COALESCE((SELECT SUM(size) FROM files WHERE project_id = p.id), 0)
			FROM projects p WHERE p.id = $1 AND p.owner_id = $2`, projectID, userID).Scan(&name, &size)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("audits: load project: %w", err)
		}
		if _, err := credits.ConsumeTx(ctx, tx, userID, cost); err != nil {
			return err
		}
		a, err = scanAudit(tx.QueryRow(ctx, `INSERT INTO audits AS a (project_id, project_name, status, size)
			VALUES ($1, $2, $3, $4) RETURNING `+auditColumns, projectID, name, StatusQueued, size))
		if err != nil {
			return fmt.Errorf("audits: insert: %w", err)
		}
		return nil
	})
	return a, err
}

// Delete removes a queued audit. ErrNotDeletable is returned when the audit
// exists but has left the queue.
func (r *PGRepository) Delete(ctx context.Context, userID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audits a USING projects p
		WHERE a.id = $1 AND p.id = a.project_id AND p.owner_id = $2 AND a.status = $3`, id, userID, StatusQueued)
	if err != nil {
		return fmt.Errorf("audits: delete: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.Get(ctx, userID, id); err != nil {
		return err
	}
	return ErrNotDeletable
}

// Rerun clears the findings of a finished audit and puts it back in the
// queue, all in one transaction.
func (r *PGRepository) Rerun(ctx context.Context, userID, id int64) (Audit, error) {
	var a Audit
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT a.status FROM audits a JOIN projects p ON p.id = a.project_id
			WHERE a.id = $1 AND p.owner_id = $2 FOR UPDATE OF a`, id, userID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("audits: lock: %w", err)
		}
		if !Status(status).Finished() {
			return ErrNotRerunnable
		}
		if _, err := tx.Exec(ctx, `DELETE FROM findings WHERE audit_id = $1`, id); err != nil {
			return fmt.Errorf("audits: clear findings: %w", err)
		}
		a, err = scanAudit(tx.QueryRow(ctx, `UPDATE audits AS a SET status = $2, progress = 0,
			findings_count = 0, overall_severity = NULL, started_at = NULL, completed_at = NULL,
			updated_at = NOW() WHERE a.id = $1 RETURNING `+auditColumns, id, StatusQueued))
		if err != nil {
			return fmt.Errorf("audits: reset: %w", err)
		}
		return nil
	})
	return a, err
}

// MarkFailed moves an unfinished audit to FAILED.
func (r *PGRepository) MarkFailed(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE audits SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`, id, StatusFailed)
	if err != nil {
		return fmt.Errorf("audits: mark failed: %w", err)
	}
	return nil
}

// Target loads an audit with its owner and the project's files.
func (r *PGRepository) Target(ctx context.Context, id int64) (Target, error) {
	var t Target
	row := r.pool.QueryRow(ctx, `SELECT `+auditColumns+`, p.owner_id FROM audits a
		JOIN projects p ON p.id = a.project_id WHERE a.id = $1`, id)
	var (
		status    string
		severity  pgtype.Text
		started   pgtype.Timestamptz
		completed pgtype.Timestamptz
	)
	a := &t.Audit
	err := row.Scan(&a.ID, &a.ProjectID, &a.ProjectName, &status, &a.Progress, &a.Size,
		&severity, &a.FindingsCount, &started, &completed, &a.CreatedAt, &a.UpdatedAt, &t.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Target{}, shared.ErrNotFound
	}
	if err != nil {
		return Target{}, fmt.Errorf("audits: target: %w", err)
	}
	a.Status = Status(status)
	if severity.Valid {
		sev := Severity(severity.String)
		a.OverallSeverity = &sev
	}
	a.StartedAt = timePtr(started)
	a.CompletedAt = timePtr(completed)

	rows, err := r.pool.Query(ctx, `SELECT id, name, path, language FROM files WHERE project_id = $1 ORDER BY path, id`, a.ProjectID)
	if err != nil {
		return Target{}, fmt.Errorf("audits: target files: %w", err)
	}
	t.Files, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (SourceFile, error) {
		var f SourceFile
		err := row.Scan(&f.ID, &f.Name, &f.Path, &f.Language)
		return f, err
	})
	if err != nil {
		return Target{}, fmt.Errorf("audits: target files: %w", err)
	}
	return t, nil
}

// Advance moves a running audit forward. started_at is set the first time
// the audit leaves the queue.
func (r *PGRepository) Advance(ctx context.Context, id int64, status Status, progress int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE audits SET status = $2, progress = $3,
		started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`, id, status, progress)
	if err != nil {
		return fmt.Errorf("audits: advance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Complete stores findings, recomputes the derived counters from the full
// finding set and marks the audit COMPLETED in one transaction. Audits that
// already finished, e.g. marked FAILED mid-run, yield shared.ErrNotFound.
func (r *PGRepository) Complete(ctx context.Context, id int64, findings []Finding) (Stats, error) {
	var st Stats
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM audits WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("audits: lock audit: %w", err)
		}
		if Status(status).Finished() {
			return shared.ErrNotFound
		}

		batch := &pgx.Batch{}
		for _, f := range findings {
			batch.Queue(`INSERT INTO findings (audit_id, file_id, severity, category, title, location, line, remediation)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				id, f.FileID, f.Severity, f.Category, f.Title, f.Location, f.Line, f.Remediation)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("audits: insert findings: %w", err)
			}
		}

		rows, err := tx.Query(ctx, `SELECT severity FROM findings WHERE audit_id = $1`, id)
		if err != nil {
			return fmt.Errorf("audits: load severities: %w", err)
		}
		severities, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("audits: load severities: %w", err)
		}
		all := make([]Finding, len(severities))
		for i, s := range severities {
			all[i].Severity = Severity(s)
		}
		st = DeriveStats(all)

		var overall *string
		if st.Overall != nil {
			s := string(*st.Overall)
			overall = &s
		}
		tag, err := tx.Exec(ctx, `UPDATE audits SET status = $2, progress = 100, findings_count = $3,
			overall_severity = $4, completed_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`,
			id, StatusCompleted, st.Count, overall)
		if err != nil {
			return fmt.Errorf("audits: complete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
	return st, err
}

var (
	_ Repository      = (*PGRepository)(nil)
	_ SimulationStore = (*PGRepository)(nil)
)
