package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigil-sec/vigil/internal/platform/db"
	"github.com/vigil-sec/vigil/internal/shared"
)

// Repository persists projects and their files. Every method is scoped to
// ownerID and reports shared.ErrNotFound for projects owned by someone else.
type Repository interface {
	List(ctx context.Context, ownerID int64, limit, offset int) ([]Project, int, error)
	Get(ctx context.Context, ownerID, id int64) (Project, error)
	Create(ctx context.Context, ownerID int64, in Input) (Project, error)
	Update(ctx context.Context, ownerID, id int64, in Input) (Project, error)
	Delete(ctx context.Context, ownerID, id int64) ([]string, error)
	Files(ctx context.Context, ownerID, projectID int64) ([]File, error)
	AddFile(ctx context.Context, ownerID int64, f File) (File, error)
	RemoveFile(ctx context.Context, ownerID, projectID, fileID int64) (File, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const projectColumns = `id, owner_id, name, description, file_count, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.FileCount, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// List returns a page of the owner's projects, newest first, and the total.
func (r *PGRepository) List(ctx context.Context, ownerID int64, limit, offset int) ([]Project, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("projects: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects
		WHERE owner_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("projects: list: %w", err)
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("projects: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Get loads one project.
func (r *PGRepository) Get(ctx context.Context, ownerID, id int64) (Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, shared.ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("projects: get: %w", err)
	}
	return p, nil
}

// Create inserts a project.
func (r *PGRepository) Create(ctx context.Context, ownerID int64, in Input) (Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `
		INSERT INTO projects (owner_id, name, description) VALUES ($1, $2, $3)
		RETURNING `+projectColumns, ownerID, in.Name, in.Description))
	if err != nil {
		return Project{}, fmt.Errorf("projects: create: %w", err)
	}
	return p, nil
}

// Update changes name and description. A rename is copied onto the
// project's audits in the same transaction.
func (r *PGRepository) Update(ctx context.Context, ownerID, id int64, in Input) (Project, error) {
	var p Project
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		p, err = scanProject(tx.QueryRow(ctx, `
			UPDATE projects SET name = $3, description = $4, updated_at = NOW()
			WHERE id = $1 AND owner_id = $2
			RETURNING `+projectColumns, id, ownerID, in.Name, in.Description))
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("projects: update: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE audits SET project_name = $2, updated_at = NOW()
			WHERE project_id = $1 AND project_name <> $2`, id, in.Name); err != nil {
			return fmt.Errorf("projects: rename audits: %w", err)
		}
		return nil
	})
	return p, err
}

// Delete removes the project. Files, audits and findings go with it through
// foreign key cascades. The object keys of the removed files are returned so
// the caller can clean up the blob store.
func (r *PGRepository) Delete(ctx context.Context, ownerID, id int64) ([]string, error) {
	var keys []string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT f.object_key FROM files f
			JOIN projects p ON p.id = f.project_id
			WHERE p.id = $1 AND p.owner_id = $2 AND f.object_key IS NOT NULL`, id, ownerID)
		if err != nil {
			return fmt.Errorf("projects: file keys: %w", err)
		}
		keys, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("projects: file keys: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID)
		if err != nil {
			return fmt.Errorf("projects: delete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

const fileColumns = `f.id, f.project_id, f.name, f.path, f.language, f.size, COALESCE(f.object_key, ''), f.created_at`

func scanFile(row pgx.Row) (File, error) {
	var f File
	err := row.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Path, &f.Language, &f.Size, &f.ObjectKey, &f.CreatedAt)
	return f, err
}

// Files lists the files of a project ordered by path.
func (r *PGRepository) Files(ctx context.Context, ownerID, projectID int64) ([]File, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fileColumns+` FROM files f
		JOIN projects p ON p.id = f.project_id
		WHERE f.project_id = $1 AND p.owner_id = $2
		ORDER BY f.path, f.id`, projectID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("projects: files: %w", err)
	}
	defer rows.Close()
	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("projects: scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AddFile inserts a file row and bumps file_count in one transaction.
func (r *PGRepository) AddFile(ctx context.Context, ownerID int64, f File) (File, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE projects SET file_count = file_count + 1, updated_at = NOW()
			WHERE id = $1 AND owner_id = $2`, f.ProjectID, ownerID)
		if err != nil {
			return fmt.Errorf("projects: bump file count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		var key *string
		if f.ObjectKey != "" {
			key = &f.ObjectKey
		}
		err = tx.QueryRow(ctx, `INSERT INTO files (project_id, name, path, language, size, object_key)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
			f.ProjectID, f.Name, f.Path, f.Language, f.Size, key).Scan(&f.ID, &f.CreatedAt)
		if err != nil {
			return fmt.Errorf("projects: insert file: %w", err)
		}
		return nil
	})
	return f, err
}

// RemoveFile deletes a file and decrements file_count in one transaction.
func (r *PGRepository) RemoveFile(ctx context.Context, ownerID, projectID, fileID int64) (File, error) {
	var f File
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		f, err = scanFile(tx.QueryRow(ctx, `DELETE FROM files f USING projects p
			WHERE f.id = $1 AND f.project_id = $2 AND p.id = f.project_id AND p.owner_id = $3
			RETURNING `+fileColumns, fileID, projectID, ownerID))
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("projects: delete file: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE projects SET file_count = GREATEST(file_count - 1, 0), updated_at = NOW()
			WHERE id = $1`, projectID); err != nil {
			return fmt.Errorf("projects: drop file count: %w", err)
		}
		return nil
	})
	return f, err
}

var _ Repository = (*PGRepository)(nil)
