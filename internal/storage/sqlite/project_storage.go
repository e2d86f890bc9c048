package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// ProjectStorage implements SQLite persistence for projects.
type ProjectStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewProjectStorage creates a new project storage instance
func NewProjectStorage(db *DB, logger arbor.ILogger) interfaces.ProjectStorage {
	return &ProjectStorage{
		db:     db,
		logger: logger,
	}
}

// Create persists a new project.
func (s *ProjectStorage) Create(ctx context.Context, p *models.Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.CreatedAt.Unix(), p.UpdatedAt.Unix())
	if err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to insert project %s", p.ID), err)
	}
	return nil
}

// Get returns the project or NotFound.
func (s *ProjectStorage) Get(ctx context.Context, id string) (*models.Project, error) {
	var (
		p                    models.Project
		createdAt, updatedAt int64
	)
	err := s.db.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.UserID, &p.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errkind.NotFoundf("project %s not found", id)
		}
		return nil, errkind.Infrastructure(fmt.Sprintf("failed to load project %s", id), err)
	}
	p.CreatedAt = unixToTime(createdAt)
	p.UpdatedAt = unixToTime(updatedAt)
	return &p, nil
}

// Delete removes a project. Refused while the project still references
// pending or running jobs; deletion cascades logically to finished jobs.
func (s *ProjectStorage) Delete(ctx context.Context, id string) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.Infrastructure("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM crawl_jobs
		WHERE project_id = ? AND status IN ('pending', 'running')`, id).Scan(&active)
	if err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to count active jobs for project %s", id), err)
	}
	if active > 0 {
		return errkind.Validationf("project %s still has %d active jobs", id, active)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM processed_tasks WHERE crawl_job_id IN (SELECT id FROM crawl_jobs WHERE project_id = ?)`, id); err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to delete processed tasks for project %s", id), err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM images WHERE crawl_job_id IN (SELECT id FROM crawl_jobs WHERE project_id = ?)`, id); err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to delete images for project %s", id), err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM job_chunks WHERE crawl_job_id IN (SELECT id FROM crawl_jobs WHERE project_id = ?)`, id); err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to delete chunks for project %s", id), err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_jobs WHERE project_id = ?`, id); err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to delete jobs for project %s", id), err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to delete project %s", id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errkind.Infrastructure("failed to read affected rows", err)
	}
	if affected == 0 {
		return errkind.NotFoundf("project %s not found", id)
	}

	if err := tx.Commit(); err != nil {
		return errkind.Infrastructure("failed to commit project deletion", err)
	}
	return nil
}

// ListByOwner returns the user's projects, newest first.
func (s *ProjectStorage) ListByOwner(ctx context.Context, userID string) ([]*models.Project, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at FROM projects
		WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errkind.Infrastructure("failed to list projects", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var (
			p                    models.Project
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &createdAt, &updatedAt); err != nil {
			return nil, errkind.Infrastructure("failed to scan project row", err)
		}
		p.CreatedAt = unixToTime(createdAt)
		p.UpdatedAt = unixToTime(updatedAt)
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Infrastructure("failed to iterate project rows", err)
	}
	return projects, nil
}
