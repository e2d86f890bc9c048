package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// JobStorage implements SQLite persistence for crawl jobs.
type JobStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewJobStorage creates a new job storage instance
func NewJobStorage(db *DB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, project_id, name, keywords, engines, max_images, chunking, status,
	progress, total_chunks, active_chunks, completed_chunks, failed_chunks,
	downloaded_images, valid_images, task_ids, error, created_at, started_at, completed_at, updated_at`

// Create persists a new job. The caller is responsible for having set a
// pending status and zeroed counters.
func (s *JobStorage) Create(ctx context.Context, job *models.CrawlJob) error {
	keywordsJSON, err := json.Marshal(job.Keywords)
	if err != nil {
		return errkind.Infrastructure("failed to serialize keywords", err)
	}
	enginesJSON, err := json.Marshal(job.Engines)
	if err != nil {
		return errkind.Infrastructure("failed to serialize engines", err)
	}
	taskIDsJSON, err := json.Marshal(job.TaskIDs)
	if err != nil {
		return errkind.Infrastructure("failed to serialize task ids", err)
	}
	if job.TaskIDs == nil {
		taskIDsJSON = []byte("[]")
	}

	query := `
		INSERT INTO crawl_jobs (
			id, project_id, name, keywords, engines, max_images, chunking, status,
			progress, total_chunks, active_chunks, completed_chunks, failed_chunks,
			downloaded_images, valid_images, task_ids, error, created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var chunking sql.NullString
	if job.Chunking != "" {
		chunking = sql.NullString{Valid: true, String: string(job.Chunking)}
	}
	var jobErr sql.NullString
	if job.Error != "" {
		jobErr = sql.NullString{Valid: true, String: job.Error}
	}

	now := job.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		job.CreatedAt = now
	}

	_, err = s.db.db.ExecContext(ctx, query,
		job.ID, job.ProjectID, job.Name, string(keywordsJSON), string(enginesJSON),
		job.MaxImages, chunking, string(job.Status),
		job.Progress, job.TotalChunks, job.ActiveChunks, job.CompletedChunks, job.FailedChunks,
		job.DownloadedImages, job.ValidImages, string(taskIDsJSON), jobErr,
		now.Unix(), timeToUnix(job.StartedAt), timeToUnix(job.CompletedAt), now.Unix(),
	)
	if err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to insert job %s", job.ID), err)
	}
	return nil
}

// Get returns the job or NotFound.
func (s *JobStorage) Get(ctx context.Context, id string) (*models.CrawlJob, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errkind.NotFoundf("job %s not found", id)
		}
		return nil, errkind.Infrastructure(fmt.Sprintf("failed to load job %s", id), err)
	}
	return job, nil
}

// OwnerOf resolves the owning user of a job through its project row.
func (s *JobStorage) OwnerOf(ctx context.Context, id string) (string, error) {
	var userID string
	err := s.db.db.QueryRowContext(ctx, `
		SELECT p.user_id FROM crawl_jobs j
		JOIN projects p ON p.id = j.project_id
		WHERE j.id = ?`, id).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errkind.NotFoundf("job %s not found", id)
		}
		return "", errkind.Infrastructure(fmt.Sprintf("failed to resolve owner of job %s", id), err)
	}
	return userID, nil
}

// ListByOwner returns the user's jobs, newest first, plus the total count.
func (s *JobStorage) ListByOwner(ctx context.Context, userID string, opts interfaces.JobListOptions) ([]*models.CrawlJob, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	offset := (opts.Page - 1) * opts.Limit

	where := `p.user_id = ?`
	args := []interface{}{userID}
	if opts.Status != "" {
		where += ` AND j.status = ?`
		args = append(args, opts.Status)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM crawl_jobs j JOIN projects p ON p.id = j.project_id WHERE ` + where
	if err := s.db.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errkind.Infrastructure("failed to count jobs", err)
	}

	query := `SELECT ` + prefixColumns("j", jobColumns) + `
		FROM crawl_jobs j JOIN projects p ON p.id = j.project_id
		WHERE ` + where + `
		ORDER BY j.created_at DESC, j.id DESC
		LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, offset)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errkind.Infrastructure("failed to list jobs", err)
	}
	defer rows.Close()

	var jobs []*models.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, errkind.Infrastructure("failed to scan job row", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errkind.Infrastructure("failed to iterate job rows", err)
	}
	return jobs, total, nil
}

// AppendTaskID atomically appends one task identifier to the stored list.
// json_insert appends in a single UPDATE, so concurrent appends never lose
// entries under SQLite's writer serialization.
func (s *JobStorage) AppendTaskID(ctx context.Context, id, taskID string) error {
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE crawl_jobs
		SET task_ids = json_insert(task_ids, '$[#]', ?), updated_at = ?
		WHERE id = ?`, taskID, time.Now().UTC().Unix(), id)
	if err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to append task id to job %s", id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errkind.Infrastructure("failed to read affected rows", err)
	}
	if affected == 0 {
		return errkind.NotFoundf("job %s not found", id)
	}
	return nil
}

// UpdateCounters applies signed deltas inside a single transaction and
// re-reads the row. A result that would leave completed+active+failed
// outside [0, total] rolls back.
func (s *JobStorage) UpdateCounters(ctx context.Context, id string, d models.CounterDeltas) (*models.CrawlJob, error) {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errkind.Infrastructure("failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE crawl_jobs SET
			completed_chunks = completed_chunks + ?,
			active_chunks = active_chunks + ?,
			failed_chunks = failed_chunks + ?,
			downloaded_images = downloaded_images + ?,
			progress = CASE WHEN total_chunks > 0
				THEN (completed_chunks + ?) * 100 / total_chunks
				ELSE 0 END,
			updated_at = ?
		WHERE id = ?`,
		d.Completed, d.Active, d.Failed, d.Downloaded, d.Completed,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return nil, errkind.Infrastructure(fmt.Sprintf("failed to update counters for job %s", id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errkind.Infrastructure("failed to read affected rows", err)
	}
	if affected == 0 {
		return nil, errkind.NotFoundf("job %s not found", id)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM crawl_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, errkind.Infrastructure(fmt.Sprintf("failed to re-read job %s", id), err)
	}

	sum := job.CompletedChunks + job.ActiveChunks + job.FailedChunks
	if job.CompletedChunks < 0 || job.ActiveChunks < 0 || job.FailedChunks < 0 || job.DownloadedImages < 0 ||
		(job.TotalChunks > 0 && sum > job.TotalChunks) {
		return nil, errkind.Validationf(
			"counter update for job %s violates chunk bounds (completed=%d active=%d failed=%d total=%d)",
			id, job.CompletedChunks, job.ActiveChunks, job.FailedChunks, job.TotalChunks)
	}

	if err := tx.Commit(); err != nil {
		return nil, errkind.Infrastructure("failed to commit counter update", err)
	}
	return job, nil
}

// TransitionStatus performs the guarded CAS. The update commits only when
// the current status is in fromSet; a failed guard returns (false, nil).
func (s *JobStorage) TransitionStatus(ctx context.Context, id string, fromSet []models.JobStatus, to models.JobStatus, fields interfaces.TransitionFields) (bool, error) {
	if len(fromSet) == 0 {
		return false, errkind.Validationf("transition for job %s requires a non-empty from set", id)
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(to), time.Now().UTC().Unix()}

	if fields.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, fields.StartedAt.Unix())
	}
	if fields.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, fields.CompletedAt.Unix())
	}
	if fields.Error != nil {
		set = append(set, "error = ?")
		if *fields.Error == "" {
			args = append(args, nil)
		} else {
			args = append(args, *fields.Error)
		}
	}
	if fields.TotalChunks != nil {
		set = append(set, "total_chunks = ?")
		args = append(args, *fields.TotalChunks)
	}
	if fields.Progress != nil {
		set = append(set, "progress = ?")
		args = append(args, *fields.Progress)
	}
	if fields.ActiveChunks != nil {
		set = append(set, "active_chunks = ?")
		args = append(args, *fields.ActiveChunks)
	}
	if fields.Chunking != nil {
		set = append(set, "chunking = ?")
		args = append(args, string(*fields.Chunking))
	}

	placeholders := make([]string, len(fromSet))
	for i, from := range fromSet {
		placeholders[i] = "?"
		args = append(args, string(from))
	}

	query := fmt.Sprintf(`UPDATE crawl_jobs SET %s WHERE id = ? AND status IN (%s)`,
		strings.Join(set, ", "), strings.Join(placeholders, ", "))
	// id sits between the SET args and the IN args
	final := make([]interface{}, 0, len(args)+1)
	final = append(final, args[:len(args)-len(fromSet)]...)
	final = append(final, id)
	final = append(final, args[len(args)-len(fromSet):]...)

	res, err := s.db.db.ExecContext(ctx, query, final...)
	if err != nil {
		return false, errkind.Infrastructure(fmt.Sprintf("failed to transition job %s to %s", id, to), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errkind.Infrastructure("failed to read affected rows", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Guard failed: distinguish a missing row from a status mismatch.
	var exists int
	err = s.db.db.QueryRowContext(ctx, `SELECT 1 FROM crawl_jobs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errkind.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return false, errkind.Infrastructure(fmt.Sprintf("failed to check job %s", id), err)
	}
	return false, nil
}

// MarkTaskProcessed records a completion callback in the side table. The
// primary key turns replays into no-op inserts; affected rows tell the two
// cases apart.
func (s *JobStorage) MarkTaskProcessed(ctx context.Context, id, taskID string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_tasks (crawl_job_id, task_id, processed_at)
		VALUES (?, ?, ?)`, id, taskID, time.Now().UTC().Unix())
	if err != nil {
		return false, errkind.Infrastructure(fmt.Sprintf("failed to mark task %s processed", taskID), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errkind.Infrastructure("failed to read affected rows", err)
	}
	return affected > 0, nil
}

// ResetCounters zeroes the runtime counters, clears task tracking and the
// error. Allowed only from failed or cancelled.
func (s *JobStorage) ResetCounters(ctx context.Context, id string) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.Infrastructure("failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE crawl_jobs SET
			active_chunks = 0, completed_chunks = 0, failed_chunks = 0,
			downloaded_images = 0, valid_images = 0, progress = 0,
			total_chunks = 0, task_ids = '[]', error = NULL, updated_at = ?
		WHERE id = ? AND status IN ('failed', 'cancelled')`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to reset counters for job %s", id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errkind.Infrastructure("failed to read affected rows", err)
	}
	if affected == 0 {
		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM crawl_jobs WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return errkind.NotFoundf("job %s not found", id)
		}
		if err != nil {
			return errkind.Infrastructure(fmt.Sprintf("failed to check job %s", id), err)
		}
		return errkind.Validationf("counters of job %s can only be reset from failed or cancelled, not %s", id, status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_tasks WHERE crawl_job_id = ?`, id); err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to clear processed tasks for job %s", id), err)
	}

	if err := tx.Commit(); err != nil {
		return errkind.Infrastructure("failed to commit counter reset", err)
	}
	return nil
}

// ActiveTaskIDs returns dispatched task ids without a processed record.
func (s *JobStorage) ActiveTaskIDs(ctx context.Context, id string) ([]string, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.db.QueryContext(ctx, `SELECT task_id FROM processed_tasks WHERE crawl_job_id = ?`, id)
	if err != nil {
		return nil, errkind.Infrastructure(fmt.Sprintf("failed to load processed tasks for job %s", id), err)
	}
	defer rows.Close()

	processed := make(map[string]bool)
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, errkind.Infrastructure("failed to scan processed task row", err)
		}
		processed[taskID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Infrastructure("failed to iterate processed task rows", err)
	}

	active := make([]string, 0, len(job.TaskIDs))
	for _, taskID := range job.TaskIDs {
		if !processed[taskID] {
			active = append(active, taskID)
		}
	}
	return active, nil
}

// StaleRunning returns running jobs whose last update predates the cutoff.
func (s *JobStorage) StaleRunning(ctx context.Context, cutoff time.Time) ([]*models.CrawlJob, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM crawl_jobs
		WHERE status = 'running' AND updated_at < ?`, cutoff.Unix())
	if err != nil {
		return nil, errkind.Infrastructure("failed to scan for stale jobs", err)
	}
	defer rows.Close()

	var jobs []*models.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errkind.Infrastructure("failed to scan stale job row", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Infrastructure("failed to iterate stale job rows", err)
	}
	return jobs, nil
}

// CountByStatus returns job counts keyed by status.
func (s *JobStorage) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM crawl_jobs GROUP BY status`)
	if err != nil {
		return nil, errkind.Infrastructure("failed to count jobs by status", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errkind.Infrastructure("failed to scan status count row", err)
		}
		counts[models.JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errkind.Infrastructure("failed to iterate status count rows", err)
	}
	return counts, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanJob maps one crawl_jobs row into a model.
func scanJob(row scanner) (*models.CrawlJob, error) {
	var (
		job                    models.CrawlJob
		keywordsJSON           string
		enginesJSON            string
		taskIDsJSON            string
		chunking, jobErr       sql.NullString
		createdAt, updatedAt   int64
		startedAt, completedAt sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &job.ProjectID, &job.Name, &keywordsJSON, &enginesJSON, &job.MaxImages,
		&chunking, (*string)(&job.Status),
		&job.Progress, &job.TotalChunks, &job.ActiveChunks, &job.CompletedChunks, &job.FailedChunks,
		&job.DownloadedImages, &job.ValidImages, &taskIDsJSON, &jobErr,
		&createdAt, &startedAt, &completedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(keywordsJSON), &job.Keywords); err != nil {
		return nil, fmt.Errorf("failed to decode keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(enginesJSON), &job.Engines); err != nil {
		return nil, fmt.Errorf("failed to decode engines: %w", err)
	}
	if err := json.Unmarshal([]byte(taskIDsJSON), &job.TaskIDs); err != nil {
		return nil, fmt.Errorf("failed to decode task ids: %w", err)
	}

	if chunking.Valid {
		job.Chunking = models.ChunkingForm(chunking.String)
	}
	if jobErr.Valid {
		job.Error = jobErr.String
	}
	job.CreatedAt = unixToTime(createdAt)
	job.UpdatedAt = unixToTime(updatedAt)
	if startedAt.Valid {
		job.StartedAt = unixToTime(startedAt.Int64)
	}
	if completedAt.Valid {
		job.CompletedAt = unixToTime(completedAt.Int64)
	}
	return &job, nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
