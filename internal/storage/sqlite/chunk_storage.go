package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// ChunkStorage implements SQLite persistence for range-form job chunks.
type ChunkStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewChunkStorage creates a new chunk storage instance
func NewChunkStorage(db *DB, logger arbor.ILogger) interfaces.ChunkStorage {
	return &ChunkStorage{
		db:     db,
		logger: logger,
	}
}

const chunkColumns = `id, crawl_job_id, image_range_start, image_range_end, status, priority,
	retry_count, task_id, error, created_at, started_at, completed_at`

// CreateChunks lays out contiguous half-open ranges of chunkSize images
// covering [0, maxImages). The last range may be shorter; range widths sum
// to maxImages.
func (s *ChunkStorage) CreateChunks(ctx context.Context, jobID string, chunkSize, maxImages, priority int) ([]*models.JobChunk, error) {
	if chunkSize <= 0 {
		return nil, errkind.Validationf("chunk size must be positive, got %d", chunkSize)
	}
	if maxImages <= 0 {
		return nil, errkind.Validationf("max images must be positive, got %d", maxImages)
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errkind.Infrastructure("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_chunks (
			id, crawl_job_id, image_range_start, image_range_end, status, priority,
			retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`)
	if err != nil {
		return nil, errkind.Infrastructure("failed to prepare chunk insert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var chunks []*models.JobChunk
	for start := 0; start < maxImages; start += chunkSize {
		end := start + chunkSize
		if end > maxImages {
			end = maxImages
		}
		chunk := &models.JobChunk{
			ID:         common.NewChunkID(),
			CrawlJobID: jobID,
			RangeStart: start,
			RangeEnd:   end,
			Status:     models.ChunkStatusPending,
			Priority:   priority,
			CreatedAt:  now,
		}
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, jobID, start, end, string(chunk.Status), priority, now.Unix()); err != nil {
			return nil, errkind.Infrastructure(fmt.Sprintf("failed to insert chunk for job %s", jobID), err)
		}
		chunks = append(chunks, chunk)
	}

	if err := tx.Commit(); err != nil {
		return nil, errkind.Infrastructure("failed to commit chunk layout", err)
	}
	return chunks, nil
}

// NextPending returns the highest-priority pending chunk, or NotFound when
// none remain.
func (s *ChunkStorage) NextPending(ctx context.Context, jobID string) (*models.JobChunk, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+` FROM job_chunks
		WHERE crawl_job_id = ? AND status = 'pending'
		ORDER BY priority DESC, image_range_start
		LIMIT 1`, jobID)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errkind.NotFoundf("no pending chunks for job %s", jobID)
		}
		return nil, errkind.Infrastructure(fmt.Sprintf("failed to load next pending chunk for job %s", jobID), err)
	}
	return chunk, nil
}

// TransitionChunk performs the chunk-level guarded CAS, mirroring the job
// state machine restricted to one chunk.
func (s *ChunkStorage) TransitionChunk(ctx context.Context, id string, fromSet []models.ChunkStatus, to models.ChunkStatus, taskID, errMsg string) (bool, error) {
	if len(fromSet) == 0 {
		return false, errkind.Validationf("chunk transition requires a non-empty from set")
	}

	now := time.Now().UTC().Unix()
	set := []string{"status = ?"}
	args := []interface{}{string(to)}

	switch to {
	case models.ChunkStatusProcessing:
		set = append(set, "started_at = ?")
		args = append(args, now)
	case models.ChunkStatusCompleted, models.ChunkStatusFailed:
		set = append(set, "completed_at = ?")
		args = append(args, now)
	}
	if taskID != "" {
		set = append(set, "task_id = ?")
		args = append(args, taskID)
	}
	if errMsg != "" {
		set = append(set, "error = ?", "retry_count = retry_count + 1")
		args = append(args, errMsg)
	}

	placeholders := make([]string, len(fromSet))
	fromArgs := make([]interface{}, len(fromSet))
	for i, from := range fromSet {
		placeholders[i] = "?"
		fromArgs[i] = string(from)
	}

	query := fmt.Sprintf(`UPDATE job_chunks SET %s WHERE id = ? AND status IN (%s)`,
		strings.Join(set, ", "), strings.Join(placeholders, ", "))
	args = append(args, id)
	args = append(args, fromArgs...)

	res, err := s.db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errkind.Infrastructure(fmt.Sprintf("failed to transition chunk %s to %s", id, to), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errkind.Infrastructure("failed to read affected rows", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists int
	err = s.db.db.QueryRowContext(ctx, `SELECT 1 FROM job_chunks WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errkind.NotFoundf("chunk %s not found", id)
	}
	if err != nil {
		return false, errkind.Infrastructure(fmt.Sprintf("failed to check chunk %s", id), err)
	}
	return false, nil
}

// TransitionByTask resolves the chunk dispatched under taskID and applies
// the terminal transition for it.
func (s *ChunkStorage) TransitionByTask(ctx context.Context, jobID, taskID string, to models.ChunkStatus, errMsg string) (bool, error) {
	var chunkID string
	err := s.db.db.QueryRowContext(ctx, `
		SELECT id FROM job_chunks WHERE crawl_job_id = ? AND task_id = ?`, jobID, taskID).Scan(&chunkID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errkind.Infrastructure(fmt.Sprintf("failed to resolve chunk for task %s", taskID), err)
	}
	return s.TransitionChunk(ctx, chunkID,
		[]models.ChunkStatus{models.ChunkStatusPending, models.ChunkStatusProcessing}, to, "", errMsg)
}

// ProgressFor aggregates chunk counts by status for one job.
func (s *ChunkStorage) ProgressFor(ctx context.Context, jobID string) (pending, processing, completed, failed int, err error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM job_chunks WHERE crawl_job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return 0, 0, 0, 0, errkind.Infrastructure(fmt.Sprintf("failed to aggregate chunks for job %s", jobID), err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, 0, 0, errkind.Infrastructure("failed to scan chunk count row", err)
		}
		switch models.ChunkStatus(status) {
		case models.ChunkStatusPending:
			pending = count
		case models.ChunkStatusProcessing:
			processing = count
		case models.ChunkStatusCompleted:
			completed = count
		case models.ChunkStatusFailed:
			failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, 0, 0, errkind.Infrastructure("failed to iterate chunk count rows", err)
	}
	return pending, processing, completed, failed, nil
}

// DeleteByJob removes all chunk rows of a job. Used by retry before a fresh
// range layout.
func (s *ChunkStorage) DeleteByJob(ctx context.Context, jobID string) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM job_chunks WHERE crawl_job_id = ?`, jobID); err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to delete chunks for job %s", jobID), err)
	}
	return nil
}

// scanChunk maps one job_chunks row into a model.
func scanChunk(row scanner) (*models.JobChunk, error) {
	var (
		chunk                  models.JobChunk
		taskID, errMsg         sql.NullString
		createdAt              int64
		startedAt, completedAt sql.NullInt64
	)

	err := row.Scan(
		&chunk.ID, &chunk.CrawlJobID, &chunk.RangeStart, &chunk.RangeEnd,
		(*string)(&chunk.Status), &chunk.Priority, &chunk.RetryCount,
		&taskID, &errMsg, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	chunk.TaskID = taskID.String
	chunk.ErrorMessage = errMsg.String
	chunk.CreatedAt = unixToTime(createdAt)
	if startedAt.Valid {
		chunk.StartedAt = unixToTime(startedAt.Int64)
	}
	if completedAt.Valid {
		chunk.CompletedAt = unixToTime(completedAt.Int64)
	}
	return &chunk, nil
}
