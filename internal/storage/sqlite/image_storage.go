package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// ImageStorage implements SQLite persistence for downloaded images.
type ImageStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewImageStorage creates a new image storage instance
func NewImageStorage(db *DB, logger arbor.ILogger) interfaces.ImageStorage {
	return &ImageStorage{
		db:     db,
		logger: logger,
	}
}

const imageColumns = `id, crawl_job_id, source_url, storage_key, width, height, bytes, format,
	content_hash, perceptual_hash, is_valid, is_duplicate, labels, metadata, created_at`

// BulkCreate inserts all records of one completed chunk in a single
// transaction and returns the created rows in input order.
func (s *ImageStorage) BulkCreate(ctx context.Context, jobID string, records []models.ImageRecord) ([]*models.Image, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errkind.Infrastructure("failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO images (
			id, crawl_job_id, source_url, storage_key, width, height, bytes, format,
			content_hash, perceptual_hash, labels, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, errkind.Infrastructure("failed to prepare image insert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	images := make([]*models.Image, 0, len(records))
	for _, rec := range records {
		labelsJSON, err := json.Marshal(rec.Labels)
		if err != nil {
			return nil, errkind.Infrastructure("failed to serialize image labels", err)
		}
		metadataJSON, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, errkind.Infrastructure("failed to serialize image metadata", err)
		}

		img := &models.Image{
			ID:             common.NewImageID(),
			CrawlJobID:     jobID,
			SourceURL:      rec.SourceURL,
			StorageKey:     rec.StorageKey,
			Width:          rec.Width,
			Height:         rec.Height,
			Bytes:          rec.Bytes,
			Format:         rec.Format,
			ContentHash:    rec.ContentHash,
			PerceptualHash: rec.PerceptualHash,
			Labels:         rec.Labels,
			Metadata:       rec.Metadata,
			CreatedAt:      now,
		}

		_, err = stmt.ExecContext(ctx,
			img.ID, img.CrawlJobID, img.SourceURL, img.StorageKey,
			img.Width, img.Height, img.Bytes, img.Format,
			img.ContentHash, img.PerceptualHash,
			string(labelsJSON), string(metadataJSON), now.Unix(),
		)
		if err != nil {
			return nil, errkind.Infrastructure(fmt.Sprintf("failed to insert image for job %s", jobID), err)
		}
		images = append(images, img)
	}

	if err := tx.Commit(); err != nil {
		return nil, errkind.Infrastructure("failed to commit image batch", err)
	}
	return images, nil
}

// Get returns one image or NotFound.
func (s *ImageStorage) Get(ctx context.Context, id string) (*models.Image, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	img, err := scanImage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errkind.NotFoundf("image %s not found", id)
		}
		return nil, errkind.Infrastructure(fmt.Sprintf("failed to load image %s", id), err)
	}
	return img, nil
}

// MarkValidated applies a validation result to the image row.
func (s *ImageStorage) MarkValidated(ctx context.Context, id string, result models.ValidationResult) error {
	metadataJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return errkind.Infrastructure("failed to serialize validation metadata", err)
	}

	res, err := s.db.db.ExecContext(ctx, `
		UPDATE images SET is_valid = ?, is_duplicate = ?,
			metadata = CASE WHEN ? = 'null' THEN metadata ELSE ? END
		WHERE id = ?`,
		boolToInt(result.IsValid), boolToInt(result.IsDuplicate),
		string(metadataJSON), string(metadataJSON), id)
	if err != nil {
		return errkind.Infrastructure(fmt.Sprintf("failed to mark image %s validated", id), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errkind.Infrastructure("failed to read affected rows", err)
	}
	if affected == 0 {
		return errkind.NotFoundf("image %s not found", id)
	}

	// Keep the job-level valid counter in step with per-image outcomes.
	if result.IsValid && !result.IsDuplicate {
		if _, err := s.db.db.ExecContext(ctx, `
			UPDATE crawl_jobs SET valid_images = valid_images + 1
			WHERE id = (SELECT crawl_job_id FROM images WHERE id = ?)`, id); err != nil {
			s.logger.Warn().Err(err).Str("image_id", id).Msg("Failed to bump valid image counter")
		}
	}
	return nil
}

// GetByJob returns a page of the job's images plus the total count.
func (s *ImageStorage) GetByJob(ctx context.Context, jobID string, page, limit int) ([]*models.Image, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	total, err := s.CountByJob(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+imageColumns+` FROM images
		WHERE crawl_job_id = ?
		ORDER BY created_at, id
		LIMIT ? OFFSET ?`, jobID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, errkind.Infrastructure(fmt.Sprintf("failed to list images for job %s", jobID), err)
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, errkind.Infrastructure("failed to scan image row", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errkind.Infrastructure("failed to iterate image rows", err)
	}
	return images, total, nil
}

// CountByJob returns the number of images persisted for a job.
func (s *ImageStorage) CountByJob(ctx context.Context, jobID string) (int, error) {
	var count int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE crawl_job_id = ?`, jobID).Scan(&count); err != nil {
		return 0, errkind.Infrastructure(fmt.Sprintf("failed to count images for job %s", jobID), err)
	}
	return count, nil
}

// scanImage maps one images row into a model.
func scanImage(row scanner) (*models.Image, error) {
	var (
		img                    models.Image
		format, contentHash    sql.NullString
		perceptualHash         sql.NullString
		isValid, isDuplicate   sql.NullInt64
		labelsJSON, metaJSON   sql.NullString
		createdAt              int64
	)

	err := row.Scan(
		&img.ID, &img.CrawlJobID, &img.SourceURL, &img.StorageKey,
		&img.Width, &img.Height, &img.Bytes, &format,
		&contentHash, &perceptualHash, &isValid, &isDuplicate,
		&labelsJSON, &metaJSON, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	img.Format = format.String
	img.ContentHash = contentHash.String
	img.PerceptualHash = perceptualHash.String
	if isValid.Valid {
		v := isValid.Int64 != 0
		img.IsValid = &v
	}
	if isDuplicate.Valid {
		v := isDuplicate.Int64 != 0
		img.IsDuplicate = &v
	}
	if labelsJSON.Valid && labelsJSON.String != "" {
		if err := json.Unmarshal([]byte(labelsJSON.String), &img.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode image labels: %w", err)
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &img.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode image metadata: %w", err)
		}
	}
	img.CreatedAt = unixToTime(createdAt)
	return &img, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
