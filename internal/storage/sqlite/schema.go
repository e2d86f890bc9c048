package sqlite

import "fmt"

const schemaSQL = `
-- Projects table
-- Each project is owned by exactly one user; job ownership resolves through it
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id);

-- Crawl jobs table
-- Counter deltas go through UpdateCounters (ResetCounters zeroes them,
-- TransitionStatus may set active_chunks, MarkValidated bumps valid_images);
-- status changes only through the guarded CAS in TransitionStatus
CREATE TABLE IF NOT EXISTS crawl_jobs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	keywords TEXT NOT NULL,
	engines TEXT NOT NULL,
	max_images INTEGER NOT NULL,
	chunking TEXT,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	total_chunks INTEGER NOT NULL DEFAULT 0,
	active_chunks INTEGER NOT NULL DEFAULT 0,
	completed_chunks INTEGER NOT NULL DEFAULT 0,
	failed_chunks INTEGER NOT NULL DEFAULT 0,
	downloaded_images INTEGER NOT NULL DEFAULT 0,
	valid_images INTEGER NOT NULL DEFAULT 0,
	task_ids TEXT NOT NULL DEFAULT '[]',
	error TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_project ON crawl_jobs(project_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON crawl_jobs(status);

-- Processed task side table
-- The unique constraint turns completion-callback replays into no-op inserts
CREATE TABLE IF NOT EXISTS processed_tasks (
	crawl_job_id TEXT NOT NULL REFERENCES crawl_jobs(id),
	task_id TEXT NOT NULL,
	processed_at INTEGER NOT NULL,
	PRIMARY KEY (crawl_job_id, task_id)
);

-- Images table
CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	crawl_job_id TEXT NOT NULL REFERENCES crawl_jobs(id),
	source_url TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0,
	format TEXT,
	content_hash TEXT,
	perceptual_hash TEXT,
	is_valid INTEGER,
	is_duplicate INTEGER,
	labels TEXT,
	metadata TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_images_job ON images(crawl_job_id);

-- Job chunks table (range decomposition form)
CREATE TABLE IF NOT EXISTS job_chunks (
	id TEXT PRIMARY KEY,
	crawl_job_id TEXT NOT NULL REFERENCES crawl_jobs(id),
	image_range_start INTEGER NOT NULL,
	image_range_end INTEGER NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	task_id TEXT,
	error TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_chunks_job ON job_chunks(crawl_job_id, status);

-- Notifications table (append-only)
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
`

// InitSchema creates the application tables and indexes.
func (s *DB) InitSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.logger.Debug().Msg("Schema initialized")
	return nil
}
