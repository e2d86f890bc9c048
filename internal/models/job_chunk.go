package models

import "time"

// ChunkStatus mirrors the job-level state machine restricted to one chunk.
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusProcessing ChunkStatus = "processing"
	ChunkStatusCompleted  ChunkStatus = "completed"
	ChunkStatusFailed     ChunkStatus = "failed"
)

// JobChunk is one fixed-size image range of a job under the range
// decomposition. Ranges are half-open [Start, End), contiguous and
// non-overlapping within a job; their widths sum to the job's max_images.
type JobChunk struct {
	ID           string      `json:"id"`
	CrawlJobID   string      `json:"crawl_job_id"`
	RangeStart   int         `json:"image_range_start"`
	RangeEnd     int         `json:"image_range_end"`
	Status       ChunkStatus `json:"status"`
	Priority     int         `json:"priority"`
	RetryCount   int         `json:"retry_count"`
	TaskID       string      `json:"task_id,omitempty"`
	ErrorMessage string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    time.Time   `json:"started_at,omitempty"`
	CompletedAt  time.Time   `json:"completed_at,omitempty"`
}

// Width returns the number of images the chunk covers.
func (c *JobChunk) Width() int {
	return c.RangeEnd - c.RangeStart
}
