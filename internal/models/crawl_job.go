package models

import (
	"time"
)

// JobStatus represents the state of a crawl job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ChunkingForm selects how a job is decomposed into dispatchable chunks.
// A job uses exactly one form, recorded when it starts.
type ChunkingForm string

const (
	// ChunkingKeywordEngine produces one chunk per (keyword, engine) pair.
	ChunkingKeywordEngine ChunkingForm = "keyword_engine"
	// ChunkingRange produces fixed-size image-range chunks tracked in job_chunks.
	ChunkingRange ChunkingForm = "range"
)

// SupportedEngines is the set of search engines a job may crawl through.
var SupportedEngines = map[string]bool{
	"google":     true,
	"bing":       true,
	"baidu":      true,
	"duckduckgo": true,
}

// CrawlJob is the central entity of the orchestrator. Input parameters
// (Keywords, Engines, MaxImages) are immutable after creation; everything
// else is derived at start or mutated by completion callbacks.
//
// Counter invariants, enforced at every committed state:
//   - completed + active + failed <= total_chunks (when total > 0)
//   - running implies total_chunks > 0 and StartedAt set
//   - terminal status implies active_chunks == 0 and CompletedAt set
//   - progress = floor(100 * completed / total) when total > 0, else 0
type CrawlJob struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`

	// Input parameters, immutable after creation.
	Keywords  []string `json:"keywords"`
	Engines   []string `json:"engines"`
	MaxImages int      `json:"max_images"`

	// Chunking form chosen at start; empty until the job first starts.
	Chunking ChunkingForm `json:"chunking,omitempty"`

	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`

	// Derived at start.
	TotalChunks int `json:"total_chunks"`

	// Runtime counters. Deltas are applied by the completion transaction;
	// start, cancel and failure set ActiveChunks, retry zeroes them all, and
	// validation results bump ValidImages.
	ActiveChunks     int `json:"active_chunks"`
	CompletedChunks  int `json:"completed_chunks"`
	FailedChunks     int `json:"failed_chunks"`
	DownloadedImages int `json:"downloaded_images"`
	ValidImages      int `json:"valid_images"`

	// TaskIDs is the ordered list of broker task identifiers dispatched for
	// this job. ProcessedTaskIDs is tracked in a side table, not here.
	TaskIDs []string `json:"task_ids,omitempty"`

	// Error contains a concise description of why the job failed.
	// Only populated when job status is 'failed'.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// IsTerminal reports whether the job can no longer change state except
// through an explicit retry.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ComputeProgress derives the integer percentage from the counters.
func ComputeProgress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return completed * 100 / total
}

// CounterDeltas is a signed counter update applied atomically by the
// repository layer. Deltas are additive and commutative; deduplication
// ensures each task contributes at most once.
type CounterDeltas struct {
	Completed  int
	Active     int
	Failed     int
	Downloaded int
}

// TaskResult is the primitive completion payload reported by a worker for
// one chunk. It crosses the process boundary, so it carries no handles.
type TaskResult struct {
	Success    bool          `json:"success"`
	Downloaded int           `json:"downloaded"`
	Images     []ImageRecord `json:"images,omitempty"`
	Error      string        `json:"error,omitempty"`
	// ErrorKind is the taxonomy kind of Error as classified by the worker.
	// Completion handling does not read it: a failed chunk counts toward the
	// failure threshold whatever its kind.
	ErrorKind string `json:"error_kind,omitempty"`
	Failed    bool   `json:"failed"`
}
