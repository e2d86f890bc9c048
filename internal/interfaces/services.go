package interfaces

import (
	"context"

	"github.com/alaamer12/pixcrawler/internal/models"
)

// CreateJobParams are the immutable inputs of a new crawl job.
type CreateJobParams struct {
	ProjectID string
	Name      string
	Keywords  []string
	Engines   []string
	MaxImages int
}

// StartResult is what a start (or retry) reports back to the handler layer.
type StartResult struct {
	JobID       string
	Status      models.JobStatus
	TaskIDs     []string
	TotalChunks int
}

// CancelResult reports a cancellation outcome.
type CancelResult struct {
	JobID        string
	Status       models.JobStatus
	RevokedTasks int
}

// ProgressSnapshot is the polled progress view of a job.
type ProgressSnapshot struct {
	JobID            string           `json:"job_id"`
	Status           models.JobStatus `json:"status"`
	Progress         int              `json:"progress"`
	TotalChunks      int              `json:"total_chunks"`
	ActiveChunks     int              `json:"active_chunks"`
	CompletedChunks  int              `json:"completed_chunks"`
	FailedChunks     int              `json:"failed_chunks"`
	DownloadedImages int              `json:"downloaded_images"`
	EstimatedSeconds int              `json:"estimated_completion,omitempty"`
}

// JobService is the orchestrator's state machine. Every method takes the
// acting user id explicitly and verifies ownership at entry; nothing is
// assumed from ambient state.
type JobService interface {
	CreateJob(ctx context.Context, userID string, params CreateJobParams) (*models.CrawlJob, error)
	GetJob(ctx context.Context, userID, jobID string) (*models.CrawlJob, error)
	ListJobs(ctx context.Context, userID string, opts JobListOptions) ([]*models.CrawlJob, int, error)
	StartJob(ctx context.Context, userID, jobID string) (*StartResult, error)
	CancelJob(ctx context.Context, userID, jobID string) (*CancelResult, error)
	RetryJob(ctx context.Context, userID, jobID string) (*StartResult, error)
	Progress(ctx context.Context, userID, jobID string) (*ProgressSnapshot, error)
	Stats(ctx context.Context) (map[models.JobStatus]int, error)

	// HandleTaskCompletion applies one worker callback. Unknown tasks and
	// jobs no longer running are absorbed silently.
	HandleTaskCompletion(ctx context.Context, jobID, taskID string, result models.TaskResult) error
}

// ValidationService dispatches per-image validation tasks and applies their
// results. Validation has its own lifecycle on the image row and never
// touches job chunk counters.
type ValidationService interface {
	ValidateJobImages(ctx context.Context, userID, jobID string, level models.ValidationLevel) ([]string, int, error)
	HandleValidationResult(ctx context.Context, imageID string, result models.ValidationResult) error
}

// ProgressCache is the advisory snapshot cache. Absence or failure of the
// cache degrades to direct datastore reads, never to incorrectness.
type ProgressCache interface {
	Get(ctx context.Context, jobID string) (*ProgressSnapshot, bool)
	Put(ctx context.Context, snapshot *ProgressSnapshot)
}
