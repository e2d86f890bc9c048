package interfaces

import (
	"context"
	"time"

	"github.com/alaamer12/pixcrawler/internal/models"
)

// JobListOptions filters and paginates owner-scoped job listings.
type JobListOptions struct {
	Status string
	Page   int
	Limit  int
}

// JobStorage is the repository contract for crawl jobs. Implementations
// report datastore truths only (NotFound, Validation, Infrastructure); they
// never raise business-transition errors.
type JobStorage interface {
	// Create persists a new job with the status and counters the caller set.
	Create(ctx context.Context, job *models.CrawlJob) error

	// Get returns the job or NotFound.
	Get(ctx context.Context, id string) (*models.CrawlJob, error)

	// OwnerOf resolves the owning user of a job through its project row.
	OwnerOf(ctx context.Context, id string) (string, error)

	// ListByOwner returns the user's jobs plus the total matching count.
	ListByOwner(ctx context.Context, userID string, opts JobListOptions) ([]*models.CrawlJob, int, error)

	// AppendTaskID atomically appends one dispatched task identifier.
	AppendTaskID(ctx context.Context, id, taskID string) error

	// UpdateCounters applies signed deltas inside a single transaction and
	// returns the re-read row. The committed result must keep
	// completed+active+failed within [0, total].
	UpdateCounters(ctx context.Context, id string, d models.CounterDeltas) (*models.CrawlJob, error)

	// TransitionStatus performs the guarded CAS: the update commits only if
	// the current status is in fromSet. A failed guard returns
	// (false, nil); datastore failures return an error.
	TransitionStatus(ctx context.Context, id string, fromSet []models.JobStatus, to models.JobStatus, fields TransitionFields) (bool, error)

	// MarkTaskProcessed records a completion callback. Returns true the
	// first time a task id is seen for the job and false on replay.
	MarkTaskProcessed(ctx context.Context, id, taskID string) (bool, error)

	// ResetCounters zeroes the runtime counters and clears task tracking.
	// Allowed only from failed or cancelled.
	ResetCounters(ctx context.Context, id string) error

	// ActiveTaskIDs returns the dispatched-but-unprocessed task ids.
	ActiveTaskIDs(ctx context.Context, id string) ([]string, error)

	// StaleRunning returns running jobs untouched since the cutoff.
	StaleRunning(ctx context.Context, cutoff time.Time) ([]*models.CrawlJob, error)

	// CountByStatus returns job counts keyed by status for the stats surface.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

// TransitionFields are the optional columns set together with a status CAS.
type TransitionFields struct {
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Error        *string
	TotalChunks  *int
	Progress     *int
	ActiveChunks *int
	Chunking     *models.ChunkingForm
}

// ImageStorage persists downloaded images per job.
type ImageStorage interface {
	BulkCreate(ctx context.Context, jobID string, records []models.ImageRecord) ([]*models.Image, error)
	Get(ctx context.Context, id string) (*models.Image, error)
	MarkValidated(ctx context.Context, id string, result models.ValidationResult) error
	GetByJob(ctx context.Context, jobID string, page, limit int) ([]*models.Image, int, error)
	CountByJob(ctx context.Context, jobID string) (int, error)
}

// ChunkStorage tracks fixed-size image ranges under the range decomposition.
type ChunkStorage interface {
	// CreateChunks lays out contiguous half-open ranges of chunkSize images
	// covering [0, maxImages) and returns them in range order.
	CreateChunks(ctx context.Context, jobID string, chunkSize, maxImages, priority int) ([]*models.JobChunk, error)
	NextPending(ctx context.Context, jobID string) (*models.JobChunk, error)
	TransitionChunk(ctx context.Context, id string, fromSet []models.ChunkStatus, to models.ChunkStatus, taskID, errMsg string) (bool, error)
	// TransitionByTask resolves the chunk carrying the task id and applies
	// the processing→terminal transition for it.
	TransitionByTask(ctx context.Context, jobID, taskID string, to models.ChunkStatus, errMsg string) (bool, error)
	ProgressFor(ctx context.Context, jobID string) (pending, processing, completed, failed int, err error)
	DeleteByJob(ctx context.Context, jobID string) error
}

// ProjectStorage persists projects and answers ownership queries.
type ProjectStorage interface {
	Create(ctx context.Context, p *models.Project) error
	Get(ctx context.Context, id string) (*models.Project, error)
	// Delete refuses while the project still references active jobs.
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, userID string) ([]*models.Project, error)
}

// NotificationStorage is the append-only notification sink.
type NotificationStorage interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
}

// StorageManager bundles the per-entity stores behind one lifecycle.
type StorageManager interface {
	Jobs() JobStorage
	Images() ImageStorage
	Chunks() ChunkStorage
	Projects() ProjectStorage
	Notifications() NotificationStorage
	Close() error
}
