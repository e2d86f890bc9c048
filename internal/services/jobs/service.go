package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
	"github.com/alaamer12/pixcrawler/internal/retry"
)

// Service is the orchestrator's job state machine. Every decision is made
// from a just-read row; no job state survives a request in process memory.
type Service struct {
	jobs          interfaces.JobStorage
	images        interfaces.ImageStorage
	chunks        interfaces.ChunkStorage
	projects      interfaces.ProjectStorage
	notifications interfaces.NotificationStorage
	dispatcher    interfaces.TaskDispatcher
	cache         interfaces.ProgressCache
	cfg           common.OrchestratorConfig
	logger        arbor.ILogger

	// completionMu is the pessimistic guard around completion application:
	// together with the single-writer datastore it linearizes concurrent
	// callbacks for steps that span multiple statements.
	completionMu sync.Mutex

	// userLimiters throttles job starts per user.
	userLimiters   map[string]*rate.Limiter
	userLimitersMu sync.Mutex
}

// NewService wires the job service.
func NewService(
	storage interfaces.StorageManager,
	dispatcher interfaces.TaskDispatcher,
	cache interfaces.ProgressCache,
	cfg common.OrchestratorConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		jobs:          storage.Jobs(),
		images:        storage.Images(),
		chunks:        storage.Chunks(),
		projects:      storage.Projects(),
		notifications: storage.Notifications(),
		dispatcher:    dispatcher,
		cache:         cache,
		cfg:           cfg,
		logger:        logger,
		userLimiters:  make(map[string]*rate.Limiter),
	}
}

// CreateJob validates the immutable inputs and persists a pending job with
// zeroed counters.
func (s *Service) CreateJob(ctx context.Context, userID string, params interfaces.CreateJobParams) (*models.CrawlJob, error) {
	project, err := s.projects.Get(ctx, params.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, errkind.Forbiddenf("project %s is not owned by the requesting user", params.ProjectID)
	}

	if err := s.validateParams(params.Keywords, params.Engines, params.MaxImages); err != nil {
		return nil, err
	}

	job := &models.CrawlJob{
		ID:        common.NewJobID(),
		ProjectID: params.ProjectID,
		Name:      params.Name,
		Keywords:  params.Keywords,
		Engines:   params.Engines,
		MaxImages: params.MaxImages,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("project_id", job.ProjectID).
		Int("keywords", len(job.Keywords)).
		Int("engines", len(job.Engines)).
		Int("max_images", job.MaxImages).
		Msg("Job created")
	return job, nil
}

// GetJob returns the job after an ownership check.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*models.CrawlJob, error) {
	return s.loadOwned(ctx, userID, jobID)
}

// ListJobs returns the user's jobs plus the total count.
func (s *Service) ListJobs(ctx context.Context, userID string, opts interfaces.JobListOptions) ([]*models.CrawlJob, int, error) {
	return s.jobs.ListByOwner(ctx, userID, opts)
}

// StartJob decomposes a pending job into chunks and dispatches them. A
// start on a running job is the idempotent short-circuit: it returns the
// recorded task ids and enqueues nothing.
func (s *Service) StartJob(ctx context.Context, userID, jobID string) (*interfaces.StartResult, error) {
	job, err := s.loadOwned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == models.JobStatusRunning {
		return &interfaces.StartResult{
			JobID:       job.ID,
			Status:      job.Status,
			TaskIDs:     job.TaskIDs,
			TotalChunks: job.TotalChunks,
		}, nil
	}
	if job.Status != models.JobStatusPending {
		return nil, errkind.BadRequestf("cannot start job %s in status %s", jobID, job.Status)
	}

	if err := s.validateParams(job.Keywords, job.Engines, job.MaxImages); err != nil {
		return nil, err
	}

	if !s.allowDispatch(userID) {
		return nil, errkind.RateLimited(fmt.Sprintf("dispatch rate for user %s exceeded", userID), 0)
	}

	form := models.ChunkingForm(s.cfg.Chunking)
	tasks, err := s.decompose(ctx, job, form)
	if err != nil {
		return nil, err
	}
	total := len(tasks)
	if total > s.cfg.MaxChunksCap {
		return nil, errkind.Validationf("job %s decomposes into %d chunks, above the cap of %d", jobID, total, s.cfg.MaxChunksCap)
	}

	// CAS to running happens before dispatch so concurrent starts observe
	// the running state and short-circuit.
	now := time.Now().UTC()
	progress := 0
	ok, err := s.jobs.TransitionStatus(ctx, jobID,
		[]models.JobStatus{models.JobStatusPending}, models.JobStatusRunning,
		interfaces.TransitionFields{
			StartedAt:    &now,
			TotalChunks:  &total,
			ActiveChunks: &total,
			Progress:     &progress,
			Chunking:     &form,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another start won the race; report its outcome.
		current, err := s.jobs.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.JobStatusRunning {
			return &interfaces.StartResult{
				JobID:       current.ID,
				Status:      current.Status,
				TaskIDs:     current.TaskIDs,
				TotalChunks: current.TotalChunks,
			}, nil
		}
		return nil, errkind.BadRequestf("cannot start job %s in status %s", jobID, current.Status)
	}

	taskIDs, dispatchErr := s.dispatchAll(ctx, job, tasks)
	if dispatchErr != nil {
		// A failed dispatch fails the whole start; the job is retryable.
		msg := fmt.Sprintf("dispatch failed after %d of %d chunks: %v", len(taskIDs), total, dispatchErr)
		s.failRunning(ctx, jobID, msg)
		s.logger.Error().
			Str("job_id", jobID).
			Str("error_kind", string(errkind.KindOf(dispatchErr))).
			Err(dispatchErr).
			Msg("Job start failed mid-dispatch")
		return nil, dispatchErr
	}

	s.notify(ctx, userID, models.NotificationJobStarted, map[string]interface{}{
		"job_id":       jobID,
		"total_chunks": total,
	})

	s.logger.Info().
		Str("job_id", jobID).
		Str("chunking", string(form)).
		Int("total_chunks", total).
		Msg("Job started")

	return &interfaces.StartResult{
		JobID:       jobID,
		Status:      models.JobStatusRunning,
		TaskIDs:     taskIDs,
		TotalChunks: total,
	}, nil
}

// dispatchAll enqueues every prepared task and records its id. The first
// failure aborts the remainder; transient enqueue failures are retried by
// the operation-layer retry around each enqueue.
func (s *Service) dispatchAll(ctx context.Context, job *models.CrawlJob, tasks []chunkTask) ([]string, error) {
	taskIDs := make([]string, 0, len(tasks))
	for _, task := range tasks {
		var taskID string
		err := retry.Operation(ctx, s.logger, "enqueue_task", func() error {
			var enqueueErr error
			taskID, enqueueErr = s.dispatcher.Enqueue(ctx, task.Name, task.Payload)
			return enqueueErr
		})
		if err != nil {
			return taskIDs, err
		}
		if err := s.jobs.AppendTaskID(ctx, job.ID, taskID); err != nil {
			return taskIDs, err
		}
		if chunkID, ok := task.Payload["chunk_id"].(string); ok {
			if _, err := s.chunks.TransitionChunk(ctx, chunkID,
				[]models.ChunkStatus{models.ChunkStatusPending}, models.ChunkStatusProcessing, taskID, ""); err != nil {
				s.logger.Warn().Err(err).Str("chunk_id", chunkID).Msg("Failed to mark chunk processing")
			}
		}
		taskIDs = append(taskIDs, taskID)
	}
	return taskIDs, nil
}

// failRunning transitions running → failed with an error summary. Used when
// a start dies mid-dispatch.
func (s *Service) failRunning(ctx context.Context, jobID, msg string) {
	now := time.Now().UTC()
	zero := 0
	if _, err := s.jobs.TransitionStatus(ctx, jobID,
		[]models.JobStatus{models.JobStatusRunning}, models.JobStatusFailed,
		interfaces.TransitionFields{
			CompletedAt:  &now,
			Error:        &msg,
			ActiveChunks: &zero,
		}); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job failed")
	}
}

// CancelJob cancels a pending or running job. The status transition happens
// before revocation so late callbacks are absorbed by the completion guard;
// the broker revocation is best-effort.
func (s *Service) CancelJob(ctx context.Context, userID, jobID string) (*interfaces.CancelResult, error) {
	job, err := s.loadOwned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.JobStatusCancelled:
		// Cancel on cancelled is idempotent success, without revoke calls.
		return &interfaces.CancelResult{JobID: jobID, Status: job.Status, RevokedTasks: 0}, nil
	case models.JobStatusCompleted, models.JobStatusFailed:
		return nil, errkind.BadRequestf("cannot cancel job %s in status %s", jobID, job.Status)
	}

	active, err := s.jobs.ActiveTaskIDs(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	zero := 0
	ok, err := s.jobs.TransitionStatus(ctx, jobID,
		[]models.JobStatus{models.JobStatusPending, models.JobStatusRunning}, models.JobStatusCancelled,
		interfaces.TransitionFields{
			CompletedAt:  &now,
			ActiveChunks: &zero,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.jobs.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.JobStatusCancelled {
			return &interfaces.CancelResult{JobID: jobID, Status: current.Status, RevokedTasks: 0}, nil
		}
		return nil, errkind.BadRequestf("cannot cancel job %s in status %s", jobID, current.Status)
	}

	revoked := s.dispatcher.RevokeMany(ctx, active)

	s.notify(ctx, userID, models.NotificationJobCancelled, map[string]interface{}{
		"job_id":        jobID,
		"revoked_tasks": revoked,
	})

	s.logger.Info().
		Str("job_id", jobID).
		Int("revoked_tasks", revoked).
		Int("outstanding", len(active)).
		Msg("Job cancelled")

	return &interfaces.CancelResult{
		JobID:        jobID,
		Status:       models.JobStatusCancelled,
		RevokedTasks: revoked,
	}, nil
}

// RetryJob resets a failed or cancelled job and starts it again through the
// normal decomposition path.
func (s *Service) RetryJob(ctx context.Context, userID, jobID string) (*interfaces.StartResult, error) {
	job, err := s.loadOwned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.JobStatusFailed && job.Status != models.JobStatusCancelled {
		return nil, errkind.BadRequestf("cannot retry job %s in status %s", jobID, job.Status)
	}

	if err := s.jobs.ResetCounters(ctx, jobID); err != nil {
		return nil, err
	}

	ok, err := s.jobs.TransitionStatus(ctx, jobID,
		[]models.JobStatus{models.JobStatusFailed, models.JobStatusCancelled}, models.JobStatusPending,
		interfaces.TransitionFields{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errkind.BadRequestf("job %s changed state during retry", jobID)
	}

	s.logger.Info().Str("job_id", jobID).Msg("Job reset for retry")

	return s.StartJob(ctx, userID, jobID)
}

// Progress returns the polled progress snapshot, preferring the advisory
// cache and falling back to the datastore.
func (s *Service) Progress(ctx context.Context, userID, jobID string) (*interfaces.ProgressSnapshot, error) {
	if _, err := s.loadOwnedShallow(ctx, userID, jobID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if snapshot, ok := s.cache.Get(ctx, jobID); ok {
			return snapshot, nil
		}
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	snapshot := snapshotOf(job)
	if s.cache != nil {
		s.cache.Put(ctx, snapshot)
	}
	return snapshot, nil
}

// Stats returns job counts by status.
func (s *Service) Stats(ctx context.Context) (map[models.JobStatus]int, error) {
	return s.jobs.CountByStatus(ctx)
}

// snapshotOf derives the progress view from a just-read row.
func snapshotOf(job *models.CrawlJob) *interfaces.ProgressSnapshot {
	snapshot := &interfaces.ProgressSnapshot{
		JobID:            job.ID,
		Status:           job.Status,
		Progress:         job.Progress,
		TotalChunks:      job.TotalChunks,
		ActiveChunks:     job.ActiveChunks,
		CompletedChunks:  job.CompletedChunks,
		FailedChunks:     job.FailedChunks,
		DownloadedImages: job.DownloadedImages,
	}
	// Naive completion estimate from the elapsed-per-chunk pace so far.
	if job.Status == models.JobStatusRunning && job.CompletedChunks > 0 && !job.StartedAt.IsZero() {
		elapsed := time.Since(job.StartedAt)
		remaining := job.TotalChunks - job.CompletedChunks - job.FailedChunks
		if remaining > 0 {
			perChunk := elapsed / time.Duration(job.CompletedChunks)
			snapshot.EstimatedSeconds = int((perChunk * time.Duration(remaining)).Seconds())
		}
	}
	return snapshot
}

// loadOwned loads a job and verifies the acting user owns it through the
// project row. Ownership failures never leak job contents.
func (s *Service) loadOwned(ctx context.Context, userID, jobID string) (*models.CrawlJob, error) {
	owner, err := s.jobs.OwnerOf(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if owner != userID {
		return nil, errkind.Forbiddenf("job %s is not owned by the requesting user", jobID)
	}
	return s.jobs.Get(ctx, jobID)
}

// loadOwnedShallow performs only the ownership check.
func (s *Service) loadOwnedShallow(ctx context.Context, userID, jobID string) (string, error) {
	owner, err := s.jobs.OwnerOf(ctx, jobID)
	if err != nil {
		return "", err
	}
	if owner != userID {
		return "", errkind.Forbiddenf("job %s is not owned by the requesting user", jobID)
	}
	return owner, nil
}

// validateParams checks the immutable job inputs.
func (s *Service) validateParams(keywords, engines []string, maxImages int) error {
	if len(keywords) == 0 {
		return errkind.Validationf("keywords must not be empty")
	}
	for i, keyword := range keywords {
		if strings.TrimSpace(keyword) == "" {
			return errkind.Validationf("keyword at position %d is empty", i)
		}
	}
	if len(engines) == 0 {
		return errkind.Validationf("engines must not be empty")
	}
	for _, engine := range engines {
		if !models.SupportedEngines[engine] {
			return errkind.Validationf("unsupported engine: %s", engine)
		}
	}
	if maxImages <= 0 {
		return errkind.Validationf("max_images must be positive, got %d", maxImages)
	}
	if maxImages > s.cfg.MaxImagesCap {
		return errkind.Validationf("max_images %d exceeds the cap of %d", maxImages, s.cfg.MaxImagesCap)
	}
	return nil
}

// allowDispatch applies the per-user dispatch rate before any task leaves
// the building.
func (s *Service) allowDispatch(userID string) bool {
	if s.cfg.UserDispatchRate <= 0 {
		return true
	}
	s.userLimitersMu.Lock()
	limiter, ok := s.userLimiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.UserDispatchRate/60.0), s.cfg.UserDispatchBurst)
		s.userLimiters[userID] = limiter
	}
	s.userLimitersMu.Unlock()
	return limiter.Allow()
}

// notify appends one notification row; failures are logged, never fatal to
// the transition that emitted them.
func (s *Service) notify(ctx context.Context, userID string, typ models.NotificationType, payload map[string]interface{}) {
	n := &models.Notification{
		ID:      common.NewNotificationID(),
		UserID:  userID,
		Type:    typ,
		Payload: payload,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		s.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Str("type", string(typ)).
			Msg("Failed to persist notification")
	}
}
