package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// JobHandler handles crawl-job API requests. It holds no storage or
// dispatcher references; everything goes through the job service.
type JobHandler struct {
	jobs     interfaces.JobService
	verifier interfaces.TokenVerifier
	logger   arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs interfaces.JobService, verifier interfaces.TokenVerifier, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:     jobs,
		verifier: verifier,
		logger:   logger,
	}
}

// createJobRequest is the POST /api/v1/jobs body.
type createJobRequest struct {
	ProjectID string   `json:"project_id" validate:"required"`
	Name      string   `json:"name" validate:"required"`
	Keywords  []string `json:"keywords" validate:"required,min=1,dive,required"`
	Engines   []string `json:"engines" validate:"required,min=1,dive,required"`
	MaxImages int      `json:"max_images" validate:"required,gt=0"`
}

// CreateJobHandler creates a new crawl job
// POST /api/v1/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req createJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), userID, interfaces.CreateJobParams{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Keywords:  req.Keywords,
		Engines:   req.Engines,
		MaxImages: req.MaxImages,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusCreated, job)
}

// ListJobsHandler returns a paginated list of the user's jobs
// GET /api/v1/jobs?status=completed&page=1&limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page := 1
	limit := 50
	if v := r.URL.Query().Get("page"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	jobs, total, err := h.jobs.ListJobs(r.Context(), userID, interfaces.JobListOptions{
		Status: r.URL.Query().Get("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if jobs == nil {
		jobs = []*models.CrawlJob{}
	}

	writeList(w, jobs, total, page, limit)
}

// GetJobHandler returns a single job
// GET /api/v1/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), userID, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, job)
}

// StartJobHandler starts a pending job; a start on a running job returns
// the recorded dispatch without enqueuing anything
// POST /api/v1/jobs/{id}/start
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.jobs.StartJob(r.Context(), userID, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeRaw(w, http.StatusOK, map[string]interface{}{
		"job_id":       result.JobID,
		"status":       result.Status,
		"task_ids":     result.TaskIDs,
		"total_chunks": result.TotalChunks,
		"message":      "Job started successfully",
	})
}

// CancelJobHandler cancels a pending or running job
// POST /api/v1/jobs/{id}/cancel (alias /stop)
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.jobs.CancelJob(r.Context(), userID, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeRaw(w, http.StatusOK, map[string]interface{}{
		"job_id":        result.JobID,
		"status":        result.Status,
		"revoked_tasks": result.RevokedTasks,
		"message":       "Job cancelled successfully",
	})
}

// RetryJobHandler retries a failed or cancelled job
// POST /api/v1/jobs/{id}/retry
func (h *JobHandler) RetryJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.jobs.RetryJob(r.Context(), userID, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeRaw(w, http.StatusOK, map[string]interface{}{
		"job_id":       result.JobID,
		"status":       result.Status,
		"task_ids":     result.TaskIDs,
		"total_chunks": result.TotalChunks,
		"message":      "Job retried successfully",
	})
}

// ProgressHandler returns the polled progress snapshot
// GET /api/v1/jobs/{id}/progress
func (h *JobHandler) ProgressHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	snapshot, err := h.jobs.Progress(r.Context(), userID, jobID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeRaw(w, http.StatusOK, snapshot)
}

// StatsHandler returns job counts by status
// GET /api/v1/jobs/stats
func (h *JobHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := authenticate(r, h.verifier); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeRaw(w, http.StatusOK, map[string]interface{}{
		"total_jobs":     stats[models.JobStatusPending] + stats[models.JobStatusRunning] + stats[models.JobStatusCompleted] + stats[models.JobStatusFailed] + stats[models.JobStatusCancelled],
		"pending_jobs":   stats[models.JobStatusPending],
		"running_jobs":   stats[models.JobStatusRunning],
		"completed_jobs": stats[models.JobStatusCompleted],
		"failed_jobs":    stats[models.JobStatusFailed],
		"cancelled_jobs": stats[models.JobStatusCancelled],
	})
}
