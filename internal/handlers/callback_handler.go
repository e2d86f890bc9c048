package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// CallbackHandler receives inbound worker callbacks. Payloads are
// primitives only; a callback for an unknown task or a job no longer
// running is accepted silently - replays are not errors.
type CallbackHandler struct {
	jobs       interfaces.JobService
	validation interfaces.ValidationService
	logger     arbor.ILogger
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(jobs interfaces.JobService, validation interfaces.ValidationService, logger arbor.ILogger) *CallbackHandler {
	return &CallbackHandler{
		jobs:       jobs,
		validation: validation,
		logger:     logger,
	}
}

// taskCallbackRequest carries either a job-chunk completion or a
// per-image validation result.
type taskCallbackRequest struct {
	JobID   string             `json:"job_id"`
	TaskID  string             `json:"task_id"`
	Result  *models.TaskResult `json:"result"`
	ImageID string             `json:"image_id"`
	// Validation carries the result for image callbacks.
	Validation *models.ValidationResult `json:"validation"`
}

// TaskCallbackHandler applies one worker callback
// POST /api/v1/tasks/callback
func (h *CallbackHandler) TaskCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var req taskCallbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	switch {
	case req.ImageID != "" && req.Validation != nil:
		if err := h.validation.HandleValidationResult(r.Context(), req.ImageID, *req.Validation); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	case req.JobID != "" && req.TaskID != "" && req.Result != nil:
		if err := h.jobs.HandleTaskCompletion(r.Context(), req.JobID, req.TaskID, *req.Result); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	default:
		writeError(w, r, h.logger, errkind.Validationf("callback requires job_id+task_id+result or image_id+validation"))
		return
	}

	writeRaw(w, http.StatusOK, map[string]interface{}{
		"message": "accepted",
	})
}
