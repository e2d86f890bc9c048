package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
	"github.com/alaamer12/pixcrawler/internal/services/projects"
)

// ProjectHandler handles project and notification API requests.
type ProjectHandler struct {
	projects *projects.Service
	verifier interfaces.TokenVerifier
	logger   arbor.ILogger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(service *projects.Service, verifier interfaces.TokenVerifier, logger arbor.ILogger) *ProjectHandler {
	return &ProjectHandler{
		projects: service,
		verifier: verifier,
		logger:   logger,
	}
}

// createProjectRequest is the POST /api/v1/projects body.
type createProjectRequest struct {
	Name string `json:"name" validate:"required"`
}

// CreateProjectHandler creates a project
// POST /api/v1/projects
func (h *ProjectHandler) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	project, err := h.projects.CreateProject(r.Context(), userID, req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusCreated, project)
}

// ListProjectsHandler lists the user's projects
// GET /api/v1/projects
func (h *ProjectHandler) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	list, err := h.projects.ListProjects(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []*models.Project{}
	}

	writeList(w, list, len(list), 1, len(list))
}

// GetProjectHandler returns one project
// GET /api/v1/projects/{id}
func (h *ProjectHandler) GetProjectHandler(w http.ResponseWriter, r *http.Request, projectID string) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	project, err := h.projects.GetProject(r.Context(), userID, projectID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeData(w, http.StatusOK, project)
}

// DeleteProjectHandler deletes a project without active jobs
// DELETE /api/v1/projects/{id}
func (h *ProjectHandler) DeleteProjectHandler(w http.ResponseWriter, r *http.Request, projectID string) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.projects.DeleteProject(r.Context(), userID, projectID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeRaw(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"message":    "Project deleted successfully",
	})
}

// NotificationsHandler returns the user's notification feed
// GET /api/v1/notifications?limit=50
func (h *ProjectHandler) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := authenticate(r, h.verifier)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	list, err := h.projects.Notifications(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}

	writeList(w, list, len(list), 1, limit)
}
