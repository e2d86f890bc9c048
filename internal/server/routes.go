package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Projects
	mux.HandleFunc("/api/v1/projects", s.handleProjectsRoute)
	mux.HandleFunc("/api/v1/projects/", s.handleProjectRoutes) // /{id}

	// API routes - Jobs
	mux.HandleFunc("/api/v1/jobs/stats", s.app.JobHandler.StatsHandler)
	mux.HandleFunc("/api/v1/jobs", s.handleJobsRoute)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobRoutes) // /{id} and subpaths

	// API routes - Validation
	mux.HandleFunc("/api/v1/validation/job/", s.handleValidationRoutes) // /{id}

	// API routes - Worker callbacks
	mux.HandleFunc("/api/v1/tasks/callback", s.app.CallbackHandler.TaskCallbackHandler)

	// API routes - Notifications
	mux.HandleFunc("/api/v1/notifications", s.app.ProjectHandler.NotificationsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleProjectsRoute dispatches /api/v1/projects by method.
func (s *Server) handleProjectsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.ProjectHandler.CreateProjectHandler(w, r)
	case http.MethodGet:
		s.app.ProjectHandler.ListProjectsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProjectRoutes dispatches /api/v1/projects/{id}.
func (s *Server) handleProjectRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// ["api", "v1", "projects", "{id}"]
	if len(parts) != 4 || parts[3] == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	projectID := parts[3]

	switch r.Method {
	case http.MethodGet:
		s.app.ProjectHandler.GetProjectHandler(w, r, projectID)
	case http.MethodDelete:
		s.app.ProjectHandler.DeleteProjectHandler(w, r, projectID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsRoute dispatches /api/v1/jobs by method.
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes dispatches /api/v1/jobs/{id} and its action subpaths.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// ["api", "v1", "jobs", "{id}"] or ["api", "v1", "jobs", "{id}", action]
	if len(parts) < 4 || parts[3] == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	jobID := parts[3]

	if len(parts) == 4 {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.JobHandler.GetJobHandler(w, r, jobID)
		return
	}

	action := parts[4]
	if r.Method == http.MethodGet && action == "progress" {
		s.app.JobHandler.ProgressHandler(w, r, jobID)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch action {
	case "start":
		s.app.JobHandler.StartJobHandler(w, r, jobID)
	case "cancel", "stop":
		s.app.JobHandler.CancelJobHandler(w, r, jobID)
	case "retry":
		s.app.JobHandler.RetryJobHandler(w, r, jobID)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleValidationRoutes dispatches /api/v1/validation/job/{id}.
func (s *Server) handleValidationRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// ["api", "v1", "validation", "job", "{id}"]
	if len(parts) != 5 || parts[4] == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.ValidationHandler.ValidateJobHandler(w, r, parts[4])
}
