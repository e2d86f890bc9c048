package projects

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// Service owns project lifecycle and the user's notification feed.
type Service struct {
	projects      interfaces.ProjectStorage
	notifications interfaces.NotificationStorage
	logger        arbor.ILogger
}

// NewService wires the project service.
func NewService(storage interfaces.StorageManager, logger arbor.ILogger) *Service {
	return &Service{
		projects:      storage.Projects(),
		notifications: storage.Notifications(),
		logger:        logger,
	}
}

// CreateProject persists a project owned by the acting user.
func (s *Service) CreateProject(ctx context.Context, userID, name string) (*models.Project, error) {
	if name == "" {
		return nil, errkind.Validationf("project name must not be empty")
	}

	project := &models.Project{
		ID:     common.NewProjectID(),
		UserID: userID,
		Name:   name,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("project_id", project.ID).
		Str("user_id", userID).
		Msg("Project created")
	return project, nil
}

// GetProject returns the project after an ownership check.
func (s *Service) GetProject(ctx context.Context, userID, projectID string) (*models.Project, error) {
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, errkind.Forbiddenf("project %s is not owned by the requesting user", projectID)
	}
	return project, nil
}

// ListProjects returns the user's projects.
func (s *Service) ListProjects(ctx context.Context, userID string) ([]*models.Project, error) {
	return s.projects.ListByOwner(ctx, userID)
}

// DeleteProject removes an owned project. Refused while active jobs
// reference it; deletion cascades logically to finished jobs.
func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) error {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return err
	}
	if err := s.projects.Delete(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info().
		Str("project_id", projectID).
		Str("user_id", userID).
		Msg("Project deleted")
	return nil
}

// Notifications returns the user's newest notifications.
func (s *Service) Notifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	return s.notifications.ListByUser(ctx, userID, limit)
}
