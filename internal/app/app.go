package app

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/handlers"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
	"github.com/alaamer12/pixcrawler/internal/queue"
	"github.com/alaamer12/pixcrawler/internal/scheduler"
	"github.com/alaamer12/pixcrawler/internal/services/auth"
	"github.com/alaamer12/pixcrawler/internal/services/jobs"
	"github.com/alaamer12/pixcrawler/internal/services/progress"
	projectsvc "github.com/alaamer12/pixcrawler/internal/services/projects"
	"github.com/alaamer12/pixcrawler/internal/services/validation"
	"github.com/alaamer12/pixcrawler/internal/storage/sqlite"
	"github.com/alaamer12/pixcrawler/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage       *sqlite.Manager
	Dispatcher    *queue.Dispatcher
	WorkerPool    *queue.WorkerPool
	ProgressCache *progress.Cache
	Monitor       *scheduler.Monitor

	Verifier          interfaces.TokenVerifier
	JobService        *jobs.Service
	ValidationService *validation.Service
	ProjectService    *projectsvc.Service

	JobHandler        *handlers.JobHandler
	ValidationHandler *handlers.ValidationHandler
	ProjectHandler    *handlers.ProjectHandler
	CallbackHandler   *handlers.CallbackHandler
	APIHandler        *handlers.APIHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	storage, err := sqlite.NewManager(logger, &cfg.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = storage

	a.Dispatcher = queue.NewDispatcher(storage.DB().SQL(), &cfg.Queue, logger)
	a.ProgressCache = progress.NewCache(&cfg.Redis, logger)

	verifier, err := auth.NewVerifier(&cfg.Auth, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}
	a.Verifier = verifier

	a.JobService = jobs.NewService(storage, a.Dispatcher, a.ProgressCache, cfg.Orchestrator, logger)
	a.ValidationService = validation.NewService(storage, a.Dispatcher, logger)
	a.ProjectService = projectsvc.NewService(storage, logger)

	// Worker runtime: the opaque crawl/validate work runs in the external
	// agent; the bodies only move primitives and report completions.
	agent := workers.NewAgentClient(cfg.Crawler.AgentURL, cfg.Crawler.RequestTimeout)
	a.WorkerPool = queue.NewWorkerPool(a.Dispatcher, &cfg.Queue, logger)
	a.WorkerPool.Register(models.TaskDownload, workers.NewDownloadWorker(agent, a.JobService, logger).Run)
	for _, level := range []models.ValidationLevel{models.ValidationFast, models.ValidationMedium, models.ValidationSlow} {
		a.WorkerPool.Register(level.TaskName(), workers.NewValidateWorker(agent, a.ValidationService, level, logger).Run)
	}

	a.Monitor = scheduler.NewMonitor(storage.Jobs(), cfg.Scheduler, logger)

	a.JobHandler = handlers.NewJobHandler(a.JobService, verifier, logger)
	a.ValidationHandler = handlers.NewValidationHandler(a.ValidationService, verifier, logger)
	a.ProjectHandler = handlers.NewProjectHandler(a.ProjectService, verifier, logger)
	a.CallbackHandler = handlers.NewCallbackHandler(a.JobService, a.ValidationService, logger)
	a.APIHandler = handlers.NewAPIHandler(logger)

	return a, nil
}

// Start launches the background components.
func (a *App) Start() error {
	a.WorkerPool.Start()
	if err := a.Monitor.Start(); err != nil {
		return err
	}
	return nil
}

// Close stops background components and releases resources.
func (a *App) Close() error {
	a.Monitor.Stop()
	a.WorkerPool.Stop()
	if a.ProgressCache != nil {
		if err := a.ProgressCache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close progress cache")
		}
	}
	return a.Storage.Close()
}
