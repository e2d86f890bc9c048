package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// Monitor periodically fails running jobs that stopped making progress,
// e.g. after a crash left dispatched work orphaned. It reuses the same
// guarded transition as every other writer, so a job that resumed between
// scan and sweep is left alone.
type Monitor struct {
	jobs   interfaces.JobStorage
	cfg    common.SchedulerConfig
	cron   *cron.Cron
	logger arbor.ILogger
}

// NewMonitor creates the stale-job monitor.
func NewMonitor(jobs interfaces.JobStorage, cfg common.SchedulerConfig, logger arbor.ILogger) *Monitor {
	return &Monitor{
		jobs:   jobs,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start schedules the sweep. No-op when disabled.
func (m *Monitor) Start() error {
	if !m.cfg.Enabled {
		m.logger.Debug().Msg("Stale-job monitor disabled")
		return nil
	}

	schedule := m.cfg.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}

	if _, err := m.cron.AddFunc(schedule, m.sweep); err != nil {
		return fmt.Errorf("failed to schedule stale-job monitor: %w", err)
	}
	m.cron.Start()

	m.logger.Info().
		Str("schedule", schedule).
		Dur("stale_after", m.cfg.StaleAfter).
		Msg("Stale-job monitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info().Msg("Stale-job monitor stopped")
}

// sweep fails running jobs untouched for longer than the stale window.
func (m *Monitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	staleAfter := m.cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-staleAfter)

	stale, err := m.jobs.StaleRunning(ctx, cutoff)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Stale-job scan failed")
		return
	}

	for _, job := range stale {
		now := time.Now().UTC()
		zero := 0
		msg := fmt.Sprintf("Timeout: no task activity for %s", staleAfter)
		ok, err := m.jobs.TransitionStatus(ctx, job.ID,
			[]models.JobStatus{models.JobStatusRunning}, models.JobStatusFailed,
			interfaces.TransitionFields{
				CompletedAt:  &now,
				Error:        &msg,
				ActiveChunks: &zero,
			})
		if err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail stale job")
			continue
		}
		if ok {
			m.logger.Warn().
				Str("job_id", job.ID).
				Str("last_update", job.UpdatedAt.Format(time.RFC3339)).
				Msg("Stale running job marked failed")
		}
	}
}
