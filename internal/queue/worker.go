package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/retry"
)

// TaskBody is the function executed for one named task. The task's failure
// kind decides what happens next: Infrastructure failures are re-queued by
// the pool within the task-layer policy, everything else fails the task.
type TaskBody func(ctx context.Context, task *Task) error

// WorkerPool manages a pool of workers that process queued tasks.
type WorkerPool struct {
	dispatcher *Dispatcher
	config     *common.QueueConfig
	bodies     map[string]TaskBody
	requeue    retry.RequeuePolicy
	logger     arbor.ILogger
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(dispatcher *Dispatcher, config *common.QueueConfig, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		dispatcher: dispatcher,
		config:     config,
		bodies:     make(map[string]TaskBody),
		requeue:    retry.DefaultRequeuePolicy(),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Register registers a task body for a task name.
func (wp *WorkerPool) Register(taskName string, body TaskBody) {
	wp.bodies[taskName] = body
	wp.logger.Debug().
		Str("task_name", taskName).
		Msg("Task body registered")
}

// Start starts the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Concurrency; i++ {
		go wp.worker(i)
	}
}

// Stop stops the worker pool. In-flight tasks are cut off by context
// cancellation; their messages re-surface after the visibility timeout and
// the dedup guard absorbs any double completion.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	time.Sleep(500 * time.Millisecond)
	wp.logger.Info().Msg("Worker pool stopped")
}

// worker is the main poll loop.
func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce database lock contention.
	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processOne(workerID); err != nil && !errors.Is(err, errNoMessage) {
				wp.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing task")
			}
		}
	}
}

var errNoMessage = errors.New("no message")

// processOne receives and executes a single task.
func (wp *WorkerPool) processOne(workerID int) error {
	msg, err := wp.dispatcher.receive(wp.ctx)
	if err != nil {
		return err
	}
	if msg == nil {
		return errNoMessage
	}

	e, err := decodeEnvelope(msg.Body)
	if err != nil {
		wp.logger.Error().
			Err(err).
			Str("message_id", string(msg.ID)).
			Int("worker_id", workerID).
			Msg("Failed to decode task envelope")
		return wp.dispatcher.remove(wp.ctx, msg.ID)
	}

	// The first execution's message id is the identity the orchestrator
	// recorded; re-queued executions keep it.
	taskID := e.OriginTaskID
	if taskID == "" {
		taskID = string(msg.ID)
	}

	body, exists := wp.bodies[e.TaskName]
	if !exists {
		wp.logger.Error().
			Str("task_name", e.TaskName).
			Str("task_id", taskID).
			Msg("No body registered for task name")
		return wp.dispatcher.remove(wp.ctx, msg.ID)
	}

	task := &Task{
		ID:      taskID,
		Name:    e.TaskName,
		Payload: e.Payload,
		Attempt: e.Attempt,
	}

	start := time.Now()
	bodyErr := body(wp.ctx, task)
	duration := time.Since(start)

	if bodyErr != nil {
		kind := errkind.KindOf(bodyErr)

		if wp.requeue.ShouldRequeue(bodyErr, e.Attempt) {
			next := &envelope{
				TaskName:     e.TaskName,
				Payload:      e.Payload,
				Attempt:      e.Attempt + 1,
				OriginTaskID: taskID,
			}
			if _, rqErr := wp.dispatcher.requeue(wp.ctx, next, wp.requeue.Delay); rqErr != nil {
				wp.logger.Error().
					Err(rqErr).
					Str("task_id", taskID).
					Msg("Failed to re-queue task after infrastructure failure")
			} else {
				wp.logger.Warn().
					Str("task_id", taskID).
					Str("task_name", e.TaskName).
					Int("attempt", e.Attempt+1).
					Int("max_requeues", wp.requeue.MaxRequeues).
					Err(bodyErr).
					Msg("Task re-queued after infrastructure failure")
			}
			return wp.dispatcher.remove(wp.ctx, msg.ID)
		}

		wp.logger.Error().
			Err(bodyErr).
			Str("task_id", taskID).
			Str("task_name", e.TaskName).
			Str("error_kind", string(kind)).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Task failed")
		return wp.dispatcher.remove(wp.ctx, msg.ID)
	}

	wp.logger.Info().
		Str("task_id", taskID).
		Str("task_name", e.TaskName).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Task completed")

	return wp.dispatcher.remove(wp.ctx, msg.ID)
}
