package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/ternarybob/arbor"
	"maragu.dev/goqite"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
)

// Dispatcher is a thin wrapper around goqite. It provides ONLY broker
// operations - enqueue, delayed enqueue, revoke - and holds no business
// state; it does not know about jobs.
type Dispatcher struct {
	q      *goqite.Queue
	hints  *rateHints
	logger arbor.ILogger
}

// NewDispatcher creates the broker abstraction on the shared SQLite
// database. goqite.Setup has already run during connection setup.
func NewDispatcher(db *sql.DB, config *common.QueueConfig, logger arbor.ILogger) *Dispatcher {
	q := goqite.New(goqite.NewOpts{
		DB:         db,
		Name:       config.Name,
		MaxReceive: config.MaxReceive,
		Timeout:    config.VisibilityTimeout,
	})

	return &Dispatcher{
		q:      q,
		hints:  newRateHints(),
		logger: logger,
	}
}

// Enqueue submits a named task with a primitive payload and returns the
// broker's opaque task id. Rate hints attached to the task name defer
// visibility instead of failing the send.
func (d *Dispatcher) Enqueue(ctx context.Context, taskName string, payload interfaces.TaskPayload) (string, error) {
	return d.send(ctx, taskName, payload, d.hints.delayFor(taskName), 0, "")
}

// EnqueueDelayed submits a new task (attempt 0, no origin id) that becomes
// visible after the delay. The task-layer re-queue, which preserves the
// original task identity, goes through WorkerPool.requeue instead.
func (d *Dispatcher) EnqueueDelayed(ctx context.Context, taskName string, payload interfaces.TaskPayload, delay time.Duration) (string, error) {
	return d.send(ctx, taskName, payload, delay, 0, "")
}

// requeue re-submits a task after an infrastructure failure, carrying its
// attempt count and original identifier forward.
func (d *Dispatcher) requeue(ctx context.Context, e *envelope, delay time.Duration) (string, error) {
	return d.send(ctx, e.TaskName, e.Payload, delay, e.Attempt, e.OriginTaskID)
}

func (d *Dispatcher) send(ctx context.Context, taskName string, payload interfaces.TaskPayload, delay time.Duration, attempt int, originTaskID string) (string, error) {
	e := &envelope{
		TaskName:     taskName,
		Payload:      payload,
		Attempt:      attempt,
		OriginTaskID: originTaskID,
	}
	body, err := e.encode()
	if err != nil {
		return "", errkind.Validationf("task payload for %s is not serializable: %v", taskName, err)
	}

	id, err := d.q.SendAndGetID(ctx, goqite.Message{
		Body:  body,
		Delay: delay,
	})
	if err != nil {
		return "", errkind.Infrastructure("failed to enqueue task "+taskName, err)
	}

	d.logger.Debug().
		Str("task_name", taskName).
		Str("task_id", string(id)).
		Dur("delay", delay).
		Msg("Task enqueued")
	return string(id), nil
}

// Revoke requests best-effort cancellation of one task. A task already
// received by a worker cannot be deleted; its late callback is absorbed by
// the orchestrator's status guard.
func (d *Dispatcher) Revoke(ctx context.Context, taskID string) bool {
	if err := d.q.Delete(ctx, goqite.ID(taskID)); err != nil {
		d.logger.Debug().
			Str("task_id", taskID).
			Err(err).
			Msg("Broker declined revocation")
		return false
	}
	return true
}

// RevokeMany revokes a batch and returns the count of accepted revocations.
func (d *Dispatcher) RevokeMany(ctx context.Context, taskIDs []string) int {
	accepted := 0
	for _, taskID := range taskIDs {
		if d.Revoke(ctx, taskID) {
			accepted++
		}
	}
	return accepted
}

// Extend extends the visibility timeout for a long-running task.
func (d *Dispatcher) Extend(ctx context.Context, taskID string, duration time.Duration) error {
	return d.q.Extend(ctx, goqite.ID(taskID), duration)
}

// receive pulls the next message for the worker pool.
func (d *Dispatcher) receive(ctx context.Context) (*goqite.Message, error) {
	return d.q.Receive(ctx)
}

// remove deletes a processed message.
func (d *Dispatcher) remove(ctx context.Context, id goqite.ID) error {
	return d.q.Delete(ctx, id)
}
