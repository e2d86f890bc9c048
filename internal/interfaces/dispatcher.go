package interfaces

import (
	"context"
	"time"
)

// TaskPayload is a payload of primitives only: strings, integers, booleans,
// lists and maps of the same. It never carries a database handle, a
// repository, or any reference to in-process state.
type TaskPayload map[string]interface{}

// TaskDispatcher is the thin abstraction over the asynchronous task broker.
// It is stateless with respect to business logic and knows nothing about
// jobs.
type TaskDispatcher interface {
	// Enqueue submits a named task and returns the broker's opaque task id.
	// Rate-limit hints attached to the task name delay the send; they never
	// fail it.
	Enqueue(ctx context.Context, taskName string, payload TaskPayload) (string, error)

	// EnqueueDelayed submits a new task that becomes visible after the delay.
	// The worker pool's task-layer re-queue does not go through it.
	EnqueueDelayed(ctx context.Context, taskName string, payload TaskPayload, delay time.Duration) (string, error)

	// Revoke requests best-effort cancellation of one task and reports
	// whether the broker accepted the request.
	Revoke(ctx context.Context, taskID string) bool

	// RevokeMany revokes a batch and returns the count of accepted
	// revocations.
	RevokeMany(ctx context.Context, taskIDs []string) int
}
