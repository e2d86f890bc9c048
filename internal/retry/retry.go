package retry

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/alaamer12/pixcrawler/internal/errkind"
)

// Operation-layer policy: transient network failures around one outbound
// call. Task-layer re-queues never stack on top of these; each failure
// class has exactly one authoritative retry layer.
const (
	// OperationAttempts caps attempts of one outbound call, first included.
	OperationAttempts = 3
	// operationBase is the exponential backoff base between attempts.
	operationBase = 2 * time.Second
	// operationMax caps the computed backoff.
	operationMax = 10 * time.Second
)

// sleep waits for the backoff or the context, whichever ends first.
// Overridable in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Operation wraps a single outbound call with the transient-network retry
// policy: up to 3 attempts total, exponential backoff base 2s capped at
// 10s, a RateLimited suggested wait honored in lieu of the computed
// backoff. Permanent and Infrastructure failures return immediately;
// exhaustion re-raises the last failure unchanged.
func Operation(ctx context.Context, logger arbor.ILogger, name string, fn func() error) error {
	var lastErr error
	backoff := operationBase

	for attempt := 1; attempt <= OperationAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		kind := errkind.KindOf(lastErr)
		switch kind {
		case errkind.KindTimeout, errkind.KindNetwork, errkind.KindRateLimited, errkind.KindServiceUnavailable:
			// retryable here
		default:
			// Permanent failures are never retried; Infrastructure belongs
			// to the task layer.
			return lastErr
		}

		if attempt == OperationAttempts {
			break
		}

		wait := backoff
		if suggested := errkind.RetryAfterOf(lastErr); suggested > 0 {
			wait = suggested
		}

		logger.Warn().
			Str("operation", name).
			Int("attempt", attempt).
			Int("max_attempts", OperationAttempts).
			Str("error_kind", string(kind)).
			Dur("wait", wait).
			Err(lastErr).
			Msg("Transient failure, retrying operation")

		if err := sleep(ctx, wait); err != nil {
			return err
		}

		backoff *= 2
		if backoff > operationMax {
			backoff = operationMax
		}
	}

	logger.Error().
		Str("operation", name).
		Int("max_attempts", OperationAttempts).
		Err(lastErr).
		Msg("Operation retries exhausted")
	return lastErr
}

// RequeuePolicy is the task-layer policy: a worker runtime may re-queue a
// task only on Infrastructure failures, at most MaxRequeues times, after a
// fixed Delay. The worker pool consults it when a task body returns an
// error, so a body opts in by returning an Infrastructure-classified
// failure; other failure kinds are never re-queued.
type RequeuePolicy struct {
	MaxRequeues int
	Delay       time.Duration
}

// DefaultRequeuePolicy matches the orchestrator's task contract.
func DefaultRequeuePolicy() RequeuePolicy {
	return RequeuePolicy{
		MaxRequeues: 3,
		Delay:       60 * time.Second,
	}
}

// ShouldRequeue decides whether a failed task execution goes back on the
// queue. attempt counts prior re-queues of the same unit of work.
func (p RequeuePolicy) ShouldRequeue(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if errkind.KindOf(err) != errkind.KindInfrastructure {
		return false
	}
	return attempt < p.MaxRequeues
}
