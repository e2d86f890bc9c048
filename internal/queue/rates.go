package queue

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/alaamer12/pixcrawler/internal/models"
)

// rateHints holds the per-task-name dispatch rate limiters. A hint that
// would be exceeded delays the task's visibility; it never fails the
// enqueue.
type rateHints struct {
	limiters map[string]*rate.Limiter
}

// perMinute builds a limiter for n events per minute with a small burst.
func perMinute(n int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n/10+1)
}

func newRateHints() *rateHints {
	return &rateHints{
		limiters: map[string]*rate.Limiter{
			models.TaskDownload:       perMinute(10),
			models.TaskValidateFast:   perMinute(1000),
			models.TaskValidateMedium: perMinute(500),
			models.TaskValidateSlow:   perMinute(100),
		},
	}
}

// delayFor reserves capacity for one task and returns how long its
// visibility should be deferred. Unknown task names carry no hint.
func (r *rateHints) delayFor(taskName string) time.Duration {
	limiter, ok := r.limiters[taskName]
	if !ok {
		return 0
	}
	res := limiter.Reserve()
	if !res.OK() {
		return 0
	}
	return res.Delay()
}
