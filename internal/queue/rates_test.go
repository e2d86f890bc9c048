package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alaamer12/pixcrawler/internal/models"
)

func TestRateHints(t *testing.T) {
	hints := newRateHints()

	t.Run("unknown task names carry no hint", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), hints.delayFor("unknown_task"))
	})

	t.Run("downloads within burst go out immediately", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), hints.delayFor(models.TaskDownload))
	})

	t.Run("exceeding the hint delays, never fails", func(t *testing.T) {
		// Drain the download burst (10/min, burst 2).
		var delayed time.Duration
		for i := 0; i < 5; i++ {
			delayed = hints.delayFor(models.TaskDownload)
		}
		assert.Greater(t, delayed, time.Duration(0))
	})

	t.Run("fast validation sustains a much higher rate", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			if d := hints.delayFor(models.TaskValidateFast); d > time.Second {
				t.Fatalf("validate_fast delayed %v after %d sends", d, i)
			}
		}
	})
}
