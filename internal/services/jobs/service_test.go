package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
	"github.com/alaamer12/pixcrawler/internal/storage/sqlite"
)

// fakeDispatcher records enqueues and revocations without a broker.
type fakeDispatcher struct {
	mu       sync.Mutex
	next     int
	enqueued []string
	revoked  []string
	failFrom int // fail enqueues once this many tasks were accepted (0 = never)
	failWith error
}

func (f *fakeDispatcher) Enqueue(_ context.Context, taskName string, payload interfaces.TaskPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFrom > 0 && len(f.enqueued) >= f.failFrom {
		return "", f.failWith
	}
	f.next++
	id := fmt.Sprintf("task-%d", f.next)
	f.enqueued = append(f.enqueued, id)
	return id, nil
}

func (f *fakeDispatcher) EnqueueDelayed(ctx context.Context, taskName string, payload interfaces.TaskPayload, _ time.Duration) (string, error) {
	return f.Enqueue(ctx, taskName, payload)
}

func (f *fakeDispatcher) Revoke(_ context.Context, taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, taskID)
	return true
}

func (f *fakeDispatcher) RevokeMany(ctx context.Context, taskIDs []string) int {
	for _, id := range taskIDs {
		f.Revoke(ctx, id)
	}
	return len(taskIDs)
}

func (f *fakeDispatcher) enqueueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

type fixture struct {
	service    *Service
	storage    *sqlite.Manager
	dispatcher *fakeDispatcher
	projectID  string
}

const ownerID = "user-a"

func newFixture(t *testing.T, cfg common.OrchestratorConfig) *fixture {
	t.Helper()

	storage, err := sqlite.NewManager(common.GetLogger(), &common.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	dispatcher := &fakeDispatcher{}
	service := NewService(storage, dispatcher, nil, cfg, common.GetLogger())

	project := &models.Project{ID: "prj-test", UserID: ownerID, Name: "test"}
	require.NoError(t, storage.Projects().Create(context.Background(), project))

	return &fixture{
		service:    service,
		storage:    storage,
		dispatcher: dispatcher,
		projectID:  project.ID,
	}
}

func defaultCfg() common.OrchestratorConfig {
	return common.OrchestratorConfig{
		Chunking:         "keyword_engine",
		ChunkSize:        50,
		MaxImagesCap:     10000,
		MaxChunksCap:     1000,
		FailureThreshold: 1.0,
	}
}

func (f *fixture) createJob(t *testing.T, keywords, engines []string, maxImages int) *models.CrawlJob {
	t.Helper()
	job, err := f.service.CreateJob(context.Background(), ownerID, interfaces.CreateJobParams{
		ProjectID: f.projectID,
		Name:      "dataset",
		Keywords:  keywords,
		Engines:   engines,
		MaxImages: maxImages,
	})
	require.NoError(t, err)
	return job
}

func records(n int) []models.ImageRecord {
	out := make([]models.ImageRecord, n)
	for i := range out {
		out[i] = models.ImageRecord{
			SourceURL:  fmt.Sprintf("https://example.com/%d.jpg", i),
			StorageKey: fmt.Sprintf("datasets/img-%d.jpg", i),
			Format:     "jpeg",
		}
	}
	return out
}

func TestStartJob_KeywordEngineDecomposition(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat", "dog"}, []string{"google", "bing"}, 100)
	assert.Equal(t, models.JobStatusPending, job.Status)

	result, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusRunning, result.Status)
	assert.Equal(t, 4, result.TotalChunks)
	assert.Len(t, result.TaskIDs, 4)
	assert.Equal(t, 4, f.dispatcher.enqueueCount())

	stored, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)
	assert.Equal(t, 4, stored.TotalChunks)
	assert.Equal(t, 4, stored.ActiveChunks)
	assert.Len(t, stored.TaskIDs, 4)
	assert.False(t, stored.StartedAt.IsZero())
}

func TestStartJob_IdempotentOnRunning(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat"}, []string{"google"}, 10)
	first, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	second, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	assert.Equal(t, first.TaskIDs, second.TaskIDs)
	assert.Equal(t, 1, f.dispatcher.enqueueCount(), "second start must enqueue nothing")
}

func TestStartJob_GuardsAndValidation(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	t.Run("unsupported engine", func(t *testing.T) {
		_, err := f.service.CreateJob(ctx, ownerID, interfaces.CreateJobParams{
			ProjectID: f.projectID,
			Name:      "bad",
			Keywords:  []string{"cat"},
			Engines:   []string{"altavista"},
			MaxImages: 10,
		})
		assert.Equal(t, errkind.KindValidation, errkind.KindOf(err))
	})

	t.Run("empty keywords", func(t *testing.T) {
		_, err := f.service.CreateJob(ctx, ownerID, interfaces.CreateJobParams{
			ProjectID: f.projectID,
			Name:      "bad",
			Keywords:  nil,
			Engines:   []string{"google"},
			MaxImages: 10,
		})
		assert.Equal(t, errkind.KindValidation, errkind.KindOf(err))
	})

	t.Run("max images above cap", func(t *testing.T) {
		_, err := f.service.CreateJob(ctx, ownerID, interfaces.CreateJobParams{
			ProjectID: f.projectID,
			Name:      "bad",
			Keywords:  []string{"cat"},
			Engines:   []string{"google"},
			MaxImages: 99999,
		})
		assert.Equal(t, errkind.KindValidation, errkind.KindOf(err))
	})

	t.Run("start on terminal is bad request without side effects", func(t *testing.T) {
		job := f.createJob(t, []string{"cat"}, []string{"google"}, 10)
		result, err := f.service.StartJob(ctx, ownerID, job.ID)
		require.NoError(t, err)
		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], models.TaskResult{Success: true, Downloaded: 5, Images: records(5)}))

		before := f.dispatcher.enqueueCount()
		_, err = f.service.StartJob(ctx, ownerID, job.ID)
		assert.Equal(t, errkind.KindBadRequest, errkind.KindOf(err))
		assert.Equal(t, before, f.dispatcher.enqueueCount())
	})
}

func TestStartJob_OwnershipEnforced(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat"}, []string{"google"}, 10)

	_, err := f.service.StartJob(ctx, "user-b", job.ID)
	assert.Equal(t, errkind.KindForbidden, errkind.KindOf(err))

	_, err = f.service.GetJob(ctx, "user-b", job.ID)
	assert.Equal(t, errkind.KindForbidden, errkind.KindOf(err))

	_, err = f.service.CancelJob(ctx, "user-b", job.ID)
	assert.Equal(t, errkind.KindForbidden, errkind.KindOf(err))
}

func TestHandleTaskCompletion_HappyPath(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat", "dog"}, []string{"google", "bing"}, 100)
	result, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	for _, taskID := range result.TaskIDs {
		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, taskID, models.TaskResult{
			Success:    true,
			Downloaded: 25,
			Images:     records(25),
		}))
	}

	final, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, 4, final.CompletedChunks)
	assert.Equal(t, 0, final.ActiveChunks)
	assert.Equal(t, 0, final.FailedChunks)
	assert.Equal(t, 100, final.DownloadedImages)
	assert.False(t, final.CompletedAt.IsZero())

	count, err := f.storage.Images().CountByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, count)

	// Terminal notification was appended for the owner.
	notifications, err := f.storage.Notifications().ListByUser(ctx, ownerID, 10)
	require.NoError(t, err)
	var sawCompleted bool
	for _, n := range notifications {
		if n.Type == models.NotificationJobCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted)
}

func TestHandleTaskCompletion_DuplicateCallback(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat", "dog"}, []string{"google", "bing"}, 100)
	result, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	callback := models.TaskResult{Success: true, Downloaded: 25, Images: records(25)}
	require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], callback))
	require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], callback))

	stored, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CompletedChunks)
	assert.Equal(t, 3, stored.ActiveChunks)
	assert.Equal(t, 25, stored.DownloadedImages)

	count, err := f.storage.Images().CountByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, count, "replay must not duplicate image rows")
}

func TestHandleTaskCompletion_UnknownTaskAbsorbed(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat"}, []string{"google"}, 10)
	_, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, "task-never-dispatched", models.TaskResult{Success: true}))
	require.NoError(t, f.service.HandleTaskCompletion(ctx, "job_missing", "task-1", models.TaskResult{Success: true}))

	stored, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CompletedChunks)
	assert.Equal(t, 1, stored.ActiveChunks)
}

func TestCancelJob_MidFlight(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat", "dog"}, []string{"google", "bing"}, 100)
	result, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], models.TaskResult{
		Success: true, Downloaded: 25, Images: records(25),
	}))

	cancel, err := f.service.CancelJob(ctx, ownerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancel.Status)
	assert.LessOrEqual(t, cancel.RevokedTasks, 3)

	stored, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, stored.Status)
	assert.Equal(t, 0, stored.ActiveChunks)
	assert.False(t, stored.CompletedAt.IsZero())

	// Late callbacks for the remaining tasks change nothing and create no
	// image rows after cancel.
	for _, taskID := range result.TaskIDs[1:] {
		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, taskID, models.TaskResult{
			Success: true, Downloaded: 25, Images: records(25),
		}))
	}

	after, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, after.Status)
	assert.Equal(t, 1, after.CompletedChunks)
	assert.Equal(t, 25, after.DownloadedImages)

	count, err := f.storage.Images().CountByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, count)
}

func TestCancelJob_Idempotent(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat"}, []string{"google"}, 10)
	_, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	first, err := f.service.CancelJob(ctx, ownerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.RevokedTasks)

	revokesBefore := len(f.dispatcher.revoked)
	second, err := f.service.CancelJob(ctx, ownerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.RevokedTasks)
	assert.Equal(t, revokesBefore, len(f.dispatcher.revoked), "second cancel must not revoke")
}

func TestCancelJob_TerminalIsBadRequest(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat"}, []string{"google"}, 10)
	result, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)
	require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], models.TaskResult{Success: true}))

	_, err = f.service.CancelJob(ctx, ownerID, job.ID)
	assert.Equal(t, errkind.KindBadRequest, errkind.KindOf(err))
}

func TestPartialFailure_TerminalPolicy(t *testing.T) {
	t.Run("lenient default completes", func(t *testing.T) {
		f := newFixture(t, defaultCfg())
		ctx := context.Background()

		job := f.createJob(t, []string{"x"}, []string{"google", "bing"}, 20)
		result, err := f.service.StartJob(ctx, ownerID, job.ID)
		require.NoError(t, err)

		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], models.TaskResult{Success: true, Downloaded: 10, Images: records(10)}))
		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[1], models.TaskResult{
			Success: false, Failed: true, Error: "HTTP 404: Not Found", ErrorKind: string(errkind.KindNotFound),
		}))

		stored, err := f.storage.Jobs().Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, stored.Status)
	})

	t.Run("strict threshold fails", func(t *testing.T) {
		cfg := defaultCfg()
		cfg.FailureThreshold = 0.5
		f := newFixture(t, cfg)
		ctx := context.Background()

		job := f.createJob(t, []string{"x"}, []string{"google", "bing"}, 20)
		result, err := f.service.StartJob(ctx, ownerID, job.ID)
		require.NoError(t, err)

		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], models.TaskResult{Success: true, Downloaded: 10, Images: records(10)}))
		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[1], models.TaskResult{Success: false, Failed: true, Error: "boom"}))

		stored, err := f.storage.Jobs().Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, stored.Status)
		assert.NotEmpty(t, stored.Error)
	})

	t.Run("all failed always fails", func(t *testing.T) {
		f := newFixture(t, defaultCfg())
		ctx := context.Background()

		job := f.createJob(t, []string{"x"}, []string{"google"}, 10)
		result, err := f.service.StartJob(ctx, ownerID, job.ID)
		require.NoError(t, err)

		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], models.TaskResult{Success: false, Failed: true, Error: "boom"}))

		stored, err := f.storage.Jobs().Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, stored.Status)
	})
}

func TestRetryJob_RoundTrip(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat", "dog"}, []string{"google"}, 20)
	first, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, first.TaskIDs[0], models.TaskResult{Success: true, Downloaded: 10, Images: records(10)}))

	_, err = f.service.CancelJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	retried, err := f.service.RetryJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusRunning, retried.Status)
	assert.Len(t, retried.TaskIDs, 2)
	for _, taskID := range retried.TaskIDs {
		assert.NotContains(t, first.TaskIDs, taskID, "retry must dispatch fresh tasks")
	}

	stored, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.CompletedChunks)
	assert.Equal(t, 0, stored.FailedChunks)
	assert.Equal(t, 0, stored.DownloadedImages)
	assert.Equal(t, 2, stored.ActiveChunks)
	assert.Empty(t, stored.Error)

	// The cleared processed set accepts the fresh tasks' callbacks.
	for _, taskID := range retried.TaskIDs {
		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, taskID, models.TaskResult{Success: true, Downloaded: 10, Images: records(10)}))
	}
	final, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
}

func TestRetryJob_OnlyFromFailedOrCancelled(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat"}, []string{"google"}, 10)

	_, err := f.service.RetryJob(ctx, ownerID, job.ID)
	assert.Equal(t, errkind.KindBadRequest, errkind.KindOf(err))

	_, err = f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)
	_, err = f.service.RetryJob(ctx, ownerID, job.ID)
	assert.Equal(t, errkind.KindBadRequest, errkind.KindOf(err))
}

func TestStartJob_DispatchFailureFailsJob(t *testing.T) {
	f := newFixture(t, defaultCfg())
	f.dispatcher.failFrom = 2
	f.dispatcher.failWith = errkind.Validationf("payload rejected by broker")
	ctx := context.Background()

	job := f.createJob(t, []string{"cat", "dog"}, []string{"google", "bing"}, 100)
	_, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.Error(t, err)

	stored, getErr := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
	assert.Equal(t, 0, stored.ActiveChunks)

	// The failed start is retryable.
	retried, err := f.service.RetryJob(ctx, ownerID, job.ID)
	assert.Error(t, err) // dispatcher still failing
	_ = retried
}

func TestRangeDecomposition(t *testing.T) {
	cfg := defaultCfg()
	cfg.Chunking = "range"
	cfg.ChunkSize = 30
	f := newFixture(t, cfg)
	ctx := context.Background()

	job := f.createJob(t, []string{"cat"}, []string{"google"}, 100)
	result, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	// ceil(100 / 30) = 4 ranges, last one shorter.
	assert.Equal(t, 4, result.TotalChunks)
	assert.Len(t, result.TaskIDs, 4)

	pending, processing, completed, failed, err := f.storage.Chunks().ProgressFor(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	assert.Equal(t, 4, processing)
	assert.Equal(t, 0, completed)
	assert.Equal(t, 0, failed)

	for _, taskID := range result.TaskIDs {
		require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, taskID, models.TaskResult{Success: true, Downloaded: 25, Images: records(25)}))
	}

	stored, err := f.storage.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)

	_, _, completed, failed, err = f.storage.Chunks().ProgressFor(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, completed)
	assert.Equal(t, 0, failed)
}

func TestProgressSnapshot(t *testing.T) {
	f := newFixture(t, defaultCfg())
	ctx := context.Background()

	job := f.createJob(t, []string{"cat", "dog"}, []string{"google", "bing"}, 100)
	result, err := f.service.StartJob(ctx, ownerID, job.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleTaskCompletion(ctx, job.ID, result.TaskIDs[0], models.TaskResult{Success: true, Downloaded: 25, Images: records(25)}))

	snapshot, err := f.service.Progress(ctx, ownerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, snapshot.JobID)
	assert.Equal(t, models.JobStatusRunning, snapshot.Status)
	assert.Equal(t, 25, snapshot.Progress)
	assert.Equal(t, 4, snapshot.TotalChunks)
	assert.Equal(t, 1, snapshot.CompletedChunks)
	assert.Equal(t, 3, snapshot.ActiveChunks)
	assert.Equal(t, 25, snapshot.DownloadedImages)

	_, err = f.service.Progress(ctx, "user-b", job.ID)
	assert.Equal(t, errkind.KindForbidden, errkind.KindOf(err))
}

func TestKeywordEngineTasks_PayloadShape(t *testing.T) {
	job := &models.CrawlJob{
		ID:        "job_x",
		Keywords:  []string{"cat", "dog", "bird"},
		Engines:   []string{"google", "bing"},
		MaxImages: 100,
	}

	tasks := keywordEngineTasks(job)
	require.Len(t, tasks, 6)

	seen := make(map[string]bool)
	for _, task := range tasks {
		assert.Equal(t, models.TaskDownload, task.Name)
		assert.Equal(t, "job_x", task.Payload["job_id"])
		// ceil(100/6) = 17
		assert.Equal(t, 17, task.Payload["per_chunk_cap"])
		key := fmt.Sprintf("%v|%v", task.Payload["keyword"], task.Payload["engine"])
		assert.False(t, seen[key], "duplicate pair %s", key)
		seen[key] = true
	}
}
