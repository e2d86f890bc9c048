package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
	"github.com/alaamer12/pixcrawler/internal/queue"
)

type fakeFetcher struct {
	images []models.ImageRecord
	err    error
	calls  int
}

func (f *fakeFetcher) FetchChunk(context.Context, interfaces.TaskPayload) ([]models.ImageRecord, error) {
	f.calls++
	return f.images, f.err
}

// completionRecorder captures what the worker reports back.
type completionRecorder struct {
	interfaces.JobService
	jobID   string
	taskID  string
	results []models.TaskResult
}

func (r *completionRecorder) HandleTaskCompletion(_ context.Context, jobID, taskID string, result models.TaskResult) error {
	r.jobID = jobID
	r.taskID = taskID
	r.results = append(r.results, result)
	return nil
}

func downloadTask() *queue.Task {
	return &queue.Task{
		ID:   "task-1",
		Name: models.TaskDownload,
		Payload: interfaces.TaskPayload{
			"job_id":        "job_1",
			"keyword":       "cat",
			"engine":        "google",
			"per_chunk_cap": 25,
		},
	}
}

func TestDownloadWorker_Success(t *testing.T) {
	fetcher := &fakeFetcher{images: []models.ImageRecord{
		{SourceURL: "https://example.com/1.jpg", StorageKey: "k1"},
		{SourceURL: "https://example.com/2.jpg", StorageKey: "k2"},
	}}
	recorder := &completionRecorder{}
	worker := NewDownloadWorker(fetcher, recorder, common.GetLogger())

	require.NoError(t, worker.Run(context.Background(), downloadTask()))

	assert.Equal(t, "job_1", recorder.jobID)
	assert.Equal(t, "task-1", recorder.taskID)
	require.Len(t, recorder.results, 1)
	assert.True(t, recorder.results[0].Success)
	assert.Equal(t, 2, recorder.results[0].Downloaded)
	assert.Len(t, recorder.results[0].Images, 2)
}

func TestDownloadWorker_PermanentFailureReportsFailedChunk(t *testing.T) {
	fetcher := &fakeFetcher{err: errkind.Validationf("engine rejected query")}
	recorder := &completionRecorder{}
	worker := NewDownloadWorker(fetcher, recorder, common.GetLogger())

	require.NoError(t, worker.Run(context.Background(), downloadTask()))

	assert.Equal(t, 1, fetcher.calls, "permanent failures are never retried")
	require.Len(t, recorder.results, 1)
	assert.False(t, recorder.results[0].Success)
	assert.True(t, recorder.results[0].Failed)
	assert.Equal(t, string(errkind.KindValidation), recorder.results[0].ErrorKind)
}

func TestDownloadWorker_InfrastructureEscapesToTaskLayer(t *testing.T) {
	fetcher := &fakeFetcher{err: errkind.Infrastructure("datastore unavailable", nil)}
	recorder := &completionRecorder{}
	worker := NewDownloadWorker(fetcher, recorder, common.GetLogger())

	err := worker.Run(context.Background(), downloadTask())
	require.Error(t, err)
	assert.Equal(t, errkind.KindInfrastructure, errkind.KindOf(err))
	assert.Empty(t, recorder.results, "no completion is reported before the re-queue decision")
}

func TestDownloadWorker_MissingJobIDDropped(t *testing.T) {
	recorder := &completionRecorder{}
	worker := NewDownloadWorker(&fakeFetcher{}, recorder, common.GetLogger())

	require.NoError(t, worker.Run(context.Background(), &queue.Task{
		ID:      "task-1",
		Name:    models.TaskDownload,
		Payload: interfaces.TaskPayload{},
	}))
	assert.Empty(t, recorder.results)
}
