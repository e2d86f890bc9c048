package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alaamer12/pixcrawler/internal/common"
	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(common.GetLogger(), &common.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func seedJob(t *testing.T, m *Manager, status models.JobStatus) *models.CrawlJob {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, m.Projects().Create(ctx, &models.Project{
		ID: "prj-1", UserID: "user-a", Name: "test",
	}))

	job := &models.CrawlJob{
		ID:        common.NewJobID(),
		ProjectID: "prj-1",
		Name:      "dataset",
		Keywords:  []string{"cat"},
		Engines:   []string{"google"},
		MaxImages: 100,
		Status:    status,
	}
	require.NoError(t, m.Jobs().Create(ctx, job))
	return job
}

func TestJobStorage_CreateAndGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusPending)

	stored, err := m.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
	assert.Equal(t, []string{"cat"}, stored.Keywords)
	assert.Equal(t, []string{"google"}, stored.Engines)
	assert.Equal(t, models.JobStatusPending, stored.Status)
	assert.Empty(t, stored.TaskIDs)
	assert.False(t, stored.CreatedAt.IsZero())

	_, err = m.Jobs().Get(ctx, "job_missing")
	assert.Equal(t, errkind.KindNotFound, errkind.KindOf(err))
}

func TestJobStorage_OwnerOf(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusPending)

	owner, err := m.Jobs().OwnerOf(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-a", owner)

	_, err = m.Jobs().OwnerOf(ctx, "job_missing")
	assert.Equal(t, errkind.KindNotFound, errkind.KindOf(err))
}

func TestJobStorage_TransitionStatus_CAS(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusPending)

	now := time.Now().UTC()
	total := 4
	ok, err := m.Jobs().TransitionStatus(ctx, job.ID,
		[]models.JobStatus{models.JobStatusPending}, models.JobStatusRunning,
		interfaces.TransitionFields{StartedAt: &now, TotalChunks: &total, ActiveChunks: &total})
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := m.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)
	assert.Equal(t, 4, stored.TotalChunks)
	assert.Equal(t, 4, stored.ActiveChunks)
	assert.False(t, stored.StartedAt.IsZero())

	// Guard failure: pending is no longer the current status.
	ok, err = m.Jobs().TransitionStatus(ctx, job.ID,
		[]models.JobStatus{models.JobStatusPending}, models.JobStatusRunning,
		interfaces.TransitionFields{})
	require.NoError(t, err)
	assert.False(t, ok)

	// Missing rows are NotFound, not a silent guard failure.
	_, err = m.Jobs().TransitionStatus(ctx, "job_missing",
		[]models.JobStatus{models.JobStatusPending}, models.JobStatusRunning,
		interfaces.TransitionFields{})
	assert.Equal(t, errkind.KindNotFound, errkind.KindOf(err))
}

func TestJobStorage_AppendTaskID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusRunning)

	require.NoError(t, m.Jobs().AppendTaskID(ctx, job.ID, "task-1"))
	require.NoError(t, m.Jobs().AppendTaskID(ctx, job.ID, "task-2"))

	stored, err := m.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-2"}, stored.TaskIDs)

	err = m.Jobs().AppendTaskID(ctx, "job_missing", "task-3")
	assert.Equal(t, errkind.KindNotFound, errkind.KindOf(err))
}

func TestJobStorage_UpdateCounters(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusPending)

	now := time.Now().UTC()
	total := 4
	_, err := m.Jobs().TransitionStatus(ctx, job.ID,
		[]models.JobStatus{models.JobStatusPending}, models.JobStatusRunning,
		interfaces.TransitionFields{StartedAt: &now, TotalChunks: &total, ActiveChunks: &total})
	require.NoError(t, err)

	updated, err := m.Jobs().UpdateCounters(ctx, job.ID, models.CounterDeltas{
		Completed: 1, Active: -1, Downloaded: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CompletedChunks)
	assert.Equal(t, 3, updated.ActiveChunks)
	assert.Equal(t, 25, updated.DownloadedImages)
	assert.Equal(t, 25, updated.Progress, "progress tracks the counter commit")

	// A delta that would breach the chunk bound rolls back.
	_, err = m.Jobs().UpdateCounters(ctx, job.ID, models.CounterDeltas{Completed: 4})
	assert.Equal(t, errkind.KindValidation, errkind.KindOf(err))

	stored, err := m.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CompletedChunks, "failed update must not commit")

	// Negative counters roll back too.
	_, err = m.Jobs().UpdateCounters(ctx, job.ID, models.CounterDeltas{Active: -5})
	assert.Equal(t, errkind.KindValidation, errkind.KindOf(err))
}

func TestJobStorage_MarkTaskProcessed(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusRunning)

	first, err := m.Jobs().MarkTaskProcessed(ctx, job.ID, "task-1")
	require.NoError(t, err)
	assert.True(t, first)

	replay, err := m.Jobs().MarkTaskProcessed(ctx, job.ID, "task-1")
	require.NoError(t, err)
	assert.False(t, replay)

	other, err := m.Jobs().MarkTaskProcessed(ctx, job.ID, "task-2")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestJobStorage_ResetCounters(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusRunning)

	require.NoError(t, m.Jobs().AppendTaskID(ctx, job.ID, "task-1"))
	_, err := m.Jobs().MarkTaskProcessed(ctx, job.ID, "task-1")
	require.NoError(t, err)

	// Reset from running is refused.
	err = m.Jobs().ResetCounters(ctx, job.ID)
	assert.Equal(t, errkind.KindValidation, errkind.KindOf(err))

	now := time.Now().UTC()
	zero := 0
	_, err = m.Jobs().TransitionStatus(ctx, job.ID,
		[]models.JobStatus{models.JobStatusRunning}, models.JobStatusCancelled,
		interfaces.TransitionFields{CompletedAt: &now, ActiveChunks: &zero})
	require.NoError(t, err)

	require.NoError(t, m.Jobs().ResetCounters(ctx, job.ID))

	stored, err := m.Jobs().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.TotalChunks)
	assert.Empty(t, stored.TaskIDs)
	assert.Equal(t, 0, stored.Progress)

	// The processed set was cleared: the same task id registers as new.
	first, err := m.Jobs().MarkTaskProcessed(ctx, job.ID, "task-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestJobStorage_ActiveTaskIDs(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusRunning)

	for _, taskID := range []string{"task-1", "task-2", "task-3"} {
		require.NoError(t, m.Jobs().AppendTaskID(ctx, job.ID, taskID))
	}
	_, err := m.Jobs().MarkTaskProcessed(ctx, job.ID, "task-2")
	require.NoError(t, err)

	active, err := m.Jobs().ActiveTaskIDs(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-3"}, active)
}

func TestJobStorage_ListByOwner(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seedJob(t, m, models.JobStatusPending)

	jobs, total, err := m.Jobs().ListByOwner(ctx, "user-a", interfaces.JobListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, jobs, 1)

	jobs, total, err = m.Jobs().ListByOwner(ctx, "user-a", interfaces.JobListOptions{Status: "running"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, jobs)

	jobs, total, err = m.Jobs().ListByOwner(ctx, "user-b", interfaces.JobListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, jobs)
}

func TestChunkStorage_LayoutInvariants(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusPending)

	chunks, err := m.Chunks().CreateChunks(ctx, job.ID, 30, 100, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	width := 0
	prevEnd := 0
	for _, chunk := range chunks {
		assert.Equal(t, prevEnd, chunk.RangeStart, "ranges must be contiguous")
		assert.Greater(t, chunk.RangeEnd, chunk.RangeStart)
		width += chunk.Width()
		prevEnd = chunk.RangeEnd
	}
	assert.Equal(t, 100, width, "range widths must sum to max_images")
	assert.Equal(t, 10, chunks[3].Width(), "last range may be shorter")
}

func TestImageStorage_BulkCreateAndValidate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	job := seedJob(t, m, models.JobStatusRunning)

	created, err := m.Images().BulkCreate(ctx, job.ID, []models.ImageRecord{
		{SourceURL: "https://example.com/1.jpg", StorageKey: "k1", Format: "jpeg", Width: 640, Height: 480},
		{SourceURL: "https://example.com/2.jpg", StorageKey: "k2", Format: "png"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	count, err := m.Images().CountByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	img, err := m.Images().Get(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Nil(t, img.IsValid, "validation state starts unset")
	assert.Equal(t, 640, img.Width)

	require.NoError(t, m.Images().MarkValidated(ctx, created[0].ID, models.ValidationResult{
		IsValid: true, IsDuplicate: false,
		Metadata: map[string]interface{}{"sharpness": 0.9},
	}))

	img, err = m.Images().Get(ctx, created[0].ID)
	require.NoError(t, err)
	require.NotNil(t, img.IsValid)
	assert.True(t, *img.IsValid)
	require.NotNil(t, img.IsDuplicate)
	assert.False(t, *img.IsDuplicate)

	err = m.Images().MarkValidated(ctx, "img_missing", models.ValidationResult{})
	assert.Equal(t, errkind.KindNotFound, errkind.KindOf(err))
}
