package validation

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

type fakeDispatcher struct {
	mu       sync.Mutex
	next     int
	taskName string
	payloads []interfaces.TaskPayload
}

func (f *fakeDispatcher) Enqueue(_ context.Context, taskName string, payload interfaces.TaskPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.taskName = taskName
	f.payloads = append(f.payloads, payload)
	return fmt.Sprintf("task-%d", f.next), nil
}

func (f *fakeDispatcher) EnqueueDelayed(ctx context.Context, name string, p interfaces.TaskPayload, _ time.Duration) (string, error) {
	return f.Enqueue(ctx, name, p)
}

func (f *fakeDispatcher) Revoke(context.Context, string) bool            { return true }
func (f *fakeDispatcher) RevokeMany(_ context.Context, ids []string) int { return len(ids) }

func newFixture(t *testing.T) (*Service, *sqlite.Manager, *fakeDispatcher, string) {
	t.Helper()

	storage, err := sqlite.NewManager(common.GetLogger(), &common.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	ctx := context.Background()
	require.NoError(t, storage.Projects().Create(ctx, &models.Project{
		ID: "prj-1", UserID: "user-a", Name: "test",
	}))
	job := &models.CrawlJob{
		ID:        "job_v",
		ProjectID: "prj-1",
		Name:      "dataset",
		Keywords:  []string{"cat"},
		Engines:   []string{"google"},
		MaxImages: 10,
		Status:    models.JobStatusCompleted,
	}
	require.NoError(t, storage.Jobs().Create(ctx, job))

	dispatcher := &fakeDispatcher{}
	service := NewService(storage, dispatcher, common.GetLogger())
	return service, storage, dispatcher, job.ID
}

func TestValidateJobImages(t *testing.T) {
	service, storage, dispatcher, jobID := newFixture(t)
	ctx := context.Background()

	t.Run("no images is bad request", func(t *testing.T) {
		_, _, err := service.ValidateJobImages(ctx, "user-a", jobID, models.ValidationFast)
		assert.Equal(t, errkind.KindBadRequest, errkind.KindOf(err))
	})

	created, err := storage.Images().BulkCreate(ctx, jobID, []models.ImageRecord{
		{SourceURL: "https://example.com/1.jpg", StorageKey: "k1"},
		{SourceURL: "https://example.com/2.jpg", StorageKey: "k2"},
		{SourceURL: "https://example.com/3.jpg", StorageKey: "k3"},
	})
	require.NoError(t, err)

	t.Run("foreign user is forbidden", func(t *testing.T) {
		_, _, err := service.ValidateJobImages(ctx, "user-b", jobID, models.ValidationFast)
		assert.Equal(t, errkind.KindForbidden, errkind.KindOf(err))
	})

	t.Run("unknown level is validation error", func(t *testing.T) {
		_, _, err := service.ValidateJobImages(ctx, "user-a", jobID, models.ValidationLevel("extreme"))
		assert.Equal(t, errkind.KindValidation, errkind.KindOf(err))
	})

	t.Run("one task per image at the selected level", func(t *testing.T) {
		taskIDs, count, err := service.ValidateJobImages(ctx, "user-a", jobID, models.ValidationMedium)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.Len(t, taskIDs, 3)
		assert.Equal(t, models.TaskValidateMedium, dispatcher.taskName)

		imageIDs := make(map[string]bool)
		for _, payload := range dispatcher.payloads {
			assert.Equal(t, jobID, payload["job_id"])
			id, _ := payload["image_id"].(string)
			imageIDs[id] = true
		}
		for _, img := range created {
			assert.True(t, imageIDs[img.ID], "image %s got no task", img.ID)
		}
	})
}

func TestHandleValidationResult(t *testing.T) {
	service, storage, _, jobID := newFixture(t)
	ctx := context.Background()

	created, err := storage.Images().BulkCreate(ctx, jobID, []models.ImageRecord{
		{SourceURL: "https://example.com/1.jpg", StorageKey: "k1"},
	})
	require.NoError(t, err)

	require.NoError(t, service.HandleValidationResult(ctx, created[0].ID, models.ValidationResult{
		IsValid:     true,
		IsDuplicate: false,
	}))

	img, err := storage.Images().Get(ctx, created[0].ID)
	require.NoError(t, err)
	require.NotNil(t, img.IsValid)
	assert.True(t, *img.IsValid)

	// Results for vanished images are absorbed, not errors.
	require.NoError(t, service.HandleValidationResult(ctx, "img_missing", models.ValidationResult{}))
}
