package jobs

import (
	"context"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// chunkTask is one prepared unit of dispatch: a task name plus a primitive
// payload. Nothing in a payload references in-process state.
type chunkTask struct {
	Name    string
	Payload interfaces.TaskPayload
}

// decompose splits a job into dispatchable chunks under the configured
// form. It returns the prepared tasks in dispatch order; total chunks is
// len(tasks).
func (s *Service) decompose(ctx context.Context, job *models.CrawlJob, form models.ChunkingForm) ([]chunkTask, error) {
	switch form {
	case models.ChunkingKeywordEngine:
		return keywordEngineTasks(job), nil
	case models.ChunkingRange:
		return s.rangeTasks(ctx, job)
	}
	return nil, errkind.Validationf("unknown chunking form: %s", form)
}

// keywordEngineTasks prepares one download task per (keyword, engine) pair.
// Each chunk caps its haul at ceil(max_images / total) so the union covers
// the job's budget.
func keywordEngineTasks(job *models.CrawlJob) []chunkTask {
	total := len(job.Keywords) * len(job.Engines)
	perChunkCap := (job.MaxImages + total - 1) / total

	tasks := make([]chunkTask, 0, total)
	for _, keyword := range job.Keywords {
		for _, engine := range job.Engines {
			tasks = append(tasks, chunkTask{
				Name: models.TaskDownload,
				Payload: interfaces.TaskPayload{
					"job_id":        job.ID,
					"keyword":       keyword,
					"engine":        engine,
					"per_chunk_cap": perChunkCap,
				},
			})
		}
	}
	return tasks
}

// rangeTasks lays chunk rows out in job_chunks and prepares one download
// task per range. Ranges are half-open, contiguous, and sum to max_images;
// the last one may be shorter.
func (s *Service) rangeTasks(ctx context.Context, job *models.CrawlJob) ([]chunkTask, error) {
	// Retry re-enters decomposition; clear any previous layout first.
	if err := s.chunks.DeleteByJob(ctx, job.ID); err != nil {
		return nil, err
	}

	chunks, err := s.chunks.CreateChunks(ctx, job.ID, s.cfg.ChunkSize, job.MaxImages, 0)
	if err != nil {
		return nil, err
	}

	tasks := make([]chunkTask, 0, len(chunks))
	for _, chunk := range chunks {
		tasks = append(tasks, chunkTask{
			Name: models.TaskDownload,
			Payload: interfaces.TaskPayload{
				"job_id":      job.ID,
				"chunk_id":    chunk.ID,
				"range_start": chunk.RangeStart,
				"range_end":   chunk.RangeEnd,
				"keywords":    append([]string(nil), job.Keywords...),
				"engines":     append([]string(nil), job.Engines...),
			},
		})
	}
	return tasks, nil
}
