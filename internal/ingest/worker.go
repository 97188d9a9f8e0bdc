package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ytreader/internal/catalog"
	"github.com/kalambet/ytreader/internal/storage"
	"github.com/kalambet/ytreader/internal/transcript"
)

// JobTypeFetchTranscript is the job type queued for every video still
// missing a transcript.
const JobTypeFetchTranscript = "fetch_transcript"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	RequeueRunningJobs() (int, error)
}

// TranscriptFetcher retrieves and stores a video's transcript.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}

// Worker processes fetch_transcript jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	fetcher TranscriptFetcher
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, fetcher TranscriptFetcher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		fetcher: fetcher,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (w *Worker) SetLogger(l *slog.Logger) {
	if l != nil {
		w.logger = l
	}
}

// RunPool requeues jobs left running by a previous process, then runs n
// polling loops until ctx is cancelled.
func (w *Worker) RunPool(ctx context.Context, n int) error {
	if n <= 0 {
		n = 1
	}
	requeued, err := w.store.RequeueRunningJobs()
	if err != nil {
		return fmt.Errorf("requeueing interrupted jobs: %w", err)
	}
	if requeued > 0 {
		w.logger.Info("requeued interrupted jobs", "count", requeued)
	}

	g, gCtx := errgroup.WithContext(ctx)
	for range n {
		g.Go(func() error {
			w.Run(gCtx)
			return nil
		})
	}
	return g.Wait()
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single fetch_transcript job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeFetchTranscript})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	err = w.processJob(ctx, job)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// Left running; RunPool requeues it on the next start.
		return true, nil
	case errors.Is(err, transcript.ErrRateLimited):
		w.logger.Warn("transcript fetch rate limited, retrying later", "job_id", job.ID, "attempt", job.Attempts+1)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	case errors.Is(err, transcript.ErrUnavailable), errors.Is(err, catalog.ErrNotFound):
		w.logger.Warn("transcript unavailable", "job_id", job.ID, "error", err)
	default:
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type transcriptPayload struct {
	VideoID string `json:"video_id"`
}

// TranscriptJob builds the queue entry for videoID. The id is derived from
// the video so a video is never queued twice.
func TranscriptJob(videoID string) storage.Job {
	payload, _ := json.Marshal(transcriptPayload{VideoID: videoID})
	return storage.Job{
		ID:          "transcript:" + videoID,
		Type:        JobTypeFetchTranscript,
		PayloadJSON: string(payload),
	}
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload transcriptPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.VideoID == "" {
		return errors.New("payload has no video_id")
	}

	text, err := w.fetcher.Fetch(ctx, payload.VideoID)
	if err != nil {
		return err
	}
	w.logger.Debug("transcript job done", "job_id", job.ID, "video_id", payload.VideoID, "chars", len(text))
	return nil
}
