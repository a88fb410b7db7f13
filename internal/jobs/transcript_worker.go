package jobs

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

const (
	// MaxRetries is the number of attempts a video gets before the worker gives up on it
	MaxRetries = 3
)

// TranscriptPipeline is the part of the ingestion pipeline the worker drives
type TranscriptPipeline interface {
	// Candidates lists videos that still need a transcript
	Candidates(limit int) []domain.VideoRecord

	EnsureTranscriptReady(ctx context.Context, id string) (domain.VideoRecord, error)
}

// TranscriptWorker proactively transcribes a bounded number of videos per sweep
type TranscriptWorker struct {
	pipeline TranscriptPipeline
	limit    int

	mu       sync.Mutex
	attempts map[string]int
}

// NewTranscriptWorker creates a worker that handles at most limit videos per sweep
func NewTranscriptWorker(pipeline TranscriptPipeline, limit int) *TranscriptWorker {
	if limit <= 0 {
		limit = 1
	}
	return &TranscriptWorker{
		pipeline: pipeline,
		limit:    limit,
		attempts: map[string]int{},
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *TranscriptWorker) ProcessJobs(ctx context.Context) error {
	var batch []domain.VideoRecord
	for _, rec := range w.pipeline.Candidates(0) {
		if w.Attempts(rec.ID) >= MaxRetries {
			continue
		}
		batch = append(batch, rec)
		if len(batch) == w.limit {
			break
		}
	}

	if len(batch) == 0 {
		return nil
	}

	log.Printf("worker: transcribing %d videos", len(batch))

	for _, rec := range batch {
		if ctx.Err() != nil {
			return nil
		}
		w.processVideo(ctx, rec.ID)
	}

	return nil
}

func (w *TranscriptWorker) processVideo(ctx context.Context, id string) {
	_, err := w.pipeline.EnsureTranscriptReady(ctx, id)
	switch {
	case err == nil:
		w.mu.Lock()
		delete(w.attempts, id)
		w.mu.Unlock()
		log.Printf("worker: video %s transcribed", id)
	case errors.Is(err, domain.ErrTranscriptNotReady):
		log.Printf("worker: video %s still transcribing", id)
	default:
		w.handleFailure(id, err)
	}
}

// handleFailure counts a failed attempt; non-retryable failures use up every attempt
func (w *TranscriptWorker) handleFailure(id string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !domain.IsRetryable(err) {
		w.attempts[id] = MaxRetries
		log.Printf("worker: video %s failed permanently: %v", id, err)
		return
	}

	w.attempts[id]++
	if w.attempts[id] >= MaxRetries {
		log.Printf("worker: video %s exceeded max retries (%d): %v", id, MaxRetries, err)
		return
	}
	log.Printf("worker: video %s failed, will retry (attempt %d/%d): %v", id, w.attempts[id], MaxRetries, err)
}

// Attempts returns the failed attempts recorded for id
func (w *TranscriptWorker) Attempts(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts[id]
}
