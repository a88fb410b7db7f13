package jobs

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobProcessor runs one sweep of background work
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker calls its processor once on start and then every pollInterval until the
// context ends or Stop is called. Sweeps never overlap.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start blocks running sweeps; run it in its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneChan)

	log.Printf("worker: started with poll interval %v", w.pollInterval)
	w.sweep(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("worker: stopped, context cancelled")
			return
		case <-w.stopChan:
			log.Println("worker: stopped, stop signal received")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	select {
	case <-w.stopChan:
		return
	default:
	}
	started := time.Now()
	if err := w.processor.ProcessJobs(ctx); err != nil {
		log.Printf("worker: sweep failed after %s: %v", time.Since(started).Round(time.Millisecond), err)
	}
}

// Stop signals the loop and waits for the current sweep to return. It is safe to
// call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	log.Println("worker: shutdown complete")
}
