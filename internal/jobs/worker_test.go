package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockTranscriptPipeline is a mock implementation of TranscriptPipeline
type MockTranscriptPipeline struct {
	mock.Mock
}

func (m *MockTranscriptPipeline) Candidates(limit int) []domain.VideoRecord {
	args := m.Called(limit)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.VideoRecord)
}

func (m *MockTranscriptPipeline) EnsureTranscriptReady(ctx context.Context, id string) (domain.VideoRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.VideoRecord), args.Error(1)
}

func videos(ids ...string) []domain.VideoRecord {
	out := make([]domain.VideoRecord, len(ids))
	for i, id := range ids {
		out[i] = domain.VideoRecord{ID: id, SourceAvailable: true}
	}
	return out
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(250 * time.Millisecond)

	// Stop worker
	worker.Stop()
	wg.Wait()

	// Verify ProcessJobs was called at least once
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(150 * time.Millisecond)

	// Cancel context
	cancel()
	wg.Wait()

	// Verify ProcessJobs was called
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestTranscriptWorker_ProcessJobs_NoCandidates tests when every video is ready
func TestTranscriptWorker_ProcessJobs_NoCandidates(t *testing.T) {
	mockPipeline := new(MockTranscriptPipeline)
	mockPipeline.On("Candidates", 0).Return(nil)

	worker := NewTranscriptWorker(mockPipeline, 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockPipeline.AssertNotCalled(t, "EnsureTranscriptReady", mock.Anything, mock.Anything)
}

// TestTranscriptWorker_ProcessJobs_RespectsLimit tests the per-sweep bound
func TestTranscriptWorker_ProcessJobs_RespectsLimit(t *testing.T) {
	mockPipeline := new(MockTranscriptPipeline)
	mockPipeline.On("Candidates", 0).Return(videos("a", "b", "c"))
	mockPipeline.On("EnsureTranscriptReady", mock.Anything, "a").Return(domain.VideoRecord{ID: "a"}, nil)
	mockPipeline.On("EnsureTranscriptReady", mock.Anything, "b").Return(domain.VideoRecord{ID: "b"}, nil)

	worker := NewTranscriptWorker(mockPipeline, 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockPipeline.AssertExpectations(t)
	mockPipeline.AssertNotCalled(t, "EnsureTranscriptReady", mock.Anything, "c")
}

// TestTranscriptWorker_ProcessJobs_RetriesThenGivesUp tests the retry budget
func TestTranscriptWorker_ProcessJobs_RetriesThenGivesUp(t *testing.T) {
	mockPipeline := new(MockTranscriptPipeline)
	mockPipeline.On("Candidates", 0).Return(videos("a"))
	mockPipeline.On("EnsureTranscriptReady", mock.Anything, "a").
		Return(domain.VideoRecord{ID: "a"}, domain.ErrTranscriptionFailed.WithCause(errors.New("503")))

	worker := NewTranscriptWorker(mockPipeline, 1)
	for i := 0; i < MaxRetries+2; i++ {
		assert.NoError(t, worker.ProcessJobs(context.Background()))
	}

	assert.Equal(t, MaxRetries, worker.Attempts("a"))
	mockPipeline.AssertNumberOfCalls(t, "EnsureTranscriptReady", MaxRetries)
}

// TestTranscriptWorker_ProcessJobs_NonRetryable tests that a missing source is not retried
func TestTranscriptWorker_ProcessJobs_NonRetryable(t *testing.T) {
	mockPipeline := new(MockTranscriptPipeline)
	mockPipeline.On("Candidates", 0).Return(videos("a"))
	mockPipeline.On("EnsureTranscriptReady", mock.Anything, "a").
		Return(domain.VideoRecord{ID: "a"}, domain.ErrSourceUnavailable)

	worker := NewTranscriptWorker(mockPipeline, 1)
	assert.NoError(t, worker.ProcessJobs(context.Background()))
	assert.NoError(t, worker.ProcessJobs(context.Background()))

	mockPipeline.AssertNumberOfCalls(t, "EnsureTranscriptReady", 1)
}

// TestTranscriptWorker_ProcessJobs_NotReadyIsNotAFailure tests shutdown mid-effort
func TestTranscriptWorker_ProcessJobs_NotReadyIsNotAFailure(t *testing.T) {
	mockPipeline := new(MockTranscriptPipeline)
	mockPipeline.On("Candidates", 0).Return(videos("a"))
	mockPipeline.On("EnsureTranscriptReady", mock.Anything, "a").
		Return(domain.VideoRecord{ID: "a"}, domain.ErrTranscriptNotReady)

	worker := NewTranscriptWorker(mockPipeline, 1)
	assert.NoError(t, worker.ProcessJobs(context.Background()))
	assert.Zero(t, worker.Attempts("a"))
}

// TestTranscriptWorker_ProcessJobs_SuccessClearsAttempts tests recovery after a failure
func TestTranscriptWorker_ProcessJobs_SuccessClearsAttempts(t *testing.T) {
	mockPipeline := new(MockTranscriptPipeline)
	mockPipeline.On("Candidates", 0).Return(videos("a"))
	mockPipeline.On("EnsureTranscriptReady", mock.Anything, "a").
		Return(domain.VideoRecord{}, errors.New("ffmpeg failed")).Once()
	mockPipeline.On("EnsureTranscriptReady", mock.Anything, "a").
		Return(domain.VideoRecord{ID: "a"}, nil).Once()

	worker := NewTranscriptWorker(mockPipeline, 1)
	assert.NoError(t, worker.ProcessJobs(context.Background()))
	assert.Equal(t, 1, worker.Attempts("a"))

	assert.NoError(t, worker.ProcessJobs(context.Background()))
	assert.Zero(t, worker.Attempts("a"))
	mockPipeline.AssertExpectations(t)
}

func TestWorker_SweepsImmediatelyAndStopIsIdempotent(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	called := make(chan struct{}, 1)
	mockProcessor.On("ProcessJobs", mock.Anything).Run(func(mock.Arguments) {
		select {
		case called <- struct{}{}:
		default:
		}
	}).Return(errors.New("transient"))

	worker := NewWorker(mockProcessor, time.Hour)
	go worker.Start(context.Background())

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("first sweep did not run before the first tick")
	}

	worker.Stop()
	assert.NotPanics(t, worker.Stop)
}
