package testutil

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// FakeEmbedder produces bag-of-words vectors: every term lands in a fixed
// dimension, so texts sharing words score high under cosine similarity.
type FakeEmbedder struct {
	Dim   int
	Err   error
	Delay time.Duration

	mu          sync.Mutex
	calls       int
	texts       int
	batchSizes  []int
	inFlight    int
	maxInFlight int
}

func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{Dim: 64}
}

func (e *FakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	e.batchSizes = append(e.batchSizes, len(texts))
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	err := e.Err
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *FakeEmbedder) vector(text string) []float32 {
	dim := e.Dim
	if dim <= 0 {
		dim = 64
	}
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)]++
	}
	return vec
}

// Calls returns the number of Embed invocations.
func (e *FakeEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts returns the total number of texts embedded.
func (e *FakeEmbedder) Texts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

// BatchSizes returns the size of every batch seen.
func (e *FakeEmbedder) BatchSizes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.batchSizes...)
}

// MaxInFlight returns the highest number of concurrent Embed calls observed.
func (e *FakeEmbedder) MaxInFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxInFlight
}

// SetErr swaps the error returned by later calls.
func (e *FakeEmbedder) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}
