package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/cloo-solutions/clipfinder/internal/catalog"
	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/telemetry"
)

// Transcription is the speech-to-text result for one audio chunk. Segment times are
// relative to the start of that chunk.
type Transcription struct {
	Text     string
	Segments []domain.Segment
	Language string
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (Transcription, error)
}

// Catalog is the slice of the catalog store the pipeline reads and mutates.
type Catalog interface {
	All() []domain.VideoRecord
	Get(id string) (domain.VideoRecord, error)
	SourcePath(v *domain.VideoRecord) string
	ApplyTranscript(ctx context.Context, id string, update catalog.TranscriptUpdate) (domain.VideoRecord, error)
	MarkTranscriptError(ctx context.Context, id, reason string) (domain.VideoRecord, error)
}

// Config controls chunking and audio size limits.
type Config struct {
	ChunkSeconds   float64
	BitrateKbps    int
	MinBitrateKbps int
	MaxChunkBytes  int64
}

func DefaultConfig() Config {
	return Config{
		ChunkSeconds:   540,
		BitrateKbps:    64,
		MinBitrateKbps: 24,
		MaxChunkBytes:  24 << 20,
	}
}

type chunkSpan struct {
	Start    float64
	Duration float64
}

// Pipeline turns source media into transcripts. At most one effort per video id
// runs at a time; later callers attach to it.
type Pipeline struct {
	catalog     Catalog
	extractor   AudioExtractor
	transcriber Transcriber
	cfg         Config

	group singleflight.Group

	mu       sync.Mutex
	inFlight map[string]time.Time
}

func NewPipeline(cat Catalog, extractor AudioExtractor, transcriber Transcriber, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.ChunkSeconds <= 0 {
		cfg.ChunkSeconds = def.ChunkSeconds
	}
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = def.BitrateKbps
	}
	if cfg.MinBitrateKbps <= 0 || cfg.MinBitrateKbps > cfg.BitrateKbps {
		cfg.MinBitrateKbps = min(def.MinBitrateKbps, cfg.BitrateKbps)
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = def.MaxChunkBytes
	}
	return &Pipeline{
		catalog:     cat,
		extractor:   extractor,
		transcriber: transcriber,
		cfg:         cfg,
		inFlight:    map[string]time.Time{},
	}
}

// EnsureTranscriptReady returns the record once its transcript is ready, starting
// or joining an ingestion effort when needed. The effort outlives ctx: when ctx
// ends first the caller gets ErrTranscriptNotReady and the work carries on.
func (p *Pipeline) EnsureTranscriptReady(ctx context.Context, id string) (domain.VideoRecord, error) {
	rec, err := p.catalog.Get(id)
	if err != nil {
		return domain.VideoRecord{}, err
	}
	if rec.IsReady() {
		return rec, nil
	}
	if !rec.SourceAvailable {
		return rec, domain.ErrSourceUnavailable
	}

	select {
	case res := <-p.start(ctx, id):
		updated, _ := res.Val.(domain.VideoRecord)
		return updated, res.Err
	case <-ctx.Done():
		return rec, domain.ErrTranscriptNotReady
	}
}

// StartBackground starts efforts for up to limit of the given ids that are not ready
// and whose source is available. It returns the ids it started or joined.
func (p *Pipeline) StartBackground(ctx context.Context, ids []string, limit int) []string {
	var started []string
	for _, id := range ids {
		if len(started) >= limit {
			break
		}
		rec, err := p.catalog.Get(id)
		if err != nil || rec.IsReady() || !rec.SourceAvailable {
			continue
		}
		p.start(ctx, id)
		started = append(started, id)
	}
	if len(started) > 0 {
		log.Printf("ingest: background transcription for %s", strings.Join(started, ", "))
	}
	return started
}

// Candidates lists source-available videos without a transcript, pending ones first.
func (p *Pipeline) Candidates(limit int) []domain.VideoRecord {
	var pending, failed []domain.VideoRecord
	for _, rec := range p.catalog.All() {
		if rec.IsReady() || !rec.SourceAvailable || p.InFlight(rec.ID) {
			continue
		}
		if rec.TranscriptStatus == domain.TranscriptError {
			failed = append(failed, rec)
		} else {
			pending = append(pending, rec)
		}
	}
	out := append(pending, failed...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// InFlight reports whether an effort for id is running.
func (p *Pipeline) InFlight(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[id]
	return ok
}

func (p *Pipeline) start(ctx context.Context, id string) <-chan singleflight.Result {
	detached := context.WithoutCancel(ctx)
	return p.group.DoChan(id, func() (interface{}, error) {
		p.mu.Lock()
		p.inFlight[id] = time.Now()
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, id)
			p.mu.Unlock()
		}()
		return p.run(detached, id)
	})
}

func (p *Pipeline) run(ctx context.Context, id string) (domain.VideoRecord, error) {
	runID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, "ingest.transcribe", telemetry.SpanAttributes{
		VideoID:   id,
		RunID:     runID,
		Operation: "ensure_transcript",
	})
	defer span.End()

	rec, err := p.catalog.Get(id)
	if err != nil {
		return domain.VideoRecord{}, err
	}
	if rec.IsReady() {
		return rec, nil
	}
	path := p.catalog.SourcePath(&rec)
	if !rec.SourceAvailable || !fileExists(path) {
		return rec, domain.ErrSourceUnavailable
	}

	started := time.Now()
	log.Printf("ingest: run %s started for %s (duration %.0fs)", runID, id, rec.DurationSeconds)

	result, err := p.transcribe(ctx, path, rec.DurationSeconds)
	if err == nil && strings.TrimSpace(result.Text) == "" && len(result.Segments) == 0 {
		err = domain.ErrTranscriptionFailed.WithCause(errors.New("transcription returned no text"))
	}
	if err != nil {
		log.Printf("ingest: run %s for %s failed after %s: %v", runID, id, time.Since(started).Round(time.Millisecond), err)
		span.SetError(err)
		telemetry.CaptureError(ctx, fmt.Errorf("ingest %s: %w", id, err))

		updated, markErr := p.catalog.MarkTranscriptError(ctx, id, failureReason(err))
		if markErr != nil {
			log.Printf("ingest: failed to record error for %s: %v", id, markErr)
			updated = rec
		}
		return updated, err
	}

	updated, err := p.catalog.ApplyTranscript(ctx, id, catalog.TranscriptUpdate{
		Text:     result.Text,
		Segments: result.Segments,
		Language: result.Language,
	})
	if err != nil {
		return rec, fmt.Errorf("failed to store transcript for %s: %w", id, err)
	}
	telemetry.AddBreadcrumb(ctx, "ingest", fmt.Sprintf("transcribed %s (%d segments)", id, len(updated.Segments)))
	log.Printf("ingest: run %s for %s completed in %s (%d segments)", runID, id, time.Since(started).Round(time.Millisecond), len(updated.Segments))
	return updated, nil
}

// transcribe processes the chunk plan in order and stitches the results back onto
// the source timeline.
func (p *Pipeline) transcribe(ctx context.Context, path string, duration float64) (Transcription, error) {
	plan := p.plan(duration)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var out Transcription
	var texts []string
	for i, span := range plan {
		audio, err := p.extract(ctx, path, span)
		if err != nil {
			return Transcription{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(plan), err)
		}

		part, err := p.transcriber.Transcribe(ctx, audio, fmt.Sprintf("%s-%03d.mp3", base, i))
		if err != nil {
			return Transcription{}, domain.ErrTranscriptionFailed.WithCause(fmt.Errorf("chunk %d/%d: %w", i+1, len(plan), err))
		}

		for _, seg := range part.Segments {
			seg.Start += span.Start
			seg.End += span.Start
			out.Segments = append(out.Segments, seg)
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			texts = append(texts, text)
		}
		if out.Language == "" && part.Language != "" {
			out.Language = part.Language
		}
	}
	out.Text = strings.Join(texts, " ")
	return out, nil
}

// plan splits duration into ChunkSeconds-long spans. An unknown duration is a
// single open-ended span.
func (p *Pipeline) plan(duration float64) []chunkSpan {
	if duration <= 0 {
		return []chunkSpan{{Start: 0}}
	}
	n := int(math.Ceil(duration / p.cfg.ChunkSeconds))
	spans := make([]chunkSpan, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * p.cfg.ChunkSeconds
		spans = append(spans, chunkSpan{
			Start:    start,
			Duration: math.Min(p.cfg.ChunkSeconds, duration-start),
		})
	}
	return spans
}

// extract halves the bitrate down to the configured floor while the chunk is over
// the size ceiling.
func (p *Pipeline) extract(ctx context.Context, path string, span chunkSpan) ([]byte, error) {
	bitrate := p.cfg.BitrateKbps
	for {
		audio, err := p.extractor.Extract(ctx, path, span.Start, span.Duration, bitrate)
		if err != nil {
			return nil, fmt.Errorf("audio extraction at %.0fs: %w", span.Start, err)
		}
		if int64(len(audio)) <= p.cfg.MaxChunkBytes {
			return audio, nil
		}
		if bitrate <= p.cfg.MinBitrateKbps {
			return nil, domain.ErrAudioTooLarge.WithCause(fmt.Errorf("%d bytes at %dkbps (limit %d)", len(audio), bitrate, p.cfg.MaxChunkBytes))
		}
		next := max(bitrate/2, p.cfg.MinBitrateKbps)
		log.Printf("ingest: chunk at %.0fs is %d bytes at %dkbps, retrying at %dkbps", span.Start, len(audio), bitrate, next)
		bitrate = next
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrAudioTooLarge):
		return "audio chunk too large to transcribe even at the lowest bitrate"
	case errors.Is(err, domain.ErrTranscriptionFailed):
		return fmt.Sprintf("transcription failed: %v", errors.Unwrap(err))
	}
	return fmt.Sprintf("ingestion failed: %v", err)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
