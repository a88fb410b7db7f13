package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// Config controls how transcripts are split into passages.
type Config struct {
	MaxSpanSeconds       float64
	MaxWords             int
	MaxChars             int
	MaxChunks            int
	SyntheticSpanSeconds float64
}

// DefaultConfig provides the passage limits used for retrieval.
func DefaultConfig() Config {
	return Config{
		MaxSpanSeconds:       55,
		MaxWords:             165,
		MaxChars:             750,
		MaxChunks:            24,
		SyntheticSpanSeconds: 60,
	}
}

// BuildChunks splits a video with the default limits, capping output at maxChunks
// when it is positive.
func BuildChunks(video *domain.VideoRecord, maxChunks int) []domain.Chunk {
	cfg := DefaultConfig()
	if maxChunks > 0 {
		cfg.MaxChunks = maxChunks
	}
	return cfg.Build(video)
}

// Build greedily accumulates consecutive segments until the span, word or
// character limit is reached, then starts a new chunk at the next segment. A video
// without segments yields one synthetic chunk so it stays retrievable.
func (c Config) Build(video *domain.VideoRecord) []domain.Chunk {
	if video == nil {
		return nil
	}
	c = c.withDefaults()
	if len(video.Segments) == 0 {
		return []domain.Chunk{c.synthetic(video)}
	}

	chunks := make([]domain.Chunk, 0, 8)
	var (
		parts []string
		start float64
		end   float64
		words int
		chars int
	)

	flush := func() {
		if len(parts) == 0 {
			return
		}
		text := strings.Join(parts, " ")
		chunks = append(chunks, domain.Chunk{
			Key:     Key(video.ID, start, end, text),
			VideoID: video.ID,
			Index:   len(chunks),
			Start:   start,
			End:     end,
			Text:    text,
		})
		parts = parts[:0]
		words, chars = 0, 0
	}

	for _, seg := range video.Segments {
		text := strings.Join(strings.Fields(seg.Text), " ")
		if text == "" {
			continue
		}
		if len(parts) == 0 {
			start = seg.Start
		}
		parts = append(parts, text)
		end = seg.End
		words += len(strings.Fields(text))
		chars += len(text) + 1

		if end-start >= c.MaxSpanSeconds || words >= c.MaxWords || chars >= c.MaxChars {
			flush()
			if len(chunks) >= c.MaxChunks {
				return chunks
			}
		}
	}
	flush()

	if len(chunks) == 0 {
		return []domain.Chunk{c.synthetic(video)}
	}
	return chunks
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSpanSeconds <= 0 {
		c.MaxSpanSeconds = d.MaxSpanSeconds
	}
	if c.MaxWords <= 0 {
		c.MaxWords = d.MaxWords
	}
	if c.MaxChars <= 0 {
		c.MaxChars = d.MaxChars
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = d.MaxChunks
	}
	if c.SyntheticSpanSeconds <= 0 {
		c.SyntheticSpanSeconds = d.SyntheticSpanSeconds
	}
	return c
}

// synthetic covers the opening of the video with its metadata, plus the head of
// any untimed transcript text.
func (c Config) synthetic(video *domain.VideoRecord) domain.Chunk {
	end := c.SyntheticSpanSeconds
	if video.DurationSeconds > 0 && video.DurationSeconds < end {
		end = video.DurationSeconds
	}

	var parts []string
	for _, p := range []string{video.Title, video.Topic, video.Category} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p+".")
		}
	}
	if len(video.Tags) > 0 {
		parts = append(parts, strings.Join(video.Tags, ", ")+".")
	}
	if body := strings.Join(strings.Fields(video.TranscriptText), " "); body != "" {
		runes := []rune(body)
		if len(runes) > c.MaxChars {
			runes = runes[:c.MaxChars]
		}
		parts = append(parts, string(runes))
	}
	text := strings.Join(parts, " ")

	return domain.Chunk{
		Key:       Key(video.ID, 0, end, text),
		VideoID:   video.ID,
		Index:     0,
		Start:     0,
		End:       end,
		Text:      text,
		Synthetic: true,
	}
}

// Key is the content-addressed identity of a chunk: the same video, bounds and
// text always hash to the same key, and any edit to the text changes it.
func Key(videoID string, start, end float64, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%.3f|%.3f|%s", videoID, start, end, text)))
	return hex.EncodeToString(sum[:])[:16]
}
