package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/ingest"
)

// Transcribe converts one audio chunk to text with segment timestamps.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (ingest.Transcription, error) {
	if len(audio) == 0 {
		return ingest.Transcription{}, fmt.Errorf("empty audio for %s", filename)
	}

	var resp ingest.Transcription
	err := c.retry(ctx, func() error {
		raw, err := c.api.CreateTranscription(ctx, audio, filename)
		if err != nil {
			return err
		}

		resp = ingest.Transcription{
			Text:     strings.TrimSpace(raw.Text),
			Language: raw.Language,
		}
		for _, s := range raw.Segments {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}
			resp.Segments = append(resp.Segments, domain.Segment{Start: s.Start, End: s.End, Text: text})
		}
		return nil
	})
	if err != nil {
		return ingest.Transcription{}, fmt.Errorf("failed to transcribe %s: %w", filename, err)
	}
	return resp, nil
}
