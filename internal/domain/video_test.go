package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranscriptStatusConstants(t *testing.T) {
	tests := []struct {
		name     string
		status   TranscriptStatus
		expected string
	}{
		{"Pending", TranscriptPending, "pending"},
		{"Ready", TranscriptReady, "ready"},
		{"Error", TranscriptError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
			assert.True(t, tt.status.IsValid())
		})
	}
	assert.False(t, TranscriptStatus("processing").IsValid())
}

func TestVideoRecord_NormalizeStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   TranscriptStatus
		text     string
		expected TranscriptStatus
	}{
		{"text forces ready", TranscriptPending, "hello", TranscriptReady},
		{"error with text is ready", TranscriptError, "hello", TranscriptReady},
		{"ready without text is pending", TranscriptReady, "  ", TranscriptPending},
		{"error without text stays error", TranscriptError, "", TranscriptError},
		{"unknown status becomes pending", TranscriptStatus("weird"), "", TranscriptPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := VideoRecord{TranscriptStatus: tt.status, TranscriptText: tt.text}
			v.NormalizeStatus()
			assert.Equal(t, tt.expected, v.TranscriptStatus)
		})
	}
}

func TestVideoRecord_Clone(t *testing.T) {
	v := VideoRecord{ID: "a", Tags: []string{"x"}, Segments: []Segment{{Start: 0, End: 1, Text: "hi"}}}
	c := v.Clone()
	c.Tags[0] = "y"
	c.Segments[0].Text = "changed"

	assert.Equal(t, "x", v.Tags[0])
	assert.Equal(t, "hi", v.Segments[0].Text)
}

func TestFacets_Matches(t *testing.T) {
	video := &VideoRecord{
		Category:        "Greek",
		Difficulty:      "beginner",
		VersionTags:     []string{"v10"},
		DurationSeconds: 12 * 60,
	}

	tests := []struct {
		name   string
		facets Facets
		want   bool
	}{
		{"empty facets match", Facets{}, true},
		{"all matches", Facets{Category: "all", Difficulty: "ALL"}, true},
		{"category case-insensitive", Facets{Category: "greek"}, true},
		{"category mismatch", Facets{Category: "hebrew"}, false},
		{"difficulty mismatch", Facets{Difficulty: "advanced"}, false},
		{"version tag match", Facets{VersionTag: "V10"}, true},
		{"version tag mismatch", Facets{VersionTag: "v9"}, false},
		{"duration within bound", Facets{MaxDurationMinutes: 15}, true},
		{"duration over bound", Facets{MaxDurationMinutes: 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.facets.Matches(video))
		})
	}
}

func TestFacets_Matches_UnknownDuration(t *testing.T) {
	video := &VideoRecord{DurationSeconds: 0}
	assert.True(t, Facets{MaxDurationMinutes: 10}.Matches(video))
}

func TestComputeStats(t *testing.T) {
	records := []VideoRecord{
		{TranscriptStatus: TranscriptReady, SourceAvailable: true},
		{TranscriptStatus: TranscriptPending, SourceAvailable: true},
		{TranscriptStatus: TranscriptError, SourceAvailable: false},
		{TranscriptStatus: TranscriptReady, SourceAvailable: true},
	}

	stats := ComputeStats(records)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Ready)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Error)
	assert.Equal(t, 1, stats.SourceUnavailable)
	assert.InDelta(t, 0.5, stats.TranscriptCoverage, 1e-9)
}

func TestDomainError_IsMatchesWrappedCopies(t *testing.T) {
	cause := errors.New("whisper: 500")
	err := fmt.Errorf("chunk 3: %w", ErrTranscriptionFailed.WithCause(cause))

	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "[TRANSCRIPTION_FAILED]")
}
