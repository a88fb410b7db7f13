package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoDSN(t *testing.T) {
	shutdown, err := Init(Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestSampleRate(t *testing.T) {
	ctx := context.Background()

	health := sentry.StartSpan(ctx, "http.server", sentry.WithTransactionName("GET /health"))
	health.Name = "GET /health"
	assert.Equal(t, 0.0, sampleRate(health, 0.5))

	media := sentry.StartSpan(ctx, "http.server")
	media.Name = "GET /media/intro.mp4"
	assert.Equal(t, 0.0, sampleRate(media, 0.5))

	search := sentry.StartSpan(ctx, "http.server")
	search.Name = "POST /search"
	assert.Equal(t, 0.5, sampleRate(search, 0.5))

	assert.Equal(t, 0.25, sampleRate(nil, 0.25))
}

func TestHelpers_WithoutClient(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "search", SpanAttributes{Query: "word study", VideoID: "intro"})
	require.NotNil(t, span)
	span.SetTag("ranking_mode", "hybrid")
	span.SetError(errors.New("boom"))
	span.SetError(nil)
	span.End()

	assert.NotPanics(t, func() {
		CaptureError(ctx, errors.New("ingest failed"))
		Degraded(ctx, "lexical_fallback", "embedding provider unavailable")
		AddBreadcrumb(ctx, "ingest", "transcribed intro")
	})

	var nilSpan Span
	assert.NotPanics(t, func() {
		nilSpan.SetTag("k", "v")
		nilSpan.SetError(errors.New("x"))
		nilSpan.End()
	})
}
