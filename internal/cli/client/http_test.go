package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clipfinder/internal/cli"
	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/service"
)

func TestAPIClient_DecodesDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "greek word study", req.Query)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"query":"greek word study","searchId":"abc","results":[{"videoId":"greek","seconds":65}]}}`))
	}))
	defer srv.Close()

	api := NewAPIClientWithConfig(srv.URL+"/", time.Second)
	var resp SearchResponse
	raw, err := api.Decode(context.Background(), http.MethodPost, "/search", SearchRequest{Query: "greek word study"}, &resp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, raw.StatusCode)
	assert.Equal(t, "abc", resp.SearchID)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "greek", resp.Results[0].VideoID)
	assert.Equal(t, 65, resp.Results[0].Seconds)
}

func TestAPIClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"error":"video source file is unavailable","code":"SOURCE_UNAVAILABLE"}`))
	}))
	defer srv.Close()

	_, err := NewAPIClientWithConfig(srv.URL, time.Second).Get(context.Background(), "/videos/x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGone, apiErr.StatusCode)
	assert.Equal(t, "SOURCE_UNAVAILABLE", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "unavailable")
}

func TestAPIClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAPIClientWithConfig(srv.URL, time.Second).Get(context.Background(), "/health")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestNewAPIClientWithCmd_EnvFallback(t *testing.T) {
	t.Setenv(EnvAPIURL, "http://clips.internal:9000/")
	api := NewAPIClientWithCmd(nil)
	assert.Equal(t, "http://clips.internal:9000", api.baseURL)

	t.Setenv(EnvAPIURL, "")
	assert.Equal(t, DefaultAPIURL, NewAPIClientWithCmd(nil).baseURL)
}

func TestNewAPIClientWithCmd_FlagBeatsEnv(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "clipfinder"}
		cmd.Flags().String("api-url", DefaultAPIURL, "API base URL")
		cli.BindEnv(cmd, "api-url", EnvAPIURL)
		return cmd
	}

	t.Setenv(EnvAPIURL, "http://from-env:8080")
	assert.Equal(t, "http://from-env:8080", NewAPIClientWithCmd(newCmd()).baseURL)

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Set("api-url", "http://from-flag:8080/"))
	assert.Equal(t, "http://from-flag:8080", NewAPIClientWithCmd(cmd).baseURL)
}

func TestScoreCase(t *testing.T) {
	rank, recall, rr := scoreCase([]string{"b", "d"}, []string{"a", "b", "c", "d"}, 3)
	assert.Equal(t, 2, rank)
	assert.InDelta(t, 0.5, recall, 1e-9)
	assert.InDelta(t, 0.5, rr, 1e-9)

	rank, recall, rr = scoreCase([]string{"z"}, []string{"a", "b"}, 5)
	assert.Zero(t, rank)
	assert.Zero(t, recall)
	assert.Zero(t, rr)
}

func TestDistinctVideos(t *testing.T) {
	resp := &SearchResponse{SearchOutput: service.SearchOutput{Results: []service.ClipResult{
		{VideoID: "a"}, {VideoID: "a"}, {VideoID: "b"}, {VideoID: "a"}, {VideoID: "c"},
	}}}
	assert.Equal(t, []string{"a", "b", "c"}, distinctVideos(resp))
}

func TestLoadSuite(t *testing.T) {
	dir := t.TempDir()

	obj := filepath.Join(dir, "suite.json")
	require.NoError(t, os.WriteFile(obj, []byte(`{"cases":[{"query":"greek","expected_ids":["a"]}],"k":3}`), 0o644))
	suite, err := loadSuite(obj)
	require.NoError(t, err)
	assert.Equal(t, 3, suite.K)
	assert.Len(t, suite.Cases, 1)

	arr := filepath.Join(dir, "cases.json")
	require.NoError(t, os.WriteFile(arr, []byte(`[{"query":"greek","expected_ids":["a"]},{"query":"print","expected_ids":["b"]}]`), 0o644))
	suite, err = loadSuite(arr)
	require.NoError(t, err)
	assert.Len(t, suite.Cases, 2)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"query":"greek"}]`), 0o644))
	_, err = loadSuite(bad)
	assert.Error(t, err)
}

func TestRunEval_AgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "skip", req.Transcription)
		_, _ = w.Write([]byte(`{"data":{"rankingMode":"hybrid","results":[{"videoId":"greek"},{"videoId":"hebrew"}],"confidence":{"tier":"high"}}}`))
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "suite.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"query":"greek","expected_ids":["greek"]},{"query":"hebrew","expected_ids":["hebrew"]},{"query":"aramaic","expected_ids":["aramaic"]}]`), 0o644))

	var buf bytes.Buffer
	err := runEval(context.Background(), &buf, NewAPIClientWithConfig(srv.URL, time.Second), evalOptions{file: file, k: 5, verbose: true, asJSON: true})
	require.NoError(t, err)

	var out EvalOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 3, out.Summary.Total)
	assert.InDelta(t, 2.0/3.0, out.Summary.HitRateAtK, 1e-9)
	assert.InDelta(t, (1.0+0.5)/3.0, out.Summary.MRR, 1e-9)
	assert.Equal(t, TierStats{Cases: 3, Hits: 2, Rate: 2.0 / 3.0}, out.Summary.ByTier["high"])
	require.Len(t, out.Cases, 3)
	assert.Equal(t, "aramaic", out.Cases[0].Query)
	assert.Equal(t, "hybrid", out.Cases[0].Mode)
}

func TestSummarize_GroupsByTier(t *testing.T) {
	summary := summarize([]EvalCaseResult{
		{Rank: 1, RR: 1, RecallAtK: 1, Tier: "high"},
		{Rank: 0, Tier: "low"},
		{Rank: 2, RR: 0.5, RecallAtK: 1},
	}, 5)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, TierStats{Cases: 1, Hits: 1, Rate: 1}, summary.ByTier["high"])
	assert.Equal(t, TierStats{Cases: 1, Hits: 0, Rate: 0}, summary.ByTier["low"])
	assert.Equal(t, TierStats{Cases: 1, Hits: 1, Rate: 1}, summary.ByTier["none"])
	assert.InDelta(t, 0.5, summary.MRR, 1e-9)

	assert.Zero(t, summarize(nil, 5).HitRateAtK)
}

func TestFacetQuery(t *testing.T) {
	q := facetQuery(domain.Facets{Category: "Greek", MaxDurationMinutes: 12.5})
	assert.Equal(t, "Greek", q.Get("category"))
	assert.Equal(t, "12.5", q.Get("max_duration_minutes"))
	assert.Empty(t, q.Get("difficulty"))
}

func TestAPIClient_ErrorCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"embedding provider unavailable","code":"UPSTREAM_UNAVAILABLE"}`))
	}))
	defer srv.Close()

	_, err := NewAPIClientWithConfig(srv.URL, time.Second).Get(context.Background(), "/search")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 30*time.Second, apiErr.RetryAfter)
	assert.True(t, apiErr.Temporary())
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", apiErr.Code)

	assert.False(t, (&APIError{StatusCode: http.StatusBadGateway}).Temporary())
	assert.False(t, (&APIError{StatusCode: http.StatusNotFound}).Temporary())
}

func TestWaitForTranscript_PollsUntilReady(t *testing.T) {
	orig := newTranscriptBackOff
	newTranscriptBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	defer func() { newTranscriptBackOff = orig }()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/videos/hebrew-verb-parsing/transcript", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		assert.NotEmpty(t, r.URL.Query().Get("timeout"))
		if calls < 3 {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"data":{"video":{"id":"hebrew-verb-parsing"},"started":true}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"video":{"id":"hebrew-verb-parsing"},"ready":true}}`))
	}))
	defer srv.Close()

	out, err := waitForTranscript(context.Background(), NewAPIClientWithConfig(srv.URL, time.Second), "hebrew-verb-parsing", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, out.Ready)
	assert.Equal(t, 3, calls)
}

func TestWaitForTranscript_StopsOnPermanentError(t *testing.T) {
	orig := newTranscriptBackOff
	newTranscriptBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	defer func() { newTranscriptBackOff = orig }()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"error":"video source file is unavailable","code":"SOURCE_UNAVAILABLE"}`))
	}))
	defer srv.Close()

	_, err := waitForTranscript(context.Background(), NewAPIClientWithConfig(srv.URL, time.Second), "gone", 10*time.Second)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGone, apiErr.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestPrintVideo_RendersSegmentTimestamps(t *testing.T) {
	rec := domain.VideoRecord{
		Title:            "Word Study",
		Category:         "study",
		Topic:            "greek",
		Difficulty:       "beginner",
		DurationSeconds:  3720,
		TranscriptStatus: domain.TranscriptReady,
		PlaybackURL:      "/media/word-study.mp4",
		Segments: []domain.Segment{
			{Start: 7.9, End: 12, Text: "open the lexicon"},
			{Start: 3605.2, End: 3610, Text: "wrap up"},
		},
	}

	var buf bytes.Buffer
	printVideo(&buf, rec)

	out := buf.String()
	assert.Contains(t, out, "Word Study\nstudy / greek / beginner\n")
	assert.Contains(t, out, "62.0 min, transcript ready\n/media/word-study.mp4\n")
	assert.Contains(t, out, "[0:07] open the lexicon\n")
	assert.Contains(t, out, "[1:00:05] wrap up\n")
}

func TestPrintVideo_FallsBackToTranscriptText(t *testing.T) {
	var buf bytes.Buffer
	printVideo(&buf, domain.VideoRecord{Title: "Intro", TranscriptText: "plain transcript"})
	assert.Contains(t, buf.String(), "plain transcript\n")
}
