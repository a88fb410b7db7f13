package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/clipfinder/internal/catalog"
	"github.com/cloo-solutions/clipfinder/internal/confidence"
	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/guidance"
	"github.com/cloo-solutions/clipfinder/internal/ranking"
	"github.com/cloo-solutions/clipfinder/internal/telemetry"
)

const (
	defaultMaxRelated      = 4
	defaultForceIngestWait = 2 * time.Minute
	// defaultForceBatch bounds force mode when auto ingestion is turned off.
	defaultForceBatch = 2
	guidanceResults        = 5
)

// Reasons attached to structured empty responses.
const (
	ReasonEmptyQuery       = "empty_query"
	ReasonNoMatchingVideos = "no_matching_videos"
	ReasonNoResults        = "no_results"
)

// Catalog is the subset of catalog.Store the service reads.
type Catalog interface {
	Refresh(ctx context.Context, forceFull bool, maxStaleness time.Duration) ([]domain.VideoRecord, error)
	Get(id string) (domain.VideoRecord, error)
	Stats() domain.CatalogStats
	Fingerprint() string
}

type Ranker interface {
	Score(ctx context.Context, query string, candidates []domain.VideoRecord, catalogFingerprint string, sortMode ranking.SortMode) (*ranking.Ranking, error)
	SemanticEnabled() bool
}

type Ingestor interface {
	EnsureTranscriptReady(ctx context.Context, id string) (domain.VideoRecord, error)
	StartBackground(ctx context.Context, ids []string, limit int) []string
	InFlight(id string) bool
}

type Assessor interface {
	Assess(query string, results []confidence.Evidence, stats domain.CatalogStats, semanticEnabled bool) confidence.Report
}

// TranscriptionMode controls whether a search triggers ingestion.
type TranscriptionMode string

const (
	TranscriptionSkip  TranscriptionMode = "skip"
	TranscriptionAuto  TranscriptionMode = "auto"
	TranscriptionForce TranscriptionMode = "force"
)

// ParseTranscriptionMode maps user input to a mode; empty means auto.
func ParseTranscriptionMode(s string) (TranscriptionMode, error) {
	switch TranscriptionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", TranscriptionAuto:
		return TranscriptionAuto, nil
	case TranscriptionSkip, "none", "off":
		return TranscriptionSkip, nil
	case TranscriptionForce:
		return TranscriptionForce, nil
	}
	return "", domain.ErrInvalidTranscribeMode
}

// Options tunes the search service.
type Options struct {
	Staleness       time.Duration
	AutoIngestLimit int
	ForceIngestWait time.Duration
	MaxRelated      int
}

type SearchInput struct {
	Query         string
	Filters       domain.Facets
	Sort          ranking.SortMode
	Transcription TranscriptionMode
	ForceRefresh  bool
}

// IngestionReport describes what a search did about missing transcripts.
type IngestionReport struct {
	Mode      TranscriptionMode `json:"mode"`
	Started   []string          `json:"started"`
	Completed []string          `json:"completed"`
	Failed    []string          `json:"failed"`
	Pending   []string          `json:"pending"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func newIngestionReport(mode TranscriptionMode) IngestionReport {
	return IngestionReport{
		Mode:      mode,
		Started:   []string{},
		Completed: []string{},
		Failed:    []string{},
		Pending:   []string{},
	}
}

// ClipResult is one timestamped clip returned to the caller.
type ClipResult struct {
	VideoID          string                  `json:"videoId"`
	Title            string                  `json:"title"`
	Category         string                  `json:"category"`
	Topic            string                  `json:"topic"`
	Difficulty       string                  `json:"difficulty"`
	VersionTags      []string                `json:"versionTags"`
	Timestamp        string                  `json:"timestamp"`
	Seconds          int                     `json:"seconds"`
	EndTimestamp     string                  `json:"endTimestamp"`
	EndSeconds       int                     `json:"endSeconds"`
	Snippet          string                  `json:"snippet"`
	Tags             []string                `json:"tags"`
	PlaybackURL      string                  `json:"playbackUrl"`
	URL              string                  `json:"url"`
	MatchReason      string                  `json:"matchReason"`
	Score            float64                 `json:"score"`
	TranscriptStatus domain.TranscriptStatus `json:"transcriptStatus"`
	Fallback         bool                    `json:"fallback,omitempty"`
}

type RelatedVideo struct {
	VideoID          string                  `json:"videoId"`
	Title            string                  `json:"title"`
	Category         string                  `json:"category"`
	Topic            string                  `json:"topic"`
	DurationMinutes  float64                 `json:"durationMinutes"`
	PlaybackURL      string                  `json:"playbackUrl"`
	MatchReason      string                  `json:"matchReason"`
	Score            float64                 `json:"score"`
	TranscriptStatus domain.TranscriptStatus `json:"transcriptStatus"`
}

type SearchOutput struct {
	Query            string              `json:"query"`
	Stats            domain.CatalogStats `json:"stats"`
	Ingestion        IngestionReport     `json:"ingestion"`
	Filters          domain.Facets       `json:"filters"`
	RankingMode      ranking.Mode        `json:"rankingMode"`
	Results          []ClipResult        `json:"results"`
	RelatedContent   []RelatedVideo      `json:"relatedContent"`
	Guidance         string              `json:"guidance"`
	SuggestedQueries []string            `json:"suggestedQueries"`
	Confidence       *confidence.Report  `json:"confidence,omitempty"`
	Reason           string              `json:"reason,omitempty"`
}

// SearchService runs the query flow: refresh, filter, ingest, rank, assess, guide.
type SearchService struct {
	catalog  Catalog
	ranker   Ranker
	ingestor Ingestor
	assessor Assessor
	guide    guidance.Guide
	opts     Options
}

func NewSearchService(cat Catalog, ranker Ranker, ingestor Ingestor, assessor Assessor, guide guidance.Guide, opts Options) *SearchService {
	if opts.MaxRelated <= 0 {
		opts.MaxRelated = defaultMaxRelated
	}
	if opts.ForceIngestWait <= 0 {
		opts.ForceIngestWait = defaultForceIngestWait
	}
	if opts.AutoIngestLimit < 0 {
		opts.AutoIngestLimit = 0
	}
	if assessor == nil {
		assessor = confidence.NewAssessor(confidence.DefaultThresholds())
	}
	if guide == nil {
		guide = guidance.TemplateGuide{}
	}
	return &SearchService{
		catalog:  cat,
		ranker:   ranker,
		ingestor: ingestor,
		assessor: assessor,
		guide:    guide,
		opts:     opts,
	}
}

// Search answers a natural-language query. Conditions with no safe default come back
// as structured responses carrying a Reason, not as errors.
func (s *SearchService) Search(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		Query:     input.Query,
		Operation: "search",
	})
	defer span.End()

	started := time.Now()
	query := strings.Join(strings.Fields(input.Query), " ")
	filters := input.Filters.Normalized()
	if input.Transcription == "" {
		input.Transcription = TranscriptionAuto
	}

	out := &SearchOutput{
		Query:            query,
		Filters:          filters,
		RankingMode:      ranking.ModeLexicalOnly,
		Ingestion:        newIngestionReport(input.Transcription),
		Results:          []ClipResult{},
		RelatedContent:   []RelatedVideo{},
		SuggestedQueries: []string{},
	}

	records, err := s.catalog.Refresh(ctx, input.ForceRefresh, s.opts.Staleness)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	out.Stats = s.catalog.Stats()

	if query == "" {
		out.Reason = ReasonEmptyQuery
		out.Guidance = "Enter a question or topic to search the video library."
		return out, nil
	}

	candidates := catalog.Filter(records, filters)
	if len(candidates) == 0 {
		out.Reason = ReasonNoMatchingVideos
		report := s.assessor.Assess(query, nil, out.Stats, s.ranker.SemanticEnabled())
		out.Confidence = &report
		s.attachGuidance(ctx, out)
		return out, nil
	}

	candidates = s.ingest(ctx, query, input.Transcription, candidates, &out.Ingestion)
	out.Stats = s.catalog.Stats()

	sortMode := input.Sort
	if sortMode == "" {
		sortMode = ranking.SortRelevance
	}
	ranked, err := s.ranker.Score(ctx, query, candidates, s.catalog.Fingerprint(), sortMode)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to rank candidates: %w", err)
	}
	out.RankingMode = ranked.Mode
	span.SetTag("ranking_mode", string(ranked.Mode))
	if ranked.Mode == ranking.ModeLexicalFallback {
		telemetry.Degraded(ctx, string(ranked.Mode), ranked.Diagnostics.SemanticError)
	}

	byID := make(map[string]*domain.VideoRecord, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}

	evidence := make([]confidence.Evidence, 0, len(ranked.Results))
	for _, r := range ranked.Results {
		rec, ok := byID[r.VideoID]
		if !ok {
			continue
		}
		out.Results = append(out.Results, clipResult(rec, r))
		evidence = append(evidence, confidence.Evidence{
			VideoID: r.VideoID,
			Score:   r.CombinedScore,
			Text:    evidenceText(rec, r.Snippet),
		})
	}
	out.RelatedContent = relatedContent(ranked.Videos, out.Results, byID, s.opts.MaxRelated)
	if len(out.Results) == 0 {
		out.Reason = ReasonNoResults
	}

	report := s.assessor.Assess(query, evidence, out.Stats, ranked.Mode.Semantic())
	out.Confidence = &report
	s.attachGuidance(ctx, out)

	log.Printf("search: %q mode=%s candidates=%d results=%d tier=%s in %s",
		query, ranked.Mode, len(candidates), len(out.Results), report.Tier, time.Since(started).Round(time.Millisecond))
	return out, nil
}

// ingest applies the transcription mode and returns the candidates re-read from the
// catalog when anything may have changed.
func (s *SearchService) ingest(ctx context.Context, query string, mode TranscriptionMode, candidates []domain.VideoRecord, report *IngestionReport) []domain.VideoRecord {
	limit := s.opts.AutoIngestLimit
	if mode == TranscriptionForce && limit == 0 {
		limit = defaultForceBatch
	}
	if s.ingestor == nil || mode == TranscriptionSkip || limit == 0 {
		return candidates
	}

	ids := ingestPriority(query, candidates)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	if len(ids) == 0 {
		return candidates
	}

	if mode == TranscriptionAuto {
		report.Started = append(report.Started, s.ingestor.StartBackground(ctx, ids, limit)...)
		report.Pending = append(report.Pending, report.Started...)
		return candidates
	}

	report.Started = ids
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ForceIngestWait)
	defer cancel()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(waitCtx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := s.ingestor.EnsureTranscriptReady(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Completed = append(report.Completed, id)
			case errors.Is(err, domain.ErrTranscriptNotReady):
				report.Pending = append(report.Pending, id)
			default:
				report.Failed = append(report.Failed, id)
				if report.Errors == nil {
					report.Errors = map[string]string{}
				}
				report.Errors[id] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(report.Completed)
	sort.Strings(report.Failed)
	sort.Strings(report.Pending)

	refreshed := make([]domain.VideoRecord, 0, len(candidates))
	for _, c := range candidates {
		rec, err := s.catalog.Get(c.ID)
		if err != nil {
			refreshed = append(refreshed, c)
			continue
		}
		refreshed = append(refreshed, rec)
	}
	return refreshed
}

// ingestPriority lists not-ready, source-available candidates ordered by how many
// query terms their metadata mentions.
func ingestPriority(query string, candidates []domain.VideoRecord) []string {
	terms := catalog.Terms(query)
	type scored struct {
		id   string
		hits int
	}
	var pool []scored
	for i := range candidates {
		v := &candidates[i]
		if v.IsReady() || !v.SourceAvailable {
			continue
		}
		meta := strings.ToLower(strings.Join(append([]string{v.Title, v.Topic, v.Category}, v.Tags...), " "))
		hits := 0
		for _, t := range terms {
			if strings.Contains(meta, t) {
				hits++
			}
		}
		pool = append(pool, scored{id: v.ID, hits: hits})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].hits != pool[j].hits {
			return pool[i].hits > pool[j].hits
		}
		return pool[i].id < pool[j].id
	})
	ids := make([]string, len(pool))
	for i, p := range pool {
		ids[i] = p.id
	}
	return ids
}

func (s *SearchService) attachGuidance(ctx context.Context, out *SearchOutput) {
	in := guidance.Input{Query: out.Query}
	for i, r := range out.Results {
		if i == guidanceResults {
			break
		}
		in.Results = append(in.Results, guidance.ResultSummary{
			Title:     r.Title,
			Topic:     r.Topic,
			Category:  r.Category,
			Tags:      r.Tags,
			Timestamp: r.Timestamp,
		})
	}

	g, err := s.guide.Suggest(ctx, in)
	if err != nil {
		log.Printf("search: guidance failed: %v", err)
		g, _ = guidance.TemplateGuide{}.Suggest(ctx, in)
	}
	out.Guidance = g.Text
	if g.SuggestedQueries != nil {
		out.SuggestedQueries = g.SuggestedQueries
	}
	if out.Confidence != nil {
		out.Guidance = out.Confidence.ApplyDisclosure(out.Guidance)
	}
}

func clipResult(rec *domain.VideoRecord, r ranking.Result) ClipResult {
	start := int(r.Chunk.Start)
	end := int(r.Chunk.End)
	if end < start {
		end = start
	}
	link := rec.SourceURL
	if link == "" {
		link = rec.PlaybackURL
	}
	return ClipResult{
		VideoID:          rec.ID,
		Title:            rec.Title,
		Category:         rec.Category,
		Topic:            rec.Topic,
		Difficulty:       rec.Difficulty,
		VersionTags:      nonNil(rec.VersionTags),
		Timestamp:        FormatTimestamp(start),
		Seconds:          start,
		EndTimestamp:     FormatTimestamp(end),
		EndSeconds:       end,
		Snippet:          r.Snippet,
		Tags:             nonNil(rec.Tags),
		PlaybackURL:      TimestampURL(rec.PlaybackURL, start),
		URL:              TimestampURL(link, start),
		MatchReason:      r.MatchReason,
		Score:            round3(r.CombinedScore),
		TranscriptStatus: rec.TranscriptStatus,
		Fallback:         r.Fallback,
	}
}

func relatedContent(videos []ranking.VideoScore, results []ClipResult, byID map[string]*domain.VideoRecord, limit int) []RelatedVideo {
	shown := make(map[string]struct{}, len(results))
	for _, r := range results {
		shown[r.VideoID] = struct{}{}
	}
	out := []RelatedVideo{}
	for _, v := range videos {
		if len(out) == limit {
			break
		}
		if _, ok := shown[v.VideoID]; ok || v.Score <= 0 {
			continue
		}
		rec, ok := byID[v.VideoID]
		if !ok {
			continue
		}
		out = append(out, RelatedVideo{
			VideoID:          rec.ID,
			Title:            rec.Title,
			Category:         rec.Category,
			Topic:            rec.Topic,
			DurationMinutes:  round3(rec.DurationMinutes()),
			PlaybackURL:      rec.PlaybackURL,
			MatchReason:      v.Reason,
			Score:            round3(v.Score),
			TranscriptStatus: rec.TranscriptStatus,
		})
	}
	return out
}

func evidenceText(rec *domain.VideoRecord, snippet string) string {
	parts := append([]string{rec.Title, rec.Topic, rec.Category}, rec.Tags...)
	parts = append(parts, snippet)
	return strings.Join(parts, " ")
}

// FormatTimestamp renders seconds as m:ss, or h:mm:ss from one hour up.
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	sec := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

// TimestampURL encodes a start offset the way each provider expects: YouTube reads a
// t=<n>s query parameter, everything else a #t=<n> media fragment.
func TimestampURL(raw string, seconds int) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if isYouTube(u.Hostname()) {
		q := u.Query()
		q.Set("t", strconv.Itoa(seconds)+"s")
		u.RawQuery = q.Encode()
		return u.String()
	}
	u.Fragment = "t=" + strconv.Itoa(seconds)
	u.RawFragment = ""
	return u.String()
}

func isYouTube(host string) bool {
	host = strings.ToLower(host)
	for _, d := range []string{"youtube.com", "youtu.be"} {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
