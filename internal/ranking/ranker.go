package ranking

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/cloo-solutions/clipfinder/internal/chunker"
	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/vectorcache"
)

// Mode reports which scorer produced a ranking.
type Mode string

const (
	ModeHybrid          Mode = "hybrid"
	ModeLexicalFallback Mode = "lexical_fallback"
	ModeLexicalOnly     Mode = "lexical_only"
)

// Semantic reports whether vector similarity contributed to the ranking.
func (m Mode) Semantic() bool {
	return m == ModeHybrid
}

// SortMode orders the video stage.
type SortMode string

const (
	SortRelevance SortMode = "relevance"
	SortDuration  SortMode = "duration"
	SortTitle     SortMode = "title"
	SortNewest    SortMode = "newest"
)

// ParseSortMode maps user input to a SortMode; empty means relevance.
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortRelevance:
		return SortRelevance, nil
	case SortDuration:
		return SortDuration, nil
	case SortTitle:
		return SortTitle, nil
	case SortNewest, "recent":
		return SortNewest, nil
	}
	return "", domain.ErrInvalidSortMode
}

// Weights are the hand-tuned fusion constants.
type Weights struct {
	VideoSemantic   float64
	VideoLexical    float64
	ReadyBonus      float64
	NotReadyPenalty float64
	ChunkSemantic   float64
	ChunkLexical    float64
	BlendVideo      float64
	BlendChunk      float64
	PhraseBonus     float64
	MinChunkScore   float64
	TopVideos       int
	MaxPerVideo     int
	MaxResults      int
	Fields          FieldWeights
}

func DefaultWeights() Weights {
	return Weights{
		VideoSemantic:   0.76,
		VideoLexical:    0.20,
		ReadyBonus:      0.04,
		NotReadyPenalty: -0.03,
		ChunkSemantic:   0.8,
		ChunkLexical:    0.2,
		BlendVideo:      0.3,
		BlendChunk:      0.7,
		PhraseBonus:     0.15,
		MinChunkScore:   0.12,
		TopVideos:       8,
		MaxPerVideo:     3,
		MaxResults:      12,
		Fields:          DefaultFieldWeights(),
	}
}

// VectorSource supplies embeddings. It is implemented by vectorcache.Cache.
type VectorSource interface {
	QueryVector(ctx context.Context, query string) ([]float32, error)
	VideoVectors(ctx context.Context, catalogFingerprint string, docs map[string]string) (map[string][]float32, error)
	ChunkVectors(ctx context.Context, chunks []domain.Chunk) (map[string][]float32, error)
}

// VideoScore is the stage-A score of one candidate.
type VideoScore struct {
	VideoID  string
	Lexical  float64
	Semantic float64
	Score    float64
	Reason   string
	Snippet  string
}

// Result is one emitted passage.
type Result struct {
	VideoID       string       `json:"video_id"`
	Chunk         domain.Chunk `json:"chunk"`
	LexicalScore  float64      `json:"lexical_score"`
	SemanticScore float64      `json:"semantic_score"`
	VideoScore    float64      `json:"video_score"`
	CombinedScore float64      `json:"combined_score"`
	MatchReason   string       `json:"match_reason"`
	Snippet       string       `json:"snippet"`
	Fallback      bool         `json:"fallback"`
}

type Diagnostics struct {
	Candidates    int    `json:"candidates"`
	TopVideos     int    `json:"top_videos"`
	ChunksScored  int    `json:"chunks_scored"`
	Qualifying    int    `json:"qualifying_chunks"`
	FallbackUsed  bool   `json:"fallback_used"`
	SemanticError string `json:"semantic_error,omitempty"`
}

// Ranking is the output of Score. Videos holds every candidate in stage-A order.
type Ranking struct {
	Mode        Mode
	Results     []Result
	Videos      []VideoScore
	Diagnostics Diagnostics
}

// Ranker fuses lexical and vector similarity. A nil VectorSource ranks lexically.
type Ranker struct {
	vectors VectorSource
	weights Weights
	chunks  chunker.Config
}

func NewRanker(vectors VectorSource, weights Weights, chunks chunker.Config) *Ranker {
	return &Ranker{vectors: vectors, weights: weights, chunks: chunks}
}

// SemanticEnabled reports whether the ranker has a vector source to try.
func (r *Ranker) SemanticEnabled() bool {
	return r.vectors != nil
}

type scoredVideo struct {
	video *domain.VideoRecord
	VideoScore
	hits []fieldHit
}

// Score ranks candidates for query. Embedding failures degrade to lexical scoring
// and are reported through Mode rather than returned.
func (r *Ranker) Score(ctx context.Context, query string, candidates []domain.VideoRecord, catalogFingerprint string, sortMode SortMode) (*Ranking, error) {
	q := ParseQuery(query)
	if q.Phrase == "" {
		return nil, domain.ErrEmptyQuery
	}

	out := &Ranking{Mode: ModeLexicalOnly}
	out.Diagnostics.Candidates = len(candidates)
	if len(candidates) == 0 {
		return out, nil
	}

	var queryVec []float32
	var videoVecs map[string][]float32
	if r.vectors != nil {
		out.Mode = ModeHybrid
		var err error
		queryVec, videoVecs, err = r.videoVectors(ctx, q.Raw, candidates, catalogFingerprint)
		if err != nil {
			r.degrade(out, err)
		}
	}

	scored := r.scoreVideos(q, candidates, queryVec, videoVecs, out.Mode, sortMode)
	top := r.topVideos(scored)
	byVideo, all := r.buildChunks(top)

	var chunkVecs map[string][]float32
	if out.Mode.Semantic() {
		var err error
		chunkVecs, err = r.vectors.ChunkVectors(ctx, all)
		if err != nil {
			// A fallback ranking is purely lexical, stage A included.
			r.degrade(out, fmt.Errorf("chunk vectors: %w", err))
			scored = r.scoreVideos(q, candidates, nil, nil, out.Mode, sortMode)
			top = r.topVideos(scored)
			byVideo, all = r.buildChunks(top)
		}
	}

	out.Videos = make([]VideoScore, len(scored))
	for i, sv := range scored {
		out.Videos[i] = sv.VideoScore
	}
	out.Diagnostics.TopVideos = len(top)
	out.Diagnostics.ChunksScored = len(all)

	out.Results = r.scoreChunks(q, top, byVideo, queryVec, chunkVecs, sortMode, out)
	return out, nil
}

func (r *Ranker) videoVectors(ctx context.Context, query string, candidates []domain.VideoRecord, fp string) ([]float32, map[string][]float32, error) {
	queryVec, err := r.vectors.QueryVector(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query vector: %w", err)
	}
	docs := make(map[string]string, len(candidates))
	for i := range candidates {
		docs[candidates[i].ID] = DocumentText(&candidates[i])
	}
	videoVecs, err := r.vectors.VideoVectors(ctx, fp, docs)
	if err != nil {
		return nil, nil, fmt.Errorf("video vectors: %w", err)
	}
	return queryVec, videoVecs, nil
}

func (r *Ranker) degrade(out *Ranking, err error) {
	log.Printf("search: semantic ranking unavailable, using lexical fallback: %v", err)
	out.Mode = ModeLexicalFallback
	out.Diagnostics.SemanticError = err.Error()
}

// scoreVideos is stage A. Vector similarity only counts when mode is semantic.
func (r *Ranker) scoreVideos(q Query, candidates []domain.VideoRecord, queryVec []float32, videoVecs map[string][]float32, mode Mode, sortMode SortMode) []*scoredVideo {
	w := r.weights
	scored := make([]*scoredVideo, len(candidates))
	for i := range candidates {
		v := &candidates[i]
		lex, hits := lexicalVideo(q, v, w.Fields, w.PhraseBonus)
		sv := &scoredVideo{video: v, hits: hits}
		sv.VideoID = v.ID
		sv.Lexical = lex
		if mode.Semantic() {
			sv.Semantic = similarity(queryVec, videoVecs[v.ID])
			sv.Score = w.VideoSemantic*sv.Semantic + w.VideoLexical*lex
		} else {
			sv.Score = (w.VideoSemantic + w.VideoLexical) * lex
		}
		if v.IsReady() {
			sv.Score += w.ReadyBonus
		} else {
			sv.Score += w.NotReadyPenalty
		}
		sv.Reason = videoReason(hits, sv.Semantic, mode)
		sv.Snippet = makeSnippet(DocumentText(v), q.Terms)
		scored[i] = sv
	}
	sortVideos(scored, sortMode)
	return scored
}

func (r *Ranker) topVideos(scored []*scoredVideo) []*scoredVideo {
	if n := r.weights.TopVideos; n > 0 && len(scored) > n {
		return scored[:n]
	}
	return scored
}

func (r *Ranker) buildChunks(top []*scoredVideo) ([][]domain.Chunk, []domain.Chunk) {
	var all []domain.Chunk
	byVideo := make([][]domain.Chunk, len(top))
	for i, sv := range top {
		byVideo[i] = r.chunks.Build(sv.video)
		all = append(all, byVideo[i]...)
	}
	return byVideo, all
}

func (r *Ranker) scoreChunks(q Query, top []*scoredVideo, byVideo [][]domain.Chunk, queryVec []float32, chunkVecs map[string][]float32, sortMode SortMode, out *Ranking) []Result {
	w := r.weights

	position := make(map[string]int, len(top))
	for i, sv := range top {
		position[sv.VideoID] = i
	}

	var candidates []Result
	for i, sv := range top {
		for _, ch := range byVideo[i] {
			lex, found := lexicalText(q, ch.Text, w.PhraseBonus)
			var sem, chunkScore float64
			if out.Mode.Semantic() {
				sem = similarity(queryVec, chunkVecs[ch.Key])
				chunkScore = w.ChunkSemantic*sem + w.ChunkLexical*lex
			} else {
				chunkScore = (w.ChunkSemantic + w.ChunkLexical) * lex
			}
			combined := w.BlendVideo*sv.Score + w.BlendChunk*chunkScore
			if combined < w.MinChunkScore {
				continue
			}
			candidates = append(candidates, Result{
				VideoID:       sv.VideoID,
				Chunk:         ch,
				LexicalScore:  lex,
				SemanticScore: sem,
				VideoScore:    sv.Score,
				CombinedScore: combined,
				MatchReason:   chunkReason(sv, found, sem, out.Mode, ch.Synthetic),
				Snippet:       makeSnippet(ch.Text, q.Terms),
			})
		}
	}
	out.Diagnostics.Qualifying = len(candidates)

	if len(candidates) == 0 {
		out.Diagnostics.FallbackUsed = true
		return r.fallback(top, byVideo)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if sortMode != SortRelevance {
			if position[a.VideoID] != position[b.VideoID] {
				return position[a.VideoID] < position[b.VideoID]
			}
		}
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if a.VideoID != b.VideoID {
			return a.VideoID < b.VideoID
		}
		return a.Chunk.Start < b.Chunk.Start
	})
	return diversify(candidates, w.MaxPerVideo, w.MaxResults)
}

// fallback emits one representative result per top video from its document
// snippet so a non-empty candidate set never yields an empty ranking.
func (r *Ranker) fallback(top []*scoredVideo, byVideo [][]domain.Chunk) []Result {
	w := r.weights
	results := make([]Result, 0, len(top))
	for i, sv := range top {
		var ch domain.Chunk
		if len(byVideo[i]) > 0 {
			ch = byVideo[i][0]
		}
		snippet := sv.Snippet
		if snippet == "" {
			snippet = makeSnippet(ch.Text, nil)
		}
		results = append(results, Result{
			VideoID:       sv.VideoID,
			Chunk:         ch,
			LexicalScore:  sv.Lexical,
			SemanticScore: sv.Semantic,
			VideoScore:    sv.Score,
			CombinedScore: math.Max(sv.Score, 0),
			MatchReason:   "closest available video; no passage matched strongly",
			Snippet:       snippet,
			Fallback:      true,
		})
		if w.MaxResults > 0 && len(results) >= w.MaxResults {
			break
		}
	}
	return results
}

// diversify keeps at most perVideo results for any one video and at most limit
// overall, preserving order.
func diversify(in []Result, perVideo, limit int) []Result {
	counts := make(map[string]int)
	out := make([]Result, 0, len(in))
	for _, r := range in {
		if perVideo > 0 && counts[r.VideoID] >= perVideo {
			continue
		}
		counts[r.VideoID]++
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func sortVideos(videos []*scoredVideo, mode SortMode) {
	sort.SliceStable(videos, func(i, j int) bool {
		a, b := videos[i], videos[j]
		switch mode {
		case SortDuration:
			da, db := a.video.DurationSeconds, b.video.DurationSeconds
			if da != db {
				// Unknown durations sort last.
				if da <= 0 {
					return false
				}
				if db <= 0 {
					return true
				}
				return da < db
			}
		case SortTitle:
			ta, tb := strings.ToLower(a.video.Title), strings.ToLower(b.video.Title)
			if ta != tb {
				return ta < tb
			}
		case SortNewest:
			if !a.video.ModTime.Equal(b.video.ModTime) {
				return a.video.ModTime.After(b.video.ModTime)
			}
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.VideoID < b.VideoID
	})
}

func similarity(a, b []float32) float64 {
	if len(a) == 0 {
		return 0
	}
	sim, err := vectorcache.Cosine(a, b)
	if err != nil {
		return 0
	}
	return clamp01(sim)
}

func videoReason(hits []fieldHit, semantic float64, mode Mode) string {
	if len(hits) > 0 {
		parts := make([]string, 0, len(hits))
		for _, h := range hits {
			verb := "matches"
			switch h.field {
			case "tags":
				verb = "match"
			case "transcript":
				verb = "mentions"
			}
			parts = append(parts, fmt.Sprintf("%s %s %q", h.field, verb, strings.Join(h.terms, " ")))
		}
		return strings.Join(parts, "; ")
	}
	if mode.Semantic() && semantic > 0 {
		return "semantically related video"
	}
	return "no direct term match"
}

func chunkReason(sv *scoredVideo, found []string, semantic float64, mode Mode, synthetic bool) string {
	var parts []string
	if len(found) > 0 {
		if synthetic {
			parts = append(parts, fmt.Sprintf("video details mention %q", strings.Join(found, " ")))
		} else {
			parts = append(parts, fmt.Sprintf("transcript mentions %q", strings.Join(found, " ")))
		}
	} else if mode.Semantic() && semantic > 0 {
		parts = append(parts, "semantically related passage")
	}
	if len(sv.hits) > 0 && sv.hits[0].field != "transcript" {
		parts = append(parts, sv.Reason)
	}
	if len(parts) == 0 {
		return sv.Reason
	}
	return strings.Join(parts, "; ")
}
