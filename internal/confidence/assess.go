package confidence

import (
	"fmt"
	"math"
	"strings"

	"github.com/cloo-solutions/clipfinder/internal/catalog"
	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// Tier is the caller-facing trust level.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Reason codes.
const (
	ReasonLowTopScore         = "low_top_score"
	ReasonWeakCluster         = "weak_top_result_cluster"
	ReasonSingleVideo         = "single_video_dominance"
	ReasonWeakOverlap         = "weak_query_overlap"
	ReasonLimitedCoverage     = "limited_transcript_coverage"
	ReasonSemanticUnavailable = "semantic_ranker_unavailable"
	ReasonNoResults           = "no_results"
)

// Thresholds are the hand-tuned cutoffs behind reason codes and tiers.
type Thresholds struct {
	LowTopScore     float64
	WeakCluster     float64
	WeakOverlap     float64
	LimitedCoverage float64
	OverlapWindow   int

	LowCodeCount    int
	LowTop          float64
	LowMean3        float64
	LowPairTop      float64
	LowPairOverlap  float64
	LowPairMean3    float64
	LowMean3Overlap float64

	MediumCodeCount int
	MediumTop       float64
	MediumOverlap   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LowTopScore:     0.45,
		WeakCluster:     0.40,
		WeakOverlap:     0.20,
		LimitedCoverage: 0.50,
		OverlapWindow:   5,

		LowCodeCount:    4,
		LowTop:          0.35,
		LowMean3:        0.30,
		LowPairTop:      0.45,
		LowPairOverlap:  0.20,
		LowPairMean3:    0.45,
		LowMean3Overlap: 0.12,

		MediumCodeCount: 2,
		MediumTop:       0.62,
		MediumOverlap:   0.26,
	}
}

// Evidence is one ranked result as seen by the assessor. Text carries the result's
// metadata and snippet for the term-overlap signal.
type Evidence struct {
	VideoID string
	Score   float64
	Text    string
}

// Signals are the raw inputs to the tier rules.
type Signals struct {
	TopScore        float64 `json:"top_score"`
	MeanTop3        float64 `json:"mean_top3"`
	TermOverlap     float64 `json:"term_overlap"`
	UniqueVideos    int     `json:"unique_videos"`
	ResultCount     int     `json:"result_count"`
	Coverage        float64 `json:"transcript_coverage"`
	SemanticEnabled bool    `json:"semantic_enabled"`
}

// Report explains how far the caller should trust a result set.
type Report struct {
	Tier        Tier     `json:"tier"`
	Score       int      `json:"score"`
	ReasonCodes []string `json:"reason_codes"`
	Diagnostics Signals  `json:"diagnostics"`
	Disclosure  string   `json:"disclosure,omitempty"`
}

type Assessor struct {
	th Thresholds
}

func NewAssessor(th Thresholds) *Assessor {
	return &Assessor{th: th}
}

// Assess runs the default assessor.
func Assess(query string, results []Evidence, stats domain.CatalogStats, semanticEnabled bool) Report {
	return NewAssessor(DefaultThresholds()).Assess(query, results, stats, semanticEnabled)
}

// Assess derives a report from the ranked evidence (best first) and catalog health.
func (a *Assessor) Assess(query string, results []Evidence, stats domain.CatalogStats, semanticEnabled bool) Report {
	sig := a.signals(query, results, stats, semanticEnabled)
	codes := a.reasonCodes(sig)

	r := Report{
		ReasonCodes: codes,
		Diagnostics: sig,
	}
	if sig.ResultCount == 0 {
		r.Tier = TierLow
	} else {
		r.Tier = a.tier(sig, len(codes))
		r.Score = blendScore(sig)
	}
	r.Disclosure = disclosure(r.Tier, codes)
	return r
}

func (a *Assessor) signals(query string, results []Evidence, stats domain.CatalogStats, semanticEnabled bool) Signals {
	sig := Signals{
		ResultCount:     len(results),
		Coverage:        stats.TranscriptCoverage,
		SemanticEnabled: semanticEnabled,
	}
	if len(results) == 0 {
		return sig
	}

	sig.TopScore = clamp01(results[0].Score)
	n := len(results)
	if n > 3 {
		n = 3
	}
	var sum float64
	for _, r := range results[:n] {
		sum += clamp01(r.Score)
	}
	sig.MeanTop3 = sum / float64(n)

	unique := map[string]struct{}{}
	for _, r := range results {
		unique[r.VideoID] = struct{}{}
	}
	sig.UniqueVideos = len(unique)

	window := a.th.OverlapWindow
	if window <= 0 || window > len(results) {
		window = len(results)
	}
	var text strings.Builder
	for _, r := range results[:window] {
		text.WriteString(strings.ToLower(r.Text))
		text.WriteByte(' ')
	}
	terms := catalog.Terms(query)
	if len(terms) > 0 {
		haystack := text.String()
		found := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				found++
			}
		}
		sig.TermOverlap = float64(found) / float64(len(terms))
	}
	return sig
}

func (a *Assessor) reasonCodes(sig Signals) []string {
	codes := []string{}
	if sig.ResultCount == 0 {
		codes = append(codes, ReasonNoResults)
	} else {
		if sig.TopScore < a.th.LowTopScore {
			codes = append(codes, ReasonLowTopScore)
		}
		if sig.MeanTop3 < a.th.WeakCluster {
			codes = append(codes, ReasonWeakCluster)
		}
		if sig.ResultCount >= 2 && sig.UniqueVideos == 1 {
			codes = append(codes, ReasonSingleVideo)
		}
		if sig.TermOverlap < a.th.WeakOverlap {
			codes = append(codes, ReasonWeakOverlap)
		}
	}
	if sig.Coverage < a.th.LimitedCoverage {
		codes = append(codes, ReasonLimitedCoverage)
	}
	if !sig.SemanticEnabled {
		codes = append(codes, ReasonSemanticUnavailable)
	}
	return codes
}

func (a *Assessor) tier(sig Signals, codeCount int) Tier {
	th := a.th
	switch {
	case codeCount >= th.LowCodeCount,
		sig.TopScore < th.LowTop,
		sig.MeanTop3 < th.LowMean3,
		sig.TopScore < th.LowPairTop && sig.TermOverlap < th.LowPairOverlap,
		sig.MeanTop3 < th.LowPairMean3 && sig.TermOverlap < th.LowMean3Overlap:
		return TierLow
	case codeCount >= th.MediumCodeCount,
		sig.TopScore < th.MediumTop,
		sig.TermOverlap < th.MediumOverlap:
		return TierMedium
	}
	return TierHigh
}

// blendScore is a 0-100 summary for dashboards. It never changes the tier.
func blendScore(sig Signals) int {
	unique := math.Min(float64(sig.UniqueVideos)/3, 1)
	v := 0.35*sig.TopScore + 0.25*sig.MeanTop3 + 0.20*sig.TermOverlap + 0.10*unique + 0.10*clamp01(sig.Coverage)
	return int(math.Round(100 * clamp01(v)))
}

var disclosingMediumCodes = map[string]struct{}{
	ReasonLowTopScore:         {},
	ReasonWeakOverlap:         {},
	ReasonSemanticUnavailable: {},
}

func disclosure(tier Tier, codes []string) string {
	switch tier {
	case TierLow:
		return fmt.Sprintf("Low confidence (%s): these clips may not answer your question.", strings.Join(codes, ", "))
	case TierMedium:
		var triggered []string
		for _, c := range codes {
			if _, ok := disclosingMediumCodes[c]; ok {
				triggered = append(triggered, c)
			}
		}
		if len(triggered) > 0 {
			return fmt.Sprintf("Moderate confidence (%s): verify these clips before relying on them.", strings.Join(triggered, ", "))
		}
	}
	return ""
}

// ApplyDisclosure prefixes text with the report's disclosure, if any.
func (r Report) ApplyDisclosure(text string) string {
	if r.Disclosure == "" {
		return text
	}
	if strings.TrimSpace(text) == "" {
		return r.Disclosure
	}
	return r.Disclosure + " " + text
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
