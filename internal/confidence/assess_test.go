package confidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clipfinder/internal/domain"
)

var fullCoverage = domain.CatalogStats{Total: 4, Ready: 4, TranscriptCoverage: 1}

func strongEvidence() []Evidence {
	return []Evidence{
		{VideoID: "a", Score: 0.82, Text: "Greek Word Study Basics word study guide"},
		{VideoID: "b", Score: 0.74, Text: "Hebrew Word Study lexicon"},
		{VideoID: "c", Score: 0.70, Text: "Word Study Workflow"},
	}
}

func TestAssess_HighConfidence(t *testing.T) {
	r := Assess("word study", strongEvidence(), fullCoverage, true)

	assert.Equal(t, TierHigh, r.Tier)
	assert.Empty(t, r.ReasonCodes)
	assert.Empty(t, r.Disclosure)
	assert.InDelta(t, 0.82, r.Diagnostics.TopScore, 1e-9)
	assert.InDelta(t, (0.82+0.74+0.70)/3, r.Diagnostics.MeanTop3, 1e-9)
	assert.InDelta(t, 1.0, r.Diagnostics.TermOverlap, 1e-9)
	assert.Equal(t, 3, r.Diagnostics.UniqueVideos)

	want := 100 * (0.35*0.82 + 0.25*(0.82+0.74+0.70)/3 + 0.20 + 0.10 + 0.10)
	assert.InDelta(t, want, float64(r.Score), 0.5)
}

func TestAssess_NoResults(t *testing.T) {
	r := Assess("word study", nil, fullCoverage, true)

	assert.Equal(t, TierLow, r.Tier)
	assert.Equal(t, []string{ReasonNoResults}, r.ReasonCodes)
	assert.Zero(t, r.Score)
	assert.Contains(t, r.Disclosure, ReasonNoResults)
}

func TestAssess_ReasonCodes(t *testing.T) {
	evidence := []Evidence{
		{VideoID: "a", Score: 0.40, Text: "printing options"},
		{VideoID: "a", Score: 0.30, Text: "page layout"},
	}
	stats := domain.CatalogStats{Total: 4, Ready: 1, TranscriptCoverage: 0.25}

	r := Assess("word study", evidence, stats, false)

	assert.Equal(t, []string{
		ReasonLowTopScore,
		ReasonWeakCluster,
		ReasonSingleVideo,
		ReasonWeakOverlap,
		ReasonLimitedCoverage,
		ReasonSemanticUnavailable,
	}, r.ReasonCodes)
	assert.Equal(t, TierLow, r.Tier)
	for _, code := range r.ReasonCodes {
		assert.Contains(t, r.Disclosure, code)
	}
}

func TestAssess_SingleResultIsNotDominance(t *testing.T) {
	r := Assess("word study", strongEvidence()[:1], fullCoverage, true)
	assert.NotContains(t, r.ReasonCodes, ReasonSingleVideo)
}

func TestAssess_OverlapOnlyLooksAtTopFive(t *testing.T) {
	evidence := []Evidence{}
	for i := 0; i < 5; i++ {
		evidence = append(evidence, Evidence{VideoID: "v", Score: 0.9, Text: "unrelated"})
	}
	evidence = append(evidence, Evidence{VideoID: "w", Score: 0.9, Text: "lexicon"})

	r := Assess("lexicon", evidence, fullCoverage, true)
	assert.Zero(t, r.Diagnostics.TermOverlap)
	assert.Contains(t, r.ReasonCodes, ReasonWeakOverlap)
}

func TestTier_Rules(t *testing.T) {
	a := NewAssessor(DefaultThresholds())
	good := Signals{TopScore: 0.8, MeanTop3: 0.7, TermOverlap: 0.9, ResultCount: 3, UniqueVideos: 3}

	tests := []struct {
		name  string
		mod   func(s *Signals)
		codes int
		want  Tier
	}{
		{"all strong", func(s *Signals) {}, 0, TierHigh},
		{"four codes", func(s *Signals) {}, 4, TierLow},
		{"top below 0.35", func(s *Signals) { s.TopScore = 0.34 }, 0, TierLow},
		{"mean3 below 0.30", func(s *Signals) { s.MeanTop3 = 0.29 }, 0, TierLow},
		{"weak top and overlap", func(s *Signals) { s.TopScore = 0.44; s.TermOverlap = 0.19 }, 0, TierLow},
		{"weak mean3 and tiny overlap", func(s *Signals) { s.MeanTop3 = 0.44; s.TermOverlap = 0.11 }, 0, TierLow},
		{"two codes", func(s *Signals) {}, 2, TierMedium},
		{"top below 0.62", func(s *Signals) { s.TopScore = 0.61 }, 0, TierMedium},
		{"overlap below 0.26", func(s *Signals) { s.TermOverlap = 0.25 }, 0, TierMedium},
		{"weak top alone", func(s *Signals) { s.TopScore = 0.44 }, 0, TierMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := good
			tt.mod(&sig)
			assert.Equal(t, tt.want, a.tier(sig, tt.codes))
		})
	}
}

func tierRank(t Tier) int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	}
	return 2
}

func TestTier_MonotonicInTopScore(t *testing.T) {
	a := NewAssessor(DefaultThresholds())

	for _, mean3 := range []float64{0.1, 0.35, 0.5, 0.8} {
		for _, overlap := range []float64{0, 0.1, 0.2, 0.5, 1} {
			for codes := 0; codes <= 5; codes++ {
				prev := TierHigh
				for top := 1.0; top >= 0; top -= 0.01 {
					sig := Signals{TopScore: top, MeanTop3: mean3, TermOverlap: overlap, ResultCount: 3, UniqueVideos: 3}
					got := a.tier(sig, codes)
					require.LessOrEqual(t, tierRank(got), tierRank(prev),
						"top=%.2f mean3=%.2f overlap=%.2f codes=%d", top, mean3, overlap, codes)
					prev = got
				}
			}
		}
	}
}

func TestDisclosure(t *testing.T) {
	assert.Empty(t, disclosure(TierHigh, nil))
	assert.Empty(t, disclosure(TierMedium, []string{ReasonSingleVideo, ReasonLimitedCoverage}),
		"medium tier without a disclosing code stays quiet")

	msg := disclosure(TierMedium, []string{ReasonSingleVideo, ReasonSemanticUnavailable})
	assert.Contains(t, msg, ReasonSemanticUnavailable)
	assert.NotContains(t, msg, ReasonSingleVideo)

	msg = disclosure(TierLow, []string{ReasonLowTopScore, ReasonWeakOverlap})
	assert.True(t, strings.HasPrefix(msg, "Low confidence"))
}

func TestReport_ApplyDisclosure(t *testing.T) {
	r := Report{Disclosure: "Low confidence (low_top_score)."}
	assert.Equal(t, "Low confidence (low_top_score). Try the lexicon.", r.ApplyDisclosure("Try the lexicon."))
	assert.Equal(t, r.Disclosure, r.ApplyDisclosure("  "))
	assert.Equal(t, "unchanged", Report{}.ApplyDisclosure("unchanged"))
}
