package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

type EvalCase struct {
	Query       string   `json:"query"`
	ExpectedIDs []string `json:"expected_ids"`
	Category    string   `json:"category,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
}

type EvalSuite struct {
	Cases []EvalCase `json:"cases"`
	K     int        `json:"k,omitempty"`
}

// TierStats counts how often cases at one confidence tier found an expected video.
type TierStats struct {
	Cases int     `json:"cases"`
	Hits  int     `json:"hits"`
	Rate  float64 `json:"hit_rate"`
}

type EvalSummary struct {
	Total      int                  `json:"total"`
	K          int                  `json:"k"`
	RecallAtK  float64              `json:"recall_at_k"`
	MRR        float64              `json:"mrr"`
	HitRateAtK float64              `json:"hit_rate_at_k"`
	ByTier     map[string]TierStats `json:"by_tier,omitempty"`
}

type EvalCaseResult struct {
	Query       string   `json:"query"`
	ExpectedIDs []string `json:"expected_ids"`
	FoundIDs    []string `json:"found_ids"`
	Rank        int      `json:"rank"`
	RecallAtK   float64  `json:"recall_at_k"`
	RR          float64  `json:"rr"`
	Tier        string   `json:"tier,omitempty"`
	Mode        string   `json:"ranking_mode,omitempty"`
}

type EvalOutput struct {
	Summary EvalSummary      `json:"summary"`
	Cases   []EvalCaseResult `json:"cases,omitempty"`
}

type evalOptions struct {
	file    string
	k       int
	verbose bool
	asJSON  bool
}

// EvalCmd creates the eval command.
func EvalCmd() *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "eval --file <eval.json>",
		Short: "Evaluate search quality",
		Long: `Evaluate search quality against a set of queries and the video ids they should find.

The input file can be either:
  - { "cases": [ { "query": "...", "expected_ids": [...] } ], "k": 5 }
  - [ { "query": "...", "expected_ids": [...] } ]

Searches run with transcription skipped so evaluation never starts ingestion.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.asJSON, _ = cmd.Flags().GetBool("output")
			return runEval(cmd.Context(), cmd.OutOrStdout(), NewAPIClientWithCmd(cmd), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Evaluation JSON file (required)")
	cmd.Flags().IntVar(&opts.k, "k", 0, "Compute recall@k and hit@k over distinct videos (default 5)")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Print per-case results")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func loadSuite(file string) (EvalSuite, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return EvalSuite{}, fmt.Errorf("failed to read eval file: %w", err)
	}

	var suite EvalSuite
	if err := json.Unmarshal(data, &suite); err != nil || len(suite.Cases) == 0 {
		var cases []EvalCase
		if err := json.Unmarshal(data, &cases); err != nil {
			return EvalSuite{}, fmt.Errorf("failed to parse eval file: %w", err)
		}
		suite.Cases = cases
	}
	if len(suite.Cases) == 0 {
		return EvalSuite{}, fmt.Errorf("no eval cases provided")
	}
	for _, c := range suite.Cases {
		if c.Query == "" {
			return EvalSuite{}, fmt.Errorf("eval case query is required")
		}
		if len(c.ExpectedIDs) == 0 {
			return EvalSuite{}, fmt.Errorf("eval case expected_ids is required")
		}
	}
	return suite, nil
}

// distinctVideos returns video ids in first-seen order.
func distinctVideos(resp *SearchResponse) []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, r := range resp.Results {
		if _, ok := seen[r.VideoID]; ok {
			continue
		}
		seen[r.VideoID] = struct{}{}
		ids = append(ids, r.VideoID)
	}
	return ids
}

// scoreCase returns the 1-based rank of the first expected id within the top k,
// recall@k and the reciprocal rank.
func scoreCase(expected, found []string, k int) (rank int, recall, rr float64) {
	expectedSet := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		expectedSet[id] = struct{}{}
	}

	hits := 0
	for i, id := range found {
		if i >= k {
			break
		}
		if _, ok := expectedSet[id]; ok {
			hits++
			if rank == 0 {
				rank = i + 1
			}
		}
	}

	recall = float64(hits) / float64(len(expectedSet))
	if rank > 0 {
		rr = 1.0 / float64(rank)
	}
	return rank, recall, rr
}

func runEval(ctx context.Context, w io.Writer, api *APIClient, opts evalOptions) error {
	suite, err := loadSuite(opts.file)
	if err != nil {
		return err
	}
	k := opts.k
	if k <= 0 {
		k = suite.K
	}
	if k <= 0 {
		k = 5
	}

	results := make([]EvalCaseResult, 0, len(suite.Cases))
	for _, c := range suite.Cases {
		req := SearchRequest{
			Query:         c.Query,
			Category:      c.Category,
			Difficulty:    c.Difficulty,
			Transcription: "skip",
		}

		var resp SearchResponse
		if _, err := api.Decode(ctx, http.MethodPost, "/search", req, &resp); err != nil {
			return fmt.Errorf("search failed for query %q: %w", c.Query, err)
		}

		found := distinctVideos(&resp)
		rank, recall, rr := scoreCase(c.ExpectedIDs, found, k)
		result := EvalCaseResult{
			Query:       c.Query,
			ExpectedIDs: c.ExpectedIDs,
			FoundIDs:    found,
			Rank:        rank,
			RecallAtK:   recall,
			RR:          rr,
			Mode:        string(resp.RankingMode),
		}
		if resp.Confidence != nil {
			result.Tier = string(resp.Confidence.Tier)
		}
		results = append(results, result)
	}

	summary := summarize(results, k)

	if opts.asJSON {
		out := EvalOutput{Summary: summary}
		if opts.verbose {
			sort.Slice(results, func(i, j int) bool { return results[i].Query < results[j].Query })
			out.Cases = results
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "Eval results (k=%d, %d cases)\n", summary.K, summary.Total)
	fmt.Fprintf(w, "Recall@%d: %.4f\n", summary.K, summary.RecallAtK)
	fmt.Fprintf(w, "MRR: %.4f\n", summary.MRR)
	fmt.Fprintf(w, "Hit@%d: %.4f\n", summary.K, summary.HitRateAtK)

	tiers := make([]string, 0, len(summary.ByTier))
	for tier := range summary.ByTier {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		st := summary.ByTier[tier]
		fmt.Fprintf(w, "  %-7s %d/%d hit (%.2f)\n", tier+":", st.Hits, st.Cases, st.Rate)
	}

	if opts.verbose {
		for _, r := range results {
			fmt.Fprintf(w, "\nQuery: %s\n", r.Query)
			fmt.Fprintf(w, "Rank: %d  Recall@%d: %.4f  RR: %.4f  Confidence: %s  Mode: %s\n", r.Rank, summary.K, r.RecallAtK, r.RR, r.Tier, r.Mode)
			fmt.Fprintf(w, "Expected: %v\n", r.ExpectedIDs)
			fmt.Fprintf(w, "Found: %v\n", r.FoundIDs)
		}
	}
	return nil
}

// summarize averages the per-case metrics. Cases without a confidence report are
// counted under "none" so a well calibrated assessor shows a falling hit rate
// from high to low.
func summarize(results []EvalCaseResult, k int) EvalSummary {
	summary := EvalSummary{Total: len(results), K: k, ByTier: map[string]TierStats{}}
	if len(results) == 0 {
		return summary
	}

	var sumRecall, sumRR float64
	hits := 0
	for _, r := range results {
		sumRecall += r.RecallAtK
		sumRR += r.RR

		tier := r.Tier
		if tier == "" {
			tier = "none"
		}
		st := summary.ByTier[tier]
		st.Cases++
		if r.Rank > 0 {
			hits++
			st.Hits++
		}
		summary.ByTier[tier] = st
	}
	for tier, st := range summary.ByTier {
		st.Rate = float64(st.Hits) / float64(st.Cases)
		summary.ByTier[tier] = st
	}

	n := float64(len(results))
	summary.RecallAtK = sumRecall / n
	summary.MRR = sumRR / n
	summary.HitRateAtK = float64(hits) / n
	return summary
}
