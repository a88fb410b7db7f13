package client

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clipfinder/internal/cli"
	"github.com/cloo-solutions/clipfinder/internal/service"
)

// SearchRequest represents the search API request.
type SearchRequest struct {
	Query              string  `json:"query"`
	Category           string  `json:"category,omitempty"`
	Difficulty         string  `json:"difficulty,omitempty"`
	VersionTag         string  `json:"version_tag,omitempty"`
	MaxDurationMinutes float64 `json:"max_duration_minutes,omitempty"`
	Sort               string  `json:"sort,omitempty"`
	Transcription      string  `json:"transcription,omitempty"`
	Refresh            bool    `json:"refresh,omitempty"`
}

// SearchResponse represents the search API response.
type SearchResponse struct {
	service.SearchOutput
	SearchID string `json:"searchId,omitempty"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var req SearchRequest

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search clips",
		Long:  "Searches the video library and prints timestamped clips.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runSearch(cmd.Context(), NewAPIClientWithCmd(cmd), req, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&req.Category, "category", "c", "", "Filter by category")
	cmd.Flags().StringVarP(&req.Difficulty, "difficulty", "d", "", "Filter by difficulty")
	cmd.Flags().StringVar(&req.VersionTag, "version", "", "Filter by version tag")
	cmd.Flags().Float64Var(&req.MaxDurationMinutes, "max-minutes", 0, "Only videos at most this long")
	cmd.Flags().StringVar(&req.Sort, "sort", "", "Sort mode: relevance, duration, title, newest")
	cmd.Flags().StringVar(&req.Transcription, "transcribe", "", "Transcription mode: skip, auto, force")
	cmd.Flags().BoolVar(&req.Refresh, "refresh", false, "Force a full catalog refresh first")

	return cmd
}

func runSearch(ctx context.Context, api *APIClient, req SearchRequest, outputJSON bool) error {
	var searchResp SearchResponse
	if _, err := api.Decode(ctx, http.MethodPost, "/search", req, &searchResp); err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if outputJSON {
		return cli.PrintJSON(os.Stdout, searchResp)
	}

	cli.PrintSearch(os.Stdout, &searchResp.SearchOutput)
	if searchResp.SearchID != "" && len(searchResp.Results) > 0 {
		fmt.Printf("\nsearch id: %s (clipfinder feedback %s <video-id> to record a pick)\n", searchResp.SearchID, searchResp.SearchID)
	}
	return nil
}
