package admin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clipfinder/internal/api/handlers"
	"github.com/cloo-solutions/clipfinder/internal/cli"
	"github.com/cloo-solutions/clipfinder/internal/config"
)

// SearchCmd runs one search against the local catalog without starting a server.
func SearchCmd() *cobra.Command {
	var req handlers.SearchRequest

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the local media library",
		Long:  "Runs a single search against MEDIA_DIR and prints the matching clips.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			outputJSON, _ := cmd.Flags().GetBool("json")
			return runSearch(cmd.Context(), req, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&req.Category, "category", "c", "", "Filter by category")
	cmd.Flags().StringVarP(&req.Difficulty, "difficulty", "d", "", "Filter by difficulty")
	cmd.Flags().StringVar(&req.VersionTag, "version", "", "Filter by version tag")
	cmd.Flags().Float64Var(&req.MaxDurationMinutes, "max-minutes", 0, "Only videos at most this long")
	cmd.Flags().StringVar(&req.Sort, "sort", "", "Sort mode: relevance, duration, title, newest")
	cmd.Flags().StringVar(&req.Transcription, "transcribe", "skip", "Transcription mode: skip, auto, force")
	cmd.Flags().BoolVar(&req.Refresh, "refresh", false, "Force a full catalog refresh first")
	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, req handlers.SearchRequest, outputJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	input, err := req.ToInput()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	engine, err := NewEngine(ctx, cfg, EngineOptions{})
	if err != nil {
		return err
	}
	defer engine.Close()

	out, err := engine.Search.Search(ctx, input)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if outputJSON {
		return cli.PrintJSON(os.Stdout, out)
	}
	cli.PrintSearch(os.Stdout, out)
	return nil
}
