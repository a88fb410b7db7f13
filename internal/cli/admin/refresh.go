package admin

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clipfinder/internal/cli"
	"github.com/cloo-solutions/clipfinder/internal/config"
	"github.com/cloo-solutions/clipfinder/internal/service"
)

// RefreshCmd rescans the media directory and rewrites the index.
func RefreshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rescan the media directory",
		Long:  "Rescans MEDIA_DIR, probes new or changed files and rewrites the catalog index.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("json")
			list, _ := cmd.Flags().GetBool("list")
			return runRefresh(cmd.Context(), outputJSON, list)
		},
	}

	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.Flags().Bool("list", false, "Print every video after refreshing")

	return cmd
}

func runRefresh(ctx context.Context, outputJSON, list bool) error {
	if ctx == nil {
		ctx = context.Background()
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

	out, err := engine.Search.Refresh(ctx, true)
	if err != nil {
		return err
	}

	if list {
		videos, err := engine.Search.ListVideos(ctx, service.ListQuery{})
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.PrintJSON(os.Stdout, videos)
		}
		cli.PrintVideos(os.Stdout, videos)
		return nil
	}

	if outputJSON {
		return cli.PrintJSON(os.Stdout, out)
	}
	fmt.Printf("%d videos, %d ready, %d pending, %d failed, %d missing source\n",
		out.Stats.Total, out.Stats.Ready, out.Stats.Pending, out.Stats.Error, out.Stats.SourceUnavailable)
	fmt.Printf("fingerprint: %s\n", out.Fingerprint)
	return nil
}
