package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clipfinder/internal/config"
	"github.com/cloo-solutions/clipfinder/internal/domain"
)

// IngestCmd transcribes videos in the foreground.
func IngestCmd() *cobra.Command {
	var (
		all     bool
		limit   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest [video-id...]",
		Short: "Transcribe videos",
		Long: `Transcribes the given videos, or with --all every video that still lacks a
transcript. Requires OPENAI_API_KEY and ffmpeg.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("pass video ids or --all")
			}
			return runIngest(cmd.Context(), args, all, limit, timeout)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Transcribe every video without a transcript")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "With --all, stop after this many videos (0 = no limit)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting on a single video after this long (0 = no limit)")

	return cmd
}

func runIngest(ctx context.Context, ids []string, all bool, limit int, timeout time.Duration) error {
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

	if engine.Pipeline == nil {
		return domain.ErrIngestionDisabled
	}
	if _, err := engine.Search.Refresh(ctx, true); err != nil {
		return err
	}

	if all {
		for _, rec := range engine.Pipeline.Candidates(limit) {
			ids = append(ids, rec.ID)
		}
		if len(ids) == 0 {
			fmt.Println("every video already has a transcript")
			return nil
		}
	}

	var failed int
	for i, id := range ids {
		fmt.Printf("[%d/%d] %s ... ", i+1, len(ids), id)
		started := time.Now()

		vctx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			vctx, cancel = context.WithTimeout(ctx, timeout)
		}
		rec, err := engine.Pipeline.EnsureTranscriptReady(vctx, id)
		cancel()

		switch {
		case err == nil:
			fmt.Printf("ready (%d segments, %s)\n", len(rec.Segments), time.Since(started).Round(time.Second))
		case errors.Is(err, domain.ErrTranscriptNotReady):
			fmt.Println("still running, gave up waiting")
			failed++
		default:
			fmt.Printf("failed: %v\n", err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d videos were not transcribed", failed, len(ids))
	}
	return nil
}
