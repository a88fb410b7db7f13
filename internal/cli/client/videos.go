package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clipfinder/internal/cli"
	"github.com/cloo-solutions/clipfinder/internal/domain"
	"github.com/cloo-solutions/clipfinder/internal/service"
)

// VideosCmd groups catalog commands.
func VideosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "Browse the video catalog",
	}
	cmd.AddCommand(videosListCmd(), videosGetCmd(), videosTranscriptCmd(), videosRefreshCmd())
	return cmd
}

func videosListCmd() *cobra.Command {
	var (
		facets domain.Facets
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			q := facetQuery(facets)
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			var list service.VideoList
			if _, err := api.Decode(cmd.Context(), http.MethodGet, "/videos/?"+q.Encode(), nil, &list); err != nil {
				return err
			}
			if outputJSON, _ := cmd.Flags().GetBool("output"); outputJSON {
				return cli.PrintJSON(os.Stdout, list)
			}
			cli.PrintVideos(os.Stdout, &list)
			if list.HasMore {
				fmt.Printf("\nmore: clipfinder videos list --limit %d --cursor %s\n", limit, list.Cursor)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&facets.Category, "category", "c", "", "Filter by category")
	cmd.Flags().StringVarP(&facets.Difficulty, "difficulty", "d", "", "Filter by difficulty")
	cmd.Flags().StringVar(&facets.VersionTag, "version", "", "Filter by version tag")
	cmd.Flags().Float64Var(&facets.MaxDurationMinutes, "max-minutes", 0, "Only videos at most this long")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Page size (0 lists everything)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Resume after a previous page")

	return cmd
}

func facetQuery(f domain.Facets) url.Values {
	q := url.Values{}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Difficulty != "" {
		q.Set("difficulty", f.Difficulty)
	}
	if f.VersionTag != "" {
		q.Set("version_tag", f.VersionTag)
	}
	if f.MaxDurationMinutes > 0 {
		q.Set("max_duration_minutes", strconv.FormatFloat(f.MaxDurationMinutes, 'f', -1, 64))
	}
	return q
}

func videosGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <video-id>",
		Short: "Show one video with its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			var rec domain.VideoRecord
			if _, err := api.Decode(cmd.Context(), http.MethodGet, "/videos/"+url.PathEscape(args[0]), nil, &rec); err != nil {
				return err
			}
			if outputJSON, _ := cmd.Flags().GetBool("output"); outputJSON {
				return cli.PrintJSON(os.Stdout, rec)
			}
			printVideo(os.Stdout, rec)
			return nil
		},
	}
}

// printVideo writes rec with one timestamped line per transcript segment.
func printVideo(w io.Writer, rec domain.VideoRecord) {
	fmt.Fprintf(w, "%s\n%s / %s / %s\n", rec.Title, rec.Category, rec.Topic, rec.Difficulty)
	fmt.Fprintf(w, "%.1f min, transcript %s\n%s\n", rec.DurationMinutes(), rec.TranscriptStatus, rec.PlaybackURL)
	for _, seg := range rec.Segments {
		fmt.Fprintf(w, "[%s] %s\n", service.FormatTimestamp(int(seg.Start)), seg.Text)
	}
	if len(rec.Segments) == 0 && rec.TranscriptText != "" {
		fmt.Fprintln(w, rec.TranscriptText)
	}
}

// TranscriptResponse mirrors the transcript endpoint payload.
type TranscriptResponse struct {
	Video   domain.VideoRecord `json:"video"`
	Ready   bool               `json:"ready"`
	Started bool               `json:"started"`
}

const (
	// transcriptPollWindow bounds each server-side wait so a single request
	// stays inside the client timeout.
	transcriptPollWindow  = 4 * time.Minute
	defaultTranscriptWait = 30 * time.Minute
)

var newTranscriptBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

var errTranscriptPending = errors.New("transcript pending")

func videosTranscriptCmd() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "transcript <video-id>",
		Short: "Start or wait for a video's transcript",
		Long: `Start transcription of a video. With --wait the command keeps polling until
the transcript is ready or --timeout (default 30m) passes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			var (
				out *TranscriptResponse
				err error
			)
			if wait {
				out, err = waitForTranscript(cmd.Context(), api, args[0], timeout)
			} else {
				out, err = requestTranscript(cmd.Context(), api, args[0], 0)
			}
			if err != nil {
				return err
			}
			switch {
			case out.Ready:
				fmt.Printf("%s: transcript ready (%d segments)\n", out.Video.ID, len(out.Video.Segments))
			case out.Started:
				fmt.Printf("%s: transcription started\n", out.Video.ID)
			default:
				fmt.Printf("%s: transcription in progress\n", out.Video.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the transcript is ready")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop waiting after this long (default 30m)")

	return cmd
}

// requestTranscript calls the transcript endpoint once. A positive window asks
// the server to wait that long for the transcript.
func requestTranscript(ctx context.Context, api *APIClient, id string, window time.Duration) (*TranscriptResponse, error) {
	q := url.Values{}
	q.Set("wait", strconv.FormatBool(window > 0))
	if window > 0 {
		q.Set("timeout", window.Round(time.Second).String())
	}
	var out TranscriptResponse
	path := "/videos/" + url.PathEscape(id) + "/transcript?" + q.Encode()
	if _, err := api.Decode(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// waitForTranscript polls until the transcript is ready. Temporary API errors
// are retried, honouring Retry-After. When timeout passes first, the last
// pending response is returned without error.
func waitForTranscript(ctx context.Context, api *APIClient, id string, timeout time.Duration) (*TranscriptResponse, error) {
	if timeout <= 0 {
		timeout = defaultTranscriptWait
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last *TranscriptResponse
	op := func() error {
		window := transcriptPollWindow
		if rem := time.Until(deadlineOf(ctx)); rem < window {
			window = rem
		}
		if window < time.Second {
			window = time.Second
		}

		out, err := requestTranscript(ctx, api, id, window)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Temporary() {
				if apiErr.RetryAfter > 0 {
					select {
					case <-time.After(apiErr.RetryAfter):
					case <-ctx.Done():
					}
				}
				return err
			}
			return backoff.Permanent(err)
		}
		last = out
		if !out.Ready {
			return errTranscriptPending
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(newTranscriptBackOff(), ctx))
	if err != nil && ctx.Err() != nil && last != nil {
		return last, nil
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

func deadlineOf(ctx context.Context) time.Time {
	dl, _ := ctx.Deadline()
	return dl
}

func videosRefreshCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ask the server to rescan its media directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			var out service.RefreshOutput
			path := "/catalog/refresh?force=" + strconv.FormatBool(force)
			if _, err := api.Decode(cmd.Context(), http.MethodPost, path, nil, &out); err != nil {
				return err
			}
			fmt.Printf("%d videos, %d ready (fingerprint %s)\n", out.Stats.Total, out.Stats.Ready, out.Fingerprint)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", true, "Ignore the staleness window")

	return cmd
}
