package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/clipfinder/internal/service"
)

const snippetWidth = 100

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// PrintSearch renders a search outcome for a terminal.
func PrintSearch(w io.Writer, out *service.SearchOutput) {
	if out.Reason != "" && len(out.Results) == 0 {
		fmt.Fprintf(w, "No results (%s).\n", out.Reason)
	} else {
		fmt.Fprintf(w, "Found %d clips (%s ranking):\n\n", len(out.Results), out.RankingMode)
	}

	for i, r := range out.Results {
		fmt.Fprintf(w, "%d. %s @ %s (%.2f)\n", i+1, r.Title, r.Timestamp, r.Score)
		if r.Snippet != "" {
			fmt.Fprintf(w, "   %s\n", truncate(r.Snippet, snippetWidth))
		}
		fmt.Fprintf(w, "   %s\n", r.URL)
		if r.Fallback {
			fmt.Fprintln(w, "   (transcript pending, metadata match)")
		}
		if i < len(out.Results)-1 {
			fmt.Fprintln(w, strings.Repeat("-", 40))
		}
	}

	if len(out.RelatedContent) > 0 {
		fmt.Fprintln(w, "\nRelated:")
		for _, rv := range out.RelatedContent {
			fmt.Fprintf(w, "  - %s (%s)\n", rv.Title, rv.VideoID)
		}
	}

	if out.Guidance != "" {
		fmt.Fprintf(w, "\n%s\n", out.Guidance)
	}
	if len(out.SuggestedQueries) > 0 {
		fmt.Fprintf(w, "Try: %s\n", strings.Join(out.SuggestedQueries, " | "))
	}

	ing := out.Ingestion
	if len(ing.Started)+len(ing.Completed)+len(ing.Failed) > 0 {
		fmt.Fprintf(w, "\nTranscripts: %d started, %d completed, %d failed, %d pending\n",
			len(ing.Started), len(ing.Completed), len(ing.Failed), len(ing.Pending))
	}
}

// PrintVideos renders a catalog listing.
func PrintVideos(w io.Writer, list *service.VideoList) {
	fmt.Fprintf(w, "%d videos (%d with transcripts)\n\n", list.Stats.Total, list.Stats.Ready)
	for _, v := range list.Videos {
		status := string(v.TranscriptStatus)
		if v.Ingesting {
			status += ", ingesting"
		}
		if !v.SourceAvailable {
			status += ", source missing"
		}
		fmt.Fprintf(w, "%-40s %6.1f min  [%s]  %s\n", v.ID, v.DurationMinutes, status, v.Title)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
