package client

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// SearchFeedbackRequest represents a feedback request for a prior search.
type SearchFeedbackRequest struct {
	SearchID string `json:"search_id"`
	VideoID  string `json:"video_id"`
	Seconds  int    `json:"seconds"`
}

// FeedbackCmd records which clip of a prior search was useful.
func FeedbackCmd() *cobra.Command {
	var seconds int

	cmd := &cobra.Command{
		Use:   "feedback <search-id> <video-id>",
		Short: "Record the clip you picked from a search",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)
			req := SearchFeedbackRequest{SearchID: args[0], VideoID: args[1], Seconds: seconds}
			if _, err := api.Decode(cmd.Context(), http.MethodPost, "/search/feedback", req, nil); err != nil {
				return err
			}
			fmt.Println("feedback recorded")
			return nil
		},
	}

	cmd.Flags().IntVarP(&seconds, "seconds", "s", 0, "Offset of the picked clip")

	return cmd
}
