package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clipfinder/internal/confidence"
	"github.com/cloo-solutions/clipfinder/internal/ranking"
	"github.com/cloo-solutions/clipfinder/internal/service"
)

func TestGenerateSchema(t *testing.T) {
	root := &cobra.Command{Use: "clipfinder"}
	AddHelpJSONFlag(root)

	eval := &cobra.Command{Use: "eval", Short: "Evaluate", RunE: func(*cobra.Command, []string) error { return nil }}
	eval.Flags().StringP("file", "f", "", "Eval file")
	eval.Flags().Int("k", 5, "Cutoff")
	require.NoError(t, eval.MarkFlagRequired("file"))
	root.AddCommand(eval)

	schema := GenerateSchema(root)
	require.Len(t, schema.Subcommands, 1)
	sub := schema.Subcommands[0]
	assert.Equal(t, "eval", sub.Name)

	flags := map[string]FlagSchema{}
	for _, f := range sub.Flags {
		flags[f.Name] = f
	}
	assert.True(t, flags["file"].Required)
	assert.Equal(t, "f", flags["file"].Shorthand)
	assert.False(t, flags["k"].Required)
	assert.Equal(t, "5", flags["k"].Default)
	_, hasHelpJSON := flags["help-json"]
	assert.False(t, hasHelpJSON)
}

func TestFindTargetCommand(t *testing.T) {
	root := &cobra.Command{Use: "clipfinder"}
	videos := &cobra.Command{Use: "videos"}
	list := &cobra.Command{Use: "list", Aliases: []string{"ls"}}
	videos.AddCommand(list)
	root.AddCommand(videos)

	assert.Equal(t, list, findTargetCommand(root, []string{"videos", "ls"}))
	assert.Equal(t, videos, findTargetCommand(root, []string{"videos", "unknown"}))
	assert.Equal(t, root, findTargetCommand(root, nil))
}

func TestFlagOrEnv(t *testing.T) {
	root := &cobra.Command{Use: "clipfinder"}
	root.PersistentFlags().String("api-url", "http://localhost:8080", "API base URL")
	BindEnv(root, "api-url", "CLIPFINDER_TEST_API_URL")

	t.Setenv("CLIPFINDER_TEST_API_URL", "")
	assert.Equal(t, "http://localhost:8080", FlagOrEnv(root, "api-url"))

	t.Setenv("CLIPFINDER_TEST_API_URL", "http://clips:9000")
	assert.Equal(t, "http://clips:9000", FlagOrEnv(root, "api-url"))

	require.NoError(t, root.PersistentFlags().Set("api-url", "http://flag:7000"))
	assert.Equal(t, "http://flag:7000", FlagOrEnv(root, "api-url"))

	assert.Empty(t, FlagOrEnv(root, "missing"))

	schema := GenerateSchema(root)
	require.Len(t, schema.Flags, 1)
	assert.Equal(t, "CLIPFINDER_TEST_API_URL", schema.Flags[0].Env)
}

func TestHandleHelpJSON(t *testing.T) {
	root := &cobra.Command{Use: "clipfinder"}
	AddHelpJSONFlag(root)
	root.PersistentFlags().String("output", "text", "Output format")
	search := &cobra.Command{Use: "search <query>", Short: "Search clips", Args: cobra.ExactArgs(1), RunE: func(*cobra.Command, []string) error { return nil }}
	search.Flags().Int("limit", 5, "Maximum clips")
	root.AddCommand(search)

	var buf bytes.Buffer
	handled, err := HandleHelpJSON(&buf, root, []string{"search", "--limit", "3"})
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Zero(t, buf.Len())

	handled, err = HandleHelpJSON(&buf, root, []string{"search", "--help-json"})
	require.NoError(t, err)
	require.True(t, handled)

	var schema CommandSchema
	require.NoError(t, json.Unmarshal(buf.Bytes(), &schema))
	assert.Equal(t, "search", schema.Name)
	assert.True(t, schema.Runnable)

	inherited := map[string]bool{}
	for _, f := range schema.Flags {
		inherited[f.Name] = f.Inherited
	}
	assert.False(t, inherited["limit"])
	assert.True(t, inherited["output"])
}

func TestPrintSearch(t *testing.T) {
	out := &service.SearchOutput{
		Query:       "greek word study",
		RankingMode: ranking.ModeHybrid,
		Results: []service.ClipResult{{
			VideoID:   "greek-word-study-basics",
			Title:     "Greek Word Study Basics",
			Timestamp: "1:05",
			Snippet:   "open the lexicon and trace the word",
			URL:       "http://localhost:8080/media/greek.mp4#t=65",
			Score:     0.812,
		}},
		Guidance:         "Start at 1:05.",
		SuggestedQueries: []string{"greek lexicon"},
		Confidence:       &confidence.Report{Tier: confidence.TierHigh},
	}

	var buf bytes.Buffer
	PrintSearch(&buf, out)
	text := buf.String()
	assert.Contains(t, text, "Found 1 clips (hybrid ranking)")
	assert.Contains(t, text, "Greek Word Study Basics @ 1:05 (0.81)")
	assert.Contains(t, text, "#t=65")
	assert.Contains(t, text, "Try: greek lexicon")
}

func TestPrintSearch_NoResults(t *testing.T) {
	var buf bytes.Buffer
	PrintSearch(&buf, &service.SearchOutput{Reason: service.ReasonNoMatchingVideos})
	assert.Contains(t, buf.String(), "No results (no_matching_videos)")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ἀγάπ...", truncate("ἀγάπη ἀγάπη", 7))
}
