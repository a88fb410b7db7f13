package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clipfinder/internal/cli"
	"github.com/cloo-solutions/clipfinder/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clipfinder",
		Short: "Clipfinder CLI - search instructional videos by moment",
		Long: `Clipfinder CLI talks to a running clipfinderd server.

Environment variables:
  CLIPFINDER_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", client.DefaultAPIURL, "API base URL")
	cli.BindEnv(rootCmd, "api-url", client.EnvAPIURL)
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.VideosCmd())
	rootCmd.AddCommand(client.FeedbackCmd())
	rootCmd.AddCommand(client.EvalCmd())

	if handled, err := cli.HandleHelpJSON(os.Stdout, rootCmd, os.Args[1:]); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
