package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/clipfinder/internal/cli"
	"github.com/cloo-solutions/clipfinder/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clipfinderd",
		Short: "Clipfinder daemon and local tools",
		Long: `Clipfinder indexes a directory of instructional videos and serves timestamped
clip search over HTTP.

Configuration comes from CLIPFINDER_* environment variables (or a .env file);
CLIPFINDER_MEDIA_DIR is required.`,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.RefreshCmd())
	rootCmd.AddCommand(admin.SearchCmd())
	rootCmd.AddCommand(admin.IngestCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if handled, err := cli.HandleHelpJSON(os.Stdout, rootCmd, os.Args[1:]); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
