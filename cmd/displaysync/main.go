package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "displaysync",
		Short: "Keep a wall of displays in sync with a control panel",
		Long: `displaysync serves control and display pages and keeps every
connected display rendering the same shared state.

Controls change the state over a WebSocket channel; every change is
broadcast to all connected displays and controls. Saved HTML content
and the canvas layout are persisted in the configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "Config file (.yaml, .yml, .json, .jsonc)")

	cmd.AddCommand(
		serveCmd(),
		libraryCmd(),
		versionCmd(),
	)
	return cmd
}
