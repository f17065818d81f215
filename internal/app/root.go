package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	configPath string

	// RootCmd is the root command for labelforge
	RootCmd = &cobra.Command{
		Use:   "labelforge",
		Short: "Package macOS apps from label definitions and upload them to Intune",
		Long: `labelforge turns Installomator-style label folders into signed, versioned
installer packages and keeps Microsoft Intune in sync with them.

Each managed app lives in a "{label}_{trackingID}" folder under the labels
root. A run downloads the vendor installer, verifies its Developer ID
signature, extracts the real version, builds a deployable pkg or dmg, and
uploads it to Intune. Versions already present remotely are skipped, and
superseded versions are unassigned and retired automatically.

Quick Start:
  1. Create ~/.labelforge/config.json with your Entra app credentials
  2. labelforge process firefox_a1b2c3   # one label
  3. labelforge watch --daemon           # keep everything in sync

Examples:
  # Process every label folder once
  labelforge process --all

  # Watch the labels root continuously
  labelforge watch --daemon

  # See what the pipeline is doing right now
  labelforge status

  # Review past runs
  labelforge history --label firefox

  # Inspect or prune the local package cache
  labelforge cache list
  labelforge cache clean --label firefox`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("labelforge: label-driven packaging and Intune upload")
			fmt.Println()
			fmt.Println("Run 'labelforge process --all' to process every label folder.")
			fmt.Println("Run 'labelforge --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: ~/.labelforge/config.json)")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(processCmd)
	RootCmd.AddCommand(watchCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(historyCmd)
	RootCmd.AddCommand(cacheCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}
