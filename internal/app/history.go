package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/labelforge/internal/output"
)

var (
	historyLabel string
	historyLimit int

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show past pipeline runs",
		Long: `List recorded pipeline runs, newest first, with their outcome and the
version each one produced.

Every run is recorded: successful uploads, skipped up-to-date versions,
and failures with their error message.`,
		Example: `  # Last 20 runs across all labels
  labelforge history

  # All recorded runs for one label
  labelforge history --label firefox --limit 0`,
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().StringVar(&historyLabel, "label", "", "restrict to one label")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(historyLabel, historyLimit)
	if err != nil {
		return err
	}

	fmt.Print(output.RenderRunTable(runs))
	return nil
}
