package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/labelforge/internal/watcher"
)

var (
	processAll bool

	processCmd = &cobra.Command{
		Use:   "process [folder...]",
		Short: "Run the pipeline for one or more label folders",
		Long: `Process label folders: download the vendor installer, validate its
Developer ID signature, extract the real version, build the deployable
package, and upload it to Intune.

A folder is named "{label}_{trackingID}". Versions that already exist in
Intune are skipped without downloading. After a successful upload,
superseded versions are unassigned and retired down to the configured
retention count.

Folders are processed one at a time, in the order given.`,
		Example: `  # Process a single label
  labelforge process firefox_a1b2c3

  # Process several labels
  labelforge process firefox_a1b2c3 vlc_d4e5f6

  # Process every valid folder under the labels root
  labelforge process --all`,
		RunE: runProcess,
	}
)

func init() {
	processCmd.Flags().BoolVar(&processAll, "all", false, "process every label folder under the labels root")
}

func runProcess(cmd *cobra.Command, args []string) error {
	if !processAll && len(args) == 0 {
		return fmt.Errorf("name at least one label folder or pass --all")
	}
	if processAll && len(args) > 0 {
		return fmt.Errorf("--all cannot be combined with explicit folders")
	}

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	orch, db, err := buildOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	folders := args
	if processAll {
		folders, err = watcher.ListLabelFolders(cfg.LabelsRoot)
		if err != nil {
			return err
		}
		if len(folders) == 0 {
			fmt.Println("No label folders found.")
			return nil
		}
	}

	var failures int
	for _, folder := range folders {
		res, err := orch.ProcessFolder(context.Background(), folder)
		if err != nil {
			failures++
			fmt.Printf("✗ %s: %v\n", folder, err)
			continue
		}
		switch {
		case res.IsUpToDate():
			fmt.Printf("• %s\n", res.Message)
		default:
			fmt.Printf("✓ %s\n", res.Message)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d folders failed", failures, len(folders))
	}
	return nil
}
