package app

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/labelforge/internal/config"
	"github.com/blackwell-systems/labelforge/internal/output"
	"github.com/blackwell-systems/labelforge/internal/status"
	"github.com/blackwell-systems/labelforge/internal/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state and operations in progress",
	Long: `Display the watch daemon's state and any pipeline operations currently
in progress or recently finished.

Operation state is shared through files, so this works from any terminal
while the daemon or another labelforge process is running.`,
	Example: `  # Check status
  labelforge status`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	pidFile := watchPIDFile
	if pidFile == "" {
		pidFile = filepath.Join(config.Dir(), "watch.pid")
	}

	running, err := watcher.IsDaemonRunning(pidFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		fmt.Println("Daemon: running")
	} else {
		fmt.Println("Daemon: not running")
	}
	fmt.Println()

	reporter, err := status.NewFileReporter(statusDir())
	if err != nil {
		return err
	}
	ops, err := reporter.List()
	if err != nil {
		return err
	}

	fmt.Print(output.RenderOperationTable(ops))
	return nil
}
