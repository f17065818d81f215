package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/labelforge/internal/config"
	"github.com/blackwell-systems/labelforge/internal/output"
	"github.com/blackwell-systems/labelforge/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchPIDFile     string
	watchLogFile     string
	watchStop        bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch the labels root and process folders as they change",
		Long: `Continuously watch the labels root for new or changed label folders and
run the pipeline for each one.

Runs are serialized: one folder at a time, so concurrent edits can never
race on the cache or on the same Intune records. Event bursts from
editors and sync clients are debounced per folder. A periodic sweep also
re-processes every folder, which picks up new vendor versions for labels
whose scripts do their own version discovery.

Watch modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as background process
  • Stop: Stop a running daemon`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  labelforge watch

  # Run as background daemon
  labelforge watch --daemon

  # Stop running daemon
  labelforge watch --stop

  # Use custom PID and log files
  labelforge watch --daemon --pid-file /tmp/labelforge.pid --log-file /tmp/labelforge.log`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().StringVar(&watchPIDFile, "pid-file", "", "PID file path (default: ~/.labelforge/watch.pid)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "log file path (default: ~/.labelforge/watch.log)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")

	// Hide the internal daemon-child flag from help
	watchCmd.Flags().MarkHidden("daemon-child")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchPIDFile == "" {
		watchPIDFile = filepath.Join(config.Dir(), "watch.pid")
	}
	if watchLogFile == "" {
		watchLogFile = filepath.Join(config.Dir(), "watch.log")
	}

	if watchStop {
		return stopWatchDaemon()
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

	w, err := watcher.New(cfg.LabelsRoot, func(ctx context.Context, folderName string) error {
		_, err := orch.ProcessFolder(ctx, folderName)
		return err
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if watchDaemon {
		var extra []string
		if configPath != "" {
			extra = append(extra, "--config", configPath)
		}
		return startWatchDaemon(w, extra)
	}
	if watchDaemonChild {
		return w.RunDaemon(watchPIDFile)
	}
	return runWatchForeground(w)
}

func stopWatchDaemon() error {
	running, err := watcher.IsDaemonRunning(watchPIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon...")
	spinner.Start()
	if err := watcher.StopDaemon(watchPIDFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")

	return nil
}

func startWatchDaemon(w *watcher.Watcher, extraArgs []string) error {
	spinner := output.NewSpinner("Starting daemon...")
	spinner.Start()
	if err := w.StartDaemon(watchPIDFile, watchLogFile, extraArgs...); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon started")

	fmt.Printf("\nWatching labels root in the background\n")
	fmt.Printf("  PID file: %s\n", watchPIDFile)
	fmt.Printf("  Log file: %s\n", watchLogFile)
	fmt.Printf("\nStop with: labelforge watch --stop\n")
	return nil
}

func runWatchForeground(w *watcher.Watcher) error {
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	fmt.Println("Watching labels root (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	fmt.Println("\nStopping...")
	return w.Stop()
}
