// Package watcher monitors the labels root and dispatches pipeline runs.
//
// Each managed app lives in a "{label}_{trackingID}" folder. The watcher
// listens for filesystem changes under the labels root, debounces event
// bursts per folder, and feeds folders to a single worker so two runs can
// never race on the cache or on the same remote records. A periodic sweep
// re-dispatches every folder even without events, which is how labels
// whose scripts discover new vendor versions get picked up.
//
// Key features:
//   - fsnotify-based change detection with per-folder debouncing
//   - Serialized dispatch (one run at a time)
//   - Periodic full sweeps for event-less version discovery
//   - Daemon mode support with PID file management
//   - Graceful shutdown with SIGTERM/SIGINT handling
//
// Example usage:
//
//	w, err := watcher.New(cfg.LabelsRoot, runFolder, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Start watching in foreground
//	if err := w.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
//
//	// Or start as daemon
//	if err := w.StartDaemon("/tmp/labelforge.pid", "/tmp/labelforge.log"); err != nil {
//		log.Fatal(err)
//	}
package watcher
