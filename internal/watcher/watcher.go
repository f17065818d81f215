package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/blackwell-systems/labelforge/internal/label"
)

// ProcessFunc runs the pipeline for one label folder.
type ProcessFunc func(ctx context.Context, folderName string) error

// Watcher monitors the labels root for folder changes and dispatches
// pipeline runs. Filesystem events are debounced per folder (editors and
// sync clients fire bursts), then queued to a single worker so runs never
// overlap.
type Watcher struct {
	labelsRoot string
	process    ProcessFunc
	log        *zap.Logger

	debounce      time.Duration
	sweepInterval time.Duration

	fsw    *fsnotify.Watcher
	queue  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a Watcher for labelsRoot. process must not be nil.
func New(labelsRoot string, process ProcessFunc, logger *zap.Logger) (*Watcher, error) {
	if process == nil {
		return nil, fmt.Errorf("process function cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		labelsRoot:    labelsRoot,
		process:       process,
		log:           logger,
		debounce:      2 * time.Second,
		sweepInterval: 6 * time.Hour,
		queue:         make(chan string, 64),
		stopCh:        make(chan struct{}),
		pending:       make(map[string]*time.Timer),
	}, nil
}

// SetDebounce adjusts the per-folder settle delay (useful for testing).
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// SetSweepInterval adjusts how often every folder is re-dispatched even
// without filesystem events, so labels with version-checking scripts pick
// up new vendor releases.
func (w *Watcher) SetSweepInterval(d time.Duration) { w.sweepInterval = d }

// Start begins watching. It sweeps all existing folders once so a freshly
// started watcher converges immediately, then reacts to events. fsnotify
// watches are not recursive, so every label folder is registered
// individually; without that, the refresh script rewriting a folder's
// metadata.json would never produce an event.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fsw.Add(w.labelsRoot); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.labelsRoot, err)
	}
	w.fsw = fsw

	folders, err := ListLabelFolders(w.labelsRoot)
	if err != nil {
		fsw.Close()
		return err
	}
	for _, folder := range folders {
		w.watchFolder(filepath.Join(w.labelsRoot, folder))
	}

	w.wg.Add(2)
	go w.runEventLoop()
	go w.runWorker()

	w.Sweep()
	return nil
}

// Stop halts the watcher. In-flight runs finish; queued folders are
// dropped.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	if w.fsw != nil {
		w.fsw.Close()
	}

	w.mu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}

// Sweep enqueues every valid label folder under the labels root.
func (w *Watcher) Sweep() {
	folders, err := ListLabelFolders(w.labelsRoot)
	if err != nil {
		w.log.Warn("failed to sweep labels root", zap.Error(err))
		return
	}
	for _, folder := range folders {
		w.enqueue(folder)
	}
}

func (w *Watcher) runEventLoop() {
	defer w.wg.Done()

	sweepTicker := time.NewTicker(w.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			folder, ok := w.folderFor(event.Name)
			if !ok {
				continue
			}
			// A folder created under the root after startup needs its own
			// watch before edits inside it are visible.
			if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == w.labelsRoot {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watchFolder(event.Name)
				}
			}
			w.scheduleDispatch(folder)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", zap.Error(err))

		case <-sweepTicker.C:
			w.Sweep()

		case <-w.stopCh:
			return
		}
	}
}

// folderFor maps an event path to the label folder it belongs to, and
// rejects anything that is not a valid "{label}_{trackingID}" name.
func (w *Watcher) folderFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.labelsRoot, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	folder := strings.Split(filepath.ToSlash(rel), "/")[0]
	if strings.HasPrefix(folder, ".") {
		return "", false
	}
	if _, _, err := label.ParseFolderName(folder); err != nil {
		return "", false
	}
	return folder, true
}

// watchFolder registers one label folder with fsnotify. Failures are
// logged, not fatal; the periodic sweep still covers an unwatched folder.
func (w *Watcher) watchFolder(path string) {
	if err := w.fsw.Add(path); err != nil {
		w.log.Warn("failed to watch label folder",
			zap.String("path", path),
			zap.Error(err))
	}
}

// scheduleDispatch arms (or re-arms) the folder's debounce timer.
func (w *Watcher) scheduleDispatch(folder string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[folder]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.pending[folder] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, folder)
		w.mu.Unlock()
		w.enqueue(folder)
	})
}

func (w *Watcher) enqueue(folder string) {
	select {
	case w.queue <- folder:
	case <-w.stopCh:
	default:
		w.log.Warn("dispatch queue full, dropping", zap.String("folder", folder))
	}
}

func (w *Watcher) runWorker() {
	defer w.wg.Done()

	for {
		select {
		case folder := <-w.queue:
			w.log.Info("dispatching label folder", zap.String("folder", folder))
			if err := w.process(context.Background(), folder); err != nil {
				w.log.Error("run failed",
					zap.String("folder", folder),
					zap.Error(err))
			}
		case <-w.stopCh:
			return
		}
	}
}
