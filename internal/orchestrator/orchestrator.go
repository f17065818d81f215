// Package orchestrator drives one label folder through the full pipeline:
// refresh metadata, check the backend for the expected version, download,
// normalize, upload, confirm, and retire superseded versions.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blackwell-systems/labelforge/internal/codesign"
	"github.com/blackwell-systems/labelforge/internal/config"
	"github.com/blackwell-systems/labelforge/internal/download"
	"github.com/blackwell-systems/labelforge/internal/intune"
	"github.com/blackwell-systems/labelforge/internal/label"
	"github.com/blackwell-systems/labelforge/internal/normalize"
	"github.com/blackwell-systems/labelforge/internal/notify"
	"github.com/blackwell-systems/labelforge/internal/output"
	"github.com/blackwell-systems/labelforge/internal/status"
	"github.com/blackwell-systems/labelforge/internal/store"
)

// Outcome is a run's terminal state.
type Outcome int

const (
	// Succeeded means a new version was uploaded and confirmed remotely.
	Succeeded Outcome = iota
	// AlreadyUpToDate means the version already exists remotely and
	// nothing was uploaded.
	AlreadyUpToDate
	// Failed means the run stopped on an error.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case AlreadyUpToDate:
		return "up to date"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what a run reports back to its caller.
type Result struct {
	Outcome     Outcome
	Message     string
	DisplayName string
	Version     string
	RemoteID    string
}

// markerFile records, inside the label's cache directory, how many remote
// versions remained after the last reconciliation.
const markerFile = ".remaining_versions"

// Orchestrator wires the pipeline stages together. The tool-facing stages
// are held as function fields so runs can be exercised without network,
// zsh, or macOS tooling.
type Orchestrator struct {
	cfg      *config.Settings
	client   intune.Client
	tokens   intune.TokenProvider
	reporter status.Reporter
	notifier notify.Notifier
	db       *store.Store
	log      *zap.Logger

	runLabelScript func(labelsRoot, folderName string) error
	loadTask       func(labelsRoot, folderName string) (*label.Task, error)
	downloadFile   func(ctx context.Context, destDir string, req download.Request) (string, error)
	processSingle  func(task *label.Task, downloadedPath, cacheRoot string) (*normalize.NormalizedPackage, error)
	processDual    func(task *label.Task, downloadedPaths []string, cacheRoot string) (*normalize.NormalizedPackage, error)
	pollForVersion func(ctx context.Context, client intune.Client, token, trackingID, version string, attempts int, interval time.Duration) error
}

// New builds an Orchestrator with the real pipeline stages. db and
// notifier may be nil; reporter may be nil for no progress reporting.
func New(cfg *config.Settings, client intune.Client, tokens intune.TokenProvider, reporter status.Reporter, notifier notify.Notifier, db *store.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = status.Nop{}
	}

	dl := download.New(logger)
	norm := normalize.New(codesign.ToolInspector{}, logger)

	return &Orchestrator{
		cfg:      cfg,
		client:   client,
		tokens:   tokens,
		reporter: reporter,
		notifier: notifier,
		db:       db,
		log:      logger,

		runLabelScript: label.RunLabelScript,
		loadTask:       label.LoadTask,
		downloadFile:   dl.Download,
		processSingle:  norm.ProcessSingle,
		processDual:    norm.ProcessDual,
		pollForVersion: intune.PollForVersion,
	}
}

// ProcessFolder runs the pipeline for one "{label}_{trackingID}" folder
// under the configured labels root. The returned Result is meaningful for
// every outcome; err is non-nil exactly when Result.Outcome is Failed.
func (o *Orchestrator) ProcessFolder(ctx context.Context, folderName string) (Result, error) {
	labelName, trackingID, err := label.ParseFolderName(folderName)
	if err != nil {
		return Result{Outcome: Failed, Message: err.Error()}, err
	}

	opID := o.reporter.Start(labelName)
	runID := uuid.NewString()
	o.beginAudit(runID, labelName)

	res, err := o.run(ctx, opID, runID, folderName, labelName, trackingID)
	if err != nil {
		o.reporter.Fail(opID, err.Error())
		o.finishAudit(runID, store.RunStatusFailed, res)
		o.sendNotification(ctx, labelName, res, false)
		return res, err
	}

	o.reporter.Complete(opID)
	auditStatus := store.RunStatusSucceeded
	if res.Outcome == AlreadyUpToDate {
		auditStatus = store.RunStatusUpToDate
	} else {
		o.sendNotification(ctx, labelName, res, true)
	}
	o.finishAudit(runID, auditStatus, res)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, opID, runID, folderName, labelName, trackingID string) (res Result, err error) {
	o.reporter.Update(opID, status.StatusProcessing, "metadata", 0, 0.05, "refreshing label metadata")

	if err := o.runLabelScript(o.cfg.LabelsRoot, folderName); err != nil {
		return Result{Outcome: Failed, Message: err.Error()}, err
	}
	task, err := o.loadTask(o.cfg.LabelsRoot, folderName)
	if err != nil {
		return Result{Outcome: Failed, Message: err.Error()}, err
	}
	res.DisplayName = task.DisplayName
	o.setAuditTask(runID, task)

	token, err := o.tokens.Token(ctx)
	if err != nil {
		err = fmt.Errorf("failed to authenticate: %w", err)
		return failed(res, task, err), err
	}

	records, err := o.client.FindRecordsByTrackingID(ctx, token, trackingID)
	if err != nil {
		err = fmt.Errorf("failed to query existing versions: %w", err)
		return failed(res, task, err), err
	}

	// First idempotence gate: when the vendor manifest names the version,
	// skip the download entirely if it is already remote.
	if task.Version != "" && intune.VersionExists(records, task.Version) {
		res.Outcome = AlreadyUpToDate
		res.Version = task.Version
		res.Message = fmt.Sprintf("%s %s already exists in Intune.", task.DisplayName, task.Version)
		o.log.Info("version already remote, skipping download",
			zap.String("label", labelName),
			zap.String("version", task.Version))
		return res, nil
	}

	labelCacheDir := filepath.Join(o.cfg.CacheRoot, labelName)
	if err := verifyCacheOwnership(labelCacheDir, o.log); err != nil {
		return failed(res, task, err), err
	}

	if cached := o.cachedArtifact(task); cached != "" {
		// A correctly-owned artifact already normalized for the expected
		// version makes the download and normalize steps moot.
		task.ActualVersion = task.Version
		task.LocalPath = cached
		o.log.Info("reusing cached artifact",
			zap.String("label", labelName),
			zap.String("path", cached))
		o.reporter.Update(opID, status.StatusProcessing, "cache", 1, 0.5, cached)
	} else {
		// Downloads land in a per-run scratch directory that is always
		// removed, success or not. Normalized artifacts live in the cache
		// proper and survive the run.
		scratchDir := filepath.Join(o.cfg.CacheRoot, "downloads", uuid.NewString())
		if err := os.MkdirAll(scratchDir, 0755); err != nil {
			err = fmt.Errorf("failed to create download directory: %w", err)
			return failed(res, task, err), err
		}
		defer os.RemoveAll(scratchDir)

		if _, err := o.fetchAndNormalize(ctx, opID, task, scratchDir); err != nil {
			return failed(res, task, err), err
		}
	}

	// Second idempotence gate: the version extracted from the artifact is
	// ground truth and may differ from the manifest's. The download can
	// take minutes, so the backend is queried again; an upload that landed
	// in the meantime must be visible here, not just the pre-download
	// snapshot. The upload filename is refreshed to match.
	records, err = o.client.FindRecordsByTrackingID(ctx, token, trackingID)
	if err != nil {
		err = fmt.Errorf("failed to re-query existing versions: %w", err)
		return failed(res, task, err), err
	}
	actual := normalize.VersionLabel(task.ActualVersion, task.ActualVersion != "")
	if task.ActualVersion != "" && intune.VersionExists(records, task.ActualVersion) {
		res.Outcome = AlreadyUpToDate
		res.Version = task.ActualVersion
		res.Message = fmt.Sprintf("%s %s already exists in Intune.", task.DisplayName, task.ActualVersion)
		o.log.Info("extracted version already remote, skipping upload",
			zap.String("label", labelName),
			zap.String("version", task.ActualVersion))
		return res, nil
	}
	task.UploadFilename = task.UploadName(actual)

	o.reporter.Update(opID, status.StatusUploading, "upload", 0, 0.7, task.UploadFilename)
	remoteID, err := o.client.Upload(ctx, token, task)
	if err != nil {
		err = fmt.Errorf("failed to upload %s: %w", task.UploadFilename, err)
		return failed(res, task, err), err
	}
	res.RemoteID = remoteID
	o.recordUpload(runID, task, remoteID, task.LocalPath)

	o.reporter.Update(opID, status.StatusUploading, "confirm", 0, 0.85, "waiting for backend to report the new version")
	if err := o.pollForVersion(ctx, o.client, token, trackingID, task.ActualVersion, o.cfg.PollAttempts, o.cfg.PollInterval); err != nil {
		// The record exists but never surfaced with the expected version.
		// Leaving it behind would strand a half-registered app, so remove
		// it before failing the run.
		if delErr := o.client.DeleteRecord(ctx, token, remoteID); delErr != nil {
			o.log.Warn("failed to delete unconfirmed record",
				zap.String("remote_id", remoteID),
				zap.Error(delErr))
		}
		return failed(res, task, err), err
	}

	o.reporter.Update(opID, status.StatusUploading, "retire", 0, 0.95, "retiring superseded versions")
	refreshed, err := o.client.FindRecordsByTrackingID(ctx, token, trackingID)
	if err != nil {
		err = fmt.Errorf("failed to re-query records for retention: %w", err)
		return failed(res, task, err), err
	}
	remaining, err := intune.ApplyRetention(ctx, o.client, token, refreshed, task.ActualVersion, o.cfg.RetentionCount, o.log)
	if err != nil {
		return failed(res, task, err), err
	}
	o.writeRetentionMarker(labelCacheDir, remaining)

	res.Outcome = Succeeded
	res.Version = task.ActualVersion
	res.Message = fmt.Sprintf("%s %s uploaded to Intune.", task.DisplayName, actual)
	return res, nil
}

// fetchAndNormalize downloads the artifact (or the arm64/x86_64 pair) and
// runs it through normalization, leaving the deployable in the cache.
func (o *Orchestrator) fetchAndNormalize(ctx context.Context, opID string, task *label.Task, scratchDir string) (*normalize.NormalizedPackage, error) {
	progressFunc := func(bar *output.ByteProgress) func(written, total int64) {
		return func(written, total int64) {
			bar.Update(written, total)
			if total > 0 {
				o.reporter.Update(opID, status.StatusDownloading, "download",
					float64(written)/float64(total), 0.1+0.3*float64(written)/float64(total), "")
			}
		}
	}

	if !task.DualArch {
		o.reporter.Update(opID, status.StatusDownloading, "download", 0, 0.1, task.DownloadURL)
		bar := output.NewByteProgress(task.DisplayName)
		path, err := o.downloadFile(ctx, scratchDir, download.Request{
			URL:         task.DownloadURL,
			Label:       task.Label,
			DisplayName: task.DisplayName,
			Version:     task.Version,
			OnProgress:  progressFunc(bar),
		})
		if err != nil {
			return nil, err
		}
		bar.Finish()
		o.reporter.Update(opID, status.StatusProcessing, "normalize", 0, 0.5, "")
		return o.processSingle(task, path, o.cfg.CacheRoot)
	}

	// Dual arch: arm64 first, then x86_64, into separate directories so
	// identical vendor filenames cannot collide.
	archNames := []string{"arm64", "x86_64"}
	var paths []string
	for i, url := range []string{task.DownloadURL, task.DownloadURLX86} {
		dest := filepath.Join(scratchDir, fmt.Sprintf("arch%d", i))
		if err := os.MkdirAll(dest, 0755); err != nil {
			return nil, fmt.Errorf("failed to create download directory: %w", err)
		}
		o.reporter.Update(opID, status.StatusDownloading, "download", 0, 0.1+0.15*float64(i), url)
		bar := output.NewByteProgress(fmt.Sprintf("%s (%s)", task.DisplayName, archNames[i]))
		path, err := o.downloadFile(ctx, dest, download.Request{
			URL:         url,
			Label:       task.Label,
			DisplayName: task.DisplayName,
			Version:     task.Version,
			OnProgress:  progressFunc(bar),
		})
		if err != nil {
			return nil, err
		}
		bar.Finish()
		paths = append(paths, path)
	}
	o.reporter.Update(opID, status.StatusProcessing, "normalize", 0, 0.5, "")
	return o.processDual(task, paths, o.cfg.CacheRoot)
}

// writeRetentionMarker is best effort; a failed marker write never fails
// the run.
func (o *Orchestrator) writeRetentionMarker(labelCacheDir string, remaining int) {
	if err := os.MkdirAll(labelCacheDir, 0755); err != nil {
		o.log.Warn("failed to create label cache directory for marker", zap.Error(err))
		return
	}
	path := filepath.Join(labelCacheDir, markerFile)
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", remaining)), 0644); err != nil {
		o.log.Warn("failed to write retention marker", zap.String("path", path), zap.Error(err))
	}
}

func (o *Orchestrator) sendNotification(ctx context.Context, labelName string, res Result, success bool) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, notify.Event{
		Label:       labelName,
		DisplayName: res.DisplayName,
		Version:     res.Version,
		Success:     success,
		Message:     res.Message,
	})
}

func (o *Orchestrator) beginAudit(runID, labelName string) {
	if o.db == nil {
		return
	}
	err := o.db.BeginRun(&store.Run{
		ID:        runID,
		Label:     labelName,
		Status:    store.RunStatusInProgress,
		StartedAt: time.Now(),
	})
	if err != nil {
		o.log.Warn("failed to record run start", zap.Error(err))
	}
}

func (o *Orchestrator) finishAudit(runID, runStatus string, res Result) {
	if o.db == nil {
		return
	}
	if err := o.db.FinishRun(runID, runStatus, res.Message, res.RemoteID, res.Version); err != nil {
		o.log.Warn("failed to record run result", zap.Error(err))
	}
}

func (o *Orchestrator) setAuditTask(runID string, task *label.Task) {
	if o.db == nil {
		return
	}
	if err := o.db.SetRunTask(runID, task.DisplayName, task.Version); err != nil {
		o.log.Warn("failed to record task metadata", zap.Error(err))
	}
}

func (o *Orchestrator) recordUpload(runID string, task *label.Task, remoteID, artifactPath string) {
	if o.db == nil {
		return
	}
	var size int64
	if info, err := os.Stat(artifactPath); err == nil {
		size = info.Size()
	}
	err := o.db.InsertUpload(&store.Upload{
		RunID:      runID,
		TrackingID: task.TrackingID,
		RemoteID:   remoteID,
		Version:    task.ActualVersion,
		Filename:   task.UploadFilename,
		SizeBytes:  size,
		UploadedAt: time.Now(),
	})
	if err != nil {
		o.log.Warn("failed to record upload", zap.Error(err))
	}
}

// failed composes a terminal failure. The message always names the app
// and, when one is known, the version the run was attempting; the version
// extracted from the artifact wins over the manifest's.
func failed(res Result, task *label.Task, err error) Result {
	res.Outcome = Failed

	name := task.DisplayName
	if name == "" {
		name = task.Label
	}
	version := task.ActualVersion
	if version == "" {
		version = task.Version
	}
	res.Version = version

	if version != "" {
		res.Message = fmt.Sprintf("%s %s: %v", name, version, err)
	} else {
		res.Message = fmt.Sprintf("%s: %v", name, err)
	}
	return res
}

// IsUpToDate reports whether an error-free run was a no-op.
func (r Result) IsUpToDate() bool { return r.Outcome == AlreadyUpToDate }
