// Package status publishes per-run operation progress for consumption by
// an out-of-process UI: one JSON state file per operation plus a
// best-effort OS broadcast on every change.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is an operation's lifecycle state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// Operation is the ephemeral status record for one pipeline run.
type Operation struct {
	ID              string    `json:"id"`
	Label           string    `json:"label"`
	Status          Status    `json:"status"`
	Phase           string    `json:"phase"`
	PhaseProgress   float64   `json:"phase_progress"`   // 0..1
	OverallProgress float64   `json:"overall_progress"` // 0..1
	Detail          string    `json:"detail,omitempty"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
}

// Reporter is the progress sink the pipeline writes to. All methods are
// fire-and-forget: reporting must never fail a run.
type Reporter interface {
	Start(labelName string) (operationID string)
	Update(operationID string, status Status, phase string, phaseProgress, overallProgress float64, detail string)
	Complete(operationID string)
	Fail(operationID string, errorMessage string)
}

// broadcastName is the darwin notification posted on every state change.
const broadcastName = "com.blackwell.labelforge.status"

// completedTTL is how long finished operations stay on disk before the
// next sweep removes them.
const completedTTL = 5 * time.Minute

// runBroadcast posts the change notification. Overridable in tests.
var runBroadcast = func() {
	// Best effort: notifyutil missing or failing must not affect the run.
	_ = exec.Command("notifyutil", "-p", broadcastName).Run()
}

// FileReporter implements Reporter on a directory of JSON state files.
type FileReporter struct {
	dir string

	mu  sync.Mutex
	ops map[string]*Operation
}

// NewFileReporter creates a reporter writing into dir.
func NewFileReporter(dir string) (*FileReporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create status directory: %w", err)
	}
	return &FileReporter{dir: dir, ops: make(map[string]*Operation)}, nil
}

func (r *FileReporter) Start(labelName string) string {
	r.sweep()

	op := &Operation{
		ID:        uuid.NewString(),
		Label:     labelName,
		Status:    StatusIdle,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.mu.Lock()
	r.ops[op.ID] = op
	r.mu.Unlock()
	r.persist(op)
	return op.ID
}

func (r *FileReporter) Update(operationID string, status Status, phase string, phaseProgress, overallProgress float64, detail string) {
	r.mutate(operationID, func(op *Operation) {
		op.Status = status
		op.Phase = phase
		op.PhaseProgress = clamp(phaseProgress)
		op.OverallProgress = clamp(overallProgress)
		op.Detail = detail
	})
}

func (r *FileReporter) Complete(operationID string) {
	r.mutate(operationID, func(op *Operation) {
		op.Status = StatusCompleted
		op.PhaseProgress = 1
		op.OverallProgress = 1
		op.ExpiresAt = time.Now().Add(completedTTL)
	})
}

func (r *FileReporter) Fail(operationID string, errorMessage string) {
	r.mutate(operationID, func(op *Operation) {
		op.Status = StatusError
		op.Error = errorMessage
		op.ExpiresAt = time.Now().Add(completedTTL)
	})
}

// List returns the operations currently on disk, including those started
// by other processes.
func (r *FileReporter) List() ([]Operation, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	var ops []Operation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}
		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (r *FileReporter) mutate(operationID string, fn func(*Operation)) {
	r.mu.Lock()
	op, ok := r.ops[operationID]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(op)
	op.UpdatedAt = time.Now()
	r.mu.Unlock()
	r.persist(op)
}

func (r *FileReporter) persist(op *Operation) {
	data, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(r.dir, op.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return
	}
	runBroadcast()
}

// sweep removes state files whose operations expired.
func (r *FileReporter) sweep() {
	ops, err := r.List()
	if err != nil {
		return
	}
	now := time.Now()
	for _, op := range ops {
		if !op.ExpiresAt.IsZero() && now.After(op.ExpiresAt) {
			os.Remove(filepath.Join(r.dir, op.ID+".json"))
			r.mu.Lock()
			delete(r.ops, op.ID)
			r.mu.Unlock()
		}
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Nop is a Reporter that discards everything; used where progress has no
// audience.
type Nop struct{}

func (Nop) Start(string) string                                     { return "" }
func (Nop) Update(string, Status, string, float64, float64, string) {}
func (Nop) Complete(string)                                         {}
func (Nop) Fail(string, string)                                     {}
