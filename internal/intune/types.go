// Package intune talks to the Microsoft Intune (Graph) backend: locating
// the app records that belong to a label, uploading new versions, and
// retiring old ones.
package intune

import (
	"context"
	"time"

	"github.com/blackwell-systems/labelforge/internal/label"
)

// AppRecord is a backend-side app keyed by tracking ID. The set of records
// sharing a tracking ID is the source of truth for which versions exist
// remotely and which must be retired.
type AppRecord struct {
	ID          string
	DisplayName string
	Version     string
	TrackingID  string
	IsAssigned  bool
	CreatedAt   time.Time
}

// Client is the remote-backend surface the orchestrator depends on.
type Client interface {
	// FindRecordsByTrackingID returns every app record carrying the
	// tracking ID, across all versions.
	FindRecordsByTrackingID(ctx context.Context, token, trackingID string) ([]AppRecord, error)

	// Upload pushes the task's normalized artifact and returns the new
	// remote record ID.
	Upload(ctx context.Context, token string, task *label.Task) (string, error)

	// DeleteRecord removes a record entirely.
	DeleteRecord(ctx context.Context, token, recordID string) error

	// UnassignRecord removes all group assignments from a record without
	// deleting it.
	UnassignRecord(ctx context.Context, token, recordID string) error
}

// TokenProvider supplies a bearer token for Graph calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Remote error codes.
const (
	CodeEmptyUploadID = 700
	CodePollTimeout   = 701
)
