package store

import "time"

// Run statuses recorded in the audit trail.
const (
	RunStatusSucceeded  = "succeeded"
	RunStatusUpToDate   = "up_to_date"
	RunStatusFailed     = "failed"
	RunStatusInProgress = "in_progress"
)

// Run is one pipeline execution for a label folder.
type Run struct {
	ID               string
	Label            string
	DisplayName      string
	RequestedVersion string
	ActualVersion    string
	Status           string
	Message          string
	RemoteID         string
	StartedAt        time.Time
	FinishedAt       *time.Time
}

// Upload records one package pushed to the management service.
type Upload struct {
	ID         int64
	RunID      string
	TrackingID string
	RemoteID   string
	Version    string
	Filename   string
	SizeBytes  int64
	UploadedAt time.Time
}
