package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotInitialized indicates the database schema has not been created yet.
var ErrNotInitialized = errors.New("database not initialized: run 'labelforge process' or 'labelforge watch' first")

// wrapSchemaError maps SQLite's missing-table error onto ErrNotInitialized
// so callers can give a useful hint instead of a raw driver error.
func wrapSchemaError(err error) error {
	if err != nil && strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w (%v)", ErrNotInitialized, err)
	}
	return err
}

// Run operations

// BeginRun inserts a run in in_progress state.
func (s *Store) BeginRun(run *Run) error {
	query := `
		INSERT INTO runs (id, label, display_name, requested_version, actual_version, status, message, remote_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		run.ID,
		run.Label,
		run.DisplayName,
		run.RequestedVersion,
		run.ActualVersion,
		run.Status,
		run.Message,
		run.RemoteID,
		run.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run for %s: %w", run.Label, wrapSchemaError(err))
	}

	return nil
}

// SetRunTask fills in the app metadata once the label's task is known.
// Runs begin before their label script has executed, so these fields are
// not available at insert time.
func (s *Store) SetRunTask(id, displayName, requestedVersion string) error {
	query := `
		UPDATE runs
		SET display_name = ?, requested_version = ?
		WHERE id = ?
	`

	_, err := s.db.Exec(query, displayName, requestedVersion, id)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, wrapSchemaError(err))
	}

	return nil
}

// FinishRun records a run's terminal state.
func (s *Store) FinishRun(id, status, message, remoteID, actualVersion string) error {
	query := `
		UPDATE runs
		SET status = ?, message = ?, remote_id = ?, actual_version = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query, status, message, remoteID, actualVersion, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, wrapSchemaError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s not found", id)
	}

	return nil
}

// GetRun retrieves a single run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	query := `
		SELECT id, label, display_name, requested_version, actual_version, status, message, remote_id, started_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, wrapSchemaError(err))
	}

	return run, nil
}

// ListRuns returns the most recent runs, newest first. A non-empty label
// restricts the listing to that label. limit <= 0 means no limit.
func (s *Store) ListRuns(label string, limit int) ([]*Run, error) {
	query := `
		SELECT id, label, display_name, requested_version, actual_version, status, message, remote_id, started_at, finished_at
		FROM runs
	`
	var args []any
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", wrapSchemaError(err))
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt sql.NullString

	err := row.Scan(
		&run.ID,
		&run.Label,
		&run.DisplayName,
		&run.RequestedVersion,
		&run.ActualVersion,
		&run.Status,
		&run.Message,
		&run.RemoteID,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at for %s: %w", run.ID, err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at for %s: %w", run.ID, err)
		}
		run.FinishedAt = &t
	}

	return &run, nil
}

// Upload operations

// InsertUpload records a completed upload.
func (s *Store) InsertUpload(up *Upload) error {
	query := `
		INSERT INTO uploads (run_id, tracking_id, remote_id, version, filename, size_bytes, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		up.RunID,
		up.TrackingID,
		up.RemoteID,
		up.Version,
		up.Filename,
		up.SizeBytes,
		up.UploadedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload for %s: %w", up.TrackingID, wrapSchemaError(err))
	}

	up.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read upload id: %w", err)
	}

	return nil
}

// GetUploads returns the recorded uploads for a tracking ID, newest first.
func (s *Store) GetUploads(trackingID string) ([]*Upload, error) {
	query := `
		SELECT id, run_id, tracking_id, remote_id, version, filename, size_bytes, uploaded_at
		FROM uploads
		WHERE tracking_id = ?
		ORDER BY uploaded_at DESC
	`

	rows, err := s.db.Query(query, trackingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads for %s: %w", trackingID, wrapSchemaError(err))
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		var up Upload
		var uploadedAt string

		err := rows.Scan(
			&up.ID,
			&up.RunID,
			&up.TrackingID,
			&up.RemoteID,
			&up.Version,
			&up.Filename,
			&up.SizeBytes,
			&uploadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload row: %w", err)
		}

		up.UploadedAt, err = time.Parse(time.RFC3339, uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse uploaded_at: %w", err)
		}

		uploads = append(uploads, &up)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating uploads: %w", err)
	}

	return uploads, nil
}

// GetRunCount returns the total number of recorded runs.
func (s *Store) GetRunCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", wrapSchemaError(err))
	}
	return count, nil
}
