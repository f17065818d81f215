package intune

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// VersionExists reports whether any record carries the exact version
// string. This is the idempotence primitive: a version that exists
// remotely is never uploaded again.
func VersionExists(records []AppRecord, version string) bool {
	if version == "" {
		return false
	}
	for _, r := range records {
		if r.Version == version {
			return true
		}
	}
	return false
}

// sortNewestFirst orders records newest-version-first. Versions that parse
// as semver compare semantically; anything else falls back to creation
// time, so vendor version schemes like "2024.3 build 7" still retire in a
// sane order.
func sortNewestFirst(records []AppRecord) []AppRecord {
	sorted := make([]AppRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		vi, erri := semver.NewVersion(sorted[i].Version)
		vj, errj := semver.NewVersion(sorted[j].Version)
		if erri == nil && errj == nil && !vi.Equal(vj) {
			return vi.GreaterThan(vj)
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}

// ApplyRetention supersedes and retires old versions after a successful
// upload:
//
//  1. Any record on a different version that still has active assignments
//     is unassigned, so devices move to the new version.
//  2. With retentionCount newest versions kept, older unassigned records
//     are deleted. A record that is still assigned is never deleted,
//     however old it is.
//
// Returns how many records remain afterwards.
func ApplyRetention(ctx context.Context, client Client, token string, records []AppRecord, newVersion string, retentionCount int, log *zap.Logger) (remaining int, err error) {
	if log == nil {
		log = zap.NewNop()
	}

	for _, r := range records {
		if r.Version != newVersion && r.IsAssigned {
			if err := client.UnassignRecord(ctx, token, r.ID); err != nil {
				return 0, fmt.Errorf("failed to unassign superseded version %s: %w", r.Version, err)
			}
			log.Info("superseded version unassigned",
				zap.String("recordID", r.ID),
				zap.String("version", r.Version))
		}
	}

	sorted := sortNewestFirst(records)
	remaining = len(sorted)
	for i, r := range sorted {
		if i < retentionCount {
			continue
		}
		if r.IsAssigned {
			// Assigned versions are retained regardless of age.
			continue
		}
		if err := client.DeleteRecord(ctx, token, r.ID); err != nil {
			return remaining, fmt.Errorf("failed to delete retired version %s: %w", r.Version, err)
		}
		remaining--
		log.Info("retired version deleted",
			zap.String("recordID", r.ID),
			zap.String("version", r.Version))
	}
	return remaining, nil
}

// PollForVersion re-queries the backend until the version shows up among
// the tracking ID's records, up to attempts polls interval apart. Upload
// confirmation is asynchronous on the backend side; a version that never
// appears means the upload did not take.
func PollForVersion(ctx context.Context, client Client, token, trackingID, version string, attempts int, interval time.Duration) error {
	for attempt := 1; attempt <= attempts; attempt++ {
		records, err := client.FindRecordsByTrackingID(ctx, token, trackingID)
		if err == nil && VersionExists(records, version) {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("remote error %d: version %s not confirmed after %d polls", CodePollTimeout, version, attempts)
}
