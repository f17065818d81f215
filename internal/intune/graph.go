package intune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/blackwell-systems/labelforge/internal/label"
)

const defaultGraphBase = "https://graph.microsoft.com/beta"

// notesMarker prefixes the tracking ID embedded in each app record's notes
// field; it is how records are correlated across versions and re-uploads.
const notesMarker = "labelforge-id="

// GraphClient is the Microsoft Graph implementation of Client.
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewGraphClient creates a Graph client. logger may be nil.
func NewGraphClient(logger *zap.Logger) *GraphClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphClient{
		baseURL:    defaultGraphBase,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		log:        logger,
	}
}

// SetBaseURL overrides the Graph endpoint (tests).
func (g *GraphClient) SetBaseURL(base string) { g.baseURL = base }

// graphApp is the subset of a mobileApp resource we consume. The version
// lives in different properties depending on the app type.
type graphApp struct {
	ID                   string    `json:"id"`
	DisplayName          string    `json:"displayName"`
	Notes                string    `json:"notes"`
	IsAssigned           bool      `json:"isAssigned"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	PrimaryBundleVersion string    `json:"primaryBundleVersion,omitempty"`
	VersionNumber        string    `json:"versionNumber,omitempty"`
	BuildNumber          string    `json:"buildNumber,omitempty"`
}

func (a *graphApp) version() string {
	for _, v := range []string{a.PrimaryBundleVersion, a.VersionNumber, a.BuildNumber} {
		if v != "" {
			return v
		}
	}
	return ""
}

// FindRecordsByTrackingID lists macOS apps and matches the tracking marker
// in their notes field client-side (Graph cannot filter on notes).
func (g *GraphClient) FindRecordsByTrackingID(ctx context.Context, token, trackingID string) ([]AppRecord, error) {
	marker := notesMarker + trackingID
	var records []AppRecord

	next := g.baseURL + "/deviceAppManagement/mobileApps?$top=100"
	for next != "" {
		var page struct {
			Value    []graphApp `json:"value"`
			NextLink string     `json:"@odata.nextLink"`
		}
		if err := g.do(ctx, token, http.MethodGet, next, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list mobile apps: %w", err)
		}
		for _, app := range page.Value {
			if !strings.Contains(app.Notes, marker) {
				continue
			}
			records = append(records, AppRecord{
				ID:          app.ID,
				DisplayName: app.DisplayName,
				Version:     app.version(),
				TrackingID:  trackingID,
				IsAssigned:  app.IsAssigned,
				CreatedAt:   app.CreatedDateTime,
			})
		}
		next = page.NextLink
	}
	return records, nil
}

// Upload creates the app record for the task's normalized artifact and
// streams the file into its first content version.
func (g *GraphClient) Upload(ctx context.Context, token string, task *label.Task) (string, error) {
	data, err := os.ReadFile(task.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact %s: %w", task.LocalPath, err)
	}

	appType := "#microsoft.graph.macOSPkgApp"
	if task.Deployment == label.DeployDMG {
		appType = "#microsoft.graph.macOSDmgApp"
	}
	shell := map[string]any{
		"@odata.type":          appType,
		"displayName":          task.DisplayName,
		"fileName":             filepath.Base(task.LocalPath),
		"publisher":            task.DisplayName,
		"notes":                notesMarker + task.TrackingID,
		"primaryBundleId":      task.ActualBundleID,
		"primaryBundleVersion": task.ActualVersion,
		"minimumSupportedOperatingSystem": map[string]any{
			"@odata.type": "#microsoft.graph.macOSMinimumOperatingSystem",
			"v11_0":       true,
		},
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, token, http.MethodPost, g.baseURL+"/deviceAppManagement/mobileApps", shell, &created); err != nil {
		return "", fmt.Errorf("failed to create app record: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("remote error %d: app creation returned empty record ID", CodeEmptyUploadID)
	}

	if err := g.uploadContent(ctx, token, created.ID, strings.TrimPrefix(appType, "#"), filepath.Base(task.LocalPath), data); err != nil {
		return "", err
	}

	g.log.Info("artifact uploaded",
		zap.String("label", task.Label),
		zap.String("recordID", created.ID),
		zap.String("version", task.ActualVersion))
	return created.ID, nil
}

// uploadContent runs the content-version flow: create a version, register
// the file, push the bytes to the returned storage URI, then commit.
func (g *GraphClient) uploadContent(ctx context.Context, token, appID, appType, fileName string, data []byte) error {
	base := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s/%s/contentVersions", g.baseURL, appID, appType)

	var version struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, token, http.MethodPost, base, map[string]any{}, &version); err != nil {
		return fmt.Errorf("failed to create content version: %w", err)
	}

	fileReq := map[string]any{
		"@odata.type":   "#microsoft.graph.mobileAppContentFile",
		"name":          fileName,
		"size":          len(data),
		"sizeEncrypted": len(data),
	}
	var file struct {
		ID string `json:"id"`
	}
	filesURL := fmt.Sprintf("%s/%s/files", base, version.ID)
	if err := g.do(ctx, token, http.MethodPost, filesURL, fileReq, &file); err != nil {
		return fmt.Errorf("failed to register content file: %w", err)
	}

	// The storage URI shows up once Azure provisioning finishes.
	fileURL := fmt.Sprintf("%s/%s", filesURL, file.ID)
	var storageURI string
	for attempt := 0; attempt < 10; attempt++ {
		var state struct {
			AzureStorageURI string `json:"azureStorageUri"`
			UploadState     string `json:"uploadState"`
		}
		if err := g.do(ctx, token, http.MethodGet, fileURL, nil, &state); err != nil {
			return fmt.Errorf("failed to query content file state: %w", err)
		}
		if state.AzureStorageURI != "" {
			storageURI = state.AzureStorageURI
			break
		}
		select {
		case <-time.After(3 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if storageURI == "" {
		return fmt.Errorf("storage URI never became available for %s", fileName)
	}

	blobReq, err := http.NewRequestWithContext(ctx, http.MethodPut, storageURI, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build blob request: %w", err)
	}
	blobReq.Header.Set("x-ms-blob-type", "BlockBlob")
	blobResp, err := g.httpClient.Do(blobReq)
	if err != nil {
		return fmt.Errorf("blob upload failed: %w", err)
	}
	io.Copy(io.Discard, blobResp.Body)
	blobResp.Body.Close()
	if blobResp.StatusCode < 200 || blobResp.StatusCode > 299 {
		return fmt.Errorf("blob upload returned HTTP %d", blobResp.StatusCode)
	}

	if err := g.do(ctx, token, http.MethodPost, fileURL+"/commit", map[string]any{}, nil); err != nil {
		return fmt.Errorf("failed to commit content file: %w", err)
	}

	patch := map[string]any{
		"@odata.type":             "#" + appType,
		"committedContentVersion": version.ID,
	}
	appURL := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s", g.baseURL, appID)
	if err := g.do(ctx, token, http.MethodPatch, appURL, patch, nil); err != nil {
		return fmt.Errorf("failed to commit content version: %w", err)
	}
	return nil
}

// DeleteRecord removes an app record.
func (g *GraphClient) DeleteRecord(ctx context.Context, token, recordID string) error {
	url := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s", g.baseURL, recordID)
	if err := g.do(ctx, token, http.MethodDelete, url, nil, nil); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", recordID, err)
	}
	return nil
}

// UnassignRecord clears every group assignment from a record, superseding
// its deployment without deleting the version.
func (g *GraphClient) UnassignRecord(ctx context.Context, token, recordID string) error {
	url := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s/assign", g.baseURL, recordID)
	body := map[string]any{"mobileAppAssignments": []any{}}
	if err := g.do(ctx, token, http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("failed to unassign record %s: %w", recordID, err)
	}
	return nil
}

// UpdateMetadata patches display metadata on an existing record.
func (g *GraphClient) UpdateMetadata(ctx context.Context, token, recordID string, fields map[string]any) error {
	url := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s", g.baseURL, recordID)
	if err := g.do(ctx, token, http.MethodPatch, url, fields, nil); err != nil {
		return fmt.Errorf("failed to update metadata of %s: %w", recordID, err)
	}
	return nil
}

// AssignGroups points a record's required-install assignment at the given
// Entra group IDs.
func (g *GraphClient) AssignGroups(ctx context.Context, token, recordID string, groupIDs []string) error {
	assignments := make([]any, 0, len(groupIDs))
	for _, id := range groupIDs {
		assignments = append(assignments, map[string]any{
			"@odata.type": "#microsoft.graph.mobileAppAssignment",
			"intent":      "required",
			"target": map[string]any{
				"@odata.type": "#microsoft.graph.groupAssignmentTarget",
				"groupId":     id,
			},
		})
	}
	url := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s/assign", g.baseURL, recordID)
	body := map[string]any{"mobileAppAssignments": assignments}
	if err := g.do(ctx, token, http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("failed to assign groups to %s: %w", recordID, err)
	}
	return nil
}

// AssignCategories links a record to Intune app categories.
func (g *GraphClient) AssignCategories(ctx context.Context, token, recordID string, categoryIDs []string) error {
	for _, id := range categoryIDs {
		url := fmt.Sprintf("%s/deviceAppManagement/mobileApps/%s/categories/$ref", g.baseURL, recordID)
		body := map[string]any{
			"@odata.id": fmt.Sprintf("%s/deviceAppManagement/mobileAppCategories/%s", g.baseURL, id),
		}
		if err := g.do(ctx, token, http.MethodPost, url, body, nil); err != nil {
			return fmt.Errorf("failed to assign category %s to %s: %w", id, recordID, err)
		}
	}
	return nil
}

// do executes one Graph call, decoding a JSON response into out when out
// is non-nil.
func (g *GraphClient) do(ctx context.Context, token, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("graph returned HTTP %d: %s", resp.StatusCode, truncate(data, 512))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
