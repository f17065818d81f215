package label

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"howett.net/plist"
)

// labelMetadata is the shape of a label folder's metadata.json, produced by
// the label's refresh script from its Installomator definition.
type labelMetadata struct {
	DisplayName    string `json:"displayName"`
	BundleID       string `json:"bundleId"`
	TeamID         string `json:"expectedTeamId"`
	Version        string `json:"expectedVersion"`
	DeploymentType int    `json:"deploymentType"`
	Architecture   int    `json:"deploymentArch"`
	DualArch       bool   `json:"dualArch"`
	DownloadType   string `json:"downloadType"`
	DownloadURL    string `json:"downloadUrl"`
	DownloadURLX86 string `json:"downloadUrlX86,omitempty"`
	UploadFilename string `json:"uploadFilename,omitempty"`
}

// labelOverrides mirrors the optional overrides.plist an admin can drop in a
// label folder to pin fields the refresh script would otherwise regenerate.
type labelOverrides struct {
	DisplayName    string `plist:"DisplayName,omitempty"`
	TeamID         string `plist:"ExpectedTeamID,omitempty"`
	UploadFilename string `plist:"UploadFilename,omitempty"`
}

// RunLabelScript executes the label folder's refresh script ("{label}.sh")
// through zsh to regenerate metadata.json from the Installomator label
// definition. Returns an error when the script is missing or exits non-zero.
func RunLabelScript(labelsRoot, folderName string) error {
	labelName, _, err := ParseFolderName(folderName)
	if err != nil {
		return err
	}

	dir := filepath.Join(labelsRoot, folderName)
	script := filepath.Join(dir, labelName+".sh")
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("label script not found for %s: %w", folderName, err)
	}

	cmd := exec.Command("/bin/zsh", script)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("label script %s failed: %w (output: %s)", script, err, string(output))
	}
	return nil
}

// LoadTask reads a label folder's metadata.json (plus optional
// overrides.plist) into a Task. The folder name is validated before any file
// is touched.
func LoadTask(labelsRoot, folderName string) (*Task, error) {
	labelName, trackingID, err := ParseFolderName(folderName)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(labelsRoot, folderName)
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", folderName, err)
	}

	var meta labelMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %s: %w", folderName, err)
	}
	if meta.DownloadURL == "" {
		return nil, fmt.Errorf("metadata for %s has no download URL", folderName)
	}

	task := &Task{
		Label:          labelName,
		TrackingID:     trackingID,
		FolderName:     folderName,
		DisplayName:    meta.DisplayName,
		BundleID:       meta.BundleID,
		TeamID:         meta.TeamID,
		Version:        meta.Version,
		Deployment:     DeploymentType(meta.DeploymentType),
		Arch:           Architecture(meta.Architecture),
		DualArch:       meta.DualArch,
		DownloadType:   meta.DownloadType,
		DownloadURL:    meta.DownloadURL,
		DownloadURLX86: meta.DownloadURLX86,
		UploadFilename: meta.UploadFilename,
	}
	if task.DisplayName == "" {
		task.DisplayName = labelName
	}
	if task.DualArch && task.DownloadURLX86 == "" {
		return nil, fmt.Errorf("label %s is dual-arch but has no x86_64 download URL", folderName)
	}

	if err := applyOverrides(dir, task); err != nil {
		return nil, err
	}

	if task.UploadFilename == "" {
		task.UploadFilename = task.UploadName(task.Version)
	}
	return task, nil
}

// applyOverrides merges overrides.plist into the task when present.
func applyOverrides(dir string, task *Task) error {
	data, err := os.ReadFile(filepath.Join(dir, "overrides.plist"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read overrides for %s: %w", task.FolderName, err)
	}

	var ov labelOverrides
	if _, err := plist.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("failed to parse overrides for %s: %w", task.FolderName, err)
	}

	if ov.DisplayName != "" {
		task.DisplayName = ov.DisplayName
	}
	if ov.TeamID != "" {
		task.TeamID = ov.TeamID
	}
	if ov.UploadFilename != "" {
		task.UploadFilename = ov.UploadFilename
	}
	return nil
}
