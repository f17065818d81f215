package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings holds the labelforge configuration, loaded from
// ~/.labelforge/config.json with sane defaults for anything absent.
type Settings struct {
	// CacheRoot is the directory that holds per-label version caches and
	// temp download directories.
	CacheRoot string `json:"cache_root"`

	// LabelsRoot is the directory containing one folder per managed label,
	// named "{label}_{trackingID}".
	LabelsRoot string `json:"labels_root"`

	// RetentionCount is how many of the newest remote versions to keep per
	// tracking ID during reconciliation.
	RetentionCount int `json:"retention_count"`

	// PollAttempts and PollInterval bound the upload-confirmation poll.
	PollAttempts int           `json:"poll_attempts"`
	PollInterval time.Duration `json:"poll_interval"`

	// Microsoft Entra app registration used for Graph authentication.
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// WebhookURL, when set, receives success/failure notification cards.
	WebhookURL string `json:"webhook_url"`

	// DBPath is the sqlite database holding run history and the upload
	// audit trail.
	DBPath string `json:"db_path"`
}

// Dir returns the labelforge home directory ($HOME/.labelforge).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".labelforge"
	}
	return filepath.Join(home, ".labelforge")
}

// Defaults returns a Settings populated with default values.
func Defaults() *Settings {
	dir := Dir()
	return &Settings{
		CacheRoot:      filepath.Join(dir, "cache"),
		LabelsRoot:     filepath.Join(dir, "labels"),
		RetentionCount: 2,
		PollAttempts:   12,
		PollInterval:   10 * time.Second,
		DBPath:         filepath.Join(dir, "labelforge.db"),
	}
}

// Load reads Settings from path. A missing file is not an error: defaults
// are returned so first runs work without setup. Fields absent from the
// file keep their default values.
func Load(path string) (*Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// time.Duration fields come in as seconds in the JSON file.
	var raw struct {
		CacheRoot        string `json:"cache_root"`
		LabelsRoot       string `json:"labels_root"`
		RetentionCount   *int   `json:"retention_count"`
		PollAttempts     *int   `json:"poll_attempts"`
		PollIntervalSecs *int   `json:"poll_interval_seconds"`
		TenantID         string `json:"tenant_id"`
		ClientID         string `json:"client_id"`
		ClientSecret     string `json:"client_secret"`
		WebhookURL       string `json:"webhook_url"`
		DBPath           string `json:"db_path"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if raw.CacheRoot != "" {
		s.CacheRoot = raw.CacheRoot
	}
	if raw.LabelsRoot != "" {
		s.LabelsRoot = raw.LabelsRoot
	}
	if raw.RetentionCount != nil && *raw.RetentionCount > 0 {
		s.RetentionCount = *raw.RetentionCount
	}
	if raw.PollAttempts != nil && *raw.PollAttempts > 0 {
		s.PollAttempts = *raw.PollAttempts
	}
	if raw.PollIntervalSecs != nil && *raw.PollIntervalSecs > 0 {
		s.PollInterval = time.Duration(*raw.PollIntervalSecs) * time.Second
	}
	s.TenantID = raw.TenantID
	s.ClientID = raw.ClientID
	s.ClientSecret = raw.ClientSecret
	s.WebhookURL = raw.WebhookURL
	if raw.DBPath != "" {
		s.DBPath = raw.DBPath
	}

	return s, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}
