package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.RetentionCount != 2 {
		t.Errorf("expected default retention 2, got %d", s.RetentionCount)
	}
	if s.PollAttempts != 12 {
		t.Errorf("expected default poll attempts 12, got %d", s.PollAttempts)
	}
	if s.PollInterval != 10*time.Second {
		t.Errorf("expected default poll interval 10s, got %v", s.PollInterval)
	}
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"cache_root": "/var/labelforge/cache",
		"retention_count": 5,
		"poll_interval_seconds": 3,
		"tenant_id": "contoso.onmicrosoft.com",
		"webhook_url": "https://example.com/hook"
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.CacheRoot != "/var/labelforge/cache" {
		t.Errorf("cache root not applied: %s", s.CacheRoot)
	}
	if s.RetentionCount != 5 {
		t.Errorf("retention not applied: %d", s.RetentionCount)
	}
	if s.PollInterval != 3*time.Second {
		t.Errorf("poll interval not applied: %v", s.PollInterval)
	}
	if s.PollAttempts != 12 {
		t.Errorf("poll attempts should keep default, got %d", s.PollAttempts)
	}
	if s.TenantID != "contoso.onmicrosoft.com" {
		t.Errorf("tenant not applied: %s", s.TenantID)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed config")
	}
}
