package app

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCacheFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCollectCacheEntries(t *testing.T) {
	root := t.TempDir()

	writeCacheFile(t, filepath.Join(root, "firefox", "128.0", "Firefox-128.0-arm64.pkg"), 100)
	writeCacheFile(t, filepath.Join(root, "firefox", "127.0", "Firefox-127.0-arm64.pkg"), 90)
	// Flat layout: file directly under the label directory.
	writeCacheFile(t, filepath.Join(root, "companyportal", "CompanyPortal.pkg"), 80)
	// Scratch and hidden entries are not cache contents.
	writeCacheFile(t, filepath.Join(root, "downloads", "tmp-run", "partial.dmg"), 70)
	writeCacheFile(t, filepath.Join(root, "firefox", ".remaining_versions"), 2)

	entries, err := collectCacheEntries(root)
	if err != nil {
		t.Fatalf("collectCacheEntries: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(entries), entries)
	}

	byFile := make(map[string]string)
	for _, e := range entries {
		byFile[e.Filename] = e.Version
	}
	if byFile["Firefox-128.0-arm64.pkg"] != "128.0" {
		t.Errorf("versioned entry = %q, want 128.0", byFile["Firefox-128.0-arm64.pkg"])
	}
	if byFile["CompanyPortal.pkg"] != "-" {
		t.Errorf("flat entry version = %q, want -", byFile["CompanyPortal.pkg"])
	}
	if _, ok := byFile["partial.dmg"]; ok {
		t.Error("scratch download should not be listed")
	}
}

func TestCollectCacheEntriesMissingRoot(t *testing.T) {
	entries, err := collectCacheEntries(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("collectCacheEntries on missing root: %v", err)
	}
	if entries != nil {
		t.Errorf("expected no entries, got %+v", entries)
	}
}
