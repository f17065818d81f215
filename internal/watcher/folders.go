package watcher

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blackwell-systems/labelforge/internal/label"
)

// ListLabelFolders returns the valid "{label}_{trackingID}" directories
// directly under labelsRoot, sorted by name. Files, hidden entries, and
// malformed names are skipped silently; operators park scratch material
// next to live folders all the time.
func ListLabelFolders(labelsRoot string) ([]string, error) {
	entries, err := os.ReadDir(labelsRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels root: %w", err)
	}

	var folders []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, _, err := label.ParseFolderName(entry.Name()); err != nil {
			continue
		}
		folders = append(folders, entry.Name())
	}
	sort.Strings(folders)
	return folders, nil
}
