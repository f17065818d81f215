// Package locate finds installable artifacts (.app bundles, .pkg, .dmg)
// inside extracted archive trees.
package locate

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// FindFiles recursively searches root for entries with the given extension
// (without the leading dot), skipping hidden files and directories. An
// ".app" is a directory, not a regular file, so the app predicate matches
// directories; all other kinds match regular files.
//
// Results come back shortest-path-first: a shorter path sits closer to the
// archive root and is the preferred candidate when several match.
func FindFiles(root, extension string) ([]string, error) {
	suffix := "." + strings.ToLower(extension)
	wantDir := suffix == ".app"

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.HasSuffix(strings.ToLower(name), suffix) {
			return nil
		}
		if wantDir {
			if !d.IsDir() {
				return nil
			}
			matches = append(matches, path)
			// Nothing installable nests inside an app bundle.
			return filepath.SkipDir
		}
		if d.IsDir() {
			return nil
		}
		matches = append(matches, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return len(matches[i]) < len(matches[j])
	})
	return matches, nil
}
