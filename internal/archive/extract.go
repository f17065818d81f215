// Package archive extracts and mounts vendor download containers by
// shelling out to the macOS system tools (unzip, ditto, tar, hdiutil).
// It deliberately implements no archive codecs of its own.
package archive

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// runCommand executes a system tool and returns its combined output.
// Overridable in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// workDir creates a fresh extraction directory next to the archive.
func workDir(archivePath, prefix string) (string, error) {
	dir := filepath.Join(filepath.Dir(archivePath), fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8]))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &ExtractionError{Code: CodeWorkDirUnwritable, Tool: "mkdir", Path: archivePath, Err: err}
	}
	return dir, nil
}

// ExtractZip unpacks a ZIP archive with unzip's quiet mode and returns the
// extraction directory. Non-zero exit status is a hard failure.
func ExtractZip(path string) (string, error) {
	dir, err := workDir(path, "zip")
	if err != nil {
		return "", err
	}

	output, err := runCommand("unzip", "-q", "-o", path, "-d", dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", &ExtractionError{Code: CodeZipExtractFailed, Tool: "unzip", Path: path, Output: string(output), Err: err}
	}
	return dir, nil
}

// ExtractZipPreservingStructure unpacks a ZIP with ditto, which preserves
// resource forks and extended attributes that unzip drops. Some vendor
// archives (notably app bundles signed with extended attributes) need this
// strategy; both share the same failure contract.
func ExtractZipPreservingStructure(path string) (string, error) {
	dir, err := workDir(path, "zip")
	if err != nil {
		return "", err
	}

	output, err := runCommand("ditto", "-x", "-k", path, dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", &ExtractionError{Code: CodeZipExtractFailed, Tool: "ditto", Path: path, Output: string(output), Err: err}
	}
	return dir, nil
}

// ExtractTBZ unpacks a bzip2 tarball and returns the extraction directory.
func ExtractTBZ(path string) (string, error) {
	dir, err := workDir(path, "tbz")
	if err != nil {
		return "", err
	}

	output, err := runCommand("tar", "-xjf", path, "-C", dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", &ExtractionError{Code: CodeTBZExtractFailed, Tool: "tar", Path: path, Output: string(output), Err: err}
	}
	return dir, nil
}
