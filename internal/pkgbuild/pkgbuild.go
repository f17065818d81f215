// Package pkgbuild wraps validated app bundles into deployable artifacts:
// a DMG, a single-architecture PKG, or a dual-architecture universal PKG.
// All image and package assembly is delegated to the system tools
// (hdiutil, pkgbuild, lipo, ditto).
package pkgbuild

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/blackwell-systems/labelforge/internal/inspect"
)

// Error code for builders that ran but produced nothing.
const CodeNoOutput = 600

// BuildError reports a builder that completed without yielding an output
// artifact. A missing output is an error signal in its own right, never a
// silent nil.
type BuildError struct {
	Code    int
	Output  string
	Message string
	Err     error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("build error %d: %s: %v (output: %s)", e.Code, e.Message, e.Err, e.Output)
	}
	return fmt.Sprintf("build error %d: %s", e.Code, e.Message)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Result identifies the built artifact and the identity resolved from the
// source bundle while building it.
type Result struct {
	OutputPath string
	AppName    string
	BundleID   string
	Version    string
}

// runCommand executes a build tool. Overridable in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// BuildDMG wraps an app bundle into a compressed read-only disk image at
// outputPath.
func BuildDMG(appPath, outputPath string) (Result, error) {
	info, err := inspect.AppInfo(appPath)
	if err != nil {
		return Result{}, err
	}

	staging, err := stageApp(appPath, "dmg")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(staging)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	output, err := runCommand("hdiutil", "create",
		"-volname", info.Name,
		"-srcfolder", staging,
		"-ov", "-format", "UDZO",
		outputPath)
	if err != nil {
		return Result{}, &BuildError{Code: CodeNoOutput, Message: "hdiutil create failed", Output: string(output), Err: err}
	}
	if err := requireOutput(outputPath, "hdiutil produced no image"); err != nil {
		return Result{}, err
	}
	return Result{OutputPath: outputPath, AppName: info.Name, BundleID: info.BundleID, Version: info.Version}, nil
}

// BuildPKG wraps an app bundle into a component package installing to
// /Applications.
func BuildPKG(appPath, outputPath string) (Result, error) {
	info, err := inspect.AppInfo(appPath)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	output, err := runCommand("pkgbuild",
		"--component", appPath,
		"--install-location", "/Applications",
		"--identifier", info.BundleID,
		"--version", info.Version,
		outputPath)
	if err != nil {
		return Result{}, &BuildError{Code: CodeNoOutput, Message: "pkgbuild failed", Output: string(output), Err: err}
	}
	if err := requireOutput(outputPath, "pkgbuild produced no package"); err != nil {
		return Result{}, err
	}
	return Result{OutputPath: outputPath, AppName: info.Name, BundleID: info.BundleID, Version: info.Version}, nil
}

// BuildUniversalPKG merges an arm64 and an x86_64 copy of the same app into
// one universal bundle, then wraps it into a component package. Both
// bundles must already be signature-, identity-, and architecture-validated
// by the caller.
func BuildUniversalPKG(armAppPath, intelAppPath, outputPath string) (Result, error) {
	// Identity is re-read from the merged bundle in BuildPKG; this early
	// read only rejects an unreadable arm64 bundle before staging starts.
	if _, err := inspect.AppInfo(armAppPath); err != nil {
		return Result{}, err
	}

	// The arm64 bundle is the base; Mach-O files present in both bundles
	// get their slices merged in place.
	staging, err := stageApp(armAppPath, "universal")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(staging)

	merged := filepath.Join(staging, filepath.Base(armAppPath))
	if err := mergeBinaries(merged, intelAppPath); err != nil {
		return Result{}, err
	}

	return BuildPKG(merged, outputPath)
}

// stageApp copies an app bundle into a fresh staging directory with ditto,
// which preserves the extended attributes the code signature depends on.
func stageApp(appPath, prefix string) (string, error) {
	staging, err := os.MkdirTemp("", "labelforge_"+prefix+"_")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	dest := filepath.Join(staging, filepath.Base(appPath))
	output, err := runCommand("ditto", appPath, dest)
	if err != nil {
		os.RemoveAll(staging)
		return "", &BuildError{Code: CodeNoOutput, Message: "ditto staging copy failed", Output: string(output), Err: err}
	}
	return staging, nil
}

// mergeBinaries walks the executable locations of the staged bundle and
// lipo-merges any Mach-O file that also exists in the intel bundle.
func mergeBinaries(mergedAppPath, intelAppPath string) error {
	for _, sub := range []string{
		filepath.Join("Contents", "MacOS"),
		filepath.Join("Contents", "Frameworks"),
	} {
		root := filepath.Join(mergedAppPath, sub)
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", root, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			armFile := filepath.Join(root, entry.Name())
			intelFile := filepath.Join(intelAppPath, sub, entry.Name())
			if _, err := os.Stat(intelFile); err != nil {
				continue
			}
			// Not every file here is Mach-O; skip the ones lipo cannot read.
			if _, err := runCommand("lipo", "-archs", armFile); err != nil {
				continue
			}
			output, err := runCommand("lipo", "-create", armFile, intelFile, "-output", armFile)
			if err != nil {
				return &BuildError{Code: CodeNoOutput, Message: fmt.Sprintf("lipo merge failed for %s", entry.Name()), Output: string(output), Err: err}
			}
		}
	}
	return nil
}

// requireOutput translates a missing output file into a BuildError.
func requireOutput(path, message string) error {
	if _, err := os.Stat(path); err != nil {
		return &BuildError{Code: CodeNoOutput, Message: message, Err: err}
	}
	return nil
}
