// Package inspect extracts ground-truth identity from downloaded artifacts:
// bundle identifiers, version strings, and binary architectures. The
// vendor manifest's claims are never trusted over what this package reads
// out of the artifact itself.
package inspect

import (
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"howett.net/plist"
)

// runCommand executes a system tool. Overridable in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Info is the identity read out of an artifact.
type Info struct {
	BundleID string
	Version  string
	Name     string
}

// bundlePlist is the subset of an app's Info.plist we read.
type bundlePlist struct {
	BundleID          string `plist:"CFBundleIdentifier"`
	ShortVersion      string `plist:"CFBundleShortVersionString"`
	BundleVersion     string `plist:"CFBundleVersion"`
	BundleName        string `plist:"CFBundleName"`
	BundleExecutable  string `plist:"CFBundleExecutable"`
	BundleDisplayName string `plist:"CFBundleDisplayName"`
}

// AppInfo reads the identity of an app bundle from its Info.plist.
func AppInfo(appPath string) (Info, error) {
	pl, err := readInfoPlist(appPath)
	if err != nil {
		return Info{}, err
	}

	version := pl.ShortVersion
	if version == "" {
		version = pl.BundleVersion
	}
	name := pl.BundleDisplayName
	if name == "" {
		name = pl.BundleName
	}
	if name == "" {
		name = pl.BundleExecutable
	}
	return Info{BundleID: pl.BundleID, Version: version, Name: name}, nil
}

// AppVersionFor looks up the expected bundle identifier inside an app
// bundle. found is false when the bundle carries a different identifier:
// the inspection ran and found nothing, which is distinct from failing.
func AppVersionFor(appPath, expectedBundleID string) (version string, found bool, err error) {
	info, err := AppInfo(appPath)
	if err != nil {
		return "", false, err
	}
	if info.BundleID != expectedBundleID {
		return "", false, nil
	}
	return info.Version, true, nil
}

func readInfoPlist(appPath string) (*bundlePlist, error) {
	data, err := os.ReadFile(filepath.Join(appPath, "Contents", "Info.plist"))
	if err != nil {
		return nil, fmt.Errorf("failed to read Info.plist of %s: %w", appPath, err)
	}
	var pl bundlePlist
	if _, err := plist.Unmarshal(data, &pl); err != nil {
		return nil, fmt.Errorf("failed to parse Info.plist of %s: %w", appPath, err)
	}
	return &pl, nil
}

// distribution is the Distribution XML inside a product archive.
type distribution struct {
	PkgRefs []pkgRef `xml:"pkg-ref"`
}

type pkgRef struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// packageInfo is the PackageInfo XML inside a component package.
type packageInfo struct {
	Identifier string `xml:"identifier,attr"`
	Version    string `xml:"version,attr"`
}

// PKGVersionFor expands a flat package and looks up the expected package
// identifier among its pkg-refs. A package commonly carries several
// identifiers (helpers, updaters); only the one the caller expects counts.
// found is false when the identifier is absent from the package.
func PKGVersionFor(pkgPath, expectedID string) (version string, found bool, err error) {
	dir := filepath.Join(os.TempDir(), "labelforge_pkg_"+uuid.NewString()[:8])
	defer os.RemoveAll(dir)

	// pkgutil refuses to expand onto an existing directory.
	output, err := runCommand("pkgutil", "--expand", pkgPath, dir)
	if err != nil {
		return "", false, fmt.Errorf("pkgutil --expand failed for %s: %w (output: %s)", pkgPath, err, string(output))
	}

	// Product archives carry a Distribution file listing every component.
	if data, err := os.ReadFile(filepath.Join(dir, "Distribution")); err == nil {
		var dist distribution
		if err := xml.Unmarshal(data, &dist); err == nil {
			for _, ref := range dist.PkgRefs {
				if ref.ID == expectedID && ref.Version != "" {
					return ref.Version, true, nil
				}
			}
		}
	}

	// Component packages (or products without a matching pkg-ref) expose
	// PackageInfo files one level down.
	infos, _ := filepath.Glob(filepath.Join(dir, "*", "PackageInfo"))
	if top := filepath.Join(dir, "PackageInfo"); fileExists(top) {
		infos = append(infos, top)
	}
	for _, path := range infos {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var pi packageInfo
		if err := xml.Unmarshal(data, &pi); err != nil {
			continue
		}
		if pi.Identifier == expectedID && pi.Version != "" {
			return pi.Version, true, nil
		}
	}

	return "", false, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
