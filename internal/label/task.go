package label

import (
	"fmt"
	"strings"
)

// DeploymentType selects the final artifact format uploaded to Intune.
type DeploymentType int

const (
	DeployDMG DeploymentType = 0
	DeployPKG DeploymentType = 1
	DeployLOB DeploymentType = 2
)

// String returns the lower-case name used in filenames and logs.
func (d DeploymentType) String() string {
	switch d {
	case DeployDMG:
		return "dmg"
	case DeployPKG:
		return "pkg"
	case DeployLOB:
		return "lob"
	default:
		return fmt.Sprintf("deploymenttype(%d)", int(d))
	}
}

// Extension returns the file extension for the deployment artifact.
func (d DeploymentType) Extension() string {
	if d == DeployDMG {
		return "dmg"
	}
	return "pkg"
}

// Architecture is the target CPU architecture of a deployment.
type Architecture int

const (
	ArchARM64     Architecture = 0
	ArchX8664     Architecture = 1
	ArchUniversal Architecture = 2
)

func (a Architecture) String() string {
	switch a {
	case ArchARM64:
		return "arm64"
	case ArchX8664:
		return "x86_64"
	case ArchUniversal:
		return "universal"
	default:
		return fmt.Sprintf("architecture(%d)", int(a))
	}
}

// Task is one unit of automation work: a single label folder to download,
// normalize, and upload. It is built fresh per run from the label folder's
// metadata and mutated in place as the actual version and artifact path
// become known after extraction.
type Task struct {
	Label      string // Installomator label name, e.g. "firefox"
	TrackingID string // opaque stable ID correlating remote records
	FolderName string // "{label}_{trackingID}"

	DisplayName    string
	BundleID       string // expected bundle/package identifier
	TeamID         string // expected code-signing team identifier
	Version        string // expected version from the vendor manifest, may be ""
	Deployment     DeploymentType
	Arch           Architecture
	DualArch       bool
	DownloadType   string // pkg, pkginzip, pkgindmg, pkgindmginzip, zip, tbz, dmg, appindmginzip
	DownloadURL    string
	DownloadURLX86 string // secondary x86_64 URL when DualArch
	UploadFilename string

	// Filled in during a run.
	ActualVersion  string // ground-truth version extracted from the artifact
	ActualBundleID string
	LocalPath      string // path of the normalized artifact on disk
}

// ParseFolderName splits a "{label}_{trackingID}" folder name. Malformed
// names are rejected here, before any I/O happens on their behalf.
func ParseFolderName(folderName string) (labelName, trackingID string, err error) {
	parts := strings.Split(folderName, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid label folder name %q: want {label}_{trackingID}", folderName)
	}
	return parts[0], parts[1], nil
}

// UploadName returns the canonical upload filename for the given version,
// used when the manifest-supplied filename is stale or absent:
// "{DisplayName}-{version}-{arch}.{ext}" with spaces removed.
func (t *Task) UploadName(version string) string {
	name := strings.ReplaceAll(t.DisplayName, " ", "")
	if name == "" {
		name = t.Label
	}
	arch := t.Arch
	if t.DualArch {
		arch = ArchUniversal
	}
	return fmt.Sprintf("%s-%s-%s.%s", name, version, arch, t.Deployment.Extension())
}
