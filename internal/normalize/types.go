package normalize

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/blackwell-systems/labelforge/internal/label"
)

// DownloadType is the closed set of container kinds a label can declare.
type DownloadType int

const (
	TypePKG DownloadType = iota
	TypePKGInZip
	TypePKGInDMG
	TypePKGInDMGInZip
	TypeZip
	TypeTBZ
	TypeDMG
	TypeAppInDMGInZip
)

var downloadTypeNames = map[string]DownloadType{
	"pkg":           TypePKG,
	"pkginzip":      TypePKGInZip,
	"pkgindmg":      TypePKGInDMG,
	"pkgindmginzip": TypePKGInDMGInZip,
	"zip":           TypeZip,
	"tbz":           TypeTBZ,
	"dmg":           TypeDMG,
	"appindmginzip": TypeAppInDMGInZip,
}

// ParseDownloadType maps a label's download-type tag onto the closed enum.
func ParseDownloadType(tag string) (DownloadType, error) {
	t, ok := downloadTypeNames[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return 0, fmt.Errorf("unsupported download type %q", tag)
	}
	return t, nil
}

func (t DownloadType) String() string {
	for name, v := range downloadTypeNames {
		if v == t {
			return name
		}
	}
	return fmt.Sprintf("downloadtype(%d)", int(t))
}

// TargetsPKG reports whether the authoritative artifact inside this
// container is a flat package rather than an app bundle.
func (t DownloadType) TargetsPKG() bool {
	switch t {
	case TypePKG, TypePKGInZip, TypePKGInDMG, TypePKGInDMGInZip:
		return true
	}
	return false
}

// NormalizedPackage is the single authoritative installable artifact
// produced per task. Dual-arch inputs collapse into one universal package.
type NormalizedPackage struct {
	Path         string
	BundleID     string
	Version      string // ground-truth version; "" when not found in artifact
	VersionFound bool
	DisplayName  string
	Kind         label.DeploymentType
}

// VersionLabel renders the version for paths and operator-facing messages.
// An identifier that was not found inside the artifact renders as "None",
// matching the directory layout operators already know.
func (p *NormalizedPackage) VersionLabel() string {
	return VersionLabel(p.Version, p.VersionFound)
}

// VersionLabel renders a (version, found) pair for display and path use.
func VersionLabel(version string, found bool) string {
	if !found || version == "" {
		return "None"
	}
	return version
}

// OutputPathPolicy names the labels that place their artifact directly
// under the label cache root instead of a per-version subdirectory. One
// such label is known; future exceptions belong here, not inline.
type OutputPathPolicy map[string]bool

// DefaultOutputPathPolicy carries the single documented exception.
var DefaultOutputPathPolicy = OutputPathPolicy{
	"companyportal": true,
}

// Dir returns the output directory for a label's artifact.
func (p OutputPathPolicy) Dir(cacheRoot, labelName, version string) string {
	if p[labelName] {
		return filepath.Join(cacheRoot, labelName)
	}
	return filepath.Join(cacheRoot, labelName, version)
}
