package inspect

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Arch classifies the slices of a Mach-O binary.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchARM64
	ArchX8664
	ArchUniversal
)

func (a Arch) String() string {
	switch a {
	case ArchARM64:
		return "arm64"
	case ArchX8664:
		return "x86_64"
	case ArchUniversal:
		return "universal"
	default:
		return "unknown"
	}
}

// Error code for architecture validation failures.
const CodeArchMismatch = 502

// ArchMismatchError reports a bundle whose binary does not match the
// architecture expected at its position in a dual-arch pipeline.
type ArchMismatchError struct {
	Path     string
	Expected Arch
	Found    Arch
}

func (e *ArchMismatchError) Error() string {
	return fmt.Sprintf("consistency error %d: %s: expected %s binary, found %s",
		CodeArchMismatch, e.Path, e.Expected, e.Found)
}

// ClassifyApp inspects the main executable of an app bundle and classifies
// its architecture slices. The executable name comes from the bundle's
// Info.plist; the slices from `lipo -archs`.
func ClassifyApp(appPath string) (Arch, error) {
	pl, err := readInfoPlist(appPath)
	if err != nil {
		return ArchUnknown, err
	}
	executable := pl.BundleExecutable
	if executable == "" {
		return ArchUnknown, fmt.Errorf("app bundle %s declares no executable", appPath)
	}

	binary := filepath.Join(appPath, "Contents", "MacOS", executable)
	output, err := runCommand("lipo", "-archs", binary)
	if err != nil {
		return ArchUnknown, fmt.Errorf("lipo -archs failed for %s: %w (output: %s)", binary, err, string(output))
	}
	return classifySlices(string(output)), nil
}

// classifySlices maps lipo's slice list to an Arch.
func classifySlices(output string) Arch {
	var hasARM, hasIntel bool
	for _, slice := range strings.Fields(output) {
		switch slice {
		case "arm64", "arm64e":
			hasARM = true
		case "x86_64":
			hasIntel = true
		}
	}
	switch {
	case hasARM && hasIntel:
		return ArchUniversal
	case hasARM:
		return ArchARM64
	case hasIntel:
		return ArchX8664
	default:
		return ArchUnknown
	}
}

// ValidateArchitectures checks candidate bundles against an expected
// architecture list positionally and fails on the first discrepancy. The
// dual-arch pipeline uses this to confirm that its first download really is
// arm64 and its second really is x86_64 before merging them.
func ValidateArchitectures(appPaths []string, expected []Arch) error {
	if len(appPaths) != len(expected) {
		return fmt.Errorf("consistency error %d: %d bundles but %d expected architectures",
			CodeArchMismatch, len(appPaths), len(expected))
	}
	for i, path := range appPaths {
		found, err := ClassifyApp(path)
		if err != nil {
			return err
		}
		if found != expected[i] && found != ArchUniversal {
			return &ArchMismatchError{Path: path, Expected: expected[i], Found: found}
		}
	}
	return nil
}
