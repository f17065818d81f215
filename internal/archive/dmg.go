package archive

import (
	"fmt"
	"os"
	"time"

	"howett.net/plist"
)

// settleDelay is the pause between SLA conversion and attach; hdiutil
// occasionally races its own conversion output. Overridable in tests.
var settleDelay = time.Second

// imageInfo is the subset of `hdiutil imageinfo -plist` we care about.
type imageInfo struct {
	Properties struct {
		SoftwareLicenseAgreement bool `plist:"Software License Agreement"`
	} `plist:"Properties"`
}

// attachInfo is the subset of `hdiutil attach -plist` output.
type attachInfo struct {
	SystemEntities []struct {
		MountPoint string `plist:"mount-point"`
	} `plist:"system-entities"`
}

// MountDMG attaches a disk image and returns its mount point.
//
// SLA-protected images cannot be attached unattended (hdiutil blocks on the
// license prompt), so the image is first converted in place to a plain
// read/write image, which strips the agreement. A short settle delay
// follows conversion before attach.
func MountDMG(path string) (string, error) {
	protected, err := hasSLA(path)
	if err != nil {
		return "", err
	}
	if protected {
		if err := stripSLA(path); err != nil {
			return "", err
		}
		time.Sleep(settleDelay)
	}

	output, err := runCommand("hdiutil", "attach", path, "-nobrowse", "-noverify", "-plist")
	if err != nil {
		return "", &MountError{Code: CodeMountUnparseable, Path: path, Message: fmt.Sprintf("attach failed (output: %s)", output), Err: err}
	}

	var info attachInfo
	if _, err := plist.Unmarshal(output, &info); err != nil {
		return "", &MountError{Code: CodeMountUnparseable, Path: path, Message: "unparseable attach output", Err: err}
	}
	for _, entity := range info.SystemEntities {
		if entity.MountPoint != "" {
			return entity.MountPoint, nil
		}
	}
	return "", &MountError{Code: CodeNoMountPoint, Path: path, Message: "no mount point in attach output"}
}

// UnmountDMG force-detaches a mount point. Callers treat failure as
// non-fatal: by the time this runs the needed files have been copied off
// the volume.
func UnmountDMG(mountPoint string) error {
	output, err := runCommand("hdiutil", "detach", mountPoint, "-force")
	if err != nil {
		return &MountError{Code: CodeDetachFailed, Path: mountPoint, Message: fmt.Sprintf("detach failed (output: %s)", output), Err: err}
	}
	return nil
}

// WithMountedDMG mounts path, runs fn with the mount point, and always
// detaches before returning, whatever fn does. The located artifact must be
// copied off the volume inside fn: its path is invalid once this returns.
func WithMountedDMG(path string, fn func(mountPoint string) error) error {
	mountPoint, err := MountDMG(path)
	if err != nil {
		return err
	}
	defer UnmountDMG(mountPoint)
	return fn(mountPoint)
}

// hasSLA reports whether the image carries a software license agreement.
func hasSLA(path string) (bool, error) {
	output, err := runCommand("hdiutil", "imageinfo", "-plist", path)
	if err != nil {
		return false, &MountError{Code: CodeMountUnparseable, Path: path, Message: fmt.Sprintf("imageinfo failed (output: %s)", output), Err: err}
	}

	var info imageInfo
	if _, err := plist.Unmarshal(output, &info); err != nil {
		return false, &MountError{Code: CodeMountUnparseable, Path: path, Message: "unparseable imageinfo output", Err: err}
	}
	return info.Properties.SoftwareLicenseAgreement, nil
}

// stripSLA converts the image to UDRW format in place, replacing the
// original file. UDRW images carry no license gate.
func stripSLA(path string) error {
	converted := path + ".udrw.dmg"
	output, err := runCommand("hdiutil", "convert", "-quiet", path, "-format", "UDRW", "-o", converted)
	if err != nil {
		return &MountError{Code: CodeSLAConvertFailed, Path: path, Message: fmt.Sprintf("SLA conversion failed (output: %s)", output), Err: err}
	}
	if err := os.Rename(converted, path); err != nil {
		return &MountError{Code: CodeSLAConvertFailed, Path: path, Message: "failed to replace image with converted copy", Err: err}
	}
	return nil
}
