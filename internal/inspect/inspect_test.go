package inspect

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeAppBundle(t *testing.T, dir, name, bundleID, version, executable string) string {
	t.Helper()
	appPath := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Join(appPath, "Contents", "MacOS"), 0755); err != nil {
		t.Fatalf("mkdir app: %v", err)
	}
	info := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>%s</string>
	<key>CFBundleShortVersionString</key>
	<string>%s</string>
	<key>CFBundleName</key>
	<string>%s</string>
	<key>CFBundleExecutable</key>
	<string>%s</string>
</dict>
</plist>`, bundleID, version, executable, executable)
	if err := os.WriteFile(filepath.Join(appPath, "Contents", "Info.plist"), []byte(info), 0644); err != nil {
		t.Fatalf("write Info.plist: %v", err)
	}
	if err := os.WriteFile(filepath.Join(appPath, "Contents", "MacOS", executable), []byte("machO"), 0755); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	return appPath
}

func TestAppInfo(t *testing.T) {
	app := writeAppBundle(t, t.TempDir(), "Firefox.app", "org.mozilla.firefox", "128.0", "firefox")

	info, err := AppInfo(app)
	if err != nil {
		t.Fatalf("AppInfo failed: %v", err)
	}
	if info.BundleID != "org.mozilla.firefox" || info.Version != "128.0" || info.Name != "firefox" {
		t.Errorf("info = %+v", info)
	}
}

func TestAppVersionForDistinguishesNotFoundFromFailure(t *testing.T) {
	app := writeAppBundle(t, t.TempDir(), "Firefox.app", "org.mozilla.firefox", "128.0", "firefox")

	version, found, err := AppVersionFor(app, "org.mozilla.firefox")
	if err != nil || !found || version != "128.0" {
		t.Errorf("lookup of present ID: version=%q found=%v err=%v", version, found, err)
	}

	// Wrong ID: inspection ran and found nothing, which is not an error.
	_, found, err = AppVersionFor(app, "com.other.app")
	if err != nil {
		t.Errorf("absent ID must not be an error: %v", err)
	}
	if found {
		t.Error("absent ID reported as found")
	}

	// Missing bundle: inspection itself failed.
	if _, _, err := AppVersionFor(filepath.Join(t.TempDir(), "Nope.app"), "x"); err == nil {
		t.Error("expected error for missing bundle")
	}
}

const distributionXML = `<?xml version="1.0" encoding="utf-8"?>
<installer-gui-script minSpecVersion="1">
	<title>Company Portal</title>
	<pkg-ref id="com.microsoft.CompanyPortalMac" version="5.2404.0"/>
	<pkg-ref id="com.microsoft.autoupdate" version="4.70"/>
</installer-gui-script>`

func TestPKGVersionFor(t *testing.T) {
	orig := runCommand
	runCommand = func(name string, args ...string) ([]byte, error) {
		// Simulate pkgutil --expand writing the expanded tree.
		dir := args[len(args)-1]
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		return nil, os.WriteFile(filepath.Join(dir, "Distribution"), []byte(distributionXML), 0644)
	}
	defer func() { runCommand = orig }()

	version, found, err := PKGVersionFor("/tmp/portal.pkg", "com.microsoft.CompanyPortalMac")
	if err != nil {
		t.Fatalf("PKGVersionFor failed: %v", err)
	}
	if !found || version != "5.2404.0" {
		t.Errorf("version=%q found=%v", version, found)
	}

	_, found, err = PKGVersionFor("/tmp/portal.pkg", "com.absent.id")
	if err != nil {
		t.Fatalf("absent ID must not be an error: %v", err)
	}
	if found {
		t.Error("absent ID reported as found")
	}
}

func TestPKGVersionForComponentPackage(t *testing.T) {
	orig := runCommand
	runCommand = func(name string, args ...string) ([]byte, error) {
		dir := args[len(args)-1]
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		pkgInfo := `<pkg-info format-version="2" identifier="com.example.tool" version="2.1" install-location="/">
</pkg-info>`
		return nil, os.WriteFile(filepath.Join(dir, "PackageInfo"), []byte(pkgInfo), 0644)
	}
	defer func() { runCommand = orig }()

	version, found, err := PKGVersionFor("/tmp/tool.pkg", "com.example.tool")
	if err != nil || !found || version != "2.1" {
		t.Errorf("version=%q found=%v err=%v", version, found, err)
	}
}

func TestClassifySlices(t *testing.T) {
	tests := []struct {
		output string
		want   Arch
	}{
		{"arm64", ArchARM64},
		{"x86_64", ArchX8664},
		{"x86_64 arm64", ArchUniversal},
		{"arm64e arm64", ArchARM64},
		{"ppc", ArchUnknown},
		{"", ArchUnknown},
	}
	for _, tt := range tests {
		if got := classifySlices(tt.output); got != tt.want {
			t.Errorf("classifySlices(%q) = %v, want %v", tt.output, got, tt.want)
		}
	}
}

func TestClassifyApp(t *testing.T) {
	app := writeAppBundle(t, t.TempDir(), "Tool.app", "com.example.tool", "1.0", "tool")

	orig := runCommand
	runCommand = func(name string, args ...string) ([]byte, error) {
		if name != "lipo" {
			t.Fatalf("unexpected tool %s", name)
		}
		if filepath.Base(args[1]) != "tool" {
			t.Errorf("lipo pointed at %s, want the declared executable", args[1])
		}
		return []byte("x86_64 arm64\n"), nil
	}
	defer func() { runCommand = orig }()

	arch, err := ClassifyApp(app)
	if err != nil {
		t.Fatalf("ClassifyApp failed: %v", err)
	}
	if arch != ArchUniversal {
		t.Errorf("arch = %v", arch)
	}
}

func TestValidateArchitectures(t *testing.T) {
	dir := t.TempDir()
	armApp := writeAppBundle(t, dir, "Arm.app", "com.example.tool", "1.0", "tool")
	intelApp := writeAppBundle(t, dir, "Intel.app", "com.example.tool", "1.0", "tool")

	orig := runCommand
	runCommand = func(name string, args ...string) ([]byte, error) {
		if filepath.Dir(filepath.Dir(filepath.Dir(args[1]))) == armApp {
			return []byte("arm64"), nil
		}
		return []byte("x86_64"), nil
	}
	defer func() { runCommand = orig }()

	if err := ValidateArchitectures([]string{armApp, intelApp}, []Arch{ArchARM64, ArchX8664}); err != nil {
		t.Errorf("matching architectures rejected: %v", err)
	}

	err := ValidateArchitectures([]string{intelApp, armApp}, []Arch{ArchARM64, ArchX8664})
	var mismatch *ArchMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ArchMismatchError, got %v", err)
	}
	if mismatch.Expected != ArchARM64 || mismatch.Found != ArchX8664 {
		t.Errorf("mismatch detail = %+v", mismatch)
	}
}
