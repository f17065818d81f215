package normalize

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blackwell-systems/labelforge/internal/codesign"
	"github.com/blackwell-systems/labelforge/internal/inspect"
	"github.com/blackwell-systems/labelforge/internal/label"
	"github.com/blackwell-systems/labelforge/internal/pkgbuild"
)

// acceptTeam is a signature inspector that accepts exactly one team ID.
type acceptTeam string

func (a acceptTeam) Inspect(path string, kind codesign.Kind) (codesign.Result, error) {
	return codesign.Result{Accepted: true, TeamID: string(a)}, nil
}

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

// testNormalizer returns a Normalizer whose tool hooks are inert fakes;
// individual tests override what they exercise.
func testNormalizer(teamID string) *Normalizer {
	n := New(acceptTeam(teamID), nil)
	n.copyOff = func(src, destDir string) (string, error) {
		dest := filepath.Join(destDir, filepath.Base(src))
		if err := os.MkdirAll(dest, 0755); err != nil {
			return "", err
		}
		return dest, nil
	}
	n.validateArchs = func(paths []string, expected []inspect.Arch) error { return nil }
	n.buildDMG = fakeBuilder
	n.buildPKG = fakeBuilder
	n.buildUniversal = func(arm, intel, out string) (pkgbuild.Result, error) {
		return fakeBuilder(arm, out)
	}
	return n
}

func fakeBuilder(appPath, outputPath string) (pkgbuild.Result, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return pkgbuild.Result{}, err
	}
	if err := os.WriteFile(outputPath, []byte("artifact"), 0644); err != nil {
		return pkgbuild.Result{}, err
	}
	return pkgbuild.Result{OutputPath: outputPath, AppName: "App", BundleID: "com.example.app", Version: "read-from-bundle"}, nil
}

func pkgTask(downloadType string) *label.Task {
	return &label.Task{
		Label:        "tool",
		TrackingID:   "T1",
		FolderName:   "tool_T1",
		DisplayName:  "Tool",
		BundleID:     "com.example.tool",
		TeamID:       "GOODTEAM00",
		Deployment:   label.DeployPKG,
		Arch:         label.ArchARM64,
		DownloadType: downloadType,
	}
}

func TestProcessSinglePKGDirect(t *testing.T) {
	n := testNormalizer("GOODTEAM00")
	n.pkgVersionFor = func(pkgPath, id string) (string, bool, error) {
		if id != "com.example.tool" {
			t.Errorf("lookup used id %q, want the expected bundle ID", id)
		}
		return "5.0", true, nil
	}

	cacheRoot := t.TempDir()
	downloaded := touch(t, filepath.Join(t.TempDir(), "Tool.pkg"))
	task := pkgTask("pkg")

	np, err := n.ProcessSingle(task, downloaded, cacheRoot)
	if err != nil {
		t.Fatalf("ProcessSingle failed: %v", err)
	}

	wantPath := filepath.Join(cacheRoot, "tool", "5.0", "Tool-5.0-arm64.pkg")
	if np.Path != wantPath {
		t.Errorf("path = %q, want %q", np.Path, wantPath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("artifact not placed in cache: %v", err)
	}
	if task.ActualVersion != "5.0" || task.LocalPath != wantPath {
		t.Errorf("task not updated: version=%q path=%q", task.ActualVersion, task.LocalPath)
	}
}

func TestProcessSingleSignatureGateStopsBeforeBuild(t *testing.T) {
	n := testNormalizer("OTHERTEAM0") // inspector reports a different team
	built := false
	n.buildPKG = func(appPath, outputPath string) (pkgbuild.Result, error) {
		built = true
		return pkgbuild.Result{}, nil
	}
	n.pkgVersionFor = func(string, string) (string, bool, error) {
		t.Error("identity phase must not run after signature rejection")
		return "", false, nil
	}

	downloaded := touch(t, filepath.Join(t.TempDir(), "Tool.pkg"))
	_, err := n.ProcessSingle(pkgTask("pkg"), downloaded, t.TempDir())

	var sigErr *SignatureError
	if !errors.As(err, &sigErr) {
		t.Fatalf("expected SignatureError, got %v", err)
	}
	if built {
		t.Error("build phase ran despite signature rejection")
	}
}

func TestProcessSingleDMGCopiesOffBeforeUnmount(t *testing.T) {
	n := testNormalizer("GOODTEAM00")

	workDir := t.TempDir()
	downloaded := touch(t, filepath.Join(workDir, "Firefox.dmg"))
	mountPoint := t.TempDir()
	if err := os.MkdirAll(filepath.Join(mountPoint, "Firefox.app"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var copiedInsideMountScope bool
	unmounted := false
	n.withMounted = func(path string, fn func(string) error) error {
		err := fn(mountPoint)
		unmounted = true
		return err
	}
	origCopy := n.copyOff
	n.copyOff = func(src, destDir string) (string, error) {
		if unmounted {
			t.Error("copy-off ran after unmount")
		}
		copiedInsideMountScope = true
		if !strings.HasPrefix(src, mountPoint) {
			t.Errorf("copy source %q not on the mounted volume", src)
		}
		if destDir != workDir {
			t.Errorf("copy destination %q, want sibling of the download %q", destDir, workDir)
		}
		return origCopy(src, destDir)
	}
	n.appVersionFor = func(appPath, id string) (string, bool, error) {
		if strings.HasPrefix(appPath, mountPoint) {
			t.Errorf("identity phase inspected the volume copy %q, want the copied-off path", appPath)
		}
		return "128.0", true, nil
	}

	task := pkgTask("dmg")
	task.Label = "firefox"
	task.DisplayName = "Firefox"
	task.BundleID = "org.mozilla.firefox"
	task.Deployment = label.DeployDMG
	task.Arch = label.ArchUniversal

	cacheRoot := t.TempDir()
	np, err := n.ProcessSingle(task, downloaded, cacheRoot)
	if err != nil {
		t.Fatalf("ProcessSingle failed: %v", err)
	}
	if !copiedInsideMountScope {
		t.Error("artifact was not copied off the volume")
	}
	want := filepath.Join(cacheRoot, "firefox", "128.0", "Firefox-128.0-universal.dmg")
	if np.Path != want {
		t.Errorf("path = %q, want %q", np.Path, want)
	}
	if np.Kind != label.DeployDMG {
		t.Errorf("kind = %v", np.Kind)
	}
}

func TestProcessSingleVersionNotFoundUsesNone(t *testing.T) {
	n := testNormalizer("GOODTEAM00")
	n.pkgVersionFor = func(string, string) (string, bool, error) {
		return "", false, nil
	}

	cacheRoot := t.TempDir()
	downloaded := touch(t, filepath.Join(t.TempDir(), "Tool.pkg"))
	np, err := n.ProcessSingle(pkgTask("pkg"), downloaded, cacheRoot)
	if err != nil {
		t.Fatalf("absent identifier must not fail the pipeline: %v", err)
	}
	if np.VersionFound {
		t.Error("VersionFound should be false")
	}
	if np.VersionLabel() != "None" {
		t.Errorf("version label = %q", np.VersionLabel())
	}
	if !strings.Contains(np.Path, filepath.Join("tool", "None")) {
		t.Errorf("output path %q should use the None version directory", np.Path)
	}
}

func TestProcessSingleActualVersionWins(t *testing.T) {
	n := testNormalizer("GOODTEAM00")
	n.pkgVersionFor = func(string, string) (string, bool, error) {
		return "5.1", true, nil
	}

	task := pkgTask("pkg")
	task.Version = "5.0" // stale manifest claim

	cacheRoot := t.TempDir()
	downloaded := touch(t, filepath.Join(t.TempDir(), "Tool.pkg"))
	np, err := n.ProcessSingle(task, downloaded, cacheRoot)
	if err != nil {
		t.Fatalf("version disagreement must not fail: %v", err)
	}
	if np.Version != "5.1" || task.ActualVersion != "5.1" {
		t.Errorf("actual version must win: np=%q task=%q", np.Version, task.ActualVersion)
	}
	if !strings.Contains(np.Path, filepath.Join("tool", "5.1")) {
		t.Errorf("output path %q built from expected version, want actual", np.Path)
	}
}

func TestProcessSingleLocateErrorCodes(t *testing.T) {
	n := testNormalizer("GOODTEAM00")
	empty := t.TempDir()
	n.extractZipApp = func(string) (string, error) { return empty, nil }
	n.extractZip = func(string) (string, error) { return empty, nil }
	n.extractTBZ = func(string) (string, error) { return empty, nil }

	tests := []struct {
		downloadType string
		wantCode     int
	}{
		{"zip", CodeNoAppInZip},
		{"tbz", CodeNoAppInTBZ},
		{"pkginzip", CodeNoPKGInZip},
		{"pkgindmginzip", CodeNoDMGInZip},
	}
	for _, tt := range tests {
		t.Run(tt.downloadType, func(t *testing.T) {
			task := pkgTask(tt.downloadType)
			_, err := n.ProcessSingle(task, filepath.Join(empty, "x"), t.TempDir())
			var locErr *LocateError
			if !errors.As(err, &locErr) {
				t.Fatalf("expected LocateError, got %v", err)
			}
			if locErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", locErr.Code, tt.wantCode)
			}
		})
	}
}

func TestOutputPathPolicyException(t *testing.T) {
	n := testNormalizer("GOODTEAM00")
	n.pkgVersionFor = func(string, string) (string, bool, error) {
		return "5.2404.0", true, nil
	}

	task := pkgTask("pkg")
	task.Label = "companyportal"
	task.DisplayName = "CompanyPortal"

	cacheRoot := t.TempDir()
	downloaded := touch(t, filepath.Join(t.TempDir(), "CompanyPortal.pkg"))
	np, err := n.ProcessSingle(task, downloaded, cacheRoot)
	if err != nil {
		t.Fatalf("ProcessSingle failed: %v", err)
	}
	want := filepath.Join(cacheRoot, "companyportal", "CompanyPortal-5.2404.0-arm64.pkg")
	if np.Path != want {
		t.Errorf("exempted label path = %q, want artifact directly under label root %q", np.Path, want)
	}
}

func dualTask() *label.Task {
	task := pkgTask("zip")
	task.DualArch = true
	task.Arch = label.ArchUniversal
	return task
}

// dualAppNormalizer surfaces a distinct app per downloaded path.
func dualAppNormalizer(t *testing.T, versions map[string]string) *Normalizer {
	t.Helper()
	n := testNormalizer("GOODTEAM00")
	n.extractZipApp = func(path string) (string, error) {
		dir := filepath.Join(filepath.Dir(path), "extracted_"+filepath.Base(path))
		if err := os.MkdirAll(filepath.Join(dir, "Tool.app"), 0755); err != nil {
			return "", err
		}
		return dir, nil
	}
	n.appVersionFor = func(appPath, id string) (string, bool, error) {
		for key, v := range versions {
			if strings.Contains(appPath, key) {
				return v, true, nil
			}
		}
		return "", false, nil
	}
	return n
}

func TestProcessDualVersionMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	arm := touch(t, filepath.Join(dir, "arm", "tool-arm64.zip"))
	intel := touch(t, filepath.Join(dir, "intel", "tool-x86.zip"))

	n := dualAppNormalizer(t, map[string]string{"arm": "2.1", "intel": "2.0"})
	built := false
	n.buildUniversal = func(a, i, o string) (pkgbuild.Result, error) {
		built = true
		return pkgbuild.Result{}, nil
	}

	_, err := n.ProcessDual(dualTask(), []string{arm, intel}, t.TempDir())
	var consErr *ConsistencyError
	if !errors.As(err, &consErr) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
	if consErr.Code != CodeDualVersionMismatch {
		t.Errorf("code = %d", consErr.Code)
	}
	if !strings.Contains(consErr.Error(), "2.1") || !strings.Contains(consErr.Error(), "2.0") {
		t.Errorf("both versions must be named in the message: %v", consErr)
	}
	if built {
		t.Error("universal build ran despite version mismatch")
	}
}

func TestProcessDualRequiresExactlyTwoArtifacts(t *testing.T) {
	n := testNormalizer("GOODTEAM00")
	for _, paths := range [][]string{nil, {"one"}, {"a", "b", "c"}} {
		_, err := n.ProcessDual(dualTask(), paths, t.TempDir())
		var consErr *ConsistencyError
		if !errors.As(err, &consErr) || consErr.Code != CodeDualCountMismatch {
			t.Errorf("paths=%v: expected count-mismatch error, got %v", paths, err)
		}
	}
}

func TestProcessDualHappyPath(t *testing.T) {
	dir := t.TempDir()
	arm := touch(t, filepath.Join(dir, "arm", "tool-arm64.zip"))
	intel := touch(t, filepath.Join(dir, "intel", "tool-x86.zip"))

	n := dualAppNormalizer(t, map[string]string{"arm": "2.1", "intel": "2.1"})
	var archPaths []string
	n.validateArchs = func(paths []string, expected []inspect.Arch) error {
		archPaths = paths
		if len(expected) != 2 || expected[0] != inspect.ArchARM64 || expected[1] != inspect.ArchX8664 {
			t.Errorf("expected positional [arm64 x86_64], got %v", expected)
		}
		return nil
	}

	task := dualTask()
	cacheRoot := t.TempDir()
	np, err := n.ProcessDual(task, []string{arm, intel}, cacheRoot)
	if err != nil {
		t.Fatalf("ProcessDual failed: %v", err)
	}
	if len(archPaths) != 2 {
		t.Error("architecture validation did not see both bundles")
	}
	if np.Kind != label.DeployPKG {
		t.Errorf("dual-arch output must be a PKG, got %v", np.Kind)
	}
	if !strings.HasSuffix(np.Path, "Tool-2.1-universal.pkg") {
		t.Errorf("path = %q", np.Path)
	}
	if task.LocalPath != np.Path {
		t.Errorf("task not updated with artifact path")
	}
}
