// Package normalize turns an arbitrary vendor download (ZIP/TBZ/DMG/PKG,
// possibly nested, single- or dual-architecture) into exactly one
// validated, versioned installer artifact ready for upload.
package normalize

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/blackwell-systems/labelforge/internal/archive"
	"github.com/blackwell-systems/labelforge/internal/codesign"
	"github.com/blackwell-systems/labelforge/internal/inspect"
	"github.com/blackwell-systems/labelforge/internal/label"
	"github.com/blackwell-systems/labelforge/internal/locate"
	"github.com/blackwell-systems/labelforge/internal/pkgbuild"
)

// Normalizer drives extract, locate, validate, and build for one artifact.
// The tool-facing steps are function fields so tests can run the decision
// tree without macOS system tools.
type Normalizer struct {
	inspector codesign.Inspector
	policy    OutputPathPolicy
	log       *zap.Logger

	extractZip    func(path string) (string, error)
	extractZipApp func(path string) (string, error)
	extractTBZ    func(path string) (string, error)
	withMounted   func(path string, fn func(mountPoint string) error) error
	findFiles     func(root, ext string) ([]string, error)
	appVersionFor func(appPath, bundleID string) (string, bool, error)
	pkgVersionFor func(pkgPath, pkgID string) (string, bool, error)
	validateArchs func(appPaths []string, expected []inspect.Arch) error

	buildDMG       func(appPath, outputPath string) (pkgbuild.Result, error)
	buildPKG       func(appPath, outputPath string) (pkgbuild.Result, error)
	buildUniversal func(armAppPath, intelAppPath, outputPath string) (pkgbuild.Result, error)

	copyOff func(src, destDir string) (string, error)
}

// New creates a Normalizer bound to the real system tools. logger may be
// nil.
func New(inspector codesign.Inspector, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		inspector:      inspector,
		policy:         DefaultOutputPathPolicy,
		log:            logger,
		extractZip:     archive.ExtractZip,
		extractZipApp:  archive.ExtractZipPreservingStructure,
		extractTBZ:     archive.ExtractTBZ,
		withMounted:    archive.WithMountedDMG,
		findFiles:      locate.FindFiles,
		appVersionFor:  inspect.AppVersionFor,
		pkgVersionFor:  inspect.PKGVersionFor,
		validateArchs:  inspect.ValidateArchitectures,
		buildDMG:       pkgbuild.BuildDMG,
		buildPKG:       pkgbuild.BuildPKG,
		buildUniversal: pkgbuild.BuildUniversalPKG,
		copyOff:        copyOff,
	}
}

// ProcessSingle normalizes one downloaded artifact into the task's final
// deployable, writing it under {cacheRoot}/{label}/{version}/ (or the
// label root, for labels the output-path policy exempts). The task's
// actual version, bundle ID, and local path are filled in on success.
func (n *Normalizer) ProcessSingle(task *label.Task, downloadedPath, cacheRoot string) (*NormalizedPackage, error) {
	dt, err := ParseDownloadType(task.DownloadType)
	if err != nil {
		return nil, err
	}

	artifact, err := n.surfaceArtifact(dt, downloadedPath)
	if err != nil {
		return nil, err
	}

	version, found, err := n.validateArtifact(task, dt, artifact)
	if err != nil {
		return nil, err
	}

	versionLabel := VersionLabel(version, found)
	outDir := n.policy.Dir(cacheRoot, task.Label, versionLabel)
	outPath := filepath.Join(outDir, task.UploadName(versionLabel))

	var np *NormalizedPackage
	if dt.TargetsPKG() {
		// The located pkg is already the deployable artifact.
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := copyFile(artifact, outPath); err != nil {
			return nil, fmt.Errorf("failed to place package in cache: %w", err)
		}
		np = &NormalizedPackage{
			Path:         outPath,
			BundleID:     task.BundleID,
			Version:      version,
			VersionFound: found,
			DisplayName:  task.DisplayName,
			Kind:         label.DeployPKG,
		}
	} else {
		np, err = n.buildFromApp(task, artifact, outPath, version, found)
		if err != nil {
			return nil, err
		}
	}

	task.ActualVersion = version
	task.ActualBundleID = np.BundleID
	task.LocalPath = np.Path

	n.log.Info("artifact normalized",
		zap.String("label", task.Label),
		zap.String("version", versionLabel),
		zap.String("kind", np.Kind.String()),
		zap.String("path", np.Path))
	return np, nil
}

// ProcessDual normalizes a pair of single-architecture downloads (arm64
// first, x86_64 second) into one universal package. Exactly two artifacts,
// matching extracted versions, independent signature checks, and confirmed
// per-position architectures are all hard requirements here.
func (n *Normalizer) ProcessDual(task *label.Task, downloadedPaths []string, cacheRoot string) (*NormalizedPackage, error) {
	if len(downloadedPaths) != 2 {
		return nil, &ConsistencyError{
			Code:    CodeDualCountMismatch,
			Message: fmt.Sprintf("dual-arch pipeline needs exactly 2 artifacts, got %d", len(downloadedPaths)),
		}
	}

	dt, err := ParseDownloadType(task.DownloadType)
	if err != nil {
		return nil, err
	}
	if dt.TargetsPKG() {
		return nil, fmt.Errorf("dual-arch merge requires app downloads, not %s", dt)
	}

	apps := make([]string, 2)
	versions := make([]string, 2)
	for i, path := range downloadedPaths {
		app, err := n.surfaceArtifact(dt, path)
		if err != nil {
			return nil, err
		}
		if !codesign.Validate(n.inspector, app, task.TeamID, codesign.KindApp) {
			return nil, &SignatureError{Path: app, ExpectedTeamID: task.TeamID}
		}
		version, found, err := n.appVersionFor(app, task.BundleID)
		if err != nil {
			return nil, err
		}
		apps[i] = app
		versions[i] = VersionLabel(version, found)
	}

	// Unlike the single-arch expected-vs-actual reconciliation, a version
	// disagreement between the two architectures is fatal.
	if versions[0] != versions[1] {
		return nil, &ConsistencyError{
			Code:    CodeDualVersionMismatch,
			Message: fmt.Sprintf("arm64 version %s does not match x86_64 version %s", versions[0], versions[1]),
		}
	}

	if err := n.validateArchs(apps, []inspect.Arch{inspect.ArchARM64, inspect.ArchX8664}); err != nil {
		return nil, err
	}

	versionLabel := versions[0]
	outDir := n.policy.Dir(cacheRoot, task.Label, versionLabel)
	outPath := filepath.Join(outDir, task.UploadName(versionLabel))

	res, err := n.buildUniversal(apps[0], apps[1], outPath)
	if err != nil {
		return nil, err
	}
	if res.OutputPath == "" {
		return nil, &pkgbuild.BuildError{Code: pkgbuild.CodeNoOutput, Message: "universal builder returned no output"}
	}

	found := versionLabel != "None"
	np := &NormalizedPackage{
		Path:         res.OutputPath,
		BundleID:     res.BundleID,
		Version:      res.Version,
		VersionFound: found,
		DisplayName:  displayName(task, res),
		Kind:         label.DeployPKG,
	}
	task.ActualVersion = res.Version
	task.ActualBundleID = res.BundleID
	task.LocalPath = res.OutputPath

	n.log.Info("universal artifact normalized",
		zap.String("label", task.Label),
		zap.String("version", versionLabel),
		zap.String("path", np.Path))
	return np, nil
}

// validateArtifact runs the signature gate and the identity inspection,
// then reconciles the manifest's expected version against what the
// artifact actually says.
func (n *Normalizer) validateArtifact(task *label.Task, dt DownloadType, artifact string) (version string, found bool, err error) {
	kind := codesign.KindApp
	if dt.TargetsPKG() {
		kind = codesign.KindPKG
	}
	if !codesign.Validate(n.inspector, artifact, task.TeamID, kind) {
		return "", false, &SignatureError{Path: artifact, ExpectedTeamID: task.TeamID}
	}

	if dt.TargetsPKG() {
		version, found, err = n.pkgVersionFor(artifact, task.BundleID)
	} else {
		version, found, err = n.appVersionFor(artifact, task.BundleID)
	}
	if err != nil {
		return "", false, err
	}

	// Vendor manifests lag reality; the artifact is authoritative. A
	// disagreement is worth a warning but never stops the pipeline.
	if task.Version != "" && found && task.Version != version {
		n.log.Warn("manifest version differs from artifact, using artifact version",
			zap.String("label", task.Label),
			zap.String("expected", task.Version),
			zap.String("actual", version))
	}
	return version, found, nil
}

// buildFromApp dispatches an app bundle to the DMG or PKG builder.
func (n *Normalizer) buildFromApp(task *label.Task, appPath, outPath, version string, found bool) (*NormalizedPackage, error) {
	var res pkgbuild.Result
	var err error
	var kind label.DeploymentType
	if task.Deployment == label.DeployDMG {
		res, err = n.buildDMG(appPath, outPath)
		kind = label.DeployDMG
	} else {
		res, err = n.buildPKG(appPath, outPath)
		kind = label.DeployPKG
	}
	if err != nil {
		return nil, err
	}
	if res.OutputPath == "" {
		return nil, &pkgbuild.BuildError{Code: pkgbuild.CodeNoOutput, Message: "builder returned no output"}
	}

	return &NormalizedPackage{
		Path:         res.OutputPath,
		BundleID:     res.BundleID,
		Version:      version,
		VersionFound: found,
		DisplayName:  displayName(task, res),
		Kind:         kind,
	}, nil
}

// surfaceArtifact is the locate phase: one generic walk parameterized by
// extract strategy and target kind, replacing per-type copies of the same
// switch body.
func (n *Normalizer) surfaceArtifact(dt DownloadType, downloadedPath string) (string, error) {
	switch dt {
	case TypePKG:
		return downloadedPath, nil

	case TypePKGInZip:
		return n.fromArchive(n.extractZip, downloadedPath, "pkg", CodeNoPKGInZip, "zip")

	case TypePKGInDMG:
		return n.fromDMG(downloadedPath, "pkg", CodeNoPKGInDMG, "dmg")

	case TypePKGInDMGInZip:
		dmg, err := n.fromArchive(n.extractZip, downloadedPath, "dmg", CodeNoDMGInZip, "zip")
		if err != nil {
			return "", err
		}
		return n.fromDMG(dmg, "pkg", CodeNoPKGInDMGInZip, "dmg-in-zip")

	case TypeZip:
		return n.fromArchive(n.extractZipApp, downloadedPath, "app", CodeNoAppInZip, "zip")

	case TypeTBZ:
		return n.fromArchive(n.extractTBZ, downloadedPath, "app", CodeNoAppInTBZ, "tbz")

	case TypeDMG:
		return n.fromDMG(downloadedPath, "app", CodeNoAppInDMG, "dmg")

	case TypeAppInDMGInZip:
		dmg, err := n.fromArchive(n.extractZip, downloadedPath, "dmg", CodeNoDMGInZip, "zip")
		if err != nil {
			return "", err
		}
		return n.fromDMG(dmg, "app", CodeNoAppInDMGInZip, "dmg-in-zip")
	}
	return "", fmt.Errorf("unsupported download type %s", dt)
}

// fromArchive extracts with the given strategy and returns the first match
// of the target kind.
func (n *Normalizer) fromArchive(extract func(string) (string, error), path, target string, code int, container string) (string, error) {
	dir, err := extract(path)
	if err != nil {
		return "", err
	}
	matches, err := n.findFiles(dir, target)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", &LocateError{Code: code, Container: container, Target: target, Root: dir}
	}
	return matches[0], nil
}

// fromDMG mounts the image, locates the target, and copies it off the
// volume before the deferred unmount tears the mount point down. The copy
// must complete inside the mount scope: once the volume detaches, the
// located path points at nothing.
func (n *Normalizer) fromDMG(dmgPath, target string, code int, container string) (string, error) {
	var surfaced string
	err := n.withMounted(dmgPath, func(mountPoint string) error {
		matches, err := n.findFiles(mountPoint, target)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return &LocateError{Code: code, Container: container, Target: target, Root: mountPoint}
		}
		copied, err := n.copyOff(matches[0], filepath.Dir(dmgPath))
		if err != nil {
			return err
		}
		surfaced = copied
		return nil
	})
	if err != nil {
		return "", err
	}
	return surfaced, nil
}

func displayName(task *label.Task, res pkgbuild.Result) string {
	if task.DisplayName != "" {
		return task.DisplayName
	}
	return res.AppName
}

// copyOff copies a located artifact off a mounted volume into destDir.
// App bundles go through ditto to keep the attributes their signatures
// depend on; flat files are copied directly.
func copyOff(src, destDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.Base(src))
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if info.IsDir() {
		output, err := exec.Command("ditto", src, dest).CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("ditto copy of %s failed: %w (output: %s)", src, err, string(output))
		}
		return dest, nil
	}
	if err := copyFile(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
