package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/blackwell-systems/labelforge/internal/label"
	"github.com/blackwell-systems/labelforge/internal/normalize"
)

// statOwner reports the numeric owner of a path. Overridable in tests.
var statOwner = func(path string) (uid, gid uint32, err error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, 0, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, fmt.Errorf("no ownership info for %s", path)
	}
	return st.Uid, st.Gid, nil
}

// cachedArtifact returns the path of an already-normalized artifact for
// the task's expected version, or "" when the cache cannot serve the run.
// Reuse requires the manifest to name a version and the cached file to be
// owned by root:wheel; anything else falls through to a fresh download.
func (o *Orchestrator) cachedArtifact(task *label.Task) string {
	if task.Version == "" {
		return ""
	}
	dir := normalize.DefaultOutputPathPolicy.Dir(o.cfg.CacheRoot, task.Label, task.Version)
	path := filepath.Join(dir, task.UploadName(task.Version))

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	uid, gid, err := statOwner(path)
	if err != nil || uid != 0 || gid != 0 {
		return ""
	}
	return path
}

// verifyCacheOwnership removes cached entries under labelDir that are not
// owned by root:wheel. The cache sits on a shared path, so anything a
// non-root user could have written there is not trusted as an installer
// source. A missing labelDir is fine.
func verifyCacheOwnership(labelDir string, log *zap.Logger) error {
	entries, err := os.ReadDir(labelDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		path := filepath.Join(labelDir, entry.Name())
		uid, gid, err := statOwner(path)
		if err != nil {
			return fmt.Errorf("failed to stat cache entry %s: %w", path, err)
		}
		if uid != 0 || gid != 0 {
			log.Warn("removing cache entry with untrusted ownership",
				zap.String("path", path),
				zap.Uint32("uid", uid),
				zap.Uint32("gid", gid))
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("failed to remove untrusted cache entry %s: %w", path, err)
			}
		}
	}
	return nil
}
