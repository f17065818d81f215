package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/labelforge/internal/output"
)

var (
	cacheCleanLabel string

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect or prune the local package cache",
	}

	cacheListCmd = &cobra.Command{
		Use:   "list",
		Short: "List cached packages",
		Long: `List the normalized packages currently in the local cache.

The cache keeps one file per uploaded version under
{cache_root}/{label}/{version}/; it exists so re-runs and dual-arch
builds do not re-download installers unnecessarily.`,
		Example: `  labelforge cache list`,
		RunE:    runCacheList,
	}

	cacheCleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove cached packages",
		Long: `Remove cached packages for one label, or the entire cache.

Cleaning is safe: the cache is only an optimization, and the next run
rebuilds whatever it needs.`,
		Example: `  # Remove one label's cache
  labelforge cache clean --label firefox

  # Remove everything
  labelforge cache clean`,
		RunE: runCacheClean,
	}
)

func init() {
	cacheCleanCmd.Flags().StringVar(&cacheCleanLabel, "label", "", "clean only this label's cache")
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
}

// scratchDirName is the per-run download area inside the cache root; it
// never holds finished packages.
const scratchDirName = "downloads"

func runCacheList(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	entries, err := collectCacheEntries(cfg.CacheRoot)
	if err != nil {
		return err
	}

	fmt.Print(output.RenderCacheTable(entries))
	return nil
}

// collectCacheEntries walks {cacheRoot}/{label}/... and returns one entry
// per cached file. Files directly under the label directory belong to
// labels with a flat output layout and report their version as "-".
func collectCacheEntries(cacheRoot string) ([]output.CacheEntry, error) {
	labels, err := os.ReadDir(cacheRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache root: %w", err)
	}

	var entries []output.CacheEntry
	for _, labelDir := range labels {
		if !labelDir.IsDir() || labelDir.Name() == scratchDirName || strings.HasPrefix(labelDir.Name(), ".") {
			continue
		}
		labelPath := filepath.Join(cacheRoot, labelDir.Name())

		children, err := os.ReadDir(labelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read label cache %s: %w", labelPath, err)
		}
		for _, child := range children {
			if strings.HasPrefix(child.Name(), ".") {
				continue
			}
			if !child.IsDir() {
				info, err := child.Info()
				if err != nil {
					continue
				}
				entries = append(entries, output.CacheEntry{
					Label:     labelDir.Name(),
					Version:   "-",
					Filename:  child.Name(),
					SizeBytes: info.Size(),
					ModTime:   info.ModTime(),
				})
				continue
			}

			versionPath := filepath.Join(labelPath, child.Name())
			files, err := os.ReadDir(versionPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read version cache %s: %w", versionPath, err)
			}
			for _, f := range files {
				if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
					continue
				}
				info, err := f.Info()
				if err != nil {
					continue
				}
				entries = append(entries, output.CacheEntry{
					Label:     labelDir.Name(),
					Version:   child.Name(),
					Filename:  f.Name(),
					SizeBytes: info.Size(),
					ModTime:   info.ModTime(),
				})
			}
		}
	}
	return entries, nil
}

func runCacheClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	if cacheCleanLabel != "" {
		target := filepath.Join(cfg.CacheRoot, cacheCleanLabel)
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("failed to clean %s: %w", target, err)
		}
		fmt.Printf("✓ Cleaned cache for %s\n", cacheCleanLabel)
		return nil
	}

	labels, err := os.ReadDir(cfg.CacheRoot)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Cache is empty.")
			return nil
		}
		return fmt.Errorf("failed to read cache root: %w", err)
	}
	progress := output.NewProgress(len(labels), "Cleaning cache")
	for _, entry := range labels {
		if err := os.RemoveAll(filepath.Join(cfg.CacheRoot, entry.Name())); err != nil {
			return fmt.Errorf("failed to clean %s: %w", entry.Name(), err)
		}
		progress.Increment()
	}
	progress.Finish()
	fmt.Println("✓ Cache cleaned")
	return nil
}
