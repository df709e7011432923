package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/archive"
	"github.com/glorpus-work/kpm/pkg/download"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/fsutil"
	"github.com/glorpus-work/kpm/pkg/model"
)

// Cleanup removes what interrupted or failed runs leave below the install
// root: staging and backup directories, partial downloads, archives kept
// after failed extractions, and package directories emptied by that. A backup
// whose package directory is missing is restored instead of removed.
// It returns the removed paths and the bytes they held. With dryRun nothing
// is changed.
func (o *Orchestrator) Cleanup(ctx context.Context, dryRun bool) ([]string, int64, error) {
	root := o.Manifests.Root()
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, 0, nil
		}
		return nil, 0, errors.Wrapf(errors.ErrFilesystem, "failed to read install root %s: %v", root, err)
	}

	c := &cleaner{dryRun: dryRun, removed: []string{}}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return c.removed, c.freed, err
		}
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(root, name)

		if lo, ok := archive.ParseLeftover(name); ok {
			if lo.Backup && o.restoreBackup(path, lo.Package, dryRun) {
				continue
			}
			if err := c.remove(path); err != nil {
				return c.removed, c.freed, err
			}
			continue
		}
		if model.ValidatePackageName(name) != nil {
			continue
		}
		if err := o.cleanPackageDir(c, name); err != nil {
			return c.removed, c.freed, err
		}
	}
	return c.removed, c.freed, nil
}

// restoreBackup moves an orphaned backup back to its package directory.
// It reports whether the backup was (or in a dry run would be) restored.
func (o *Orchestrator) restoreBackup(backup, pkg string, dryRun bool) bool {
	if model.ValidatePackageName(pkg) != nil {
		return false
	}
	target := o.Manifests.Path(pkg)
	exists, err := fsutil.Exists(target)
	if err != nil || exists {
		return false
	}
	if _, err := os.Stat(filepath.Join(backup, model.ManifestFileName)); err != nil {
		return false
	}

	if dryRun {
		logger.Info("would restore interrupted install", logger.Fields{"package": pkg, "from": backup})
		return true
	}
	if err := os.Rename(backup, target); err != nil {
		logger.Warn("failed to restore interrupted install", logger.Fields{"package": pkg, "error": err.Error()})
		return false
	}
	logger.Info("restored interrupted install", logger.Fields{"package": pkg, "from": backup})
	return true
}

func (o *Orchestrator) cleanPackageDir(c *cleaner, name string) error {
	dir := o.Manifests.Path(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(errors.ErrFilesystem, "failed to read %s: %v", dir, err)
	}

	var leftovers []string
	remaining := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() && isLeftoverFile(name, entry.Name()) {
			leftovers = append(leftovers, filepath.Join(dir, entry.Name()))
			continue
		}
		remaining++
	}

	// nothing but leftovers means no install lives here
	if remaining == 0 {
		return c.remove(dir)
	}
	for _, path := range leftovers {
		if err := c.remove(path); err != nil {
			return err
		}
	}
	return nil
}

func isLeftoverFile(pkg, fileName string) bool {
	if strings.HasPrefix(fileName, ".download-") && strings.HasSuffix(fileName, download.PartialSuffix) {
		return true
	}
	return strings.HasPrefix(fileName, pkg+"-") && strings.HasSuffix(fileName, download.ArtifactSuffix)
}

type cleaner struct {
	dryRun  bool
	removed []string
	freed   int64
}

func (c *cleaner) remove(path string) error {
	size, err := fsutil.DirSize(path)
	if err != nil {
		return errors.Wrapf(errors.ErrFilesystem, "failed to measure %s: %v", path, err)
	}
	if !c.dryRun {
		if err := os.RemoveAll(path); err != nil {
			return errors.Wrapf(errors.ErrFilesystem, "failed to remove %s: %v", path, err)
		}
		logger.Debug("removed leftover", logger.Fields{"path": path, "bytes": size})
	}
	c.removed = append(c.removed, path)
	c.freed += size
	return nil
}
