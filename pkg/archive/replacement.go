package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/glorpus-work/kpm/internal/logger"
	pkgerrors "github.com/glorpus-work/kpm/pkg/errors"
)

// Replacement is an extracted package tree waiting to take the place of the
// install directory. Exactly one of Commit or Discard should be called.
type Replacement struct {
	staging string
	dest    string
	archive string
	done    bool
}

// Dir is the staging directory holding the extracted files. Hooks and the
// manifest writer operate on it before Commit.
func (r *Replacement) Dir() string {
	return r.staging
}

// Dest is the install directory the staging tree replaces on Commit.
func (r *Replacement) Dest() string {
	return r.dest
}

// Commit moves the current install directory aside, renames the staging tree
// into its place and deletes the old tree together with the downloaded
// archive. When the swap fails the previous directory is restored.
// A backup that cannot be removed is logged and left for cleanup.
func (r *Replacement) Commit() error {
	if r.done {
		return fmt.Errorf("replacement for %s already finished", r.dest)
	}
	r.done = true

	root, name := filepath.Dir(r.dest), filepath.Base(r.dest)
	backup := ""
	if _, err := os.Lstat(r.dest); err == nil {
		backup = filepath.Join(root, "."+name+backupMarker+strconv.FormatInt(time.Now().UnixNano(), 36))
		if err := os.Rename(r.dest, backup); err != nil {
			r.removeStaging()
			return pkgerrors.Wrap(pkgerrors.ErrFilesystem, fmt.Sprintf("failed to move %s aside: %v", r.dest, err))
		}
	} else if !os.IsNotExist(err) {
		r.removeStaging()
		return pkgerrors.Wrap(pkgerrors.ErrFilesystem, fmt.Sprintf("failed to stat %s: %v", r.dest, err))
	}

	if err := os.Rename(r.staging, r.dest); err != nil {
		if backup != "" {
			if restoreErr := os.Rename(backup, r.dest); restoreErr != nil {
				logger.Error("failed to restore previous install directory", logger.Fields{
					"backup": backup, "path": r.dest, "error": restoreErr.Error(),
				})
			}
		}
		r.removeStaging()
		return pkgerrors.Wrap(pkgerrors.ErrFilesystem, fmt.Sprintf("failed to move extracted files to %s: %v", r.dest, err))
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			logger.Warn("failed to remove previous install directory", logger.Fields{"path": backup, "error": err.Error()})
		}
	}
	if filepath.Dir(r.archive) != r.dest {
		if err := os.Remove(r.archive); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove downloaded archive", logger.Fields{"path": r.archive, "error": err.Error()})
		}
	}
	return nil
}

// Discard deletes the staging tree and leaves the install directory untouched.
func (r *Replacement) Discard() {
	if r.done {
		return
	}
	r.done = true
	r.removeStaging()
}

func (r *Replacement) removeStaging() {
	if err := os.RemoveAll(r.staging); err != nil {
		logger.Warn("failed to remove staging directory", logger.Fields{"path": r.staging, "error": err.Error()})
	}
}
