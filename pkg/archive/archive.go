// Package archive extracts downloaded package artifacts into a staging
// directory next to the install directory and swaps the result into place.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"

	"github.com/glorpus-work/kpm/internal/logger"
	pkgerrors "github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/fsutil"
	"github.com/glorpus-work/kpm/pkg/progress"
)

// Manager handles archive extraction.
type Manager struct{}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{}
}

// Options control a single extraction.
type Options struct {
	// Progress receives bytes consumed from the archive file and its size.
	Progress progress.Func
}

// Extract unpacks archivePath into a fresh staging directory beside destDir.
// destDir itself is not touched until the returned Replacement is committed.
// On failure the staging directory is removed, the archive is left in place
// and the error wraps ErrExtractionFailed or ErrFilesystem.
func (am *Manager) Extract(ctx context.Context, archivePath, destDir string, opts Options) (*Replacement, error) {
	if !filepath.IsAbs(destDir) {
		return nil, fmt.Errorf("destination must be absolute: %q: %w", destDir, pkgerrors.ErrInvalidInput)
	}
	destDir = filepath.Clean(destDir)
	root, name := filepath.Dir(destDir), filepath.Base(destDir)

	if err := fsutil.EnsureDir(root); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrFilesystem, fmt.Sprintf("failed to create %s: %v", root, err))
	}
	staging, err := os.MkdirTemp(root, StagingPrefix(name))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrFilesystem, fmt.Sprintf("failed to create staging directory: %v", err))
	}

	if err := am.extractInto(ctx, archivePath, staging, opts.Progress); err != nil {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			logger.Warn("failed to remove staging directory", logger.Fields{"path": staging, "error": rmErr.Error()})
		}
		return nil, pkgerrors.Classify(pkgerrors.ErrExtractionFailed, err)
	}

	logger.Debug("archive extracted", logger.Fields{"archive": archivePath, "staging": staging})
	return &Replacement{
		staging: staging,
		dest:    destDir,
		archive: archivePath,
	}, nil
}

func (am *Manager) extractInto(ctx context.Context, archivePath, staging string, fn progress.Func) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive file: %w", err)
	}

	counter := progress.NewCounter(info.Size(), fn)
	src := &countingFile{File: file, counter: counter}

	format, _, err := archives.Identify(ctx, "", src)
	if err != nil {
		return fmt.Errorf("failed to identify archive format: %w", err)
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("%s is not an archive format", format.Extension())
	}

	// identification may have read ahead
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind archive file: %w", err)
	}
	counter.Reset()

	dir, err := openStagingDir(staging)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	return extractor.Extract(ctx, src, func(ctx context.Context, f archives.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return am.extractEntry(f, dir)
	})
}

// extractEntry writes a single archive entry below the staging directory.
func (am *Manager) extractEntry(f archives.FileInfo, dir *stagingDir) error {
	targetPath, err := validatePath(dir.path, f.NameInArchive)
	if err != nil {
		return err
	}
	if targetPath == "" {
		return nil
	}
	rel, err := filepath.Rel(dir.path, targetPath)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsafePath, f.NameInArchive, err)
	}

	switch {
	case f.IsDir():
		return dir.mkdirAll(rel)
	case f.Mode()&fs.ModeSymlink != 0:
		return dir.symlink(rel, f.LinkTarget)
	case f.LinkTarget != "":
		return fmt.Errorf("%w: hard link %s", ErrUnsupportedEntry, f.NameInArchive)
	case f.Mode().IsRegular():
		return am.writeRegularFile(f, dir, rel)
	default:
		logger.Debug("skipping special archive entry", logger.Fields{"entry": f.NameInArchive, "mode": f.Mode().String()})
		return nil
	}
}

// writeRegularFile copies an entry's content to rel and keeps its permission bits.
func (am *Manager) writeRegularFile(f archives.FileInfo, dir *stagingDir, rel string) error {
	perm := f.Mode().Perm()
	if perm == 0 {
		perm = fsutil.FileModeDefault
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.NameInArchive, err)
	}
	defer func() { _ = src.Close() }()

	if err := dir.writeFile(rel, src, perm); err != nil {
		return err
	}
	if mt := f.ModTime(); !mt.IsZero() {
		_ = os.Chtimes(filepath.Join(dir.path, rel), mt, mt)
	}
	return nil
}

// countingFile reports every byte read from the archive, sequentially or at an offset.
type countingFile struct {
	*os.File
	counter *progress.Counter
}

func (c *countingFile) Read(p []byte) (int, error) {
	n, err := c.File.Read(p)
	c.counter.Add(int64(n))
	return n, err
}

func (c *countingFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.File.ReadAt(p, off)
	c.counter.Add(int64(n))
	return n, err
}

// StagingPrefix is the os.MkdirTemp pattern of a package's staging directory.
func StagingPrefix(name string) string {
	return "." + name + stagingMarker + "*"
}

const (
	stagingMarker = ".staging-"
	backupMarker  = ".backup-"
)

// Leftover describes a staging or backup directory found below an install root.
type Leftover struct {
	Package string
	Backup  bool
}

// ParseLeftover recognizes the staging and backup directory names Extract
// and Commit create.
func ParseLeftover(entry string) (Leftover, bool) {
	if !strings.HasPrefix(entry, ".") {
		return Leftover{}, false
	}
	rest := entry[1:]
	if i := strings.LastIndex(rest, stagingMarker); i > 0 {
		return Leftover{Package: rest[:i]}, true
	}
	if i := strings.LastIndex(rest, backupMarker); i > 0 {
		return Leftover{Package: rest[:i], Backup: true}, true
	}
	return Leftover{}, false
}
