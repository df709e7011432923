package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/kpm/pkg/fsutil"
)

// stagingDir confines the writes of one extraction to its staging directory.
// File contents go through an os.Root, and no entry is ever created below a
// symlink, so a link planted by an earlier entry cannot redirect later ones.
type stagingDir struct {
	root *os.Root
	path string
}

func openStagingDir(path string) (*stagingDir, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open staging directory: %w", err)
	}
	return &stagingDir{root: root, path: path}, nil
}

func (s *stagingDir) Close() error {
	return s.root.Close()
}

// mkdirAll creates rel and its missing parents. Components that already
// exist must be real directories.
func (s *stagingDir) mkdirAll(rel string) error {
	if rel == "." || rel == "" {
		return nil
	}
	cur := ""
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		st, err := s.root.Lstat(cur)
		switch {
		case err == nil && st.Mode()&fs.ModeSymlink != 0:
			return fmt.Errorf("%w: %s lies below symlink %s", ErrUnsafePath, rel, cur)
		case err == nil && !st.IsDir():
			return fmt.Errorf("%s is not a directory", cur)
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			if err := s.root.Mkdir(cur, fsutil.DirModeDefault); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", cur, err)
			}
		default:
			return err
		}
	}
	return nil
}

// clearEntry removes a file or symlink an earlier entry left at rel.
func (s *stagingDir) clearEntry(rel string) error {
	st, err := s.root.Lstat(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%s already exists as a directory", rel)
	}
	return s.root.Remove(rel)
}

// writeFile stores r at rel with perm.
func (s *stagingDir) writeFile(rel string, r io.Reader, perm fs.FileMode) error {
	if err := s.mkdirAll(filepath.Dir(rel)); err != nil {
		return err
	}
	if err := s.clearEntry(rel); err != nil {
		return err
	}

	dst, err := s.root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", rel, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to copy file %s: %w", rel, err)
	}
	// the create mode is subject to the umask
	if err := dst.Chmod(perm); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to set permissions for %s: %w", rel, err)
	}
	return dst.Close()
}

// symlink creates rel pointing at target after checkLinkTarget accepted it.
func (s *stagingDir) symlink(rel, target string) error {
	if err := checkLinkTarget(rel, target); err != nil {
		return err
	}
	if err := s.mkdirAll(filepath.Dir(rel)); err != nil {
		return err
	}
	if err := s.clearEntry(rel); err != nil {
		return err
	}
	// parents were just verified to be real directories inside the root
	return os.Symlink(target, filepath.Join(s.path, rel))
}
