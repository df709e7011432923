// Package manifest reads and writes the per-package manifest.json files that
// record what is installed below an install root.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/fsutil"
	"github.com/glorpus-work/kpm/pkg/model"
)

// Store manages manifests below a single install root. The directory of a
// package is <root>/<name>, and its manifest lives directly inside it.
type Store struct {
	root string
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for installedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store for root.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{root: filepath.Clean(root), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the install root.
func (s *Store) Root() string {
	return s.root
}

// Path returns the install directory of name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Read loads the manifest of name. It fails with ErrNotInstalled when the
// package has no manifest and with ErrFilesystem when the file is unreadable
// or corrupt.
func (s *Store) Read(name string) (*model.Manifest, error) {
	if err := model.ValidatePackageName(name); err != nil {
		return nil, err
	}
	return readFile(filepath.Join(s.Path(name), model.ManifestFileName), name)
}

func readFile(path, name string) (*model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotInstalled, "no manifest for %s", name)
		}
		return nil, errors.Wrapf(errors.ErrFilesystem, "failed to read manifest %s: %v", path, err)
	}

	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(errors.ErrFilesystem, "corrupt manifest %s: %v", path, err)
	}
	if m.InstalledVersion == "" {
		return nil, errors.Wrapf(errors.ErrFilesystem, "corrupt manifest %s: installedVersion is empty", path)
	}
	if m.PackageName == "" {
		m.PackageName = name
	}
	return &m, nil
}

// Write records version as the installed version of name.
func (s *Store) Write(name, version string) error {
	if err := model.ValidatePackageName(name); err != nil {
		return err
	}
	dir := s.Path(name)
	if err := fsutil.EnsureDir(dir); err != nil {
		return errors.Wrapf(errors.ErrFilesystem, "failed to create %s: %v", dir, err)
	}
	return s.WriteIn(dir, name, version)
}

// WriteIn writes the manifest of name into dir, which must exist. The file is
// replaced atomically.
func (s *Store) WriteIn(dir, name, version string) error {
	if err := model.ValidatePackageName(name); err != nil {
		return err
	}
	if version == "" || version == model.LatestToken {
		return errors.Wrapf(errors.ErrInvalidInput, "refusing to record version %q for %s", version, name)
	}

	m := model.Manifest{
		PackageName:      name,
		InstalledVersion: version,
		InstalledAt:      s.now().UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrapf(errors.ErrFilesystem, "failed to encode manifest: %v", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, model.ManifestFileName)
	if err := fsutil.WriteFileAtomic(path, data, fsutil.FileModeDefault); err != nil {
		return errors.Wrap(errors.ErrFilesystem, err.Error())
	}
	logger.Debug("manifest written", logger.Fields{"package": name, "version": version, "path": path})
	return nil
}

// Remove deletes the whole install directory of name. It reports false when
// there was nothing to remove.
func (s *Store) Remove(name string) (bool, error) {
	if err := model.ValidatePackageName(name); err != nil {
		return false, err
	}
	dir := s.Path(name)
	exists, err := fsutil.Exists(dir)
	if err != nil {
		return false, errors.Wrapf(errors.ErrFilesystem, "failed to stat %s: %v", dir, err)
	}
	if !exists {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, errors.Wrapf(errors.ErrFilesystem, "failed to remove %s: %v", dir, err)
	}
	return true, nil
}

// List returns the sorted names of packages below the root that carry a
// readable manifest. Hidden entries are never packages.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Wrapf(errors.ErrFilesystem, "failed to read install root %s: %v", s.root, err)
	}

	// os.ReadDir sorts by name
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || model.ValidatePackageName(name) != nil {
			continue
		}
		if _, err := readFile(filepath.Join(s.root, name, model.ManifestFileName), name); err != nil {
			if !errors.Is(err, errors.ErrNotInstalled) {
				logger.Warn("skipping package with unreadable manifest", logger.Fields{"package": name, "error": err.Error()})
			}
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
