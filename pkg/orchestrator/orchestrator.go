// Package orchestrator implements the package synchronization pipelines:
// install, update, batch update, uninstall and cleanup of an install root.
//
// One Orchestrator owns its install root for the lifetime of a process. There
// is no cross-process locking: running two kpm invocations against the same
// install root at once is not supported.
package orchestrator

import (
	"context"
	"encoding/json"
	"os"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/archive"
	"github.com/glorpus-work/kpm/pkg/download"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/fsutil"
	"github.com/glorpus-work/kpm/pkg/hooks"
	"github.com/glorpus-work/kpm/pkg/model"
	"github.com/glorpus-work/kpm/pkg/progress"
)

const (
	opInstall   = "install"
	opUpdate    = "update"
	opUninstall = "uninstall"
	opCheck     = "check"
	opManifest  = "manifest"
)

func emit(h Hooks, e Event) {
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}

func (o *Orchestrator) fail(op, name string, err error) error {
	emit(o.Hooks, Event{Phase: PhaseError, Package: name, Msg: err.Error()})
	return errors.NewPackageError(op, name, err)
}

func (o *Orchestrator) progressFor(phase Phase, resolved model.ResolvedVersion) progress.Func {
	if o.Hooks.OnEvent == nil {
		return nil
	}
	return func(done, total int64) {
		o.Hooks.OnEvent(Event{Phase: phase, Package: resolved.Name, Version: resolved.Version, Done: done, Total: total})
	}
}

// Install resolves token for name and installs that release, replacing
// whatever version was installed before. The manifest records the resolved
// version, never the token.
func (o *Orchestrator) Install(ctx context.Context, name string, token model.VersionToken) (*InstallResult, error) {
	if err := model.ValidatePackageName(name); err != nil {
		return nil, o.fail(opInstall, name, err)
	}
	unlock := o.locks.lock(name)
	defer unlock()

	emit(o.Hooks, Event{Phase: PhaseResolving, Package: name, Msg: token.String()})
	resolved, err := o.Resolver.Resolve(ctx, name, token)
	if err != nil {
		return nil, o.fail(opInstall, name, err)
	}

	res, err := o.installResolved(ctx, opInstall, resolved)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// installResolved runs download, extraction, the post-install hook, the
// manifest write and the final swap for one release. The caller holds the
// package lock.
func (o *Orchestrator) installResolved(ctx context.Context, op string, resolved model.ResolvedVersion) (*InstallResult, error) {
	name := resolved.Name
	dir := o.Manifests.Path(name)

	existed, err := fsutil.Exists(dir)
	if err != nil {
		return nil, o.fail(op, name, errors.Wrapf(errors.ErrFilesystem, "failed to stat %s: %v", dir, err))
	}

	previous := ""
	if m, err := o.Manifests.Read(name); err == nil {
		previous = m.InstalledVersion
	} else if !errors.Is(err, errors.ErrNotInstalled) {
		logger.Warn("ignoring unreadable manifest of installed package", logger.Fields{"package": name, "error": err.Error()})
	}

	logger.Debug("installing package", logger.Fields{"package": name, "version": resolved.Version, "previous": previous})

	emit(o.Hooks, Event{Phase: PhaseDownloading, Package: name, Version: resolved.Version})
	archivePath, err := o.DL.Download(ctx, resolved, dir, download.Options{
		Progress: o.progressFor(PhaseDownloading, resolved),
	})
	if err != nil {
		o.removeCreatedDir(dir, existed)
		return nil, o.fail(op, name, err)
	}

	emit(o.Hooks, Event{Phase: PhaseExtracting, Package: name, Version: resolved.Version})
	rep, err := o.Extractor.Extract(ctx, archivePath, dir, archive.Options{
		Progress: o.progressFor(PhaseExtracting, resolved),
	})
	if err != nil {
		// the archive stays for inspection; cleanup removes it
		logger.Debug("keeping archive after failed extraction", logger.Fields{"path": archivePath})
		return nil, o.fail(op, name, err)
	}

	emit(o.Hooks, Event{Phase: PhaseInstalling, Package: name, Version: resolved.Version})
	if err := o.finishInstall(ctx, op, resolved, previous, rep); err != nil {
		rep.Discard()
		o.removeArchive(archivePath)
		o.removeCreatedDir(dir, existed)
		return nil, o.fail(op, name, err)
	}

	emit(o.Hooks, Event{Phase: PhaseDone, Package: name, Version: resolved.Version})
	return &InstallResult{
		Name:            name,
		Version:         resolved.Version,
		PreviousVersion: previous,
		Path:            dir,
	}, nil
}

func (o *Orchestrator) finishInstall(ctx context.Context, op string, resolved model.ResolvedVersion, previous string, rep *archive.Replacement) error {
	if o.HookRunner != nil {
		err := o.HookRunner.Run(ctx, hooks.PostInstall, hooks.Context{
			PackageName:     resolved.Name,
			Version:         resolved.Version,
			PreviousVersion: previous,
			Operation:       op,
			PackageDir:      rep.Dir(),
			InstallDir:      rep.Dest(),
		})
		if err != nil {
			return err
		}
	}
	if err := o.Manifests.WriteIn(rep.Dir(), resolved.Name, resolved.Version); err != nil {
		return err
	}
	return rep.Commit()
}

// removeCreatedDir removes dir if this pipeline created it and it is empty.
func (o *Orchestrator) removeCreatedDir(dir string, existed bool) {
	if existed {
		return
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		logger.Debug("leaving package directory in place", logger.Fields{"path": dir, "error": err.Error()})
	}
}

func (o *Orchestrator) removeArchive(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove downloaded archive", logger.Fields{"path": path, "error": err.Error()})
	}
}

// Update installs the registry's latest release of an installed package.
// When the package is already up to date nothing is downloaded.
func (o *Orchestrator) Update(ctx context.Context, name string) (*UpdateResult, error) {
	if err := model.ValidatePackageName(name); err != nil {
		return nil, o.fail(opUpdate, name, err)
	}
	unlock := o.locks.lock(name)
	defer unlock()

	emit(o.Hooks, Event{Phase: PhaseResolving, Package: name, Msg: model.LatestToken})
	check, err := o.Checker.Check(ctx, name)
	if err != nil {
		return nil, o.fail(opUpdate, name, err)
	}

	switch check.Status {
	case model.StatusNotInstalled:
		return nil, o.fail(opUpdate, name, errors.Wrapf(errors.ErrNotInstalled, "%s is not installed", name))
	case model.StatusUpToDate:
		emit(o.Hooks, Event{Phase: PhaseSkipped, Package: name, Version: check.Current, Msg: "up to date"})
		return &UpdateResult{Name: name, PreviousVersion: check.Current, Version: check.Current, UpToDate: true}, nil
	}

	if check.Resolved == nil {
		return nil, o.fail(opUpdate, name, errors.Wrapf(errors.ErrInvalidInput, "check of %s returned no release", name))
	}
	res, err := o.installResolved(ctx, opUpdate, *check.Resolved)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Name: name, PreviousVersion: check.Current, Version: res.Version}, nil
}

// Uninstall runs the package's pre-uninstall hook and removes its install
// directory. It reports false when the package was not installed.
func (o *Orchestrator) Uninstall(ctx context.Context, name string) (bool, error) {
	if err := model.ValidatePackageName(name); err != nil {
		return false, o.fail(opUninstall, name, err)
	}
	unlock := o.locks.lock(name)
	defer unlock()

	m, err := o.Manifests.Read(name)
	switch {
	case errors.Is(err, errors.ErrNotInstalled):
		emit(o.Hooks, Event{Phase: PhaseSkipped, Package: name, Msg: "not installed"})
		return false, nil
	case err != nil:
		logger.Warn("removing package with unreadable manifest", logger.Fields{"package": name, "error": err.Error()})
	}

	emit(o.Hooks, Event{Phase: PhaseUninstall, Package: name})
	if o.HookRunner != nil && m != nil {
		err := o.HookRunner.Run(ctx, hooks.PreUninstall, hooks.Context{
			PackageName:     name,
			Version:         m.InstalledVersion,
			PreviousVersion: m.InstalledVersion,
			Operation:       opUninstall,
			PackageDir:      o.Manifests.Path(name),
			InstallDir:      o.Manifests.Path(name),
		})
		if err != nil {
			return false, o.fail(opUninstall, name, err)
		}
	}

	removed, err := o.Manifests.Remove(name)
	if err != nil {
		return false, o.fail(opUninstall, name, err)
	}
	emit(o.Hooks, Event{Phase: PhaseDone, Package: name})
	return removed, nil
}

// Check reports whether name is installed and whether the registry has a different release.
func (o *Orchestrator) Check(ctx context.Context, name string) (model.CheckResult, error) {
	if err := model.ValidatePackageName(name); err != nil {
		return model.CheckResult{Name: name}, errors.NewPackageError(opCheck, name, err)
	}
	res, err := o.Checker.Check(ctx, name)
	if err != nil {
		return res, errors.NewPackageError(opCheck, name, err)
	}
	return res, nil
}

// ListInstalled returns the sorted names of installed packages.
func (o *Orchestrator) ListInstalled() ([]string, error) {
	return o.Manifests.List()
}

// ReadManifest returns the manifest of an installed package.
func (o *Orchestrator) ReadManifest(name string) (*model.Manifest, error) {
	m, err := o.Manifests.Read(name)
	if err != nil {
		return nil, errors.NewPackageError(opManifest, name, err)
	}
	return m, nil
}

// ReleaseMetadata returns the manifest metadata the registry attaches to the
// installed version of name. It is nil when the registry attaches none.
func (o *Orchestrator) ReleaseMetadata(ctx context.Context, name string) (json.RawMessage, error) {
	m, err := o.ReadManifest(name)
	if err != nil {
		return nil, err
	}
	if o.Releases == nil {
		return nil, nil
	}
	release, err := o.Releases.Release(ctx, name, m.InstalledVersion)
	if err != nil {
		return nil, errors.NewPackageError(opManifest, name, err)
	}
	if len(release.ManifestMetadata) == 0 || string(release.ManifestMetadata) == "null" {
		return nil, nil
	}
	return release.ManifestMetadata, nil
}
