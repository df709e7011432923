package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/glorpus-work/kpm/pkg/archive"
	"github.com/glorpus-work/kpm/pkg/checker"
	"github.com/glorpus-work/kpm/pkg/download"
	mock_download "github.com/glorpus-work/kpm/pkg/download/mocks"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/hooks"
	mock_hooks "github.com/glorpus-work/kpm/pkg/hooks/mocks"
	"github.com/glorpus-work/kpm/pkg/manifest"
	"github.com/glorpus-work/kpm/pkg/model"
	mock_orchestrator "github.com/glorpus-work/kpm/pkg/orchestrator/mocks"
	"github.com/glorpus-work/kpm/pkg/registry"
	"github.com/glorpus-work/kpm/test/testutil"
)

type testEnv struct {
	reg   *testutil.FakeRegistry
	root  string
	store *manifest.Store
	orch  *Orchestrator

	mu     sync.Mutex
	events []Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		reg:  testutil.NewFakeRegistry(t),
		root: filepath.Join(t.TempDir(), "knight_library"),
	}
	client := registry.NewClient(env.reg.URL(), 5*time.Second, "kpm-test")
	resolver := registry.NewResolver(client)
	env.store = manifest.NewStore(env.root)
	env.orch = &Orchestrator{
		Resolver:   resolver,
		DL:         download.NewManager(client, 5*time.Second, "kpm-test"),
		Extractor:  archive.NewManager(),
		Manifests:  env.store,
		Checker:    checker.NewChecker(env.store, resolver),
		Releases:   client,
		HookRunner: hooks.NewTengoExecutor(),
		Hooks: Hooks{OnEvent: func(e Event) {
			env.mu.Lock()
			env.events = append(env.events, e)
			env.mu.Unlock()
		}},
	}
	return env
}

// phases returns the reported phases with consecutive repeats collapsed.
func (e *testEnv) phases() []Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Phase
	for _, ev := range e.events {
		if len(out) == 0 || out[len(out)-1] != ev.Phase {
			out = append(out, ev.Phase)
		}
	}
	return out
}

func (e *testEnv) rootEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.root)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func packageArchive(t *testing.T, name, version string) []byte {
	t.Helper()
	return testutil.ZipArchive(t, testutil.Files(map[string]string{
		"README.md":   name + " " + version,
		"lib/VERSION": version,
	}))
}

func TestInstall_LatestRecordsResolvedVersion(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.0.0", packageArchive(t, "foo", "1.0.0"))
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))

	res, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.NoError(t, err)
	assert.Equal(t, &InstallResult{Name: "foo", Version: "1.2.0", Path: filepath.Join(env.root, "foo")}, res)

	m, err := env.orch.ReadManifest("foo")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", m.InstalledVersion)
	assert.NotEqual(t, model.LatestToken, m.InstalledVersion)

	snap := testutil.SnapshotDir(t, filepath.Join(env.root, "foo"))
	assert.Equal(t, "foo 1.2.0", snap["README.md"])
	assert.Equal(t, "1.2.0", snap["lib/VERSION"])
	assert.Contains(t, snap, "manifest.json")
	assert.Len(t, snap, 3, "the downloaded archive must be gone")
	assert.Equal(t, []string{"foo"}, env.rootEntries(t))

	assert.Equal(t, []Phase{PhaseResolving, PhaseDownloading, PhaseExtracting, PhaseInstalling, PhaseDone}, env.phases())
}

func TestInstall_ExplicitVersionOverExisting(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.0.0", packageArchive(t, "foo", "1.0.0"))
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))

	_, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.NoError(t, err)

	res, err := env.orch.Install(context.Background(), "foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", res.Version)
	assert.Equal(t, "1.2.0", res.PreviousVersion)

	m, err := env.orch.ReadManifest("foo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.InstalledVersion)
	assert.Equal(t, []string{"foo"}, env.rootEntries(t))
}

func TestInstallUninstallRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))
	ctx := context.Background()

	_, err := env.orch.Install(ctx, "foo", "1.2.0")
	require.NoError(t, err)

	removed, err := env.orch.Uninstall(ctx, "foo")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, filepath.Join(env.root, "foo"))

	check, err := env.orch.Check(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotInstalled, check.Status)

	removed, err = env.orch.Uninstall(ctx, "foo")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestUpdate_UpToDateDoesNoWork(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))
	testutil.InstallPackageDir(t, env.root, "foo", "1.2.0", map[string]string{"README.md": "installed"})

	dl := mock_download.NewMockManager(ctrl)
	dl.EXPECT().Download(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	extractor := mock_orchestrator.NewMockExtractor(ctrl)
	extractor.EXPECT().Extract(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	env.orch.DL = dl
	env.orch.Extractor = extractor

	res, err := env.orch.Update(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, &UpdateResult{Name: "foo", PreviousVersion: "1.2.0", Version: "1.2.0", UpToDate: true}, res)
	assert.Equal(t, 0, env.reg.Downloads("foo"))
	assert.Equal(t, []Phase{PhaseResolving, PhaseSkipped}, env.phases())
}

func TestUpdate_OutdatedInstallsLatest(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))
	testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{"obsolete.txt": "old"})

	res, err := env.orch.Update(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, &UpdateResult{Name: "foo", PreviousVersion: "1.0.0", Version: "1.2.0"}, res)

	m, err := env.orch.ReadManifest("foo")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", m.InstalledVersion)
	assert.NoFileExists(t, filepath.Join(env.root, "foo", "obsolete.txt"))
	assert.Equal(t, 1, env.reg.Downloads("foo"))
}

func TestUpdate_RegistryIsAuthoritative(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "0.9.0", packageArchive(t, "foo", "0.9.0"))
	testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", nil)

	check, err := env.orch.Check(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOutdated, check.Status)

	res, err := env.orch.Update(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, "0.9.0", res.Version)
}

func TestUpdate_NotInstalled(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))

	res, err := env.orch.Update(context.Background(), "foo")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, errors.ErrNotInstalled)
	assert.Equal(t, errors.KindNotInstalled, errors.KindOf(err))
	assert.Empty(t, env.reg.Requests(), "not installed must not reach the registry")
}

func TestInstall_DownloadFailureKeepsState(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))
	env.reg.TruncateDownload("foo", "1.2.0")
	dir := testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{"README.md": "1.0.0"})
	before := testutil.SnapshotDir(t, dir)

	_, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDownloadFailed)

	var pkgErr *errors.PackageError
	require.ErrorAs(t, err, &pkgErr)
	assert.Equal(t, "install", pkgErr.Op)
	assert.Equal(t, "foo", pkgErr.Package)

	assert.Equal(t, before, testutil.SnapshotDir(t, dir), "no partial file and an unchanged manifest")
	assert.Equal(t, []string{"foo"}, env.rootEntries(t))
	assert.Contains(t, env.phases(), PhaseError)
}

func TestInstall_FirstInstallDownloadFailureLeavesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))
	env.reg.TruncateDownload("foo", "1.2.0")

	_, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDownloadFailed)
	assert.NoDirExists(t, filepath.Join(env.root, "foo"))
}

func TestInstall_ExtractionFailureKeepsState(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", []byte("definitely not an archive"))
	dir := testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{"README.md": "1.0.0"})
	before := testutil.SnapshotDir(t, dir)

	_, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)

	after := testutil.SnapshotDir(t, dir)
	artifact := "foo-1.2.0" + download.ArtifactSuffix
	assert.Equal(t, "definitely not an archive", after[artifact], "the archive is kept for inspection")
	delete(after, artifact)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"foo"}, env.rootEntries(t))

	m, err := env.orch.ReadManifest("foo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.InstalledVersion)
}

func TestInstall_FirstInstallExtractionFailureIsNotInstalled(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", testutil.ZipArchive(t, []testutil.Entry{{Name: "../escape", Content: "x"}}))

	_, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)

	installed, err := env.orch.ListInstalled()
	require.NoError(t, err)
	assert.Empty(t, installed)
	assert.FileExists(t, filepath.Join(env.root, "foo", "foo-1.2.0.artifact"))
	assert.NoFileExists(t, filepath.Join(env.root, "escape"))

	removed, _, err := env.orch.Cleanup(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(env.root, "foo")}, removed)
	assert.Empty(t, env.rootEntries(t))
}

func TestInstall_ResolveFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(reg *testutil.FakeRegistry)
		token model.VersionToken
		want  errors.Kind
	}{
		{
			name:  "unknown package",
			setup: func(reg *testutil.FakeRegistry) {},
			token: model.LatestToken,
			want:  errors.KindPackageNotFound,
		},
		{
			name: "unknown version",
			setup: func(reg *testutil.FakeRegistry) {
				reg.AddRelease("foo", "1.2.0", nil)
			},
			token: "9.9.9",
			want:  errors.KindVersionNotFound,
		},
		{
			name: "registry down",
			setup: func(reg *testutil.FakeRegistry) {
				reg.FailPackage("foo", 503, "maintenance")
			},
			token: model.LatestToken,
			want:  errors.KindRegistryUnavailable,
		},
		{
			name:  "malformed token",
			setup: func(reg *testutil.FakeRegistry) {},
			token: "not a version",
			want:  errors.KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env.reg)

			_, err := env.orch.Install(context.Background(), "foo", tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.KindOf(err))
			assert.NoDirExists(t, filepath.Join(env.root, "foo"))
			assert.Equal(t, 0, env.reg.Downloads("foo"))
		})
	}
}

func TestInstall_InvalidNameMakesNoRequest(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"", "..", "../evil", "a/b", ".hidden"} {
		_, err := env.orch.Install(context.Background(), name, model.LatestToken)
		assert.ErrorIs(t, err, errors.ErrInvalidInput, name)
	}
	assert.Empty(t, env.reg.Requests())
	assert.NoDirExists(t, env.root)
}

func TestInstall_ExtractionErrorNeverWritesManifest(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mock_orchestrator.NewMockVersionResolver(ctrl)
	dl := mock_download.NewMockManager(ctrl)
	extractor := mock_orchestrator.NewMockExtractor(ctrl)
	store := mock_orchestrator.NewMockManifestStore(ctrl)
	root := t.TempDir()
	resolved := model.ResolvedVersion{Name: "foo", Version: "1.2.0", Locator: "foo@1.2.0"}

	gomock.InOrder(
		resolver.EXPECT().Resolve(gomock.Any(), "foo", model.VersionToken("latest")).Return(resolved, nil),
		dl.EXPECT().Download(gomock.Any(), resolved, filepath.Join(root, "foo"), gomock.Any()).
			Return(filepath.Join(root, "foo", "foo-1.2.0.artifact"), nil),
		extractor.EXPECT().Extract(gomock.Any(), filepath.Join(root, "foo", "foo-1.2.0.artifact"), filepath.Join(root, "foo"), gomock.Any()).
			Return(nil, errors.Classify(errors.ErrExtractionFailed, archive.ErrUnsafePath)),
	)
	store.EXPECT().Path("foo").Return(filepath.Join(root, "foo")).AnyTimes()
	store.EXPECT().Read("foo").Return(nil, errors.ErrNotInstalled)
	store.EXPECT().WriteIn(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	orch := &Orchestrator{Resolver: resolver, DL: dl, Extractor: extractor, Manifests: store}
	_, err := orch.Install(context.Background(), "foo", model.LatestToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)
}

func TestInstall_PostInstallHook(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", testutil.ZipArchive(t, []testutil.Entry{
		{Name: "README.md", Content: "foo"},
		{Name: ".kpm/hooks/post-install.tengo", Content: `
os := import("os")
kpm := import("kpm")
f := os.create(kpm.package_dir + "/hook.txt")
f.write_string(kpm.operation + " " + kpm.version + " into " + kpm.install_dir)
f.close()
`},
	}))

	_, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(env.root, "foo", "hook.txt"))
	require.NoError(t, err)
	assert.Equal(t, "install 1.2.0 into "+filepath.Join(env.root, "foo"), string(content))
}

func TestInstall_HooksDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.orch.HookRunner = nil
	env.reg.AddRelease("foo", "1.2.0", testutil.ZipArchive(t, []testutil.Entry{
		{Name: ".kpm/hooks/post-install.tengo", Content: `err := "must not run"`},
	}))

	_, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.NoError(t, err)
}

func TestUpdate_FailingHookKeepsPreviousInstall(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", testutil.ZipArchive(t, []testutil.Entry{
		{Name: "README.md", Content: "1.2.0"},
		{Name: ".kpm/hooks/post-install.tengo", Content: `err := "missing dependency"`},
	}))
	dir := testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{"README.md": "1.0.0"})
	before := testutil.SnapshotDir(t, dir)

	_, err := env.orch.Update(context.Background(), "foo")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHookFailed)
	assert.Contains(t, err.Error(), "missing dependency")

	assert.Equal(t, before, testutil.SnapshotDir(t, dir))
	assert.Equal(t, []string{"foo"}, env.rootEntries(t))
}

func TestUninstall_PreUninstallHook(t *testing.T) {
	env := newTestEnv(t)
	dir := testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{
		".kpm/hooks/pre-uninstall.tengo": `
kpm := import("kpm")
err := ""
if kpm.version != "1.0.0" { err = "wrong version" }
if kpm.operation != "uninstall" { err = "wrong operation" }
`,
	})

	removed, err := env.orch.Uninstall(context.Background(), "foo")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, dir)
}

func TestUninstall_FailingHookKeepsPackage(t *testing.T) {
	env := newTestEnv(t)
	dir := testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{
		".kpm/hooks/pre-uninstall.tengo": `err := "still in use"`,
	})

	removed, err := env.orch.Uninstall(context.Background(), "foo")
	require.Error(t, err)
	assert.False(t, removed)
	assert.ErrorIs(t, err, errors.ErrHookFailed)
	assert.DirExists(t, dir)

	_, err = env.orch.ReadManifest("foo")
	assert.NoError(t, err)
}

func TestInstall_PostInstallHookSeesStagedTree(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))

	runner := mock_hooks.NewMockExecutor(ctrl)
	runner.EXPECT().Run(gomock.Any(), hooks.PostInstall, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ hooks.HookType, hc hooks.Context) error {
			assert.Equal(t, "foo", hc.PackageName)
			assert.Equal(t, "1.2.0", hc.Version)
			assert.Empty(t, hc.PreviousVersion)
			assert.Equal(t, "install", hc.Operation)
			assert.Equal(t, filepath.Join(env.root, "foo"), hc.InstallDir)
			assert.NotEqual(t, hc.InstallDir, hc.PackageDir)
			assert.FileExists(t, filepath.Join(hc.PackageDir, "lib", "VERSION"))
			assert.NoFileExists(t, filepath.Join(hc.PackageDir, model.ManifestFileName))
			return nil
		})
	env.orch.HookRunner = runner

	_, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.NoError(t, err)

	m, err := env.orch.ReadManifest("foo")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", m.InstalledVersion)
}

func TestUpdate_HookRunnerErrorLeavesNoTrace(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))
	dir := testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{"README.md": "1.0.0"})
	before := testutil.SnapshotDir(t, dir)

	runner := mock_hooks.NewMockExecutor(ctrl)
	runner.EXPECT().Run(gomock.Any(), hooks.PostInstall, gomock.Any()).
		Return(errors.Wrap(errors.ErrHookFailed, "license server unreachable"))
	env.orch.HookRunner = runner

	_, err := env.orch.Update(context.Background(), "foo")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHookFailed)
	assert.Contains(t, err.Error(), "license server unreachable")

	assert.Equal(t, before, testutil.SnapshotDir(t, dir))
	assert.Equal(t, []string{"foo"}, env.rootEntries(t))
}

func TestUninstall_PreUninstallHookRunsBeforeRemoval(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t)
	dir := testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{"README.md": "1.0.0"})

	runner := mock_hooks.NewMockExecutor(ctrl)
	runner.EXPECT().Run(gomock.Any(), hooks.PreUninstall, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ hooks.HookType, hc hooks.Context) error {
			assert.Equal(t, dir, hc.PackageDir)
			assert.Equal(t, "1.0.0", hc.Version)
			assert.Equal(t, "uninstall", hc.Operation)
			assert.FileExists(t, filepath.Join(hc.PackageDir, model.ManifestFileName))
			return nil
		})
	env.orch.HookRunner = runner

	removed, err := env.orch.Uninstall(context.Background(), "foo")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, dir)
}

func TestUninstall_CorruptManifestSkipsHook(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := newTestEnv(t)
	dir := filepath.Join(env.root, "foo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.ManifestFileName), []byte("{broken"), 0o644))

	runner := mock_hooks.NewMockExecutor(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	env.orch.HookRunner = runner

	removed, err := env.orch.Uninstall(context.Background(), "foo")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoDirExists(t, dir)
}

func TestInstall_SingleFileArchive(t *testing.T) {
	env := newTestEnv(t)
	data := testutil.PaddedZip(t, "file.bin", 1000)
	require.GreaterOrEqual(t, len(data), 1000)
	env.reg.AddRelease("foo", "1.2.0", data)

	res, err := env.orch.Install(context.Background(), "foo", model.LatestToken)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", res.Version)

	m, err := env.orch.ReadManifest("foo")
	require.NoError(t, err)
	assert.Equal(t, "foo", m.PackageName)
	assert.Equal(t, "1.2.0", m.InstalledVersion)

	snap := testutil.SnapshotDir(t, filepath.Join(env.root, "foo"))
	assert.Len(t, snap, 2)
	assert.Contains(t, snap, "file.bin")
	assert.Contains(t, snap, model.ManifestFileName)
	assert.Equal(t, []string{"foo"}, env.rootEntries(t))
}

func TestReleaseMetadata_FetchesInstalledRelease(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.0.0", packageArchive(t, "foo", "1.0.0"))
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))
	testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", map[string]string{"README.md": "1.0.0"})

	md, err := env.orch.ReleaseMetadata(context.Background(), "foo")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"foo"}`, string(md))
	assert.Equal(t, []string{testutil.APIPrefix + "/packages/release/foo/1.0.0"}, env.reg.Requests())

	m, err := env.orch.ReadManifest("foo")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.InstalledVersion)
}

func TestReleaseMetadata_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orch.ReleaseMetadata(context.Background(), "foo")
	assert.ErrorIs(t, err, errors.ErrNotInstalled)
	assert.Empty(t, env.reg.Requests())

	env.reg.AddRelease("foo", "1.2.0", nil)
	testutil.InstallPackageDir(t, env.root, "foo", "0.9.0", nil)
	_, err = env.orch.ReleaseMetadata(context.Background(), "foo")
	assert.ErrorIs(t, err, errors.ErrVersionNotFound)

	env.orch.Releases = nil
	md, err := env.orch.ReleaseMetadata(context.Background(), "foo")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestUpdateAll_ContinuesAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	env.reg.AddRelease("foo", "1.2.0", packageArchive(t, "foo", "1.2.0"))
	env.reg.AddRelease("bar", "1.1.0", packageArchive(t, "bar", "1.1.0"))
	env.reg.FailPackage("foo", 503, "maintenance")
	fooDir := testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", nil)
	testutil.InstallPackageDir(t, env.root, "bar", "1.0.0", nil)
	fooBefore := testutil.SnapshotDir(t, fooDir)

	result, err := env.orch.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.True(t, result.HasFailures())

	require.Len(t, result.Succeeded, 1)
	assert.Equal(t, model.PackageOutcome{Name: "bar", PreviousVersion: "1.0.0", Version: "1.1.0"}, result.Succeeded[0])

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "foo", result.Failed[0].Name)
	assert.ErrorIs(t, result.Failed[0].Err, errors.ErrRegistryUnavailable)

	bar, err := env.orch.ReadManifest("bar")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", bar.InstalledVersion)
	assert.Equal(t, fooBefore, testutil.SnapshotDir(t, fooDir))
}

func TestUpdateAll_ConcurrentKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	env.orch.Options.Concurrency = 3
	names := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	for i, name := range names {
		testutil.InstallPackageDir(t, env.root, name, "1.0.0", nil)
		if i%2 == 0 {
			env.reg.AddRelease(name, "2.0.0", packageArchive(t, name, "2.0.0"))
		} else {
			env.reg.AddRelease(name, "1.0.0", packageArchive(t, name, "1.0.0"))
		}
	}

	result, err := env.orch.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	require.Len(t, result.Succeeded, len(names))
	for i, name := range names {
		assert.Equal(t, name, result.Succeeded[i].Name)
		assert.Equal(t, i%2 == 1, result.Succeeded[i].UpToDate, name)
	}
	assert.Equal(t, 3, env.reg.Downloads("alpha")+env.reg.Downloads("charlie")+env.reg.Downloads("echo"))
	assert.Equal(t, 0, env.reg.Downloads("bravo")+env.reg.Downloads("delta"))
}

func TestUpdateAll_NothingInstalled(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.orch.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Succeeded)
	assert.Empty(t, result.Failed)
	assert.Empty(t, env.reg.Requests())
}

func TestUpdateAll_CanceledContext(t *testing.T) {
	env := newTestEnv(t)
	testutil.InstallPackageDir(t, env.root, "foo", "1.0.0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.orch.UpdateAll(ctx)
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.ErrorIs(t, result.Failed[0].Err, context.Canceled)
}

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex
	unlockFoo := km.lock("foo")

	acquired := make(chan struct{})
	go func() {
		unlock := km.lock("foo")
		close(acquired)
		unlock()
	}()

	unlockBar := km.lock("bar")
	unlockBar()

	select {
	case <-acquired:
		t.Fatal("second lock on foo acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlockFoo()
	<-acquired
}
