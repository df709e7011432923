//go:generate mockgen -destination=./mocks/orchestrator.go . VersionResolver,Extractor,ManifestStore,UpdateChecker

package orchestrator

import (
	"context"

	"github.com/glorpus-work/kpm/pkg/archive"
	"github.com/glorpus-work/kpm/pkg/download"
	"github.com/glorpus-work/kpm/pkg/hooks"
	"github.com/glorpus-work/kpm/pkg/model"
)

// VersionResolver turns version tokens into concrete releases.
type VersionResolver interface {
	Resolve(ctx context.Context, name string, token model.VersionToken) (model.ResolvedVersion, error)
}

// Extractor unpacks a downloaded artifact into a staging tree.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, opts archive.Options) (*archive.Replacement, error)
}

// ManifestStore is the subset of the manifest store used by the orchestrator.
type ManifestStore interface {
	Root() string
	Path(name string) string
	Read(name string) (*model.Manifest, error)
	WriteIn(dir, name, version string) error
	Remove(name string) (bool, error)
	List() ([]string, error)
}

// ReleaseLookup fetches the registry record of one release.
type ReleaseLookup interface {
	Release(ctx context.Context, name, version string) (*model.ReleaseInfo, error)
}

// UpdateChecker compares an installed package with the registry.
type UpdateChecker interface {
	Check(ctx context.Context, name string) (model.CheckResult, error)
}

// Orchestrator ties the resolver, downloader, extractor and manifest store
// together into install, update and uninstall pipelines. Stages of one
// package always run in sequence.
type Orchestrator struct {
	Resolver  VersionResolver
	DL        download.Manager
	Extractor Extractor
	Manifests ManifestStore
	Checker   UpdateChecker
	// Releases serves release metadata. Nil means none is available.
	Releases ReleaseLookup
	// HookRunner runs package hooks. Nil disables hooks.
	HookRunner hooks.Executor
	Hooks      Hooks // Hooks for progress and event notifications
	Options    Options

	locks keyedMutex
}

// Phase names a step of a package pipeline.
type Phase string

// Pipeline phases reported through Hooks.
const (
	PhaseResolving   Phase = "resolving"
	PhaseDownloading Phase = "downloading"
	PhaseExtracting  Phase = "extracting"
	PhaseInstalling  Phase = "installing"
	PhaseUninstall   Phase = "uninstalling"
	PhaseDone        Phase = "done"
	PhaseSkipped     Phase = "skipped"
	PhaseError       Phase = "error"
)

// Event represents a progress notification for one package.
type Event struct {
	Phase   Phase
	Package string
	Version string
	Msg     string
	// Done and Total carry byte progress during downloading and extracting.
	// Total is -1 when unknown.
	Done  int64
	Total int64
}

// Hooks carries callbacks for progress events. With Options.Concurrency > 1
// OnEvent is called from several goroutines.
type Hooks struct {
	OnEvent func(Event)
}

// Options control orchestrator execution.
type Options struct {
	// Concurrency bounds how many packages UpdateAll processes at once.
	// Values below 1 mean sequential.
	Concurrency int
}

// InstallResult describes a completed install.
type InstallResult struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	PreviousVersion string `json:"previousVersion,omitempty"`
	Path            string `json:"path"`
}

// UpdateResult describes a completed update of one package.
type UpdateResult struct {
	Name            string `json:"name"`
	PreviousVersion string `json:"previousVersion"`
	Version         string `json:"version"`
	UpToDate        bool   `json:"upToDate"`
}
