//go:generate mockgen -destination=./mocks/checker.go . ManifestReader,VersionResolver

// Package checker compares installed manifests with the registry's latest release.
package checker

import (
	"context"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/model"
)

// ManifestReader is the subset of the manifest store used by the checker.
type ManifestReader interface {
	Read(name string) (*model.Manifest, error)
}

// VersionResolver resolves version tokens against the registry.
type VersionResolver interface {
	Resolve(ctx context.Context, name string, token model.VersionToken) (model.ResolvedVersion, error)
}

// Checker reports whether installed packages match the registry.
type Checker struct {
	manifests ManifestReader
	resolver  VersionResolver
}

// NewChecker creates a checker.
func NewChecker(manifests ManifestReader, resolver VersionResolver) *Checker {
	return &Checker{manifests: manifests, resolver: resolver}
}

// Check compares the installed version of name with the registry's latest.
// A package without a manifest is reported as not installed without asking
// the registry. Any difference between the two versions counts as outdated:
// the registry decides what latest is, even when it sorts lower.
func (c *Checker) Check(ctx context.Context, name string) (model.CheckResult, error) {
	result := model.CheckResult{Name: name}

	m, err := c.manifests.Read(name)
	if err != nil {
		if errors.Is(err, errors.ErrNotInstalled) {
			result.Status = model.StatusNotInstalled
			return result, nil
		}
		return result, err
	}
	result.Current = m.InstalledVersion

	latest, err := c.resolver.Resolve(ctx, name, model.LatestToken)
	if err != nil {
		return result, err
	}
	result.Latest = latest.Version
	result.Resolved = &latest

	if result.Current == result.Latest {
		result.Status = model.StatusUpToDate
	} else {
		result.Status = model.StatusOutdated
	}

	logger.Debug("checked package", logger.Fields{
		"package": name,
		"current": result.Current,
		"latest":  result.Latest,
		"status":  string(result.Status),
	})
	return result, nil
}
