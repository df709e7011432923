package registry

import (
	"context"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/model"
)

// Resolver turns version tokens into concrete releases. The registry is
// authoritative: "latest" is whatever it answers, with no client-side ordering.
type Resolver struct {
	client *Client
}

// NewResolver creates a resolver backed by client.
func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the version and artifact locator for name at token.
// No retries are made.
func (r *Resolver) Resolve(ctx context.Context, name string, token model.VersionToken) (model.ResolvedVersion, error) {
	if err := model.ValidatePackageName(name); err != nil {
		return model.ResolvedVersion{}, err
	}
	if _, err := model.ParseVersionToken(token.String()); err != nil {
		return model.ResolvedVersion{}, err
	}

	var (
		release *model.ReleaseInfo
		err     error
	)
	if token.IsLatest() {
		release, err = r.client.LatestRelease(ctx, name)
	} else {
		release, err = r.client.Release(ctx, name, token.String())
		if errors.Is(err, errors.ErrVersionNotFound) {
			err = r.classifyMissingRelease(ctx, name, err)
		}
	}
	if err != nil {
		return model.ResolvedVersion{}, errors.Wrapf(err, "resolve %s@%s", name, token)
	}

	resolved := model.ResolvedVersion{
		Name:    name,
		Version: release.Version,
		Locator: release.ArtifactLocator,
	}
	logger.Debug("resolved version", logger.Fields{"package": name, "token": token.String(), "version": resolved.Version})
	return resolved, nil
}

// classifyMissingRelease asks the releases endpoint to tell a missing
// package from a missing version.
func (r *Resolver) classifyMissingRelease(ctx context.Context, name string, notFound error) error {
	_, err := r.client.LatestRelease(ctx, name)
	switch {
	case err == nil:
		return notFound
	case errors.Is(err, errors.ErrPackageNotFound):
		return err
	default:
		// The follow-up lookup failed; the version answer still stands.
		return notFound
	}
}
