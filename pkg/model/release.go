// Package model provides the data structures shared by the kpm engine:
// registry release views, resolved versions, manifests and check results.
package model

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/glorpus-work/kpm/pkg/errors"
)

// LatestToken is the version token that asks the registry for its current release.
const LatestToken = "latest"

// VersionToken is a user supplied version request: LatestToken or an explicit version.
type VersionToken string

// ParseVersionToken validates s. Explicit tokens must parse as a version;
// the original string is kept and sent to the registry unchanged.
func ParseVersionToken(s string) (VersionToken, error) {
	if s == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "version token cannot be empty")
	}
	if s == LatestToken {
		return VersionToken(s), nil
	}
	if _, err := version.NewVersion(s); err != nil {
		return "", errors.Wrapf(errors.ErrInvalidInput, "invalid version %q: %v", s, err)
	}
	return VersionToken(s), nil
}

// IsLatest reports whether the token asks for the registry's latest release.
func (t VersionToken) IsLatest() bool {
	return t == LatestToken
}

func (t VersionToken) String() string {
	return string(t)
}

// ValidatePackageName checks that name can be used as a single directory
// segment below the install root.
func ValidatePackageName(name string) error {
	switch {
	case name == "":
		return errors.Wrap(errors.ErrInvalidInput, "package name cannot be empty")
	case strings.HasPrefix(name, "."):
		return errors.Wrapf(errors.ErrInvalidInput, "package name %q cannot start with a dot", name)
	case strings.ContainsAny(name, `/\`) || filepath.Base(name) != name:
		return errors.Wrapf(errors.ErrInvalidInput, "package name %q must not contain path separators", name)
	case strings.ContainsRune(name, 0):
		return errors.Wrapf(errors.ErrInvalidInput, "package name %q contains a NUL byte", name)
	}
	return nil
}

// ReleaseInfo is the registry's view of one release. It is never persisted.
type ReleaseInfo struct {
	Version          string          `json:"version"`
	ArtifactLocator  string          `json:"artifactLocator"`
	ManifestMetadata json.RawMessage `json:"manifestMetadata,omitempty"`
}

// ResolvedVersion is a concrete version plus the locator the registry serves
// its artifact under. Values are produced by the registry resolver.
type ResolvedVersion struct {
	Name    string
	Version string
	Locator string
}

func (r ResolvedVersion) String() string {
	return fmt.Sprintf("%s@%s", r.Name, r.Version)
}
