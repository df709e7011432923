//go:generate mockgen -destination=./mocks/download.go . Manager

package download

import (
	"context"

	"github.com/glorpus-work/kpm/pkg/model"
	"github.com/glorpus-work/kpm/pkg/progress"
)

// Manager downloads release artifacts into a package's install directory.
type Manager interface {
	// Download streams the artifact of resolved into destDir and returns the
	// absolute path of the completed file. destDir must be absolute.
	Download(ctx context.Context, resolved model.ResolvedVersion, destDir string, opts Options) (string, error)
}

// URLResolver maps an artifact locator to the URL it is served from.
type URLResolver interface {
	ArtifactURL(locator string) string
}

// Options control a single download.
type Options struct {
	// Progress receives bytes written and the announced Content-Length (-1 if absent).
	Progress progress.Func
}
