// Package download streams registry artifacts to disk. Data is written to a
// hidden ".partial" file and only renamed to its final name once the stream
// completed and was synced, so no completed-looking file ever holds a torn
// download.
package download

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glorpus-work/kpm/internal/logger"
	pkgerrors "github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/fsutil"
	"github.com/glorpus-work/kpm/pkg/model"
	"github.com/glorpus-work/kpm/pkg/progress"
)

const (
	// PartialPattern is the os.CreateTemp pattern of in-flight downloads.
	PartialPattern = ".download-*.partial"
	// PartialSuffix identifies in-flight downloads left behind by interrupted runs.
	PartialSuffix = ".partial"
	// ArtifactSuffix is the extension of completed downloads.
	ArtifactSuffix = ".artifact"
)

// ManagerImpl is an HTTP download manager for registry artifacts.
type ManagerImpl struct {
	urls      URLResolver
	client    *http.Client
	userAgent string
}

// NewManager creates a new download manager. timeout bounds connecting and
// waiting for the response headers, not the transfer itself.
func NewManager(urls URLResolver, timeout time.Duration, userAgent string) *ManagerImpl {
	if userAgent == "" {
		userAgent = "kpm/1.0"
	}
	return &ManagerImpl{
		urls:      urls,
		client:    &http.Client{Transport: newTransport(timeout)},
		userAgent: userAgent,
	}
}

// newTransport bounds connection setup and the wait for response headers by
// timeout. The body stream is bounded only by the request context, so a slow
// but healthy artifact download is never cut off.
func newTransport(timeout time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout <= 0 {
		return transport
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return transport
}

// ArtifactFileName returns the final file name of a downloaded artifact.
func ArtifactFileName(resolved model.ResolvedVersion) string {
	clean := strings.NewReplacer("/", "_", `\`, "_").Replace(resolved.Version)
	return resolved.Name + "-" + clean + ArtifactSuffix
}

// Download implements Manager.
func (m *ManagerImpl) Download(ctx context.Context, resolved model.ResolvedVersion, destDir string, opts Options) (string, error) {
	if destDir == "" || !filepath.IsAbs(destDir) {
		return "", fmt.Errorf("download dir must be absolute: %q: %w", destDir, pkgerrors.ErrInvalidInput)
	}
	if resolved.Locator == "" {
		return "", fmt.Errorf("release %s has no artifact locator: %w", resolved, pkgerrors.ErrDownloadFailed)
	}
	if err := fsutil.EnsureDir(destDir); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.ErrFilesystem, fmt.Sprintf("could not create download dir: %v", err))
	}

	resp, err := m.doRequest(ctx, m.urls.ArtifactURL(resolved.Locator))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	tmpPath, err := writeBodyToTemp(resp, destDir, opts.Progress)
	if err != nil {
		return "", err
	}

	absPath := filepath.Join(destDir, ArtifactFileName(resolved))
	if err := finalizeFile(tmpPath, absPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	logger.Debug("artifact downloaded", logger.Fields{"package": resolved.Name, "version": resolved.Version, "path": absPath})
	return absPath, nil
}

func (m *ManagerImpl) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v: %w", err, pkgerrors.ErrDownloadFailed)
	}
	req.Header.Set("User-Agent", m.userAgent)
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w: %w", err, pkgerrors.ErrDownloadFailed)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d: %w", resp.StatusCode, pkgerrors.ErrDownloadFailed)
	}
	return resp, nil
}

// writeBodyToTemp streams the body into a ".partial" file in dir. The
// temporary file is removed on every error path.
func writeBodyToTemp(resp *http.Response, dir string, fn progress.Func) (tmpPath string, err error) {
	tmp, err := os.CreateTemp(dir, PartialPattern)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.ErrDownloadFailed, fmt.Sprintf("could not create temp file: %v", err))
	}
	tmpPath = tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	counter := progress.NewCounter(resp.ContentLength, fn)
	written, err := io.Copy(tmp, io.TeeReader(resp.Body, counter))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.ErrDownloadFailed, fmt.Sprintf("could not write file: %v", err))
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return "", fmt.Errorf("received %d of %d bytes: %w", written, resp.ContentLength, pkgerrors.ErrDownloadFailed)
	}
	if err = tmp.Sync(); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.ErrDownloadFailed, fmt.Sprintf("could not sync file: %v", err))
	}
	if err = tmp.Close(); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.ErrDownloadFailed, fmt.Sprintf("could not close file: %v", err))
	}
	return tmpPath, nil
}

func finalizeFile(tmpPath, absPath string) error {
	// tmpPath was created in the same directory
	if err := os.Rename(tmpPath, absPath); err != nil {
		return pkgerrors.Wrap(pkgerrors.ErrDownloadFailed, fmt.Sprintf("could not finalize file: %v", err))
	}
	if err := os.Chmod(absPath, fsutil.FileModeDefault); err != nil {
		_ = os.Remove(absPath)
		return pkgerrors.Wrap(pkgerrors.ErrDownloadFailed, fmt.Sprintf("could not set permissions: %v", err))
	}
	return nil
}
