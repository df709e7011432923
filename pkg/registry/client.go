// Package registry talks to the kpm registry over its HTTP contract and
// turns version tokens into concrete releases.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/model"
)

// maxErrorBody caps how much of a non-200 answer is read for its message.
const maxErrorBody = 64 << 10

// maxReleaseBody caps the size of a release document.
const maxReleaseBody = 1 << 20

// StatusError is a non-200 answer from the registry.
type StatusError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("registry returned %d for %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("registry returned %d for %s", e.StatusCode, e.URL)
}

// Client is an HTTP client for the registry contract.
type Client struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

// NewClient creates a registry client. baseURL is the API root, e.g.
// https://kpm.metatable.dev/api/v1.
func NewClient(baseURL string, timeout time.Duration, userAgent string) *Client {
	if userAgent == "" {
		userAgent = "kpm/1.0"
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// LatestRelease fetches the release the registry currently calls latest.
// A 404 means the package does not exist.
func (c *Client) LatestRelease(ctx context.Context, name string) (*model.ReleaseInfo, error) {
	release, err := c.getRelease(ctx, c.endpoint("packages", "releases", name))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, errors.Classify(errors.ErrPackageNotFound, err)
		}
		return nil, err
	}
	return release, nil
}

// Release fetches one specific release. A 404 is reported as ErrVersionNotFound;
// the registry does not say whether the package or the version is missing.
func (c *Client) Release(ctx context.Context, name, version string) (*model.ReleaseInfo, error) {
	release, err := c.getRelease(ctx, c.endpoint("packages", "release", name, version))
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, errors.Classify(errors.ErrVersionNotFound, err)
		}
		return nil, err
	}
	return release, nil
}

// ArtifactURL returns the download URL for an artifact locator.
func (c *Client) ArtifactURL(locator string) string {
	return c.endpoint("packages", "download", locator)
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// Get issues a GET with the client's headers. The caller closes the body.
// Transport failures are classified as ErrRegistryUnavailable.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRegistryUnavailable, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("User-Agent", c.userAgent)

	logger.Debug("registry request", logger.Fields{"url": rawURL})
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Classify(errors.ErrRegistryUnavailable, err)
	}
	return resp, nil
}

func (c *Client) getRelease(ctx context.Context, rawURL string) (*model.ReleaseInfo, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		se := newStatusError(rawURL, resp)
		if resp.StatusCode == http.StatusNotFound {
			return nil, se
		}
		return nil, errors.Classify(errors.ErrRegistryUnavailable, se)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReleaseBody))
	if err != nil {
		return nil, errors.Classify(errors.ErrRegistryUnavailable, err)
	}
	if err := validateRelease(body); err != nil {
		return nil, errors.Classify(errors.ErrRegistryUnavailable, err)
	}

	var release model.ReleaseInfo
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, errors.Classify(errors.ErrRegistryUnavailable, err)
	}
	return &release, nil
}

// newStatusError reads an optional {"message": "..."} body from resp.
func newStatusError(rawURL string, resp *http.Response) *StatusError {
	se := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return se
	}
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		se.Message = payload.Message
	}
	return se
}
