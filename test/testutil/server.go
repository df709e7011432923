// Package testutil holds test helpers shared by kpm packages: an in-process
// registry that speaks the HTTP contract, archive fixture builders and
// config file helpers.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// APIPrefix is the path the fake registry serves its API under.
const APIPrefix = "/api/v1"

// Release is one version of a package served by the fake registry.
type Release struct {
	Version  string
	Archive  []byte
	Metadata map[string]any
}

// Locator returns the artifact locator the fake registry hands out for name@version.
func Locator(name, version string) string {
	return name + "@" + version
}

type packageEntry struct {
	releases map[string]Release
	latest   string
}

type forcedStatus struct {
	code    int
	message string
}

// FakeRegistry is an httptest server implementing the registry contract.
type FakeRegistry struct {
	Server *httptest.Server

	mu        sync.Mutex
	packages  map[string]*packageEntry
	statuses  map[string]forcedStatus
	truncated map[string]bool
	bodies    map[string]string
	downloads map[string]int
	requests  []string
}

// NewFakeRegistry starts a fake registry and stops it when the test ends.
func NewFakeRegistry(t *testing.T) *FakeRegistry {
	t.Helper()
	f := &FakeRegistry{
		packages:  make(map[string]*packageEntry),
		statuses:  make(map[string]forcedStatus),
		truncated: make(map[string]bool),
		bodies:    make(map[string]string),
		downloads: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+APIPrefix+"/packages/releases/{name}", f.handleLatest)
	mux.HandleFunc("GET "+APIPrefix+"/packages/release/{name}/{version}", f.handleRelease)
	mux.HandleFunc("GET "+APIPrefix+"/packages/download/{locator}", f.handleDownload)
	f.Server = httptest.NewServer(f.record(mux))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the API base URL to configure clients with.
func (f *FakeRegistry) URL() string {
	return f.Server.URL + APIPrefix
}

// AddRelease registers a release and makes it the latest one.
func (f *FakeRegistry) AddRelease(name, version string, archive []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.packages[name]
	if p == nil {
		p = &packageEntry{releases: make(map[string]Release)}
		f.packages[name] = p
	}
	p.releases[version] = Release{Version: version, Archive: archive, Metadata: map[string]any{"name": name}}
	p.latest = version
}

// SetLatest points the latest pointer of name at version.
func (f *FakeRegistry) SetLatest(name, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages[name].latest = version
}

// FailPackage makes every endpoint for name answer with code and an optional
// {"message"} body. A zero code clears the failure.
func (f *FakeRegistry) FailPackage(name string, code int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == 0 {
		delete(f.statuses, name)
		return
	}
	f.statuses[name] = forcedStatus{code: code, message: message}
}

// TruncateDownload makes the artifact of name@version abort halfway through
// the stream after announcing its full Content-Length.
func (f *FakeRegistry) TruncateDownload(name, version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncated[Locator(name, version)] = true
}

// SetReleaseBody replaces the JSON document served for name's release
// endpoints with a raw body.
func (f *FakeRegistry) SetReleaseBody(name, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[name] = body
}

// Downloads returns how many artifact downloads were served for name.
func (f *FakeRegistry) Downloads(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[name]
}

// Requests returns the request paths seen so far.
func (f *FakeRegistry) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *FakeRegistry) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (f *FakeRegistry) handleLatest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeForced(w, name) {
		return
	}
	p := f.packages[name]
	if p == nil {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("package %s not found", name))
		return
	}
	rel := p.releases[p.latest]
	writeJSON(w, map[string]any{
		"version":         rel.Version,
		"artifactLocator": Locator(name, rel.Version),
	})
}

func (f *FakeRegistry) handleRelease(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeForced(w, name) {
		return
	}
	p := f.packages[name]
	if p == nil {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("package %s not found", name))
		return
	}
	rel, ok := p.releases[version]
	if !ok {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("version %s of %s not found", version, name))
		return
	}
	writeJSON(w, map[string]any{
		"version":          rel.Version,
		"artifactLocator":  Locator(name, rel.Version),
		"manifestMetadata": rel.Metadata,
	})
}

func (f *FakeRegistry) handleDownload(w http.ResponseWriter, r *http.Request) {
	locator := r.PathValue("locator")
	name, version, ok := strings.Cut(locator, "@")
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown artifact")
		return
	}

	f.mu.Lock()
	if f.writeStatus(w, name) {
		f.mu.Unlock()
		return
	}
	var archive []byte
	found := false
	if p := f.packages[name]; p != nil {
		var rel Release
		rel, found = p.releases[version]
		archive = rel.Archive
	}
	truncate := f.truncated[locator]
	f.downloads[name]++
	f.mu.Unlock()

	if !found {
		writeMessage(w, http.StatusNotFound, "unknown artifact")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	if truncate {
		_, _ = w.Write(archive[:len(archive)/2])
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	_, _ = w.Write(archive)
}

// writeForced answers a release endpoint with a raw body or forced status.
// Callers hold f.mu.
func (f *FakeRegistry) writeForced(w http.ResponseWriter, name string) bool {
	if body, ok := f.bodies[name]; ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
		return true
	}
	return f.writeStatus(w, name)
}

func (f *FakeRegistry) writeStatus(w http.ResponseWriter, name string) bool {
	st, ok := f.statuses[name]
	if !ok {
		return false
	}
	writeMessage(w, st.code, st.message)
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if message != "" {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
	}
}
