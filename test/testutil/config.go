package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// SetupTestConfig writes a config file pointing at registryURL and installDir
// into a temporary directory and returns its path.
func SetupTestConfig(t *testing.T, registryURL, installDir string) string {
	t.Helper()

	configStr := fmt.Sprintf(`settings:
  install_dir: %s
  registry_url: %s
  http_timeout: 5s
  log_level: debug
`, installDir, registryURL)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(configStr), 0o600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

// InstallPackageDir creates <root>/<name> holding files and a manifest for
// version, as a completed install would leave it.
func InstallPackageDir(t *testing.T, root, name, version string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("create %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create %s: %v", dir, err)
	}
	manifest := fmt.Sprintf(`{"packageName":%q,"installedVersion":%q,"installedAt":"2024-01-01T00:00:00Z"}`, name, version)
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return dir
}

// SnapshotDir returns relative path → content for every regular file below dir.
func SnapshotDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	snap := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snap[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot %s: %v", dir, err)
	}
	return snap
}
