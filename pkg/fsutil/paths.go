package fsutil

import (
	"os"
	"path/filepath"
)

const (
	// AppName is the name of the application used in paths
	AppName = "kpm"
)

// GetConfigDir returns the platform-specific configuration directory for the application
// On Linux: ~/.config/kpm/
// On macOS: ~/Library/Application Support/kpm/
// On Windows: %AppData%\kpm\
func GetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, AppName), nil
}
