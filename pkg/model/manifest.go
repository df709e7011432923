package model

import "time"

// ManifestFileName is the name of the manifest inside an install directory.
const ManifestFileName = "manifest.json"

// Manifest records which version of a package is installed.
type Manifest struct {
	PackageName      string    `json:"packageName"`
	InstalledVersion string    `json:"installedVersion"`
	InstalledAt      time.Time `json:"installedAt"`
}
