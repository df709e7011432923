package hooks

import (
	"path/filepath"
)

// HookType names a point in a package's lifecycle where a script may run.
type HookType string

// Supported hook types.
const (
	PostInstall  HookType = "post-install"
	PreUninstall HookType = "pre-uninstall"
)

// ScriptExtension is the file extension of hook scripts.
const ScriptExtension = ".tengo"

// HooksDir is where a package keeps its hook scripts, relative to its root.
var HooksDir = filepath.Join(".kpm", "hooks")

// Context is exposed to scripts as the builtin "kpm" module.
type Context struct {
	PackageName     string
	Version         string
	PreviousVersion string
	Operation       string // install, update, uninstall
	// PackageDir is the directory holding the package files while the hook runs.
	// For post-install hooks that is the staging directory.
	PackageDir string
	// InstallDir is where the package lives once the operation completes.
	InstallDir string
}

// ScriptPath returns where the script of hookType is expected inside packageDir.
func ScriptPath(packageDir string, hookType HookType) string {
	return filepath.Join(packageDir, HooksDir, string(hookType)+ScriptExtension)
}
