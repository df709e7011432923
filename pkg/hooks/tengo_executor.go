//go:generate mockgen -destination=./mocks/hooks.go . Executor

// Package hooks runs the Tengo scripts a package may ship to react to being
// installed or removed.
package hooks

import (
	"context"
	"fmt"
	"os"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/errors"
)

// Executor runs the hook of a given type for a package, if the package has one.
type Executor interface {
	Run(ctx context.Context, hookType HookType, hc Context) error
}

// TengoExecutor executes hook scripts with the Tengo interpreter.
type TengoExecutor struct {
	modules []string
}

// ScriptModules are the Tengo stdlib modules a hook script may import, besides kpm.
var ScriptModules = []string{"fmt", "os", "text", "times", "json"}

// NewTengoExecutor creates an executor that offers ScriptModules to scripts.
func NewTengoExecutor() *TengoExecutor {
	return &TengoExecutor{modules: ScriptModules}
}

// Run executes <PackageDir>/.kpm/hooks/<hookType>.tengo. A missing script is
// not an error. Scripts fail by raising a runtime error or by assigning a
// non-empty string or an error value to a global named err.
func (e *TengoExecutor) Run(ctx context.Context, hookType HookType, hc Context) error {
	switch hookType {
	case PostInstall, PreUninstall:
	default:
		return errors.Classify(errors.ErrHookFailed, fmt.Errorf("%w: %s", ErrUnsupportedHook, hookType))
	}

	path := ScriptPath(hc.PackageDir, hookType)
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Classify(errors.ErrHookFailed, fmt.Errorf("failed to read hook script %s: %w", path, err))
	}

	logger.Debug("Executing hook script", logger.Fields{
		"hook":      string(hookType),
		"package":   hc.PackageName,
		"version":   hc.Version,
		"operation": hc.Operation,
	})

	moduleMap := stdlib.GetModuleMap(e.modules...)
	moduleMap.AddBuiltinModule("kpm", contextModule(hc))

	script := tengo.NewScript(content)
	script.SetImports(moduleMap)

	compiled, err := script.RunContext(ctx)
	if err != nil {
		return errors.Classify(errors.ErrHookFailed, fmt.Errorf("%s hook of %s: %w", hookType, hc.PackageName, err))
	}
	if msg, failed := scriptError(compiled); failed {
		return errors.Classify(errors.ErrHookFailed, fmt.Errorf("%s hook of %s: %w: %s", hookType, hc.PackageName, ErrHookScript, msg))
	}

	logger.Debug("Hook script executed successfully", logger.Fields{"hook": string(hookType), "package": hc.PackageName})
	return nil
}

func contextModule(hc Context) map[string]tengo.Object {
	return map[string]tengo.Object{
		"package_name":     &tengo.String{Value: hc.PackageName},
		"version":          &tengo.String{Value: hc.Version},
		"previous_version": &tengo.String{Value: hc.PreviousVersion},
		"operation":        &tengo.String{Value: hc.Operation},
		"package_dir":      &tengo.String{Value: hc.PackageDir},
		"install_dir":      &tengo.String{Value: hc.InstallDir},
	}
}

// scriptError inspects the global err after a run.
func scriptError(compiled *tengo.Compiled) (string, bool) {
	if !compiled.IsDefined("err") {
		return "", false
	}
	switch o := compiled.Get("err").Object().(type) {
	case *tengo.String:
		return o.Value, o.Value != ""
	case *tengo.Error:
		msg, _ := tengo.ToString(o.Value)
		return msg, true
	default:
		return "", false
	}
}
