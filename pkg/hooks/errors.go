package hooks

import (
	"fmt"
)

var (
	// ErrHookScript is returned when a script reports failure through its err variable.
	ErrHookScript = fmt.Errorf("hook script reported an error")
	// ErrUnsupportedHook is returned for hook types kpm does not run.
	ErrUnsupportedHook = fmt.Errorf("unsupported hook type")
)
