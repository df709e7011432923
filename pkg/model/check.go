package model

// CheckStatus is the outcome of comparing an installed package with the registry.
type CheckStatus string

const (
	// StatusUpToDate means the installed version equals the registry's latest.
	StatusUpToDate CheckStatus = "up-to-date"
	// StatusOutdated means the registry's latest differs from the installed version.
	StatusOutdated CheckStatus = "outdated"
	// StatusNotInstalled means there is no manifest for the package.
	StatusNotInstalled CheckStatus = "not-installed"
)

// CheckResult describes the update state of one package.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Current string      `json:"current,omitempty"`
	Latest  string      `json:"latest,omitempty"`
	// Resolved is the latest release that was compared, so an update can
	// install exactly what was checked.
	Resolved *ResolvedVersion `json:"-"`
}

// PackageOutcome is a successful step of a batch operation.
type PackageOutcome struct {
	Name            string `json:"name"`
	PreviousVersion string `json:"previousVersion,omitempty"`
	Version         string `json:"version"`
	UpToDate        bool   `json:"upToDate"`
}

// PackageFailure is a failed step of a batch operation.
type PackageFailure struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// BatchResult collects the per-package outcomes of a batch update, in the
// order the packages were listed.
type BatchResult struct {
	Succeeded []PackageOutcome `json:"succeeded"`
	Failed    []PackageFailure `json:"failed"`
}

// HasFailures reports whether at least one package failed.
func (b BatchResult) HasFailures() bool {
	return len(b.Failed) > 0
}
