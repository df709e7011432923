package cli

import (
	"fmt"

	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/model"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitGeneric      = 1
	ExitInvalidInput = 2
	ExitNotFound     = 3
	ExitRegistry     = 4
	ExitLocalFailure = 5
)

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch errors.KindOf(err) {
	case errors.KindInvalidInput:
		return ExitInvalidInput
	case errors.KindPackageNotFound, errors.KindVersionNotFound, errors.KindNotInstalled:
		return ExitNotFound
	case errors.KindRegistryUnavailable:
		return ExitRegistry
	case errors.KindDownloadFailed, errors.KindExtractionFailed, errors.KindFilesystem, errors.KindHookFailed:
		return ExitLocalFailure
	}

	for _, configErr := range []error{
		errors.ErrConfigValidation,
		errors.ErrConfigParse,
		errors.ErrUnknownConfigKey,
		errors.ErrConfigFileExists,
	} {
		if errors.Is(err, configErr) {
			return ExitInvalidInput
		}
	}
	return ExitGeneric
}

// BatchError reports the failed packages of a multi-package command. It
// unwraps to every package error so ExitCode classifies by the first
// recognizable failure.
type BatchError struct {
	Failed []model.PackageFailure
	Total  int
}

func (e *BatchError) Error() string {
	if len(e.Failed) == 1 {
		return e.Failed[0].Err.Error()
	}
	return fmt.Sprintf("%d of %d packages failed", len(e.Failed), e.Total)
}

// Unwrap returns the errors of the failed packages.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

func batchError(result model.BatchResult) error {
	if !result.HasFailures() {
		return nil
	}
	return &BatchError{Failed: result.Failed, Total: len(result.Failed) + len(result.Succeeded)}
}
