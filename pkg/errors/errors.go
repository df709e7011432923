// Package errors defines the failure taxonomy shared by the kpm engine and its CLI.
//
// Every error returned by an engine operation wraps exactly one of the sentinel
// values below, so callers classify failures with errors.Is or KindOf instead of
// matching on message text.
package errors

import (
	"errors"
	"fmt"
)

// Engine failure kinds.
var (
	// ErrPackageNotFound is returned when the registry has no package with the requested name.
	ErrPackageNotFound = fmt.Errorf("package not found")
	// ErrVersionNotFound is returned when the package exists but the requested version does not.
	ErrVersionNotFound = fmt.Errorf("version not found")
	// ErrRegistryUnavailable covers network errors, timeouts, 5xx answers and off-contract bodies.
	ErrRegistryUnavailable = fmt.Errorf("registry unavailable")
	// ErrDownloadFailed is returned when the artifact stream is interrupted or cannot be written.
	ErrDownloadFailed = fmt.Errorf("download failed")
	// ErrExtractionFailed is returned when the archive is corrupt or cannot be unpacked.
	ErrExtractionFailed = fmt.Errorf("extraction failed")
	// ErrFilesystem is returned for permission or space errors on directory creation and deletion.
	ErrFilesystem = fmt.Errorf("filesystem error")
	// ErrNotInstalled is returned when an operation needs an installed package and there is none.
	ErrNotInstalled = fmt.Errorf("package not installed")
	// ErrHookFailed is returned when a package hook script fails.
	ErrHookFailed = fmt.Errorf("hook failed")
	// ErrInvalidInput is returned for malformed package names or version tokens.
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Config errors.
var (
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath = fmt.Errorf("invalid config file path")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")
	ErrConfigEncode      = fmt.Errorf("failed to encode config")
	ErrConfigDirectory   = fmt.Errorf("failed to create config directory")
	ErrConfigFileCreate  = fmt.Errorf("failed to create config file")
	ErrConfigFileRename  = fmt.Errorf("failed to rename temporary config file")
	ErrConfigFileExists  = fmt.Errorf("configuration file already exists")
	ErrUnknownConfigKey  = fmt.Errorf("unknown configuration key")
)

// Kind is the coarse classification of an engine error.
type Kind int

// Known kinds, in the order KindOf checks them.
const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindPackageNotFound
	KindVersionNotFound
	KindNotInstalled
	KindRegistryUnavailable
	KindDownloadFailed
	KindExtractionFailed
	KindHookFailed
	KindFilesystem
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindInvalidInput, ErrInvalidInput},
	{KindPackageNotFound, ErrPackageNotFound},
	{KindVersionNotFound, ErrVersionNotFound},
	{KindNotInstalled, ErrNotInstalled},
	{KindRegistryUnavailable, ErrRegistryUnavailable},
	{KindDownloadFailed, ErrDownloadFailed},
	{KindExtractionFailed, ErrExtractionFailed},
	{KindHookFailed, ErrHookFailed},
	{KindFilesystem, ErrFilesystem},
}

// KindOf returns the kind of the first sentinel err wraps, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid-input"
	case KindPackageNotFound:
		return "package-not-found"
	case KindVersionNotFound:
		return "version-not-found"
	case KindNotInstalled:
		return "not-installed"
	case KindRegistryUnavailable:
		return "registry-unavailable"
	case KindDownloadFailed:
		return "download-failed"
	case KindExtractionFailed:
		return "extraction-failed"
	case KindHookFailed:
		return "hook-failed"
	case KindFilesystem:
		return "filesystem-error"
	default:
		return "unknown"
	}
}

// PackageError records which operation failed for which package.
type PackageError struct {
	Op      string
	Package string
	Err     error
}

// NewPackageError creates a new PackageError.
func NewPackageError(op, pkg string, err error) error {
	return &PackageError{Op: op, Package: pkg, Err: err}
}

// Error implements the error interface for PackageError.
func (e *PackageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Package, e.Err)
}

// Unwrap returns the underlying error for PackageError.
func (e *PackageError) Unwrap() error {
	return e.Err
}

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Classify attaches kind to err while keeping err in the chain.
// A nil err yields nil. If err already carries kind it is returned unchanged.
func Classify(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Is and As forward to the standard library so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As forwards to errors.As.
func As(err error, target any) bool { return errors.As(err, target) }
