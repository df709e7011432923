package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsafePath is returned for entries that would land outside the extraction directory.
	ErrUnsafePath = fmt.Errorf("unsafe archive path")
	// ErrUnsupportedEntry is returned for entry types kpm does not extract.
	ErrUnsupportedEntry = fmt.Errorf("unsupported archive entry")
)

// validatePath maps an archive entry name to a path below base.
// It returns "" for entries naming base itself.
func validatePath(base, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty entry name", ErrUnsafePath)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrUnsafePath, name)
	}

	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, name)
	}

	cleaned := filepath.Clean(filepath.FromSlash(slashed))
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the extraction directory", ErrUnsafePath, name)
	}

	target := filepath.Join(base, cleaned)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the extraction directory", ErrUnsafePath, name)
	}
	return target, nil
}

// checkLinkTarget accepts relative targets of the form "../../a/b": a run of
// ".." that does not climb above the staging directory, followed by plain
// names. Since links are never created below another link, such a target
// stays inside the staging directory whatever later entries add.
func checkLinkTarget(rel, target string) error {
	if target == "" {
		return fmt.Errorf("%w: symlink %s has an empty target", ErrUnsafePath, rel)
	}
	if strings.ContainsRune(target, 0) {
		return fmt.Errorf("%w: symlink %s target contains NUL", ErrUnsafePath, rel)
	}
	slashed := strings.ReplaceAll(target, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(target) || filepath.VolumeName(target) != "" {
		return fmt.Errorf("%w: symlink %s points to absolute path %q", ErrUnsafePath, rel, target)
	}

	depth := 0
	if dir := filepath.Dir(rel); dir != "." {
		depth = len(strings.Split(dir, string(filepath.Separator)))
	}

	descended := false
	for _, part := range strings.Split(slashed, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if descended {
				return fmt.Errorf("%w: symlink %s target %q climbs after descending", ErrUnsafePath, rel, target)
			}
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: symlink %s points outside the extraction directory: %q", ErrUnsafePath, rel, target)
			}
		default:
			descended = true
		}
	}
	return nil
}
