package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath    = errors.New("invalid path")
	ErrProtectedPath  = errors.New("protected path")
	ErrOutsideAllowed = errors.New("outside scanned root")
	ErrTraversal      = errors.New("path traversal detected")
	ErrSymlinkEscape  = errors.New("symlink escape detected")
	ErrNotRegular     = errors.New("not a regular file")
)

// Validator guards every file the processor deletes or creates
type Validator struct {
	AllowedRoots   []string
	ProtectedPaths []string
}

// NewValidator creates a validator for the given roots and optional additional protected paths.
// A built-in system path that contains one of the roots is not protected, so a root such
// as /usr/share/backgrounds stays usable. Extra protected paths always apply.
func NewValidator(allowed []string, extraProtected []string) *Validator {
	roots := normalizeRoots(allowed)
	return &Validator{
		AllowedRoots:   roots,
		ProtectedPaths: defaultProtected(roots, extraProtected),
	}
}

// ValidateDeleteTarget authorizes removal of an original after its conversion.
// The target must exist as a regular file inside an allowed root.
func (v *Validator) ValidateDeleteTarget(path string) error {
	p, err := v.validateLocation(path)
	if err != nil {
		return err
	}

	info, err := os.Lstat(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.Mode().IsRegular() {
		return ErrNotRegular
	}
	return nil
}

// ValidateOutputTarget authorizes creating (or replacing) path with converted output.
// The path does not need to exist yet.
func (v *Validator) ValidateOutputTarget(path string) error {
	_, err := v.validateLocation(path)
	return err
}

func (v *Validator) validateLocation(path string) (string, error) {
	if DetectTraversal(path) {
		return "", ErrTraversal
	}

	p, err := NormalizePath(path)
	if err != nil {
		return "", err
	}

	if IsProtectedPath(p, v.ProtectedPaths) {
		return "", ErrProtectedPath
	}

	if !IsWithinAllowedRoots(p, v.AllowedRoots) {
		return "", ErrOutsideAllowed
	}

	escaped, err := DetectSymlinkEscape(p, v.AllowedRoots)
	if err != nil {
		// a not-yet-created output has nothing to resolve
		if os.IsNotExist(err) {
			return p, nil
		}
		return "", err
	}
	if escaped {
		return "", ErrSymlinkEscape
	}
	return p, nil
}

// NormalizePath converts path to absolute, cleaned form
func NormalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrInvalidPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", ErrInvalidPath
	}
	return filepath.Clean(abs), nil
}

// DetectTraversal reports any ".." segment in raw input
func DetectTraversal(raw string) bool {
	for _, p := range strings.Split(filepath.ToSlash(raw), "/") {
		if p == ".." {
			return true
		}
	}
	return false
}

// IsWithinAllowedRoots checks if path is within any allowed root
func IsWithinAllowedRoots(path string, allowedRoots []string) bool {
	p := filepath.Clean(path)
	for _, r := range allowedRoots {
		if hasPathPrefix(p, r) {
			return true
		}
	}
	return false
}

// DetectSymlinkEscape resolves symlinks and reports whether the result leaves the
// allowed roots. The roots are resolved too, so a root behind a symlink still matches.
func DetectSymlinkEscape(cleanAbs string, allowedRoots []string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(cleanAbs)
	if err != nil {
		return false, err
	}
	resolvedAbs, err := filepath.Abs(resolved)
	if err != nil {
		return false, err
	}
	return !IsWithinAllowedRoots(filepath.Clean(resolvedAbs), resolveRoots(allowedRoots)), nil
}

// IsProtectedPath checks if path matches protected system paths
func IsProtectedPath(path string, protected []string) bool {
	p := filepath.Clean(path)

	if p == string(os.PathSeparator) {
		return true
	}

	for _, prot := range protected {
		prot = filepath.Clean(prot)
		if prot == string(os.PathSeparator) {
			continue
		}
		if hasPathPrefix(p, prot) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)

	if prefix == string(os.PathSeparator) {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(os.PathSeparator))
}

func normalizeRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if strings.TrimSpace(r) == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		out = append(out, filepath.Clean(abs))
	}
	return out
}

func resolveRoots(roots []string) []string {
	out := make([]string, 0, len(roots)*2)
	for _, r := range roots {
		out = append(out, r)
		if resolved, err := filepath.EvalSymlinks(r); err == nil && resolved != r {
			out = append(out, resolved)
		}
	}
	return out
}

// defaultProtected returns the base set of protected paths, minus those holding a root,
// plus any extras
func defaultProtected(roots, extra []string) []string {
	base := []string{
		"/",
		"/etc",
		"/bin",
		"/usr",
		"/boot",
		"/lib",
		"/lib64",
		"/sbin",
		"/proc",
		"/sys",
		"/dev",
	}

	out := make([]string, 0, len(base)+len(extra))
	for _, prot := range base {
		if prot != string(os.PathSeparator) && holdsRoot(prot, roots) {
			continue
		}
		out = append(out, prot)
	}
	return append(out, extra...)
}

func holdsRoot(prot string, roots []string) bool {
	for _, r := range roots {
		if hasPathPrefix(r, prot) {
			return true
		}
	}
	return false
}
