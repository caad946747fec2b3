// Package pathguard confines client-supplied file names to the track cache.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrTraversal      = errors.New("path escapes cache root")
	ErrInvalidSegment = errors.New("invalid path segment")
)

// Guard resolves requested files against a root directory. The root is
// expected to hold one directory per track identifier.
type Guard struct {
	root string
}

func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Guard{root: abs}, nil
}

func (g *Guard) Root() string {
	return g.root
}

// ValidateSegment reports whether s can be used verbatim as a single
// directory or file name.
func ValidateSegment(s string) error {
	switch {
	case s == "", s == ".", s == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSegment, s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidSegment, s)
	case strings.IndexByte(s, 0) >= 0:
		return fmt.Errorf("%w: contains NUL", ErrInvalidSegment)
	case len(s) > 255:
		return fmt.Errorf("%w: too long", ErrInvalidSegment)
	}
	return nil
}

// Resolve returns the absolute path of file inside the directory of id.
// Requests that would leave that directory are rejected, never rewritten.
func (g *Guard) Resolve(id, file string) (string, error) {
	if err := ValidateSegment(id); err != nil {
		return "", err
	}
	base := filepath.Join(g.root, id)

	rel, err := cleanRelative(file)
	if err != nil {
		return "", err
	}
	return g.confine(base, filepath.Join(base, rel))
}

// cleanRelative canonicalizes a relative request path. Anything that still
// climbs out after cleaning is a traversal attempt.
func cleanRelative(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("%w: empty file name", ErrInvalidSegment)
	}
	if strings.Contains(file, `\`) {
		return "", fmt.Errorf("%w: backslash in %q", ErrTraversal, file)
	}
	if strings.IndexByte(file, 0) >= 0 {
		return "", fmt.Errorf("%w: NUL in file name", ErrInvalidSegment)
	}
	if filepath.IsAbs(file) || strings.HasPrefix(file, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrTraversal, file)
	}

	for _, part := range strings.Split(file, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrTraversal, file)
		}
	}

	clean := filepath.Clean(file)
	if clean == "." {
		return "", fmt.Errorf("%w: %q names the directory itself", ErrInvalidSegment, file)
	}
	return clean, nil
}

// confine resolves symlinks on both sides and checks containment with
// filepath.Rel. The track directory itself must also stay under the root.
func (g *Guard) confine(base, full string) (string, error) {
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve base: %w", err)
		}
		realBase = base
	}
	if !within(g.root, realBase) {
		return "", fmt.Errorf("%w: %s", ErrTraversal, realBase)
	}

	realPath := full
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		realPath = resolved
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolve path: %w", err)
	} else if dir, err := filepath.EvalSymlinks(filepath.Dir(full)); err == nil {
		realPath = filepath.Join(dir, filepath.Base(full))
	}

	if !within(realBase, realPath) {
		return "", fmt.Errorf("%w: %s", ErrTraversal, realPath)
	}
	return realPath, nil
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
