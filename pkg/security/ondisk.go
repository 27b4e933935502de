package security

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// maxLinkDepth bounds symlink chains followed while resolving a path.
const maxLinkDepth = 40

// ValidateOnDisk rejects target when, following the links already written
// under root, it resolves outside root. Components that do not exist yet
// are taken literally.
func (v *Validator) ValidateOnDisk(root, target string) error {
	realRoot, err := resolve(root, 0)
	if err != nil {
		return fmt.Errorf("security: resolve destination: %w", err)
	}
	real, err := resolve(target, 0)
	if err != nil {
		return fmt.Errorf("security: resolve %s: %w", target, err)
	}
	if !within(realRoot, real) {
		slog.Error("security_path_rejected", "path", target, "resolved", real, "reason", "symlink_escape")
		return fmt.Errorf("security: %s escapes the destination through a symlink", target)
	}
	return nil
}

// ValidateLinkOnDisk rejects a link at linkPath whose target, followed from
// the link's real directory, resolves outside root.
func (v *Validator) ValidateLinkOnDisk(root, linkPath, link string) error {
	if filepath.IsAbs(link) {
		return fmt.Errorf("security: absolute symlink target not allowed: %s -> %s", linkPath, link)
	}
	realRoot, err := resolve(root, 0)
	if err != nil {
		return fmt.Errorf("security: resolve destination: %w", err)
	}
	dir, err := resolve(filepath.Dir(linkPath), 0)
	if err != nil {
		return fmt.Errorf("security: resolve %s: %w", linkPath, err)
	}
	real, err := resolve(filepath.Join(dir, link), 0)
	if err != nil {
		return fmt.Errorf("security: resolve %s: %w", linkPath, err)
	}
	if !within(realRoot, dir) || !within(realRoot, real) {
		slog.Error("security_symlink_rejected", "symlink", linkPath, "target", link, "resolved", real)
		return fmt.Errorf("security: symlink %s -> %s escapes the destination", linkPath, link)
	}
	return nil
}

// resolve returns the absolute real path of p. Existing links are followed,
// dangling ones included; missing components are appended as they are.
func resolve(p string, depth int) (string, error) {
	if depth > maxLinkDepth {
		return "", fmt.Errorf("too many levels of symbolic links: %s", p)
	}
	p, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	real, err := filepath.EvalSymlinks(p)
	if err == nil {
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	dir, err := resolve(parent, depth)
	if err != nil {
		return "", err
	}

	fi, err := os.Lstat(p)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return filepath.Join(dir, filepath.Base(p)), nil
	}
	link, err := os.Readlink(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(link) {
		link = filepath.Join(dir, link)
	}
	return resolve(link, depth+1)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
