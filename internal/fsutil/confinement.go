// SPDX-License-Identifier: MIT

// Package fsutil guards filesystem access for user-influenced paths.
// Every path derived from an upload or a job id must pass through one of
// the Confine functions before it is opened or handed to a subprocess.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfineRelPath joins root and relTarget and verifies the result stays
// physically underneath the resolved root. It protects against symlink
// traversal and backslash bypass. The target must be relative.
func ConfineRelPath(root, relTarget string) (string, error) {
	// Backslashes are rejected outright to avoid OS-specific parsing
	// ambiguity on non-Windows systems.
	if strings.Contains(relTarget, "\\") {
		return "", fmt.Errorf("path contains backslash: %s", relTarget)
	}

	cleanRel := filepath.Clean(relTarget)
	if filepath.IsAbs(cleanRel) || strings.HasPrefix(cleanRel, "/") {
		return "", fmt.Errorf("target path must be relative: %s", relTarget)
	}

	// Segment-based traversal check: Clean collapses "a/../b", so anything
	// still starting with ".." escapes the root.
	if cleanRel == ".." || strings.HasPrefix(cleanRel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt: %s", relTarget)
	}

	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}

	return resolveAndCheck(realRoot, filepath.Join(realRoot, cleanRel))
}

// ConfineAbsPath verifies that targetAbs is physically underneath the
// resolved root. The target must be absolute.
func ConfineAbsPath(rootAbs, targetAbs string) (string, error) {
	if strings.Contains(targetAbs, "\\") {
		return "", fmt.Errorf("path contains backslash: %s", targetAbs)
	}
	if !filepath.IsAbs(targetAbs) {
		return "", fmt.Errorf("target path must be absolute: %s", targetAbs)
	}

	realRoot, err := resolveRoot(rootAbs)
	if err != nil {
		return "", err
	}

	return resolveAndCheck(realRoot, filepath.Clean(targetAbs))
}

func resolveRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		realRoot = absRoot
	}
	return realRoot, nil
}

// resolveAndCheck resolves symlinks in fullPath and ensures the physical
// location is within realRoot.
func resolveAndCheck(realRoot, fullPath string) (string, error) {
	var realPath string
	if _, err := os.Lstat(fullPath); err == nil {
		rp, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			// Fail closed when an existing path cannot be resolved.
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		realPath = rp
	} else {
		// Target does not exist yet (e.g. an output file about to be
		// written). Resolve the parent instead.
		dir := filepath.Dir(fullPath)
		if rp, err := filepath.EvalSymlinks(dir); err == nil {
			realPath = filepath.Join(rp, filepath.Base(fullPath))
		} else if _, statErr := os.Stat(dir); statErr == nil {
			// Parent exists but resolution failed (permissions, loop).
			return "", fmt.Errorf("failed to resolve parent path: %w", err)
		} else {
			realPath = fullPath
		}
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %s", realPath)
	}
	return realPath, nil
}

// IsRegularFile checks that path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}
