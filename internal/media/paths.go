// SPDX-License-Identifier: MIT

package media

import (
	"fmt"
	"path/filepath"
	"strings"
)

// shellMeta are characters never allowed in a basename handed to a
// subprocess. No shell is ever invoked, but defense stays in depth: a
// path that merely looks like an injection attempt is rejected.
const shellMeta = "|;&$`"

// ValidateArgPath checks a path before it becomes a subprocess argument.
// Rejected: null bytes, ".." path segments, shell metacharacters in the
// basename, and basenames starting with "-" (option injection).
func ValidateArgPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains null byte")
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return fmt.Errorf("path contains traversal segment: %s", path)
		}
	}
	base := filepath.Base(path)
	if strings.ContainsAny(base, shellMeta) {
		return fmt.Errorf("basename contains shell metacharacter: %s", base)
	}
	if strings.HasPrefix(base, "-") {
		return fmt.Errorf("basename starts with dash: %s", base)
	}
	return nil
}
