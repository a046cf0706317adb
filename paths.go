package pathwatch

import (
	"path/filepath"
	"strings"
)

const sep = filepath.Separator

// splitSegments splits an absolute, cleaned path into its non-empty segments.
// "/a/b/c" becomes ["a" "b" "c"]; the root path has no segments. On Windows
// the volume name ("C:") counts as the first segment.
func splitSegments(path string) []string {
	path = filepath.Clean(path)
	parts := strings.Split(path, string(sep))
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// joinSegments is the inverse of splitSegments for absolute paths.
func joinSegments(segs []string) string {
	if len(segs) == 0 {
		return string(sep)
	}
	if strings.HasSuffix(segs[0], ":") {
		// Windows volume name; no leading separator.
		return segs[0] + string(sep) + strings.Join(segs[1:], string(sep))
	}
	return string(sep) + strings.Join(segs, string(sep))
}

// isAncestorOrSelf reports whether dir is path itself or one of its parent
// directories. Both arguments must be cleaned absolute paths.
func isAncestorOrSelf(dir, path string) bool {
	if dir == path {
		return true
	}
	return strings.HasPrefix(path, withTrailingSep(dir))
}

// inside reports whether path lies strictly below dir.
func inside(dir, path string) bool {
	return strings.HasPrefix(path, withTrailingSep(dir))
}

func withTrailingSep(dir string) string {
	if strings.HasSuffix(dir, string(sep)) {
		return dir
	}
	return dir + string(sep)
}
