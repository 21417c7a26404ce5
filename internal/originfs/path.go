// Package originfs implements the Origin-side filesystem surface: safe path
// resolution, directory scanning, MIME lookup, directory-listing rendering,
// ZIP archive streaming, and chunked file serving.
package originfs

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrForbiddenPath is returned when a viewer-requested path resolves outside
// the shared base directory. This is the sole defense against traversal
// attacks — the Relay never resolves filesystem paths itself.
var ErrForbiddenPath = errors.New("path escapes share base")

// ResolvePath normalizes requestPath (URI-decoded, slash-trimmed by the
// caller) against base and rejects any result that is not base itself or a
// descendant of it.
func ResolvePath(base, requestPath string) (string, error) {
	cleanBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(cleanBase, requestPath)

	rel, err := filepath.Rel(cleanBase, joined)
	if err != nil {
		return "", ErrForbiddenPath
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrForbiddenPath
	}
	return joined, nil
}

// NormalizePath trims leading/trailing slashes from a viewer-supplied
// resource path. It does not URI-decode; Servicer.Service decodes first.
func NormalizePath(raw string) string {
	return strings.Trim(raw, "/")
}

// IsZipRequest reports whether path names a __download__.zip request,
// returning the subdirectory it applies to (possibly "" for the share root).
func IsZipRequest(path string) (subdir string, ok bool) {
	const suffix = "__download__.zip"
	if path == suffix {
		return "", true
	}
	if strings.HasSuffix(path, "/"+suffix) {
		return strings.TrimSuffix(path, "/"+suffix), true
	}
	return "", false
}
