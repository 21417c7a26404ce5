package originfs

import (
	"mime"
	"path/filepath"
)

// defaultContentType is used whenever extension-based lookup finds nothing.
const defaultContentType = "application/octet-stream"

// ContentType returns the MIME type for path's extension, falling back to
// defaultContentType.
func ContentType(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		return defaultContentType
	}
	return ct
}
