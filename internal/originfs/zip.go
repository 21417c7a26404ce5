package originfs

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Zipper streams a ZIP archive of a subtree to w. This is the spec's
// external "ZIP archive building" collaborator; Origin depends only on this
// interface.
type Zipper interface {
	BuildZip(w io.Writer, root string) error
}

// DefaultZipper streams a ZIP with archive/zip, walking root with
// filepath.WalkDir so entries are added as their file contents are read
// rather than buffered in memory.
type DefaultZipper struct{}

func (DefaultZipper) BuildZip(w io.Writer, root string) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		entry, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(entry, f)
		return err
	})
}
