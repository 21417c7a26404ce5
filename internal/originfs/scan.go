package originfs

import (
	"os"
	"path/filepath"
	"sort"
)

// DirEntry describes one file or subdirectory within a listed directory.
type DirEntry struct {
	Name         string
	RelativePath string
	IsDirectory  bool
	Size         int64
}

// Scanner enumerates the immediate children of a directory. It is the
// out-of-scope "directory scanning" collaborator the spec calls for; Origin
// depends only on this interface.
type Scanner interface {
	Scan(dir string) ([]DirEntry, error)
}

// DefaultScanner lists a directory with os.ReadDir, sorted directories-first
// then alphabetically.
type DefaultScanner struct{}

func (DefaultScanner) Scan(dir string) ([]DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue // entry vanished between ReadDir and Info; skip rather than fail the whole listing
		}
		out = append(out, DirEntry{
			Name:         e.Name(),
			RelativePath: filepath.ToSlash(e.Name()),
			IsDirectory:  e.IsDir(),
			Size:         info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDirectory != out[j].IsDirectory {
			return out[i].IsDirectory
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ExcludingScanner wraps another Scanner, dropping entries whose name
// matches any of Patterns (filepath.Match glob syntax).
type ExcludingScanner struct {
	Inner    Scanner
	Patterns []string
}

func (s ExcludingScanner) Scan(dir string) ([]DirEntry, error) {
	entries, err := s.Inner.Scan(dir)
	if err != nil {
		return nil, err
	}
	if len(s.Patterns) == 0 {
		return entries, nil
	}

	out := entries[:0]
	for _, e := range entries {
		if s.excluded(e.Name) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s ExcludingScanner) excluded(name string) bool {
	for _, pat := range s.Patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
