package originfs

import (
	"errors"
	"testing"
)

func TestResolvePathWithinBase(t *testing.T) {
	base := t.TempDir()
	got, err := ResolvePath(base, "sub/file.txt")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got == "" {
		t.Fatal("expected resolved path")
	}
}

func TestResolvePathRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	cases := []string{
		"../etc/passwd",
		"../../etc/passwd",
		"a/../../b",
	}
	for _, c := range cases {
		if _, err := ResolvePath(base, c); !errors.Is(err, ErrForbiddenPath) {
			t.Errorf("ResolvePath(%q): expected ErrForbiddenPath, got %v", c, err)
		}
	}
}

func TestResolvePathAllowsBaseItself(t *testing.T) {
	base := t.TempDir()
	got, err := ResolvePath(base, "")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got == "" {
		t.Fatal("expected resolved path for empty request path")
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/a/b/":  "a/b",
		"a/b":    "a/b",
		"///":    "",
		"":       "",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsZipRequest(t *testing.T) {
	cases := []struct {
		path   string
		wantOK bool
		wantDir string
	}{
		{"__download__.zip", true, ""},
		{"sub/dir/__download__.zip", true, "sub/dir"},
		{"hello.txt", false, ""},
	}
	for _, c := range cases {
		dir, ok := IsZipRequest(c.path)
		if ok != c.wantOK || dir != c.wantDir {
			t.Errorf("IsZipRequest(%q) = (%q, %v), want (%q, %v)", c.path, dir, ok, c.wantDir, c.wantOK)
		}
	}
}
