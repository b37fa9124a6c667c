// Package testutil materialises configuration trees for tests. Trees are
// written as txtar archives so a whole dispatcher layout fits in one string.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

// WriteTree unpacks archive into a fresh temporary directory and returns it.
func WriteTree(t *testing.T, archive string) string {
	t.Helper()
	dir := t.TempDir()
	Unpack(t, dir, archive)
	return dir
}

// Unpack writes every file of archive below dir.
func Unpack(t *testing.T, dir, archive string) {
	t.Helper()
	ar := txtar.Parse([]byte(archive))
	for _, file := range ar.Files {
		target := filepath.Join(dir, filepath.FromSlash(file.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", target, err)
		}
		if err := os.WriteFile(target, file.Data, 0o644); err != nil {
			t.Fatalf("write %s: %v", target, err)
		}
	}
}

// ReadFile returns the content of a file below dir.
func ReadFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

// WantFile fails the test unless the file content equals want.
func WantFile(t *testing.T, dir, name, want string) {
	t.Helper()
	if got := ReadFile(t, dir, name); got != want {
		t.Fatalf("%s:\n%s\nwant:\n%s", name, got, want)
	}
}

// WantMissing fails the test if the file exists.
func WantMissing(t *testing.T, dir, name string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err == nil {
		t.Fatalf("%s still exists", name)
	}
}

// Files lists every regular file below dir as slash-separated relative paths.
func Files(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	sort.Strings(files)
	return files
}

// Lines splits text into lines, dropping the final newline.
func Lines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
