// Package cfgfile models a dispatcher or httpd configuration file as an
// ordered sequence of raw lines. Files are read whole, transformed in memory
// and written back whole; lines that a transformation does not touch are
// written back byte for byte.
package cfgfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/creachadair/atomicfile"
)

const defaultMode fs.FileMode = 0o644

// File is a configuration file held in memory as raw lines (leading
// whitespace included, line terminators stripped).
type File struct {
	Path  string
	Lines []string

	// finalNewline records whether the source ended with a line terminator.
	finalNewline bool
}

// New returns a file that will be written with a trailing newline.
func New(path string, lines []string) *File {
	return &File{Path: path, Lines: append([]string{}, lines...), finalNewline: true}
}

// Parse splits data into lines without touching indentation.
func Parse(path string, data []byte) *File {
	f := &File{Path: path}
	if len(data) == 0 {
		f.finalNewline = true
		return f
	}
	text := string(data)
	if strings.HasSuffix(text, "\n") {
		f.finalNewline = true
		text = strings.TrimSuffix(text, "\n")
	}
	f.Lines = strings.Split(text, "\n")
	return f
}

// Read loads path into memory.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cfgfile: read %s: %w", path, err)
	}
	return Parse(path, data), nil
}

// Bytes renders the file exactly as it would be written.
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	for i, line := range f.Lines {
		buf.WriteString(line)
		if i < len(f.Lines)-1 || f.finalNewline {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Write replaces the file on disk atomically, keeping its permission bits.
func (f *File) Write() error {
	return WriteFile(f.Path, f.Bytes())
}

// SetLines swaps the content and reports whether anything changed.
func (f *File) SetLines(lines []string) bool {
	if equalLines(f.Lines, lines) {
		return false
	}
	f.Lines = lines
	return true
}

// WriteFile writes data to path through a temporary file so readers never
// observe a half-written configuration. Missing parent directories are
// created.
func WriteFile(path string, data []byte) error {
	mode := defaultMode
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cfgfile: stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cfgfile: ensure dir for %s: %w", path, err)
	}
	out, err := atomicfile.New(path, mode)
	if err != nil {
		return fmt.Errorf("cfgfile: open %s: %w", path, err)
	}
	if _, err := out.Write(data); err != nil {
		out.Cancel()
		return fmt.Errorf("cfgfile: write %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("cfgfile: commit %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
