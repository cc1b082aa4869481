package runner

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// OSFileSystem implements engine.FileSystem on the local disk.
type OSFileSystem struct{}

// RemoveAll removes path and any children.
func (OSFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Stat returns file info for path.
func (OSFileSystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// ReadFile returns the contents of path.
func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ReadDir lists path.
func (OSFileSystem) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

// DryRunFileSystem reads the local disk but never modifies it. Paths passed
// to NewDryRunFileSystem are reported as existing empty files, so stages that
// look for the output of a command the dry run did not execute can proceed.
type DryRunFileSystem struct {
	OSFileSystem
	out     io.Writer
	planned map[string]bool
}

// NewDryRunFileSystem creates a dry-run filesystem that prints removals to
// out, if set.
func NewDryRunFileSystem(out io.Writer, planned ...string) *DryRunFileSystem {
	f := &DryRunFileSystem{out: out, planned: make(map[string]bool, len(planned))}
	for _, p := range planned {
		f.planned[filepath.Clean(p)] = true
	}
	return f
}

// RemoveAll prints the removal instead of performing it.
func (f *DryRunFileSystem) RemoveAll(path string) error {
	if f.out != nil {
		fmt.Fprintf(f.out, "[%s] rm -rf %s\n", filepath.Dir(path), Quote(path))
	}
	return nil
}

// Stat returns file info for path, or a placeholder for a planned path.
func (f *DryRunFileSystem) Stat(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) && f.planned[filepath.Clean(path)] {
		return plannedFile(filepath.Base(path)), nil
	}
	return info, err
}

// ReadFile returns the contents of path. A planned path reads as empty.
func (f *DryRunFileSystem) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) && f.planned[filepath.Clean(path)] {
		return nil, nil
	}
	return data, err
}

// plannedFile describes a file a skipped command would have created.
type plannedFile string

func (p plannedFile) Name() string       { return string(p) }
func (p plannedFile) Size() int64        { return 0 }
func (p plannedFile) Mode() fs.FileMode  { return 0o644 }
func (p plannedFile) ModTime() time.Time { return time.Time{} }
func (p plannedFile) IsDir() bool        { return false }
func (p plannedFile) Sys() any           { return nil }
