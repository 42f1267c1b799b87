// Package atomicfile replaces files so readers never observe a partial write.
//
// The content goes to a temporary sibling (".tmp-<base>-<rand>") that is
// synced and renamed over the target on Close. Abort removes it instead.
package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File is a pending replacement of one target file.
type File struct {
	*os.File
	target string
	done   bool
}

// Create starts replacing path, creating parent directories as needed.
func Create(path string) (*File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return nil, err
	}
	return &File{File: f, target: path}, nil
}

// Close commits the content to the target path.
func (f *File) Close() error {
	if f.done {
		return nil
	}
	f.done = true
	tmp := f.File.Name()
	if err := f.File.Sync(); err != nil {
		_ = f.File.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.File.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, f.target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", f.target, err)
	}
	return nil
}

// Abort drops the pending content and leaves the target untouched.
func (f *File) Abort() error {
	if f.done {
		return nil
	}
	f.done = true
	return errors.Join(f.File.Close(), os.Remove(f.File.Name()))
}

// WriteFile replaces path with data.
func WriteFile(path string, data []byte) error {
	f, err := Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Abort()
		return err
	}
	return f.Close()
}
