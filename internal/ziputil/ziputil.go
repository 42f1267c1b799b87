// Package ziputil writes reproducible jar and zip archives.
package ziputil

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// FixedZipTime ensures byte-for-byte reproducible archives (1980-01-01 UTC).
var FixedZipTime = time.Unix(315532800, 0).UTC()

// IsArchive reports whether path names a jar or zip file by extension.
func IsArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip", ".war":
		return true
	}
	return false
}

// SanitizePath normalizes ZIP entry paths (forward slashes, no drive, no leading '/'),
// and removes '.' and '..' segments without escaping the root.
func SanitizePath(p string) string {
	s := filepath.ToSlash(p)
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	s = strings.TrimLeft(s, "/")
	parts := strings.Split(s, "/")
	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			if n := len(stack); n > 0 {
				stack = stack[:n-1]
			}
			continue
		}
		stack = append(stack, part)
	}
	s = strings.Join(stack, "/")
	if s == "" {
		return "entry"
	}
	return s
}

func header(name string) *zip.FileHeader {
	h := &zip.FileHeader{Name: SanitizePath(name), Method: zip.Deflate}
	h.SetMode(0o644)
	h.Modified = FixedZipTime
	return h
}

// WriteFile writes data as one entry with the fixed timestamp and mode.
func WriteFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(header(name))
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// CopyFromReader writes an entry from an io.Reader to avoid buffering whole files when needed.
func CopyFromReader(zw *zip.Writer, name string, r io.Reader) error {
	w, err := zw.CreateHeader(header(name))
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// EntryReader is an open archive entry that closes its archive with it.
type EntryReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

// Close closes the entry and then the archive.
func (e *EntryReader) Close() error {
	err := e.ReadCloser.Close()
	if cerr := e.archive.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenEntry opens the archive at path and returns a reader for entry name.
// A missing entry reports fs.ErrNotExist.
func OpenEntry(path, name string) (*EntryReader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	rc, err := zr.Open(name)
	if err != nil {
		zr.Close()
		return nil, err
	}
	return &EntryReader{ReadCloser: rc, archive: zr}, nil
}
