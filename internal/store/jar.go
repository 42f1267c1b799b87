package store

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"class-index/internal/atomicfile"
	"class-index/internal/index"
	"class-index/internal/sortutil"
	"class-index/internal/ziputil"
)

// Jar assembles fragments into one archive. Entries of an existing archive
// at the same path are carried over unless a fragment replaces them. The
// archive is written on Close with sorted entries and fixed timestamps, so
// equal content gives byte-identical jars.
type Jar struct {
	path     string
	obsolete func(className string) bool

	mu      sync.Mutex
	entries map[string][]byte
	closed  bool
}

// OpenJar prepares an archive at path. An existing archive is read now.
func OpenJar(path string, obsolete func(className string) bool) (*Jar, error) {
	j := &Jar{path: path, obsolete: obsolete, entries: map[string][]byte{}}
	zr, err := zip.OpenReader(path)
	if errors.Is(err, fs.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read %s!/%s: %w", path, f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s!/%s: %w", path, f.Name, err)
		}
		j.entries[ziputil.SanitizePath(f.Name)] = b
	}
	return j, nil
}

// OpenRead implements index.Storage.
func (j *Jar) OpenRead(annotationType string) (io.ReadCloser, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	b, ok := j.entries[index.FragmentPath(annotationType)]
	if !ok {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// OpenWrite implements index.Storage. The fragment replaces the previous
// one when the writer is closed and lands in the archive on Jar.Close.
func (j *Jar) OpenWrite(annotationType string) (io.WriteCloser, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, fmt.Errorf("jar %s already closed", j.path)
	}
	return &jarWriter{jar: j, name: index.FragmentPath(annotationType)}, nil
}

// IsClassObsolete implements index.Storage.
func (j *Jar) IsClassObsolete(className string) bool {
	return j.obsolete != nil && j.obsolete(className)
}

// Types lists the annotation types with a fragment in the archive.
func (j *Jar) Types() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for name := range j.entries {
		if typ, legacy, ok := index.TypeFromPath(name); ok && !legacy {
			out = append(out, typ)
		}
	}
	return sortutil.StablePathSort(out)
}

// Close writes the archive.
func (j *Jar) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	f, err := atomicfile.Create(j.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", j.path, err)
	}
	zw := zip.NewWriter(f)
	for _, name := range sortutil.Keys(j.entries) {
		if err := ziputil.WriteFile(zw, name, j.entries[name]); err != nil {
			_ = f.Abort()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		_ = f.Abort()
		return fmt.Errorf("finish %s: %w", j.path, err)
	}
	return f.Close()
}

type jarWriter struct {
	bytes.Buffer
	jar     *Jar
	name    string
	aborted bool
}

func (w *jarWriter) Close() error {
	if w.aborted {
		return nil
	}
	w.jar.mu.Lock()
	defer w.jar.mu.Unlock()
	if w.jar.closed {
		return fmt.Errorf("jar %s already closed", w.jar.path)
	}
	w.jar.entries[w.name] = bytes.Clone(w.Bytes())
	return nil
}

func (w *jarWriter) Abort() error {
	w.aborted = true
	return nil
}

