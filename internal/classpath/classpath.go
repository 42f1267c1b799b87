// Package classpath enumerates named resources across an ordered list of
// directories and jar files, the way a class loader would.
package classpath

import (
	"archive/zip"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"class-index/internal/catalog"
	"class-index/internal/sortutil"
	"class-index/internal/ziputil"
)

// Path is an ordered classpath. Earlier roots come first in every listing.
type Path struct {
	roots []string
	log   *slog.Logger
}

// Option configures a Path.
type Option func(*Path)

// WithLogger sets the logger for unreadable roots.
func WithLogger(l *slog.Logger) Option {
	return func(p *Path) {
		if l != nil {
			p.log = l
		}
	}
}

// New returns a Path over roots. Roots ending in .jar, .zip or .war are
// read as archives, everything else as directories.
func New(roots []string, opts ...Option) *Path {
	p := &Path{log: slog.Default()}
	for _, r := range roots {
		if r = strings.TrimSpace(r); r != "" {
			p.roots = append(p.roots, filepath.Clean(r))
		}
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse splits a classpath string on the platform list separator.
func Parse(s string, opts ...Option) *Path {
	return New(filepath.SplitList(s), opts...)
}

// Roots returns the classpath entries in order.
func (p *Path) Roots() []string { return append([]string(nil), p.roots...) }

// Resources returns every resource called name, in root order. Missing
// roots and unreadable archives are logged and skipped.
func (p *Path) Resources(name string) ([]catalog.Resource, error) {
	name = ziputil.SanitizePath(name)
	var out []catalog.Resource
	for _, root := range p.roots {
		if ziputil.IsArchive(root) {
			zr, err := zip.OpenReader(root)
			if err != nil {
				p.skipRoot(root, err)
				continue
			}
			found := false
			for _, f := range zr.File {
				if f.Name == name {
					found = true
					break
				}
			}
			zr.Close()
			if found {
				out = append(out, archiveResource(root, name))
			}
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(name))
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				p.skipRoot(root, err)
			}
			continue
		}
		if info.Mode().IsRegular() {
			out = append(out, fileResource(root, name, path))
		}
	}
	return out, nil
}

// List returns every regular resource whose name starts with prefix, root
// by root, each root's entries sorted by name.
func (p *Path) List(prefix string) ([]catalog.Resource, error) {
	var out []catalog.Resource
	for _, root := range p.roots {
		var err error
		if ziputil.IsArchive(root) {
			out, err = listArchive(out, root, prefix)
		} else {
			out, err = listDir(out, root, prefix)
		}
		if err != nil {
			p.skipRoot(root, err)
		}
	}
	return out, nil
}

func (p *Path) skipRoot(root string, err error) {
	p.log.Warn("classpath entry skipped", "source", root, "err", err)
}

func archiveResource(root, name string) catalog.Resource {
	return catalog.Resource{Root: root, Name: name, Open: func() (io.ReadCloser, error) {
		return ziputil.OpenEntry(root, name)
	}}
}

func fileResource(root, name, path string) catalog.Resource {
	return catalog.Resource{Root: root, Name: name, Open: func() (io.ReadCloser, error) {
		return os.Open(path)
	}}
}

func listArchive(out []catalog.Resource, root, prefix string) ([]catalog.Resource, error) {
	zr, err := zip.OpenReader(root)
	if err != nil {
		return out, err
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, prefix) && !strings.HasSuffix(f.Name, "/") {
			names = append(names, f.Name)
		}
	}
	for _, n := range sortutil.StablePathSort(names) {
		out = append(out, archiveResource(root, n))
	}
	return out, nil
}

func listDir(out []catalog.Resource, root, prefix string) ([]catalog.Resource, error) {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	// walk from the deepest directory the prefix names
	start := root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = filepath.Join(root, filepath.FromSlash(prefix[:i]))
	}
	var names []string
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == start {
				return filepath.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	for _, n := range sortutil.StablePathSort(names) {
		out = append(out, fileResource(root, n, filepath.Join(root, filepath.FromSlash(n))))
	}
	return out, nil
}
