// Package store persists index fragments.
//
// Dir keeps fragments as plain files under an output directory, the layout
// of a compiled-classes root. Jar collects fragments into one reproducible
// archive. Both implement index.Storage.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"class-index/internal/atomicfile"
	"class-index/internal/diff"
	"class-index/internal/index"
	"class-index/internal/sortutil"
)

// Dir stores fragments under Root/META-INF/json.
type Dir struct {
	root     string
	obsolete func(className string) bool
	log      *slog.Logger
	diffOut  io.Writer
	diffMu   sync.Mutex
}

// DirOption configures a Dir.
type DirOption func(*Dir)

// WithObsolete sets the predicate answering IsClassObsolete.
func WithObsolete(fn func(className string) bool) DirOption {
	return func(d *Dir) { d.obsolete = fn }
}

// WithLogger sets the logger. Fragment diffs are logged at debug level.
func WithLogger(l *slog.Logger) DirOption {
	return func(d *Dir) {
		if l != nil {
			d.log = l
		}
	}
}

// WithDiffOutput prints a unified diff of every rewritten fragment to w.
func WithDiffOutput(w io.Writer) DirOption {
	return func(d *Dir) { d.diffOut = w }
}

// NewDir returns a Dir rooted at root. Nothing is created until a fragment
// is written.
func NewDir(root string, opts ...DirOption) *Dir {
	d := &Dir{root: root, log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Root returns the output directory.
func (d *Dir) Root() string { return d.root }

func (d *Dir) path(annotationType string) string {
	return filepath.Join(d.root, filepath.FromSlash(index.FragmentPath(annotationType)))
}

// OpenRead implements index.Storage.
func (d *Dir) OpenRead(annotationType string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(annotationType))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenWrite implements index.Storage. The fragment is replaced atomically
// on Close.
func (d *Dir) OpenWrite(annotationType string) (io.WriteCloser, error) {
	f, err := atomicfile.Create(d.path(annotationType))
	if err != nil {
		return nil, fmt.Errorf("create fragment %s: %w", annotationType, err)
	}
	w := &dirWriter{File: f, dir: d, typ: annotationType}
	if d.wantDiff() {
		w.copy = new(bytes.Buffer)
	}
	return w, nil
}

// IsClassObsolete implements index.Storage.
func (d *Dir) IsClassObsolete(className string) bool {
	return d.obsolete != nil && d.obsolete(className)
}

// Types lists the annotation types that have a fragment in the directory.
func (d *Dir) Types() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, filepath.FromSlash(index.Prefix)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".tmp-") {
			out = append(out, e.Name())
		}
	}
	return sortutil.StablePathSort(out), nil
}

func (d *Dir) wantDiff() bool {
	return d.diffOut != nil || d.log.Enabled(context.Background(), slog.LevelDebug)
}

func (d *Dir) report(typ string, newContent []byte) {
	old, _ := os.ReadFile(d.path(typ))
	name := index.FragmentPath(typ)
	body, _ := diff.Unified("a/"+name, "b/"+name, old, newContent, diff.Options{MaxBytes: 1 << 20})
	if body == "" {
		return
	}
	d.log.Debug("fragment diff", "annotation", typ, "diff", body)
	if d.diffOut != nil {
		d.diffMu.Lock()
		defer d.diffMu.Unlock()
		_, _ = io.WriteString(d.diffOut, body)
	}
}

type dirWriter struct {
	*atomicfile.File
	dir  *Dir
	typ  string
	copy *bytes.Buffer
}

func (w *dirWriter) Write(p []byte) (int, error) {
	n, err := w.File.Write(p)
	if w.copy != nil {
		w.copy.Write(p[:n])
	}
	return n, err
}

func (w *dirWriter) Close() error {
	if w.copy != nil {
		w.dir.report(w.typ, w.copy.Bytes())
	}
	return w.File.Close()
}
