// Package index keeps an annotation index up to date across builds.
//
// A Builder is one indexing pass. Scanners Add records to it concurrently;
// Write then merges the working set against the fragments already in
// Storage and rewrites only the annotation types that changed.
//
// Merge rules, per annotation type:
//   - a stored record whose class is obsolete is dropped and marks the type
//     changed
//   - a stored record for a class added in this pass counts as unchanged
//     when the two are equal and nothing obsolete has been seen yet
//   - any other stored record is adopted into the working set
//
// When every freshly added record was matched unchanged and nothing was
// obsolete, the type leaves the working set and its fragment is not touched.
package index

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"class-index/internal/annotation"
	"class-index/internal/codec"
	"class-index/internal/metrics"
)

type classSet = *xsync.MapOf[string, annotation.Record]

// Builder accumulates records for one pass. The zero value is not usable;
// call NewBuilder.
type Builder struct {
	types   *xsync.MapOf[string, classSet]
	log     *slog.Logger
	metrics *metrics.Metrics
	workers int
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger for merge and write warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics counts records and fragment outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithWorkers bounds how many annotation types Write handles at once.
// n <= 0 means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// NewBuilder returns an empty build session.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		types: xsync.NewMapOf[string, classSet](),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	if b.workers <= 0 {
		b.workers = runtime.GOMAXPROCS(0)
	}
	return b
}

func newClassSet() classSet { return xsync.NewMapOf[string, annotation.Record]() }

// Add records that className carries annotationType with values. The last
// Add for a (type, class) pair wins. Safe for concurrent use.
func (b *Builder) Add(values *annotation.Map, annotationType, className string) {
	set, _ := b.types.LoadOrCompute(annotationType, newClassSet)
	set.Store(className, annotation.Record{Class: className, Values: annotation.NormalizeMap(values)})
	b.metrics.RecordAdded()
}

// Track makes annotationType part of the pass without adding records, so
// that Write prunes its stored fragment of obsolete classes. Tracking a type
// with no stored fragment writes an empty one.
func (b *Builder) Track(annotationType string) {
	b.types.LoadOrCompute(annotationType, newClassSet)
}

// Types returns the annotation types currently in the working set, sorted.
func (b *Builder) Types() []string {
	var out []string
	b.types.Range(func(k string, _ classSet) bool {
		out = append(out, k)
		return true
	})
	slices.Sort(out)
	return out
}

// Records returns the working set for annotationType in fragment order.
func (b *Builder) Records(annotationType string) []annotation.Record {
	set, ok := b.types.Load(annotationType)
	if !ok {
		return nil
	}
	out := make([]annotation.Record, 0, set.Size())
	set.Range(func(_ string, r annotation.Record) bool {
		out = append(out, r)
		return true
	})
	annotation.SortRecords(out)
	return out
}

// Len returns the number of records in the working set.
func (b *Builder) Len() int {
	n := 0
	b.types.Range(func(_ string, set classSet) bool {
		n += set.Size()
		return true
	})
	return n
}

// Merge reconciles the working set for annotationType with its stored
// fragment and reports whether the fragment must be rewritten.
//
// Without a stored fragment Merge changes nothing. When the stored fragment
// cannot be read the type is kept as changed, with whatever records were
// adopted before the failure, and the error is returned.
func (b *Builder) Merge(st Storage, annotationType string) (needsWrite bool, err error) {
	rc, err := st.OpenRead(annotationType)
	if err != nil {
		b.metrics.FragmentReadFailed()
		b.types.LoadOrCompute(annotationType, newClassSet)
		return true, fmt.Errorf("open fragment %s: %w", annotationType, err)
	}
	if rc == nil {
		_, ok := b.types.Load(annotationType)
		return ok, nil
	}
	defer rc.Close()

	set, _ := b.types.LoadOrCompute(annotationType, newClassSet)
	fresh := make(map[string]struct{}, set.Size())
	set.Range(func(k string, _ annotation.Record) bool {
		fresh[k] = struct{}{}
		return true
	})
	unchanged := len(fresh)
	matched := make(map[string]bool)
	obsolete := false

	dec := codec.NewDecoder(rc, FragmentPath(annotationType))
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			b.metrics.FragmentReadFailed()
			return true, fmt.Errorf("read fragment %s: %w", annotationType, err)
		}
		if st.IsClassObsolete(rec.Class) {
			obsolete = true
			continue
		}
		if _, ok := fresh[rec.Class]; ok {
			cur, _ := set.Load(rec.Class)
			if !obsolete && !matched[rec.Class] && cur.Equal(rec) {
				matched[rec.Class] = true
				unchanged--
			}
			continue
		}
		set.Store(rec.Class, rec)
	}

	if unchanged == 0 && !obsolete {
		b.types.Delete(annotationType)
		return false, nil
	}
	return true, nil
}

// Write merges every annotation type in the working set, rewrites the
// fragments that changed and then empties the working set. Types are
// handled independently: a failure on one is logged and joined into the
// returned error without stopping the others.
func (b *Builder) Write(st Storage) error {
	types := b.Types()
	errs := make([]error, len(types))

	var g errgroup.Group
	g.SetLimit(b.workers)
	for i, typ := range types {
		g.Go(func() error {
			errs[i] = b.writeType(st, typ)
			return nil
		})
	}
	_ = g.Wait()

	b.types.Clear()
	return errors.Join(errs...)
}

func (b *Builder) writeType(st Storage, typ string) error {
	log := b.log.With("annotation", typ)

	needsWrite, err := b.Merge(st, typ)
	if err != nil {
		log.Warn("existing fragment unreadable, rewriting", "source", FragmentPath(typ), "err", err)
	}
	if !needsWrite {
		b.metrics.FragmentUnchanged()
		log.Debug("fragment unchanged")
		return nil
	}

	recs := b.Records(typ)
	w, err := st.OpenWrite(typ)
	if err != nil {
		return fmt.Errorf("open fragment %s for write: %w", typ, err)
	}
	enc := codec.NewEncoder(w)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			if errors.Is(err, codec.ErrUnsupportedValue) {
				log.Warn("record skipped", "class", rec.Class, "err", err)
				continue
			}
			discard(w)
			return fmt.Errorf("write fragment %s: %w", typ, err)
		}
	}
	if err := enc.Flush(); err != nil {
		discard(w)
		return fmt.Errorf("write fragment %s: %w", typ, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit fragment %s: %w", typ, err)
	}
	b.metrics.FragmentWritten()
	log.Debug("fragment written", "records", len(recs))
	return nil
}
