// Package catalog reads an annotation index back from a classpath.
//
// Every classpath root may contribute one fragment per annotation type.
// Load flattens all of them into one stream: current-format fragments in
// classpath order first, then legacy fragments from roots that had no
// current one. A fragment that cannot be read is logged and skipped.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"class-index/internal/annotation"
	"class-index/internal/codec"
	"class-index/internal/index"
	"class-index/internal/metrics"
)

type options struct {
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures Load and Cache.
type Option func(*options)

// WithLogger sets the logger for skipped fragments.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics counts unreadable fragments into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Iterator is a lazy, single-use stream of the records of one annotation
// type. Fragments are opened one at a time as the stream advances.
type Iterator struct {
	typ  string
	res  Resolver
	opts options

	pending     []Resource
	legacy      bool
	seen        map[string]bool
	cur         codec.RecordReader
	curCloser   io.Closer
	curResource Resource
	rec         annotation.Record
	done        bool
}

// Load starts reading every fragment for annotationType that res can find.
// Only a failure to enumerate the current-format fragments is returned.
func Load(annotationType string, res Resolver, opts ...Option) (*Iterator, error) {
	current, err := res.Resources(index.FragmentPath(annotationType))
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", index.FragmentPath(annotationType), err)
	}
	it := &Iterator{
		typ:     annotationType,
		res:     res,
		opts:    newOptions(opts),
		pending: current,
		seen:    make(map[string]bool, len(current)),
	}
	for _, r := range current {
		it.seen[r.Root] = true
	}
	return it, nil
}

// Next advances to the next record. It returns false once every fragment is
// exhausted.
func (it *Iterator) Next() bool {
	for !it.done {
		if it.cur == nil && !it.openNext() {
			it.done = true
			break
		}
		rec, err := it.cur.Next()
		if err == nil {
			it.rec = rec
			return true
		}
		if !errors.Is(err, io.EOF) {
			it.skip(err)
		}
		it.closeCurrent()
	}
	return false
}

// Record returns the record Next advanced to.
func (it *Iterator) Record() annotation.Record { return it.rec }

// Close releases the fragment being read, if any. The iterator is finished
// afterwards.
func (it *Iterator) Close() error {
	it.done = true
	return it.closeCurrent()
}

// All returns the remaining records as a sequence. Breaking out of the loop
// closes the iterator.
func (it *Iterator) All() iter.Seq[annotation.Record] {
	return func(yield func(annotation.Record) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Record()) {
				return
			}
		}
	}
}

func (it *Iterator) openNext() bool {
	for {
		if len(it.pending) == 0 {
			if it.legacy {
				return false
			}
			it.legacy = true
			it.pending = it.legacyResources()
			continue
		}
		r := it.pending[0]
		it.pending = it.pending[1:]

		rc, err := r.Open()
		if err != nil {
			it.curResource = r
			it.skip(err)
			continue
		}
		source := r.Root + "!/" + r.Name
		it.curResource = r
		it.curCloser = rc
		if it.legacy {
			it.cur = codec.NewLegacyDecoder(rc, source)
		} else {
			it.cur = codec.NewDecoder(rc, source)
		}
		return true
	}
}

func (it *Iterator) legacyResources() []Resource {
	name := index.LegacyFragmentPath(it.typ)
	all, err := it.res.Resources(name)
	if err != nil {
		it.opts.log.Warn("legacy fragments not enumerated", "annotation", it.typ, "source", name, "err", err)
		return nil
	}
	out := all[:0:0]
	for _, r := range all {
		if it.seen[r.Root] {
			it.opts.log.Debug("legacy fragment shadowed", "annotation", it.typ, "source", r.Root)
			continue
		}
		out = append(out, r)
	}
	return out
}

func (it *Iterator) skip(err error) {
	it.opts.metrics.FragmentReadFailed()
	it.opts.log.Warn("fragment skipped",
		"annotation", it.typ,
		"source", it.curResource.Root+"!/"+it.curResource.Name,
		"err", err)
}

func (it *Iterator) closeCurrent() error {
	it.cur = nil
	if it.curCloser == nil {
		return nil
	}
	err := it.curCloser.Close()
	it.curCloser = nil
	return err
}

// Records loads every record of annotationType into memory.
func Records(annotationType string, res Resolver, opts ...Option) ([]annotation.Record, error) {
	it, err := Load(annotationType, res, opts...)
	if err != nil {
		return nil, err
	}
	var out []annotation.Record
	for rec := range it.All() {
		out = append(out, rec)
	}
	return out, nil
}
