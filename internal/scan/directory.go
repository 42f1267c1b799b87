// Package scan decides when the index is rebuilt and feeds the builder.
//
// Directory indexes a compiled-classes directory incrementally, Aggregate
// merges the indexes of several jars or directories into one, and Watcher
// re-runs Directory whenever class files change on disk.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"class-index/internal/cache"
	"class-index/internal/classfile"
	"class-index/internal/classpath"
	"class-index/internal/config"
	"class-index/internal/index"
	"class-index/internal/metrics"
	"class-index/internal/sortutil"
	"class-index/internal/store"
	"class-index/internal/walkwalk"
)

// Options configures a directory scan.
type Options struct {
	Classes    string   // compiled-classes directory
	Output     string   // fragment root; empty means Classes
	Classpath  []string // dependency roots searched for indexable annotation types
	Indexable  []string // annotation types indexed without the marker
	Marker     string   // meta-annotation of indexable types; empty means config.DefaultMarker
	CacheDir   string   // snapshot root; empty means the cache package default
	Workers    int      // parallel class parsing; <= 0 means GOMAXPROCS
	Full       bool     // ignore the previous snapshot
	Exclude    []string // base-name prefixes skipped while walking
	Log        *slog.Logger
	Metrics    *metrics.Metrics
	DiffOutput io.Writer // receives unified diffs of rewritten fragments
}

// Result summarizes a pass.
type Result struct {
	Classes   int      // class files in the directory
	Scanned   int      // class files parsed this pass
	Malformed int      // class files skipped as unparsable
	Indexable []string // annotation types indexed
	Delta     cache.Delta
}

type parsedClass struct {
	path string
	cls  *classfile.Class
}

func (o *Options) defaults() {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Marker == "" {
		o.Marker = config.DefaultMarker
	}
	if o.Output == "" {
		o.Output = o.Classes
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
}

// Directory runs one incremental pass over opts.Classes: class files added
// or changed since the last snapshot are parsed, every indexable annotation
// type is merged against its fragment, and changed fragments are rewritten.
// A record is obsolete when its class file is gone or was parsed again in
// this pass.
func Directory(ctx context.Context, opts Options) (Result, error) {
	opts.defaults()
	start := time.Now()
	defer opts.Metrics.ObservePass(start)
	log := opts.Log.With("classes", opts.Classes)

	abs, err := filepath.Abs(opts.Classes)
	if err != nil {
		return Result{}, err
	}
	files, err := walkwalk.CollectClasses(abs, walkwalk.Options{Exclude: opts.Exclude})
	if err != nil {
		return Result{}, fmt.Errorf("walk %s: %w", opts.Classes, err)
	}
	curr := &cache.Snapshot{Root: abs, Created: time.Now().UTC().Format(time.RFC3339)}
	for _, f := range files {
		curr.Files = append(curr.Files, cache.ClassFile{Path: f.RelPath, Hash: f.Hash, Class: f.Class})
	}

	cacheDir := cache.CacheDir(opts.CacheDir, abs)
	var prev *cache.Snapshot
	if !opts.Full {
		if prev, err = cache.Load(cacheDir); err != nil {
			log.Warn("snapshot unreadable, rescanning everything", "err", err)
			prev = nil
		}
	}
	delta := cache.BuildDelta(prev, curr)
	res := Result{Classes: len(files), Delta: delta}

	parsed, malformed, err := parseClasses(ctx, abs, delta.Rescan(), opts)
	if err != nil {
		return res, err
	}
	res.Scanned, res.Malformed = len(parsed)+malformed, malformed

	// annotation types learned from the marker survive across passes
	learned := map[string]bool{}
	if prev != nil {
		for _, t := range prev.Indexable {
			learned[t] = true
		}
	}
	for _, f := range delta.Removed {
		delete(learned, f.Class)
	}
	var newlyIndexable bool
	for _, p := range parsed {
		if !p.cls.IsAnnotation() {
			continue
		}
		if p.cls.Has(opts.Marker) {
			if !learned[p.cls.Name] {
				newlyIndexable = true
			}
			learned[p.cls.Name] = true
		} else {
			delete(learned, p.cls.Name)
		}
	}

	rescanned := make(map[string]bool, len(parsed))
	for _, p := range delta.Rescan() {
		rescanned[walkwalk.ClassName(p)] = true
	}

	// a type that just became indexable needs its usages from unchanged classes too
	if newlyIndexable && prev != nil {
		var rest []string
		for _, f := range files {
			if !rescanned[f.Class] {
				rest = append(rest, f.RelPath)
				rescanned[f.Class] = true
			}
		}
		more, bad, err := parseClasses(ctx, abs, rest, opts)
		if err != nil {
			return res, err
		}
		parsed = append(parsed, more...)
		res.Scanned += len(more) + bad
		res.Malformed += bad
	}

	present := curr.Classes()
	out := store.NewDir(opts.Output,
		store.WithLogger(opts.Log),
		store.WithDiffOutput(opts.DiffOutput),
		store.WithObsolete(func(className string) bool {
			if rescanned[className] {
				return true
			}
			_, ok := present[className]
			return !ok
		}),
	)

	persisted, err := out.Types()
	if err != nil {
		return res, fmt.Errorf("list fragments: %w", err)
	}
	types := indexableTypes(learned, persisted, opts)
	res.Indexable = types
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	b := index.NewBuilder(index.WithLogger(opts.Log), index.WithMetrics(opts.Metrics), index.WithWorkers(opts.Workers))
	for _, p := range parsed {
		for _, a := range p.cls.Annotations {
			if want[a.Type] {
				b.Add(a.Values, a.Type, p.cls.Name)
			}
		}
	}

	// stored fragments are pruned even when no class in this pass uses the type
	for _, t := range persisted {
		b.Track(t)
	}
	if err := b.Write(out); err != nil {
		return res, err
	}

	curr.Indexable = sortutil.Keys(learned)
	if err := cache.Save(cacheDir, curr); err != nil {
		log.Warn("snapshot not saved", "err", err)
	}
	log.Info("index updated",
		"classes", res.Classes, "scanned", res.Scanned, "malformed", res.Malformed,
		"types", len(res.Indexable), "elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// parseClasses parses the given class files in parallel. Unreadable and
// malformed files are logged and counted, never fatal.
func parseClasses(ctx context.Context, root string, rels []string, opts Options) ([]parsedClass, int, error) {
	results := make([]*parsedClass, len(rels))
	var mu sync.Mutex
	malformed := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, rel := range rels {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			source := filepath.Join(root, filepath.FromSlash(rel))
			data, err := os.ReadFile(source)
			if err != nil {
				opts.Log.Warn("class file unreadable", "class", walkwalk.ClassName(rel), "source", source, "err", err)
				return nil
			}
			opts.Metrics.ClassScanned()
			cls, err := classfile.Parse(data)
			if err != nil {
				opts.Metrics.ClassMalformed()
				opts.Log.Warn("class file skipped", "class", walkwalk.ClassName(rel), "source", source, "err", err)
				mu.Lock()
				malformed++
				mu.Unlock()
				return nil
			}
			results[i] = &parsedClass{path: rel, cls: cls}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	out := make([]parsedClass, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, malformed, nil
}

// indexableTypes gathers every annotation type the pass must keep up to
// date: learned from the marker, configured, already persisted, or
// declared indexable somewhere on the classpath.
func indexableTypes(learned map[string]bool, persisted []string, opts Options) []string {
	types := append([]string(nil), opts.Indexable...)
	types = append(types, sortutil.Keys(learned)...)
	types = append(types, persisted...)
	if len(opts.Classpath) > 0 {
		cp := classpath.New(opts.Classpath, classpath.WithLogger(opts.Log))
		types = append(types, classpathTypes(cp, opts)...)
	}
	return sortutil.Dedup(types)
}

// classpathTypes finds indexable annotation types in dependencies: those
// with a fragment and those whose annotation class carries the marker.
func classpathTypes(cp *classpath.Path, opts Options) []string {
	var out []string
	frags, _ := cp.List(index.Prefix)
	for _, r := range frags {
		if t, _, ok := index.TypeFromPath(r.Name); ok {
			out = append(out, t)
		}
	}
	all, _ := cp.List("")
	for _, r := range all {
		if !strings.HasSuffix(r.Name, ".class") || strings.HasPrefix(r.Name, "META-INF/") {
			continue
		}
		rc, err := r.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		cls, err := classfile.Parse(data)
		if err != nil {
			if !errors.Is(err, classfile.ErrMalformed) {
				opts.Log.Debug("classpath class unreadable", "source", r.Root+"!/"+r.Name, "err", err)
			}
			continue
		}
		if cls.IsAnnotation() && cls.Has(opts.Marker) {
			out = append(out, cls.Name)
		}
	}
	return out
}
