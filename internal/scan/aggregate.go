package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"class-index/internal/catalog"
	"class-index/internal/classpath"
	"class-index/internal/index"
	"class-index/internal/metrics"
	"class-index/internal/sortutil"
	"class-index/internal/store"
	"class-index/internal/ziputil"
)

// AggregateOptions configures Aggregate.
type AggregateOptions struct {
	Inputs     []string // jars and directories whose indexes are merged
	Output     string   // a .jar/.zip/.war archive or a directory
	Workers    int
	Log        *slog.Logger
	Metrics    *metrics.Metrics
	DiffOutput io.Writer // directory output only
}

// AggregateResult summarizes an aggregation.
type AggregateResult struct {
	Types   []string // annotation types found in the inputs
	Records int      // records read from the inputs
}

// Aggregate merges the fragments of every input into one index at
// opts.Output. Current and legacy fragments are both read; a record
// whose class no longer appears in any input is dropped from the output,
// as are output fragments whose type no input provides.
func Aggregate(ctx context.Context, opts AggregateOptions) (AggregateResult, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	start := time.Now()
	defer opts.Metrics.ObservePass(start)
	log := opts.Log.With("output", opts.Output)

	cp := classpath.New(opts.Inputs, classpath.WithLogger(opts.Log))
	types, err := inputTypes(cp)
	if err != nil {
		return AggregateResult{}, err
	}

	b := index.NewBuilder(index.WithLogger(opts.Log), index.WithMetrics(opts.Metrics), index.WithWorkers(opts.Workers))
	present := make(map[string]bool)
	res := AggregateResult{Types: types}
	for _, t := range types {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		it, err := catalog.Load(t, cp, catalog.WithLogger(opts.Log), catalog.WithMetrics(opts.Metrics))
		if err != nil {
			return res, fmt.Errorf("load %s: %w", t, err)
		}
		for rec := range it.All() {
			b.Add(rec.Values, t, rec.Class)
			present[rec.Class] = true
			res.Records++
		}
		if err := it.Close(); err != nil {
			log.Warn("fragment close failed", "annotation", t, "err", err)
		}
	}
	obsolete := func(className string) bool { return !present[className] }

	var (
		out    index.Storage
		stored []string
		closer func() error
	)
	if ziputil.IsArchive(opts.Output) {
		jar, err := store.OpenJar(opts.Output, obsolete)
		if err != nil {
			return res, err
		}
		out, stored, closer = jar, jar.Types(), jar.Close
	} else {
		dir := store.NewDir(opts.Output,
			store.WithObsolete(obsolete),
			store.WithLogger(opts.Log),
			store.WithDiffOutput(opts.DiffOutput))
		if stored, err = dir.Types(); err != nil {
			return res, fmt.Errorf("list fragments: %w", err)
		}
		out = dir
	}

	// stored fragments are pruned too, down to empty when no input has the type
	for _, t := range stored {
		b.Track(t)
	}

	if err := b.Write(out); err != nil {
		// an archive is left as it was
		return res, err
	}
	if closer != nil {
		if err := closer(); err != nil {
			return res, fmt.Errorf("write %s: %w", opts.Output, err)
		}
	}
	log.Info("index aggregated", "inputs", len(opts.Inputs), "types", len(types),
		"records", res.Records, "elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// inputTypes lists the annotation types with a current or legacy fragment
// in any root of cp.
func inputTypes(cp *classpath.Path) ([]string, error) {
	var types []string
	var errs []error
	for _, prefix := range []string{index.Prefix, index.LegacyPrefix} {
		res, err := cp.List(prefix)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, r := range res {
			if t, _, ok := index.TypeFromPath(r.Name); ok {
				types = append(types, t)
			}
		}
	}
	return sortutil.Dedup(types), errors.Join(errs...)
}
