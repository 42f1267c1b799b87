package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"class-index/internal/annotation"
	"class-index/internal/catalog"
	"class-index/internal/classfile"
	"class-index/internal/classpath"
	"class-index/internal/codec"
	"class-index/internal/config"
	"class-index/internal/index"
	"class-index/internal/meta"
	"class-index/internal/scan"
	"class-index/internal/validate"
)

// scanFlags are shared by scan and watch. Only flags the user set override
// the config file.
type scanFlags struct {
	out       string
	classpath []string
	indexable []string
	cacheDir  string
	workers   int
	full      bool
	diff      bool
}

func (f *scanFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.out, "out", "o", "", "fragment output directory (default: the classes directory)")
	fl.StringSliceVar(&f.classpath, "classpath", nil, "dependency jars and directories searched for indexable annotations")
	fl.StringSliceVar(&f.indexable, "indexable", nil, "annotation types to index without the marker")
	fl.StringVar(&f.cacheDir, "cache-dir", "", "snapshot directory (default tmp/.class-index)")
	fl.IntVarP(&f.workers, "workers", "j", 0, "parallel class parsing (0 = GOMAXPROCS)")
	fl.BoolVar(&f.full, "full", false, "ignore the previous snapshot and rescan every class")
	fl.BoolVar(&f.diff, "diff", false, "print a unified diff of every rewritten fragment")
}

func (a *app) scanOptions(cmd *cobra.Command, args []string, f *scanFlags) scan.Options {
	fl := cmd.Flags()
	cfg := a.cfg
	if fl.Changed("out") {
		cfg.Output = f.out
	}
	if fl.Changed("classpath") {
		cfg.Classpath = f.classpath
	}
	if fl.Changed("indexable") {
		cfg.Indexable = f.indexable
	}
	if fl.Changed("cache-dir") {
		cfg.CacheDir = f.cacheDir
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("full") {
		cfg.Full = f.full
	}

	target := cfg.Classes
	if len(args) > 0 {
		target = args[0]
	}
	if target == "" {
		target = "."
	}
	info := meta.Detect(target)
	if info.Build != "" {
		a.log.Debug("build detected", "build", info.Build, "module", info.Module, "jdk", info.JDK, "classes", info.ClassesDir)
	}

	opts := scan.Options{
		Classes:   info.ClassesDir,
		Output:    cfg.OutputDir(info.ClassesDir),
		Classpath: cfg.Classpath,
		Indexable: cfg.Indexable,
		Marker:    cfg.Marker,
		CacheDir:  cfg.CacheDir,
		Workers:   cfg.Workers,
		Full:      cfg.Full,
		Log:       a.log,
		Metrics:   a.metrics,
	}
	if f.diff {
		opts.DiffOutput = cmd.OutOrStdout()
	}
	return opts
}

func newScanCmd(a *app) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan [classes-dir|project-root]",
		Short: "Update the annotation index of a compiled-classes directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := scan.Directory(cmd.Context(), a.scanOptions(cmd, args, f))
			if err != nil {
				return err
			}
			if res.Malformed > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d class file(s) could not be parsed\n", res.Malformed)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	f := &scanFlags{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch [classes-dir|project-root]",
		Short: "Keep the index current while classes are recompiled",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("debounce") {
				debounce = a.cfg.Watch.Debounce
			}
			return scan.Watch(cmd.Context(), scan.WatchOptions{
				Scan:     a.scanOptions(cmd, args, f),
				Debounce: debounce,
			})
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", scan.DefaultDebounce, "quiet period before a pass")
	return cmd
}

func newAggregateCmd(a *app) *cobra.Command {
	var (
		out     string
		workers int
		diff    bool
	)
	cmd := &cobra.Command{
		Use:   "aggregate --out <dir|jar> <input>...",
		Short: "Merge the indexes of several jars and directories into one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Workers
			}
			opts := scan.AggregateOptions{
				Inputs:  args,
				Output:  out,
				Workers: workers,
				Log:     a.log,
				Metrics: a.metrics,
			}
			if diff {
				opts.DiffOutput = cmd.OutOrStdout()
			}
			_, err := scan.Aggregate(cmd.Context(), opts)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory, or archive when it ends in .jar, .zip or .war")
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "parallel fragment writes (0 = GOMAXPROCS)")
	cmd.Flags().BoolVar(&diff, "diff", false, "print a unified diff of every rewritten fragment (directory output)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var cp []string
	cmd := &cobra.Command{
		Use:   "list <annotation-type>...",
		Short: "Print the indexed records of annotation types visible on a classpath",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("classpath") {
				cp = a.cfg.Classpath
				if a.cfg.Classes != "" {
					cp = append([]string{a.cfg.OutputDir(a.cfg.Classes)}, cp...)
				}
			}
			if len(cp) == 0 {
				return fmt.Errorf("no classpath: pass --classpath or set classpath in %s", a.configFile())
			}
			path := classpath.New(cp, classpath.WithLogger(a.log))
			cache, err := catalog.NewCache(path, len(args), catalog.WithLogger(a.log), catalog.WithMetrics(a.metrics))
			if err != nil {
				return err
			}
			return listRecords(cmd.OutOrStdout(), cache, args)
		},
	}
	cmd.Flags().StringSliceVar(&cp, "classpath", nil, "jars and directories, comma separated or repeated")
	return cmd
}

// listRecords writes each type's records as fragment lines under a
// "# <type>" header.
func listRecords(w io.Writer, cache *catalog.Cache, types []string) error {
	enc := codec.NewEncoder(w)
	for _, t := range types {
		recs, err := cache.Records(t)
		if err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		if err := enc.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "# %s\n", t)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	}
	return enc.Flush()
}

func newDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file.class>...",
		Short: "Print the class-level annotations a class file carries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := dumpClass(cmd.OutOrStdout(), path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func dumpClass(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cls, err := classfile.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.ToSlash(path), err)
	}
	kind := "class"
	if cls.IsAnnotation() {
		kind = "annotation"
	}
	fmt.Fprintf(w, "%s %s\n", kind, cls.Name)
	for _, an := range cls.Annotations {
		values, err := codec.Marshal(an.Values)
		if err != nil {
			return fmt.Errorf("%s: @%s: %w", cls.Name, an.Type, err)
		}
		fmt.Fprintf(w, "  @%s %s\n", an.Type, values)
	}
	return nil
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <dir|jar>...",
		Short: "Check that every fragment in the given roots is well formed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := classpath.New(args, classpath.WithLogger(a.log))
			bad, err := verifyFragments(cmd.OutOrStdout(), path)
			if err != nil {
				return err
			}
			if bad > 0 {
				return fmt.Errorf("%d fragment(s) failed verification", bad)
			}
			return nil
		},
	}
}

// verifyFragments decodes every current and legacy fragment on path and
// reports problems to w. Legacy fragments are only decoded; their order
// was never defined.
func verifyFragments(w io.Writer, path *classpath.Path) (bad int, err error) {
	for _, prefix := range []string{index.Prefix, index.LegacyPrefix} {
		res, err := path.List(prefix)
		if err != nil {
			return bad, err
		}
		for _, r := range res {
			typ, legacy, ok := index.TypeFromPath(r.Name)
			if !ok {
				continue
			}
			source := r.Root + "!/" + r.Name
			recs, err := readFragment(r, legacy, source)
			if err == nil && !legacy {
				err = validate.Fragment(typ, recs)
			}
			if err != nil {
				bad++
				fmt.Fprintf(w, "%s:\n%s\n", source, err)
			}
		}
	}
	return bad, nil
}

func readFragment(r catalog.Resource, legacy bool, source string) ([]annotation.Record, error) {
	rc, err := r.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var dec codec.RecordReader = codec.NewDecoder(rc, source)
	if legacy {
		dec = codec.NewLegacyDecoder(rc, source)
	}
	var recs []annotation.Record
	for {
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}

func (a *app) configFile() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.DefaultFile
}
