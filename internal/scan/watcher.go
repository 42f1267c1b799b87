package scan

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for more changes before
// it runs a pass.
const DefaultDebounce = 300 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	Scan     Options
	Debounce time.Duration
	// OnPass, when set, is called after every pass with its outcome.
	OnPass func(Result, error)
}

// Watch runs a pass over opts.Scan.Classes, then keeps the index current
// by running another pass whenever class files under the directory change.
// Changes are batched until Debounce passes without a new one. Watch
// returns when ctx is done; a failed pass is logged and does not stop it.
func Watch(ctx context.Context, opts WatchOptions) error {
	opts.Scan.defaults()
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Scan.Log.With("classes", opts.Scan.Classes)

	root, err := filepath.Abs(opts.Scan.Classes)
	if err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := addRecursive(fw, root); err != nil {
		return err
	}

	pass := func() {
		res, err := Directory(ctx, opts.Scan)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("index pass failed", "err", err)
		}
		if opts.OnPass != nil {
			opts.OnPass(res, err)
		}
	}
	pass()

	var timer *time.Timer
	var timerC <-chan time.Time
	pending := 0
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			trigger := relevant(ev)
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && fi.Name() != "META-INF" {
					if err := addRecursive(fw, ev.Name); err != nil {
						log.Warn("directory not watched", "source", ev.Name, "err", err)
					}
					// classes may land in a new directory before it is watched
					trigger = true
				}
			}
			if !trigger {
				continue
			}
			pending++
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(opts.Debounce)
			}

		case <-timerC:
			timer, timerC = nil, nil
			log.Debug("class files changed", "events", pending)
			pending = 0
			pass()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)
		}
	}
}

// relevant reports whether an event may change the index: any change to a
// class file, or a removed or renamed directory that may have held some.
func relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
		return false
	}
	if strings.HasSuffix(ev.Name, ".class") {
		return true
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return filepath.Ext(ev.Name) == ""
	}
	return false
}

// addRecursive watches dir and its subdirectories. Fragment directories
// are skipped so that writing the index does not trigger another pass.
func addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == "META-INF" {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
