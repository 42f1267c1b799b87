// Package cache defines the core data types used by snapshotting and delta
// computation for incremental class scans.
package cache

// ClassFile represents a single compiled class in a snapshot.
// Path is relative to the classes directory with forward slashes, Hash is
// the hex xxhash64 of the file content and Class the binary class name
// derived from Path.
type ClassFile struct {
	Path  string `json:"path"`
	Hash  string `json:"hash"`
	Class string `json:"class"`
}

// Snapshot captures the state of a classes directory after a pass.
// Indexable lists the annotation types that were indexed, so the next pass
// keeps pruning them even when no class declares them any more.
type Snapshot struct {
	Root          string      `json:"root"`
	Created       string      `json:"created"`
	FormatVersion string      `json:"formatVersion,omitempty"`
	Indexable     []string    `json:"indexable,omitempty"`
	Files         []ClassFile `json:"files"`
}

// Change is a class file whose content changed in place.
type Change struct {
	Path       string `json:"path"`
	Class      string `json:"class"`
	HashBefore string `json:"hashBefore"`
	HashAfter  string `json:"hashAfter"`
}

// Delta describes the changes from a previous snapshot to the current one:
//
//   - Added: class files present now that were not in the previous snapshot
//   - Removed: class files present previously that no longer exist
//   - Changed: class files whose path is the same but content hash differs
type Delta struct {
	Added   []ClassFile `json:"added"`
	Removed []ClassFile `json:"removed"`
	Changed []Change    `json:"changed"`
}

// Empty reports whether nothing changed.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Rescan returns the paths that must be parsed again: added and changed
// files, sorted.
func (d Delta) Rescan() []string {
	out := make([]string, 0, len(d.Added)+len(d.Changed))
	for _, f := range d.Added {
		out = append(out, f.Path)
	}
	for _, c := range d.Changed {
		out = append(out, c.Path)
	}
	return out
}
