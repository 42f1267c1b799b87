package cache

import "sort"

// BuildDelta computes the change set between two snapshots. A nil prev
// means everything in curr is added.
func BuildDelta(prev *Snapshot, curr *Snapshot) Delta {
	if delta, ok := handleTrivialDelta(prev, curr); ok {
		return delta
	}

	prevMap := indexByPath(prev.Files)
	currMap := indexByPath(curr.Files)

	delta := Delta{Added: classifyAdded(prevMap, currMap)}
	delta.Removed, delta.Changed = classifyRemovedAndChanged(prevMap, currMap)
	sortDelta(&delta)
	return delta
}

func handleTrivialDelta(prev, curr *Snapshot) (Delta, bool) {
	var d Delta
	switch {
	case curr == nil || len(curr.Files) == 0:
		if prev != nil {
			d.Removed = append(d.Removed, prev.Files...)
			sortDelta(&d)
		}
		return d, true
	case prev == nil || len(prev.Files) == 0:
		d.Added = append(d.Added, curr.Files...)
		sortDelta(&d)
		return d, true
	default:
		return Delta{}, false
	}
}

func indexByPath(files []ClassFile) map[string]ClassFile {
	m := make(map[string]ClassFile, len(files))
	for _, f := range files {
		m[f.Path] = f
	}
	return m
}

func classifyRemovedAndChanged(prev, curr map[string]ClassFile) ([]ClassFile, []Change) {
	var removed []ClassFile
	var changed []Change
	for path, pf := range prev {
		if cf, ok := curr[path]; ok {
			if pf.Hash != cf.Hash {
				changed = append(changed, Change{
					Path:       path,
					Class:      cf.Class,
					HashBefore: pf.Hash,
					HashAfter:  cf.Hash,
				})
			}
			continue
		}
		removed = append(removed, pf)
	}
	return removed, changed
}

func classifyAdded(prev, curr map[string]ClassFile) []ClassFile {
	var added []ClassFile
	for path, cf := range curr {
		if _, ok := prev[path]; !ok {
			added = append(added, cf)
		}
	}
	return added
}

func sortDelta(d *Delta) {
	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Path < d.Added[j].Path })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Path < d.Removed[j].Path })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Path < d.Changed[j].Path })
}
