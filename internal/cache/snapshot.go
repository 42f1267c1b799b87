// Package cache provides snapshot and on-disk cache utilities used by the
// incremental class scan.
//
// Conventions:
//   - The cache root defaults to "tmp/.class-index" unless overridden by the caller.
//   - A per-directory cache lives at: <baseTmp>/<pathKey>/
//   - The snapshot is stored at:      <baseTmp>/<pathKey>/snapshot.json
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"class-index/internal/atomicfile"
)

const (
	defaultCacheRoot = "tmp/.class-index"
	snapshotFileName = "snapshot.json"
	// FormatVersion is bumped whenever the snapshot layout changes; older
	// snapshots are ignored.
	FormatVersion = "1"
)

// PathKey returns a short, stable identifier for an absolute directory path.
func PathKey(abs string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(abs))[:12]
}

// CacheDir resolves the cache directory for the given absolute classes path.
// If baseTmp is empty, it falls back to the default "tmp/.class-index".
func CacheDir(baseTmp, srcAbs string) string {
	root := baseTmp
	if root == "" {
		root = defaultCacheRoot
	}
	return filepath.Join(root, PathKey(srcAbs))
}

// HashReader returns the hex xxhash64 of everything r yields.
func HashReader(r io.Reader) (string, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// HashBytes returns the hex xxhash64 of b.
func HashBytes(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// Load reads the snapshot from <dir>/snapshot.json.
// If the file does not exist, or was written by another format version, it
// returns (nil, nil) so callers can treat it as "no previous snapshot"
// without branching on errors.
func Load(dir string) (*Snapshot, error) {
	b, err := os.ReadFile(filepath.Join(dir, snapshotFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.FormatVersion != FormatVersion {
		return nil, nil
	}
	return &s, nil
}

// Save writes the snapshot atomically to <dir>/snapshot.json.
func Save(dir string, s *Snapshot) error {
	s.FormatVersion = FormatVersion
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(filepath.Join(dir, snapshotFileName), append(b, '\n'))
}

// Clear removes the entire cache directory.
// Safe to call even if the directory does not exist.
func Clear(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(dir)
}

// Classes returns the class names in the snapshot as a set.
func (s *Snapshot) Classes() map[string]struct{} {
	if s == nil {
		return nil
	}
	out := make(map[string]struct{}, len(s.Files))
	for _, f := range s.Files {
		out[f.Class] = struct{}{}
	}
	return out
}
