// Package walkwalk provides a deterministic, filterable walker that gathers
// compiled class files from a classes directory.
package walkwalk

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// FileInfo is a minimal, deterministic descriptor of a collected class file.
type FileInfo struct {
	RelPath string // classes-dir-relative path with forward slashes
	AbsPath string // absolute filesystem path
	Size    int64  // size in bytes
	Hash    string // hex xxhash64 of the file contents
	Class   string // binary class name, e.g. "org.acme.Outer$Inner"
}

// Options filters the walk.
type Options struct {
	// Exclude skips any file or directory whose base name starts with one
	// of these prefixes.
	Exclude []string
	// FollowSymlinks descends into symlinked directories and reads
	// symlinked files.
	FollowSymlinks bool
}

type walkState struct {
	opts  Options
	root  string
	files []FileInfo
}

// CollectClasses walks root and returns its class files sorted by path.
// module-info and package-info descriptors are not classes and are skipped.
func CollectClasses(root string, opts Options) ([]FileInfo, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ws := &walkState{opts: opts, root: abs}
	if err := filepath.WalkDir(abs, ws.visit); err != nil {
		return nil, err
	}
	sort.Slice(ws.files, func(i, j int) bool { return ws.files[i].RelPath < ws.files[j].RelPath })
	return ws.files, nil
}

func (ws *walkState) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		if path == ws.root {
			return err
		}
		return nil
	}
	rel, ok := ws.relative(path)
	if !ok {
		return nil
	}
	if rel != "." && ws.shouldSkip(rel) {
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}
	if d.IsDir() {
		if path != ws.root && !ws.opts.FollowSymlinks && isSymlink(d) {
			return filepath.SkipDir
		}
		return nil
	}
	return ws.handleFile(path, rel, d)
}

func (ws *walkState) relative(path string) (string, bool) {
	rel, err := filepath.Rel(ws.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", false
	}
	return rel, true
}

func (ws *walkState) shouldSkip(rel string) bool {
	base := filepath.Base(rel)
	for _, p := range ws.opts.Exclude {
		if p != "" && strings.HasPrefix(base, p) {
			return true
		}
	}
	return false
}

func (ws *walkState) handleFile(path, rel string, d fs.DirEntry) error {
	if !strings.HasSuffix(rel, ".class") {
		return nil
	}
	base := filepath.Base(rel)
	if base == "module-info.class" || base == "package-info.class" {
		return nil
	}
	if isSymlink(d) {
		if !ws.opts.FollowSymlinks {
			return nil
		}
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	sum, err := hashFile(path)
	if err != nil {
		return nil
	}
	ws.files = append(ws.files, FileInfo{
		RelPath: rel,
		AbsPath: path,
		Size:    info.Size(),
		Hash:    sum,
		Class:   ClassName(rel),
	})
	return nil
}

// ClassName derives the binary class name from a relative class file path.
func ClassName(rel string) string {
	return strings.ReplaceAll(strings.TrimSuffix(filepath.ToSlash(rel), ".class"), "/", ".")
}

// ClassPath is the inverse of ClassName.
func ClassPath(className string) string {
	return strings.ReplaceAll(className, ".", "/") + ".class"
}

// isSymlink reports whether the DirEntry is a symlink (file or directory).
func isSymlink(d fs.DirEntry) bool {
	return d.Type()&fs.ModeSymlink != 0
}

// hashFile computes the hex xxhash64 of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
