package index

import "io"

// Storage is where a build session reads previous fragments from and writes
// new ones to. A plain output directory and a jar being assembled are the
// two implementations in this module; a compiler plugin host would be a
// third.
type Storage interface {
	// OpenRead opens the existing fragment for annotationType. A missing
	// fragment is (nil, nil).
	OpenRead(annotationType string) (io.ReadCloser, error)
	// OpenWrite replaces the fragment for annotationType. The content is
	// committed on Close.
	OpenWrite(annotationType string) (io.WriteCloser, error)
	// IsClassObsolete reports whether a record for className found in an
	// existing fragment must be dropped.
	IsClassObsolete(className string) bool
}

// Aborter is implemented by fragment writers that can discard what was
// written instead of committing it on Close.
type Aborter interface {
	Abort() error
}

func discard(w io.WriteCloser) {
	if a, ok := w.(Aborter); ok {
		_ = a.Abort()
		return
	}
	_ = w.Close()
}
