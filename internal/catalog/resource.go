package catalog

import "io"

// Resource is one named resource inside one classpath root.
type Resource struct {
	// Root identifies the directory or archive the resource came from. Two
	// resources with the same Root belong to the same classpath entry.
	Root string
	// Name is the resource path inside Root.
	Name string
	// Open returns a fresh reader for the resource content.
	Open func() (io.ReadCloser, error)
}

// Resolver enumerates classpath resources by name. Resources returns every
// existing resource named name, in classpath order; none is not an error.
type Resolver interface {
	Resources(name string) ([]Resource, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) ([]Resource, error)

func (f ResolverFunc) Resources(name string) ([]Resource, error) { return f(name) }
