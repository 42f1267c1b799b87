package catalog

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"class-index/internal/annotation"
)

// DefaultCacheSize is the number of annotation types a Cache keeps.
const DefaultCacheSize = 128

// Cache keeps fully loaded indexes for the most recently used annotation
// types. Concurrent requests for the same type share one load.
type Cache struct {
	res   Resolver
	opts  []Option
	lru   *lru.Cache[string, []annotation.Record]
	group singleflight.Group
}

// NewCache returns a Cache over res holding up to size types.
func NewCache(res Resolver, size int, opts ...Option) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[string, []annotation.Record](size)
	if err != nil {
		return nil, fmt.Errorf("catalog cache: %w", err)
	}
	return &Cache{res: res, opts: opts, lru: l}, nil
}

// Records returns every record of annotationType. The slice is shared
// between callers and must not be modified.
func (c *Cache) Records(annotationType string) ([]annotation.Record, error) {
	if recs, ok := c.lru.Get(annotationType); ok {
		return recs, nil
	}
	v, err, _ := c.group.Do(annotationType, func() (any, error) {
		recs, err := Records(annotationType, c.res, c.opts...)
		if err != nil {
			return nil, err
		}
		c.lru.Add(annotationType, recs)
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]annotation.Record), nil
}

// Purge drops every cached index, e.g. after the classpath changed.
func (c *Cache) Purge() { c.lru.Purge() }

// Len returns the number of cached annotation types.
func (c *Cache) Len() int { return c.lru.Len() }
