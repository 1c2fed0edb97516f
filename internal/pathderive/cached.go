package pathderive

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of derived paths kept by NewCached when no
// size is given.
const DefaultCacheSize = 1024

// Cached memoizes a Deriver's results in an LRU cache. Derive is a pure
// function of the identifier, so cached paths never go stale.
// Failed derivations are not cached.
type Cached struct {
	*Deriver
	cache *lru.Cache[string, string]
}

// NewCached wraps d with an LRU of the given capacity.
func NewCached(d *Deriver, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Deriver: d, cache: c}, nil
}

// Derive returns the plain file path for identifier.
func (c *Cached) Derive(identifier string) (string, error) {
	if p, ok := c.cache.Get(identifier); ok {
		return p, nil
	}
	p, err := c.Deriver.Derive(identifier)
	if err != nil {
		return "", err
	}
	c.cache.Add(identifier, p)
	return p, nil
}

// Len returns the number of memoized paths.
func (c *Cached) Len() int {
	return c.cache.Len()
}
