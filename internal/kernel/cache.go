package kernel

import (
	"sync"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/grid"
)

type cacheKey struct {
	channels   string
	resolution float64
}

// Cache memoises kernels per (channel set, resolution). It is safe for
// concurrent use. Cached kernels are shared and must be treated as
// read-only by callers.
type Cache struct {
	mu      sync.Mutex
	kernels map[cacheKey]*grid.Field
	builds  int
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{kernels: make(map[cacheKey]*grid.Field)}
}

// Shared returns the process-wide kernel cache, created on first use.
// Building a kernel costs one render per channel; each key is built once.
var Shared = sync.OnceValue(NewCache)

// Get returns the kernel for channels at resolution, building it on first
// request. Configuration errors are returned and never cached.
func (c *Cache) Get(channels atoms.ChannelSet, resolution float64) (*grid.Field, error) {
	key := cacheKey{channels: channels.Key(), resolution: resolution}

	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.kernels[key]; ok {
		return k, nil
	}
	b, err := NewBuilder(channels, resolution)
	if err != nil {
		return nil, err
	}
	k := b.Build()
	c.kernels[key] = k
	c.builds++
	return k, nil
}

// Builds returns how many kernels the cache has constructed.
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}
