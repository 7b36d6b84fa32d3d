package segment

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"golang.org/x/exp/slog"
)

// Cache decorates a Provider with a single eagerly-acquired segment. Requests that fit the
// cached segment while it is idle are served from it without involving the backing provider.
// Anything else, including requests made while the cached segment is out, goes to the backing
// provider.
type Cache struct {
	logger  *slog.Logger
	backing Provider

	mutex      sync.Mutex
	cached     *Segment
	cachedSize int
	inUse      bool
}

var _ Provider = &Cache{}

func NewCache(logger *slog.Logger, backing Provider, cachedSize int) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backing == nil {
		return nil, errors.New("a segment cache requires a backing provider")
	}

	cached, err := backing.Request(cachedSize)
	if err != nil {
		return nil, errors.Wrapf(err, "acquiring %s cached segment", humanize.IBytes(uint64(cachedSize)))
	}

	return &Cache{
		logger:     logger,
		backing:    backing,
		cached:     cached,
		cachedSize: cachedSize,
	}, nil
}

// CachedSize is the largest request the cached segment will serve
func (c *Cache) CachedSize() int { return c.cachedSize }

// InUse reports whether the cached segment is currently handed out
func (c *Cache) InUse() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.inUse
}

func (c *Cache) Request(size int) (*Segment, error) {
	if size < 1 {
		return nil, errors.Newf("invalid segment size: %d", size)
	}

	c.mutex.Lock()
	if c.cached != nil && !c.inUse && size <= c.cachedSize {
		c.inUse = true
		c.mutex.Unlock()

		c.logger.Debug("Cache::Request served from cache", slog.Int("Size", size))
		return c.cached, nil
	}
	c.mutex.Unlock()

	return c.backing.Request(size)
}

func (c *Cache) Release(seg *Segment) error {
	c.mutex.Lock()
	if seg == c.cached {
		if !c.inUse {
			c.mutex.Unlock()
			panic("attempted to release the cached segment while it was not in use")
		}

		seg.Reset()
		c.inUse = false
		c.mutex.Unlock()
		return nil
	}
	c.mutex.Unlock()

	return c.backing.Release(seg)
}

// Handoff asserts that the cache may change owners. Passing a cache to a new owner while its
// cached segment is still handed out is a programming error.
func (c *Cache) Handoff() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.inUse {
		panic("attempted to hand off a segment cache while its cached segment is in use")
	}
}

// Close returns the cached segment to the backing provider. The cache must not be used afterwards.
func (c *Cache) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.inUse {
		panic("attempted to close a segment cache while its cached segment is in use")
	}
	if c.cached == nil {
		return nil
	}

	err := c.backing.Release(c.cached)
	c.cached = nil
	return err
}
