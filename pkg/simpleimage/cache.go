package simpleimage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Second
)

// CacheConfig sizes the metadata lookup cache.
type CacheConfig struct {
	// MaxEntries bounds the LRU
	MaxEntries int
	// TTL is how long a cached record is served before re-reading the store
	TTL time.Duration
}

type cacheEntry struct {
	image    *Image
	storedAt time.Time
}

// CachedRepository is a cache-aside wrapper around a Repository. Point
// lookups are cached; every write invalidates or refreshes the entry for
// its id, and search and statistics always hit the store.
//
// A read-through result is only cached when no write landed while the
// store was being read, so a slow reader never puts back a record older
// than the one a writer already cached or removed.
type CachedRepository struct {
	Repository
	cache *lru.Cache[uuid.UUID, cacheEntry]
	ttl   time.Duration
	now   func() time.Time

	mu         sync.Mutex
	generation uint64
}

// NewCachedRepository wraps repo. Zero config values fall back to defaults.
func NewCachedRepository(repo Repository, cfg CacheConfig) *CachedRepository {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	// only errors on a non-positive size
	cache, _ := lru.New[uuid.UUID, cacheEntry](cfg.MaxEntries)
	return &CachedRepository{
		Repository: repo,
		cache:      cache,
		ttl:        cfg.TTL,
		now:        time.Now,
	}
}

var _ Repository = (*CachedRepository)(nil)

// GetImage serves a fresh cached copy or reads through to the store.
func (c *CachedRepository) GetImage(ctx context.Context, id uuid.UUID) (*Image, error) {
	if entry, ok := c.cache.Get(id); ok {
		if c.now().Sub(entry.storedAt) < c.ttl {
			return entry.image.Clone(), nil
		}
		c.cache.Remove(id)
	}

	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	image, err := c.Repository.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.generation == generation {
		c.store(image)
	}
	c.mu.Unlock()
	return image, nil
}

func (c *CachedRepository) SaveImage(ctx context.Context, image *Image) error {
	err := c.Repository.SaveImage(ctx, image)
	c.invalidate(image.ID)
	return err
}

func (c *CachedRepository) UpdateImage(ctx context.Context, image *Image) error {
	err := c.Repository.UpdateImage(ctx, image)
	c.invalidate(image.ID)
	return err
}

func (c *CachedRepository) TransitionStatus(ctx context.Context, id uuid.UUID, to ImageStatus, reason string) (*Image, error) {
	image, err := c.Repository.TransitionStatus(ctx, id, to, reason)
	if err != nil {
		c.invalidate(id)
		return nil, err
	}

	c.mu.Lock()
	c.generation++
	c.store(image)
	c.mu.Unlock()
	return image, nil
}

func (c *CachedRepository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	err := c.Repository.DeleteImage(ctx, id)
	c.invalidate(id)
	return err
}

// Len returns the number of cached records.
func (c *CachedRepository) Len() int {
	return c.cache.Len()
}

func (c *CachedRepository) invalidate(id uuid.UUID) {
	c.mu.Lock()
	c.generation++
	c.cache.Remove(id)
	c.mu.Unlock()
}

// store requires c.mu
func (c *CachedRepository) store(image *Image) {
	c.cache.Add(image.ID, cacheEntry{image: image.Clone(), storedAt: c.now()})
}
