package storage

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// CachedDB fronts a DB with an LRU cache of recent reads. Writes go straight
// through and invalidate the cached entry.
type CachedDB struct {
	DB
	cache *lru.Cache
}

// NewCachedDB wraps db with an LRU of at most size entries.
func NewCachedDB(db DB, size int) (*CachedDB, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create read cache")
	}
	return &CachedDB{DB: db, cache: cache}, nil
}

func (c *CachedDB) Get(key []byte) ([]byte, error) {
	if v, ok := c.cache.Get(string(key)); ok {
		return v.([]byte), nil
	}
	val, err := c.DB.Get(key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(string(key), val)
	return val, nil
}

func (c *CachedDB) Set(key, value []byte) error {
	c.cache.Remove(string(key))
	return c.DB.Set(key, value)
}

func (c *CachedDB) Delete(key []byte) error {
	c.cache.Remove(string(key))
	return c.DB.Delete(key)
}

func (c *CachedDB) NewBatch() Batch {
	return &cachedBatch{Batch: c.DB.NewBatch(), cache: c.cache}
}

// cachedBatch remembers touched keys so they can be evicted once written.
type cachedBatch struct {
	Batch
	cache *lru.Cache
	keys  []string
}

func (b *cachedBatch) Set(key, value []byte) {
	b.keys = append(b.keys, string(key))
	b.Batch.Set(key, value)
}

func (b *cachedBatch) Delete(key []byte) {
	b.keys = append(b.keys, string(key))
	b.Batch.Delete(key)
}

func (b *cachedBatch) Reset() {
	b.keys = nil
	b.Batch.Reset()
}

func (b *cachedBatch) Write() error {
	err := b.Batch.Write()
	// Evict even on failure; the batch may have been partially applied.
	for _, k := range b.keys {
		b.cache.Remove(k)
	}
	return err
}
