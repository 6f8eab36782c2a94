// Package ristretto implements the cache port as an in-process tier for
// analysis results, backed by dgraph-io/ristretto.
package ristretto

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/contractreview/internal/port/cache"
)

// avgResultBytes sizes the admission counters. A reviewed contract with a
// few dozen clauses encodes to roughly this many bytes.
const avgResultBytes = 4 << 10

// ErrRejected is returned when an entry is larger than the whole cache or
// the write buffer is full.
var ErrRejected = errors.New("ristretto: entry rejected")

// Cache keeps analysis results in process memory. Values are copied on
// the way in and out so callers cannot alias cached bytes.
type Cache struct {
	c        *ristretto.Cache[string, []byte]
	maxBytes int64
}

var _ cache.Cache = (*Cache)(nil)

// New creates a cache holding at most maxBytes of encoded results.
func New(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, errors.New("ristretto: max size must be positive")
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxBytes/avgResultBytes*10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, maxBytes: maxBytes}, nil
}

// Get returns a copy of the cached value.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return slices.Clone(val), true, nil
}

// Set stores value for ttl; a non-positive ttl keeps it until evicted.
// The write is visible to Get once Set returns.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if int64(len(value)) > c.maxBytes {
		return ErrRejected
	}
	v := slices.Clone(value)
	if !c.c.SetWithTTL(key, v, int64(len(v)), max(ttl, 0)) {
		return ErrRejected
	}
	c.c.Wait()
	return nil
}

// Delete removes key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close releases the cache's goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
