// Package reqcache caches KG API responses per session under invalidation tags.
package reqcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kgbrowse/internal/db"
)

// Tag groups cache entries for invalidation.
type Tag string

// Cache tags.
const (
	TagGroups    Tag = "groups"
	TagSearch    Tag = "search"
	TagInstance  Tag = "instance"
	TagFavorites Tag = "favorites"
)

// IdentitySensitive lists the tags whose entries depend on who is logged in.
var IdentitySensitive = []Tag{TagGroups, TagSearch, TagInstance, TagFavorites}

// DefaultTTL bounds how long an entry is served.
const DefaultTTL = 5 * time.Minute

// store is the consumer interface for the request cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Options configure a Cache.
type Options struct {
	TTL    time.Duration
	Prefix string
	// Total counts lookups with labels "tag" and "result" ("hit"/"miss"). Optional.
	Total *prometheus.CounterVec
	// Invalidations counts tag invalidations with label "tag". Optional.
	Invalidations *prometheus.CounterVec
	Logger        *zap.Logger
}

// Cache is a tag-based response cache. Store failures degrade to misses.
//
// Each tag carries a generation that is part of its entry keys. Invalidation bumps
// it, so old entries are unreachable even when deleting them fails, and a fetch
// that started before an invalidation is returned to its caller but never stored.
type Cache struct {
	store     store
	opts      Options
	namespace string

	mu          sync.Mutex
	generations map[Tag]uint64
}

// New creates a cache in the root namespace.
func New(s store, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{store: s, opts: opts, generations: make(map[Tag]uint64)}
}

// WithNamespace returns a cache whose keys and tags are isolated under ns.
func (c *Cache) WithNamespace(ns string) *Cache {
	return &Cache{store: c.store, opts: c.opts, namespace: ns, generations: make(map[Tag]uint64)}
}

func (c *Cache) generation(tag Tag) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[tag]
}

func (c *Cache) entryKey(tag Tag, gen uint64, key string) string {
	h := sha256.Sum256([]byte(key))
	return c.opts.Prefix + c.namespace + ":" + string(tag) + ":" + strconv.FormatUint(gen, 10) + ":" +
		hex.EncodeToString(h[:])
}

func (c *Cache) tagKey(tag Tag) string {
	return c.opts.Prefix + c.namespace + ":tag:" + string(tag)
}

func (c *Cache) inc(tag Tag, result string) {
	if c.opts.Total != nil {
		c.opts.Total.WithLabelValues(string(tag), result).Inc()
	}
}

// Do returns the cached value for (tag, key) or calls fetch and caches its result.
// Errors are never cached.
func Do[T any](ctx context.Context, c *Cache, tag Tag, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	gen := c.generation(tag)
	k := c.entryKey(tag, gen, key)

	var v T
	if c.lookup(ctx, k, &v) {
		c.inc(tag, "hit")
		return v, nil
	}
	c.inc(tag, "miss")

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	if c.generation(tag) == gen {
		c.put(ctx, tag, k, v)
	}
	return v, nil
}

func (c *Cache) lookup(ctx context.Context, key string, dst any) bool {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.opts.Logger.Warn("Failed to get cached response", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.opts.Logger.Warn("Failed to parse cached response", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Cache) put(ctx context.Context, tag Tag, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.opts.Logger.Warn("Failed to encode response for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.opts.TTL); err != nil {
		c.opts.Logger.Warn("Failed to cache response", zap.String("key", key), zap.Error(err))
		return
	}
	tk := c.tagKey(tag)
	if err := c.store.SAdd(ctx, tk, key); err != nil {
		c.opts.Logger.Warn("Failed to tag cached response", zap.String("tag", string(tag)), zap.Error(err))
		return
	}
	// The tag set outlives its newest entry.
	if err := c.store.Expire(ctx, tk, c.opts.TTL); err != nil {
		c.opts.Logger.Warn("Failed to expire tag set", zap.String("tag", string(tag)), zap.Error(err))
	}
}

// InvalidateTags deletes every entry recorded under the given tags.
// Generations are bumped first so that fetches already in flight are not stored.
func (c *Cache) InvalidateTags(ctx context.Context, tags ...Tag) error {
	c.mu.Lock()
	for _, tag := range tags {
		c.generations[tag]++
	}
	c.mu.Unlock()

	var errs []error
	for _, tag := range tags {
		tk := c.tagKey(tag)
		keys, err := c.store.SMembers(ctx, tk)
		if err != nil {
			errs = append(errs, fmt.Errorf("list tag %s: %w", tag, err))
			continue
		}
		if err := c.store.Del(ctx, append(keys, tk)...); err != nil {
			errs = append(errs, fmt.Errorf("delete tag %s: %w", tag, err))
			continue
		}
		if c.opts.Invalidations != nil {
			c.opts.Invalidations.WithLabelValues(string(tag)).Inc()
		}
	}
	return errors.Join(errs...)
}
