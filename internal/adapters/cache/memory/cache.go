// Package memory provides an in-process cache for single-instance
// deployments. Entries are spread across fixed-TTL LRU shards, one per
// expiry tier, so a Set's TTL picks a shard rather than tracking per-key
// deadlines.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Config sizes the cache shards.
type Config struct {
	// EntriesPerTier caps each TTL shard. Zero uses the default.
	EntriesPerTier int

	// Tiers lists the supported TTLs ascending. A Set lands in the first
	// tier at or above its requested TTL, or the longest tier.
	Tiers []time.Duration
}

// DefaultConfig returns the standard three-tier layout.
func DefaultConfig() Config {
	return Config{
		EntriesPerTier: 4096,
		Tiers: []time.Duration{
			60 * time.Second,
			5 * time.Minute,
			30 * time.Minute,
		},
	}
}

// Cache implements ports.Cache over per-tier expirable LRUs.
type Cache struct {
	tiers  []time.Duration
	shards []*expirable.LRU[string, []byte]
}

// New creates a Cache from cfg, falling back to defaults for zero fields.
func New(cfg Config) *Cache {
	if cfg.EntriesPerTier <= 0 {
		cfg.EntriesPerTier = DefaultConfig().EntriesPerTier
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultConfig().Tiers
	}

	c := &Cache{tiers: cfg.Tiers}
	for _, ttl := range cfg.Tiers {
		c.shards = append(c.shards, expirable.NewLRU[string, []byte](cfg.EntriesPerTier, nil, ttl))
	}
	return c
}

// Get returns the cached value and whether the key was present in any
// shard.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	for _, shard := range c.shards {
		if v, ok := shard.Get(key); ok {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// Set stores value in the shard whose tier covers ttl. A key is removed
// from the other shards first so a tier change cannot leave a stale twin.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	target := c.shardFor(ttl)
	for _, shard := range c.shards {
		if shard != target {
			shard.Remove(key)
		}
	}
	target.Add(key, value)
	return nil
}

// DeletePrefix drops every key beginning with prefix across all shards.
func (c *Cache) DeletePrefix(_ context.Context, prefix string) error {
	for _, shard := range c.shards {
		for _, key := range shard.Keys() {
			if strings.HasPrefix(key, prefix) {
				shard.Remove(key)
			}
		}
	}
	return nil
}

// Close purges all shards.
func (c *Cache) Close() error {
	for _, shard := range c.shards {
		shard.Purge()
	}
	return nil
}

func (c *Cache) shardFor(ttl time.Duration) *expirable.LRU[string, []byte] {
	for i, tier := range c.tiers {
		if ttl <= tier {
			return c.shards[i]
		}
	}
	return c.shards[len(c.shards)-1]
}
