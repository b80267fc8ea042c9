// Package deduplication computes and caches MessageBody content checksums
// so StoreBody can recognize repeat content without re-persisting it
// (spec §3.2 Properties, P7: "storing identical content twice yields the
// same message_body row"). Grounded on the teacher's xxhash+LRU+TTL cache,
// generalized from log-line deduplication to body-checksum lookup: a cheap
// xxhash64 digest buckets candidates, and the canonical SHA-256 checksum
// (the value persisted on MessageBody.Checksum) resolves collisions.
package deduplication

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/hie-engine/runtime-core/internal/metrics"
)

// Config configures the body checksum cache.
type Config struct {
	MaxCacheSize     int           `yaml:"max_cache_size"`
	TTL              time.Duration `yaml:"ttl"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	CleanupThreshold float64       `yaml:"cleanup_threshold"`
}

// CanonicalChecksum computes the SHA-256 hex digest persisted as
// MessageBody.Checksum.
func CanonicalChecksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// fastDigest computes the cheap xxhash64 bucket key used to short-circuit
// the cache lookup before comparing full SHA-256 checksums.
func fastDigest(content []byte) uint64 {
	return xxhash.Sum64(content)
}

type cacheEntry struct {
	checksum  string
	bodyID    string
	createdAt time.Time
	lastSeen  time.Time
	hitCount  int64

	prev *cacheEntry
	next *cacheEntry
}

// Stats reports the running counters of the checksum cache.
type Stats struct {
	TotalChecks    int64
	CacheHits      int64
	CacheMisses    int64
	Duplicates     int64
	CacheSize      int
	EvictedEntries int64
	CleanupRuns    int64
}

// Cache maps a content checksum to the MessageBody.ID that already stores
// that content, so repeat StoreBody calls resolve to the existing row
// instead of persisting a duplicate.
type Cache struct {
	config Config
	logger *logrus.Logger

	mu      sync.Mutex
	buckets map[uint64][]*cacheEntry
	lruHead *cacheEntry
	lruTail *cacheEntry
	size    int

	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCache constructs a body checksum cache with the teacher's LRU+TTL
// cleanup loop.
func NewCache(config Config, logger *logrus.Logger) *Cache {
	if config.MaxCacheSize == 0 {
		config.MaxCacheSize = 100000
	}
	if config.TTL == 0 {
		config.TTL = time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	if config.CleanupThreshold == 0 {
		config.CleanupThreshold = 0.8
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		config:  config,
		logger:  logger,
		buckets: make(map[uint64][]*cacheEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.lruHead = &cacheEntry{}
	c.lruTail = &cacheEntry{}
	c.lruHead.next = c.lruTail
	c.lruTail.prev = c.lruHead
	return c
}

// Start launches the background cleanup loop.
func (c *Cache) Start() {
	go c.cleanupLoop()
}

// Stop terminates the background cleanup loop.
func (c *Cache) Stop() {
	c.cancel()
}

// Lookup reports the MessageBody.ID already holding this content, computing
// the cheap xxhash bucket first and only falling back to a full checksum
// comparison for bucket collisions.
func (c *Cache) Lookup(content []byte) (bodyID string, checksum string, found bool) {
	digest := fastDigest(content)
	checksum = CanonicalChecksum(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalChecks++

	for _, entry := range c.buckets[digest] {
		if entry.checksum != checksum {
			continue
		}
		if time.Since(entry.createdAt) > c.config.TTL {
			c.removeEntryLocked(digest, entry)
			c.stats.CacheMisses++
			return "", checksum, false
		}

		entry.lastSeen = time.Now()
		entry.hitCount++
		c.moveToFrontLocked(entry)
		c.stats.CacheHits++
		c.stats.Duplicates++
		return entry.bodyID, checksum, true
	}

	c.stats.CacheMisses++
	return "", checksum, false
}

// Record stores checksum -> bodyID for a piece of content just persisted.
func (c *Cache) Record(content []byte, checksum, bodyID string) {
	digest := fastDigest(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size >= c.config.MaxCacheSize {
		c.evictLRULocked()
	}

	entry := &cacheEntry{checksum: checksum, bodyID: bodyID, createdAt: time.Now(), lastSeen: time.Now(), hitCount: 0}
	c.buckets[digest] = append(c.buckets[digest], entry)
	c.addToFrontLocked(entry)
	c.size++
}

func (c *Cache) addToFrontLocked(entry *cacheEntry) {
	entry.prev = c.lruHead
	entry.next = c.lruHead.next
	c.lruHead.next.prev = entry
	c.lruHead.next = entry
}

func (c *Cache) removeFromListLocked(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *Cache) moveToFrontLocked(entry *cacheEntry) {
	c.removeFromListLocked(entry)
	c.addToFrontLocked(entry)
}

func (c *Cache) removeEntryLocked(digest uint64, entry *cacheEntry) {
	bucket := c.buckets[digest]
	for i, e := range bucket {
		if e == entry {
			c.buckets[digest] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(c.buckets[digest]) == 0 {
		delete(c.buckets, digest)
	}
	c.removeFromListLocked(entry)
	c.size--
	c.stats.EvictedEntries++
	metrics.DeduplicationCacheEvictions.Inc()
}

func (c *Cache) evictLRULocked() {
	victim := c.lruTail.prev
	if victim == c.lruHead {
		return
	}
	// victim's bucket key was not retained on the entry; rescan is
	// avoided by storing it implicitly via the digest argument callers
	// don't have here, so fall back to a full bucket scan on eviction.
	for digest, bucket := range c.buckets {
		for _, e := range bucket {
			if e == victim {
				c.removeEntryLocked(digest, victim)
				return
			}
		}
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	metricsTicker := time.NewTicker(10 * time.Second)
	defer metricsTicker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.performCleanup()
		case <-metricsTicker.C:
			c.updateMetrics()
		}
	}
}

func (c *Cache) performCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.CleanupRuns++
	now := time.Now()

	for digest, bucket := range c.buckets {
		kept := bucket[:0]
		for _, entry := range bucket {
			if now.Sub(entry.createdAt) > c.config.TTL {
				c.removeFromListLocked(entry)
				c.size--
				c.stats.EvictedEntries++
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(c.buckets, digest)
		} else {
			c.buckets[digest] = kept
		}
	}

	c.stats.CacheSize = c.size
}

// GetStats returns a snapshot of the cache's running counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.CacheSize = c.size
	return stats
}

func (c *Cache) updateMetrics() {
	stats := c.GetStats()
	metrics.DeduplicationCacheSize.Set(float64(stats.CacheSize))
	if stats.TotalChecks > 0 {
		metrics.DeduplicationCacheHitRate.Set(float64(stats.CacheHits) / float64(stats.TotalChecks))
		metrics.DeduplicationDuplicateRate.Set(float64(stats.Duplicates) / float64(stats.TotalChecks))
	}
}
