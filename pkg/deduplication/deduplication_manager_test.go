package deduplication

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheFirstSeenIsNotDuplicate(t *testing.T) {
	c := NewCache(Config{MaxCacheSize: 100, TTL: time.Minute}, logrus.New())
	content := []byte("MSH|^~\\&|A|B|C|D|20260101||ADT^A01|1|P|2.5")

	bodyID, checksum, found := c.Lookup(content)
	assert.False(t, found)
	assert.Empty(t, bodyID)
	assert.Equal(t, CanonicalChecksum(content), checksum)
}

func TestCacheRecordThenLookupFindsDuplicate(t *testing.T) {
	c := NewCache(Config{MaxCacheSize: 100, TTL: time.Minute}, logrus.New())
	content := []byte("duplicate payload")

	_, checksum, _ := c.Lookup(content)
	c.Record(content, checksum, "body-1")

	bodyID, _, found := c.Lookup(content)
	require.True(t, found)
	assert.Equal(t, "body-1", bodyID)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Duplicates)
}

func TestCacheExpiredEntryIsNotDuplicate(t *testing.T) {
	c := NewCache(Config{MaxCacheSize: 100, TTL: 10 * time.Millisecond}, logrus.New())
	content := []byte("expiring payload")

	_, checksum, _ := c.Lookup(content)
	c.Record(content, checksum, "body-1")

	time.Sleep(20 * time.Millisecond)

	_, _, found := c.Lookup(content)
	assert.False(t, found)
}

func TestCacheEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := NewCache(Config{MaxCacheSize: 2, TTL: time.Hour}, logrus.New())

	for i, payload := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		_, checksum, _ := c.Lookup(payload)
		c.Record(payload, checksum, string(rune('A'+i)))
	}

	stats := c.GetStats()
	assert.LessOrEqual(t, stats.CacheSize, 2)

	_, _, found := c.Lookup([]byte("a"))
	assert.False(t, found, "oldest entry should have been evicted")

	_, _, found = c.Lookup([]byte("c"))
	assert.True(t, found, "most recently recorded entry should survive")
}
