package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/maypok86/otter/v2"
)

// Entry is one cached playlist body together with the upstream content type.
// Entries are only ever created for responses classified as playlists and
// only when the body fits under the configured ceiling; binary streams are
// never cached.
type Entry struct {
	Body        []byte
	ContentType string
	StoredAt    time.Time
}

// PlaylistCache is a TTL cache for playlist bodies, keyed per session so one
// caller's upstream responses are never served to another. Expired entries
// are evicted lazily by otter; a full entry is stored atomically, so readers
// never observe a partially written body.
type PlaylistCache struct {
	inner    *otter.Cache[string, Entry]
	maxBytes int64
}

// New creates a playlist cache whose entries expire ttl after creation and
// whose individual bodies may not exceed maxBytes.
func New(ttl time.Duration, maxBytes int64, maxEntries int) *PlaylistCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &PlaylistCache{
		inner: otter.Must(&otter.Options[string, Entry]{
			MaximumSize:      maxEntries,
			ExpiryCalculator: otter.ExpiryCreating[string, Entry](ttl),
		}),
		maxBytes: maxBytes,
	}
}

// Key derives the cache key for a target URL within a caller scope.
func (c *PlaylistCache) Key(scope, rawURL string) string {
	sum := sha1.Sum([]byte(scope + "|" + rawURL))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached entry for key if present and not expired.
func (c *PlaylistCache) Get(key string) (Entry, bool) {
	return c.inner.GetIfPresent(key)
}

// Set stores a playlist body. Oversized bodies are refused rather than
// truncated; the caller already failed the fetch with a too-large error in
// that case, this is a second fence.
func (c *PlaylistCache) Set(key string, e Entry) bool {
	if int64(len(e.Body)) > c.maxBytes {
		return false
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	c.inner.Set(key, e)
	return true
}

// Invalidate drops a single entry.
func (c *PlaylistCache) Invalidate(key string) {
	c.inner.Invalidate(key)
}
