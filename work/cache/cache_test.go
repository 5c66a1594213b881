package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New(time.Minute, 1024, 16)
	key := c.Key("sess1", "http://example.com/tv.m3u8")

	_, ok := c.Get(key)
	require.False(t, ok)

	require.True(t, c.Set(key, Entry{Body: []byte("#EXTM3U\n"), ContentType: "application/vnd.apple.mpegurl"}))

	e, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "#EXTM3U\n", string(e.Body))
	assert.Equal(t, "application/vnd.apple.mpegurl", e.ContentType)
	assert.False(t, e.StoredAt.IsZero())
}

func TestEntriesExpire(t *testing.T) {
	c := New(20*time.Millisecond, 1024, 16)
	key := c.Key("sess1", "http://example.com/tv.m3u8")

	require.True(t, c.Set(key, Entry{Body: []byte("#EXTM3U\n")}))
	_, ok := c.Get(key)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestOversizedBodyRefused(t *testing.T) {
	c := New(time.Minute, 8, 16)
	key := c.Key("sess1", "http://example.com/tv.m3u8")

	assert.False(t, c.Set(key, Entry{Body: []byte("way past the byte ceiling")}))
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestScopesAreIsolated(t *testing.T) {
	c := New(time.Minute, 1024, 16)

	k1 := c.Key("alice", "http://example.com/tv.m3u8")
	k2 := c.Key("bob", "http://example.com/tv.m3u8")
	require.NotEqual(t, k1, k2)

	require.True(t, c.Set(k1, Entry{Body: []byte("alice's copy")}))
	_, ok := c.Get(k2)
	assert.False(t, ok)
}
