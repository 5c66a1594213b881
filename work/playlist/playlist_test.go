package playlist

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBase(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestParseChannelList(t *testing.T) {
	text := `#EXTM3U
#EXTINF:-1 tvg-id="one.tv" tvg-name="Channel One" group-title="News",Ignored Text
http://host/a.ts
#EXTINF:-1 tvg-id="two.tv" group-title="Sports",Channel Two
http://host/b.ts
`
	entries := Parse(mustBase(t, "http://host/list.m3u"), text)
	require.Len(t, entries, 2)

	assert.Equal(t, "Channel One", entries[0].Label)
	assert.Equal(t, "News", entries[0].Group)
	assert.Equal(t, "http://host/a.ts", entries[0].URI)

	// tvg-name absent, tvg-id wins over the inline title
	assert.Equal(t, "two.tv", entries[1].Label)
	assert.Equal(t, "Sports", entries[1].Group)
}

func TestParseLabelFallbacks(t *testing.T) {
	text := `#EXTM3U
#EXTINF:-1,Inline Title Only
http://host/a.ts
#EXTINF:-1
http://host/b.ts
`
	entries := Parse(mustBase(t, "http://host/list.m3u"), text)
	require.Len(t, entries, 2)
	assert.Equal(t, "Inline Title Only", entries[0].Label)
	assert.Equal(t, "Channel", entries[1].Label)
}

func TestParseMissingURISkipsEntryOnly(t *testing.T) {
	text := `#EXTM3U
#EXTINF:-1 tvg-name="Broken",Broken
#EXTINF:-1 tvg-name="Working",Working
http://host/ok.ts
`
	entries := Parse(mustBase(t, "http://host/list.m3u"), text)
	require.Len(t, entries, 1)
	assert.Equal(t, "Working", entries[0].Label)
	assert.Equal(t, "http://host/ok.ts", entries[0].URI)
}

func TestParseMasterPlaylist(t *testing.T) {
	text := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1920x1080
v1.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=640000,RESOLUTION=1280x720
v2.m3u8
`
	entries := Parse(mustBase(t, "http://host/path/master.m3u8"), text)
	require.Len(t, entries, 2)

	assert.Contains(t, entries[0].Label, "1920x1080")
	assert.Contains(t, entries[0].Label, "1280 kbps")
	assert.Equal(t, "Variants", entries[0].Group)
	assert.Equal(t, "http://host/path/v1.m3u8", entries[0].URI)

	assert.Contains(t, entries[1].Label, "1280x720")
	assert.Contains(t, entries[1].Label, "640 kbps")
}

func TestParseRelativeURIResolution(t *testing.T) {
	text := `#EXTM3U
#EXTINF:-1 tvg-name="Rel",Rel
../streams/a.ts
#EXTINF:-1 tvg-name="Abs",Abs
https://other/b.ts
`
	entries := Parse(mustBase(t, "http://host/lists/deep/list.m3u"), text)
	require.Len(t, entries, 2)
	assert.Equal(t, "http://host/lists/streams/a.ts", entries[0].URI)
	assert.Equal(t, "https://other/b.ts", entries[1].URI)
}

func TestParseOrderPreserved(t *testing.T) {
	text := `#EXTM3U
#EXTINF:-1 tvg-name="C",C
http://host/c.ts
#EXTINF:-1 tvg-name="A",A
http://host/a.ts
#EXTINF:-1 tvg-name="B",B
http://host/b.ts
`
	entries := Parse(mustBase(t, "http://host/list.m3u"), text)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"C", "A", "B"}, []string{entries[0].Label, entries[1].Label, entries[2].Label})
}

func TestParseCommaInsideQuotedAttribute(t *testing.T) {
	text := `#EXTM3U
#EXTINF:-1 tvg-name="News, Local" group-title="US, East",Title
http://host/a.ts
`
	entries := Parse(mustBase(t, "http://host/list.m3u"), text)
	require.Len(t, entries, 1)
	assert.Equal(t, "News, Local", entries[0].Label)
	assert.Equal(t, "US, East", entries[0].Group)
}

func TestParseEmptyAndGarbageInput(t *testing.T) {
	assert.Empty(t, Parse(mustBase(t, "http://host/x.m3u"), ""))
	assert.Empty(t, Parse(mustBase(t, "http://host/x.m3u"), "this is not a playlist\nat all\n"))
}
