package playlist

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"iptv-relay/work/logger"

	"github.com/grafov/m3u8"
)

// Entry is one playable item from a manifest: an IPTV channel or an
// adaptive-bitrate variant. Entries are immutable once parsed and keep their
// manifest appearance order, which is also the display order.
type Entry struct {
	URI   string // absolute URI, resolved against the manifest's own URL
	Label string // display label
	Group string // grouping metadata (group-title, or "Variants")
}

// Parse turns manifest text into the ordered entry list. Two manifest
// shapes are supported: IPTV channel lists (#EXTINF lines) and HLS master
// playlists (#EXT-X-STREAM-INF lines). Master playlists go through the
// grafov parser; channel lists use the line scanner because grafov drops
// the tvg-* attributes the labels come from. A malformed single entry is
// skipped with a diagnostic, never a fatal error.
func Parse(base *url.URL, text string) []Entry {
	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
	if err == nil && listType == m3u8.MASTER {
		return parseMaster(base, pl.(*m3u8.MasterPlaylist))
	}
	return parseScan(base, text)
}

// parseMaster converts grafov master-playlist variants into entries.
func parseMaster(base *url.URL, master *m3u8.MasterPlaylist) []Entry {
	var entries []Entry
	for _, variant := range master.Variants {
		if variant == nil || variant.URI == "" {
			continue
		}
		entries = append(entries, Entry{
			URI:   resolveRef(base, variant.URI),
			Label: variantLabel(variant.Resolution, int64(variant.Bandwidth)),
			Group: "Variants",
		})
	}
	return entries
}

// parseScan is the fallback line scanner handling both manifest shapes.
func parseScan(base *url.URL, text string) []Entry {
	var entries []Entry

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "#EXTINF"):
			uri, ok := uriAfter(lines, i)
			if !ok {
				logger.Warn("{playlist - Parse} missing URI after %s", line)
				continue
			}
			attrs, title := parseExtinf(line)

			label := attrs["tvg-name"]
			if label == "" {
				label = attrs["tvg-id"]
			}
			if label == "" {
				label = title
			}
			if label == "" {
				label = "Channel"
			}

			entries = append(entries, Entry{
				URI:   resolveRef(base, uri),
				Label: label,
				Group: attrs["group-title"],
			})
			i++ // consume URI line

		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			uri, ok := uriAfter(lines, i)
			if !ok {
				logger.Warn("{playlist - Parse} missing URI after %s", line)
				continue
			}
			attrs := parseStreamInf(line)

			var bandwidth int64
			if bw := attrs["BANDWIDTH"]; bw != "" {
				bandwidth, _ = strconv.ParseInt(bw, 10, 64)
			}

			entries = append(entries, Entry{
				URI:   resolveRef(base, uri),
				Label: variantLabel(attrs["RESOLUTION"], bandwidth),
				Group: "Variants",
			})
			i++
		}
	}

	return entries
}

// uriAfter returns the line following index i when it looks like a URI
// (non-empty and not a tag).
func uriAfter(lines []string, i int) (string, bool) {
	if i+1 >= len(lines) {
		return "", false
	}
	next := lines[i+1]
	if next == "" || strings.HasPrefix(next, "#") {
		return "", false
	}
	return next, true
}

// parseExtinf splits an #EXTINF line into its key=value attributes and the
// inline title. The title is everything after the last comma that sits
// outside quotes, so commas inside quoted attribute values survive.
func parseExtinf(line string) (map[string]string, string) {
	attrs := make(map[string]string)
	line = strings.TrimPrefix(line, "#EXTINF:")

	// Find the last comma that separates attributes from the title
	lastComma := -1
	inQuotes := false
	for i := len(line) - 1; i >= 0; i-- {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				lastComma = i
			}
		}
		if lastComma != -1 {
			break
		}
	}

	attrPart := line
	title := ""
	if lastComma != -1 {
		attrPart = strings.TrimSpace(line[:lastComma])
		title = strings.TrimSpace(line[lastComma+1:])
	}

	for _, part := range splitOutsideQuotes(attrPart, ' ') {
		eq := strings.IndexByte(part, '=')
		if eq == -1 {
			continue // the duration token, typically "-1"
		}
		key := part[:eq]
		value := strings.Trim(part[eq+1:], `"`)
		attrs[key] = value
	}

	return attrs, title
}

// parseStreamInf splits an #EXT-X-STREAM-INF line into its attributes.
func parseStreamInf(line string) map[string]string {
	attrs := make(map[string]string)
	line = strings.TrimPrefix(line, "#EXT-X-STREAM-INF:")

	for _, part := range splitOutsideQuotes(line, ',') {
		eq := strings.IndexByte(part, '=')
		if eq == -1 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		value := strings.Trim(strings.TrimSpace(part[eq+1:]), `"`)
		attrs[key] = value
	}

	return attrs
}

// splitOutsideQuotes splits s on sep, ignoring separators inside double
// quotes. Empty fields are dropped.
func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	inQuotes := false
	start := 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				if part := s[start:i]; part != "" {
					parts = append(parts, part)
				}
				start = i + 1
			}
		}
	}
	if part := s[start:]; part != "" {
		parts = append(parts, part)
	}
	return parts
}

// variantLabel synthesizes a display label for an adaptive variant from its
// resolution and bandwidth, e.g. "1920x1080 • 1280 kbps".
func variantLabel(resolution string, bandwidth int64) string {
	if resolution == "" {
		resolution = "Auto"
	}
	if bandwidth > 0 {
		return fmt.Sprintf("%s • %d kbps", resolution, bandwidth/1000)
	}
	return resolution
}

// resolveRef resolves a manifest URI reference against the manifest's own
// base URL, handling relative paths. An unresolvable reference is returned
// as-is.
func resolveRef(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	resolved, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return resolved.String()
}
