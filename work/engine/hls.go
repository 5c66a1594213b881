package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"iptv-relay/work/logger"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"
)

var hlsURL = regexp.MustCompile(`(?i)\.m3u8?($|\?)`)

// HLS plays adaptive HLS streams. Before handing the manifest to the sink
// it walks master → level and inspects the level playlist for anything that
// would force media segments through the relay (encryption keys, byte-range
// addressing, insecure media on a secure page); those become policy
// rejections before a single segment is requested.
type HLS struct {
	fetch ManifestFetcher
	sink  MediaSink
}

// NewHLS returns an HLS engine using fetch for manifest inspection.
func NewHLS(fetch ManifestFetcher) *HLS {
	return &HLS{fetch: fetch}
}

func (e *HLS) Kind() Kind { return KindHLS }

func (e *HLS) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return hlsURL.MatchString(u.Path) || hlsURL.MatchString(rawURL)
}

func (e *HLS) Start(ctx context.Context, att Attempt) error {
	if err := e.inspect(ctx, att); err != nil {
		return err
	}

	e.sink = att.Sink
	if err := att.Sink.Attach(att.Policy.Rewrite(RequestManifest, att.SourceURL)); err != nil {
		return fmt.Errorf("hls attach: %w", err)
	}
	if err := att.Sink.Play(); err != nil {
		return fmt.Errorf("hls play: %w", err)
	}
	return nil
}

// inspect fetches the manifest (following master → first level) and applies
// the playlist-only policy checks.
func (e *HLS) inspect(ctx context.Context, att Attempt) error {
	target := att.SourceURL
	for depth := 0; depth < 2; depth++ {
		text, err := e.fetch(ctx, att.Policy.Rewrite(RequestManifest, target))
		if err != nil {
			return fmt.Errorf("hls manifest fetch: %w", err)
		}

		pl, listType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
		if err != nil {
			return fmt.Errorf("hls manifest decode: %w", err)
		}

		switch listType {
		case m3u8.MASTER:
			master := pl.(*m3u8.MasterPlaylist)
			if len(master.Variants) == 0 || master.Variants[0] == nil {
				return fmt.Errorf("hls manifest: master playlist has no variants")
			}
			next := resolve(target, master.Variants[0].URI)
			logger.Debug("{engine - HLS} inspecting level playlist")
			target = next

		case m3u8.MEDIA:
			return checkLevel(pl.(*m3u8.MediaPlaylist), target, att.SecurePage)

		default:
			return fmt.Errorf("hls manifest: unrecognized playlist type")
		}
	}
	return fmt.Errorf("hls manifest: master playlists nested too deep")
}

func (e *HLS) Dispose() {
	if e.sink != nil {
		e.sink.Stop()
		e.sink = nil
	}
}

// checkLevel applies the policy checks to a level (media) playlist.
func checkLevel(media *m3u8.MediaPlaylist, levelURL string, securePage bool) error {
	if media.Key != nil {
		return &PolicyError{Reason: ReasonEncrypted}
	}
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seg.Key != nil {
			return &PolicyError{Reason: ReasonEncrypted}
		}
		if seg.Limit > 0 {
			return &PolicyError{Reason: ReasonByteRange}
		}
		if securePage && strings.HasPrefix(strings.ToLower(resolve(levelURL, seg.URI)), "http://") {
			return &PolicyError{Reason: ReasonMixedContent}
		}
	}
	return nil
}

// resolve resolves ref against base, falling back to ref untouched.
func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := b.Parse(ref)
	if err != nil {
		return ref
	}
	return r.String()
}
