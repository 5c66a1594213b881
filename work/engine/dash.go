package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/grafana/regexp"
)

var dashURL = regexp.MustCompile(`(?i)\.mpd($|\?)`)

// DASH plays MPEG-DASH streams. It only ever appears in a ladder when the
// URL is an actual .mpd manifest; probing DASH against HLS URLs wastes
// upstream requests. Manifest inspection is a light textual pass since the
// policy checks that matter here are scheme-level.
type DASH struct {
	fetch ManifestFetcher
	sink  MediaSink
}

// NewDASH returns a DASH engine using fetch for manifest inspection.
func NewDASH(fetch ManifestFetcher) *DASH {
	return &DASH{fetch: fetch}
}

func (e *DASH) Kind() Kind { return KindDASH }

func (e *DASH) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return dashURL.MatchString(u.Path) || dashURL.MatchString(rawURL)
}

func (e *DASH) Start(ctx context.Context, att Attempt) error {
	text, err := e.fetch(ctx, att.Policy.Rewrite(RequestManifest, att.SourceURL))
	if err != nil {
		return fmt.Errorf("dash manifest fetch: %w", err)
	}
	if att.SecurePage && strings.Contains(strings.ToLower(text), "<baseurl>http://") {
		return &PolicyError{Reason: ReasonMixedContent}
	}

	e.sink = att.Sink
	if err := att.Sink.Attach(att.Policy.Rewrite(RequestManifest, att.SourceURL)); err != nil {
		return fmt.Errorf("dash attach: %w", err)
	}
	if err := att.Sink.Play(); err != nil {
		return fmt.Errorf("dash play: %w", err)
	}
	return nil
}

func (e *DASH) Dispose() {
	if e.sink != nil {
		e.sink.Stop()
		e.sink = nil
	}
}
