package engine

import (
	"context"
	"fmt"
)

// Kind identifies a playback engine family.
type Kind string

const (
	KindHLS    Kind = "hls"
	KindDASH   Kind = "dash"
	KindNative Kind = "native"
)

// Policy rejection reasons. These are user-facing strings: when a manifest
// reveals that playback would require relaying media segments, the attempt
// fails with one of these instead of a generic network error.
const (
	ReasonEncrypted    = "encrypted stream (segments cannot be relayed)"
	ReasonByteRange    = "byte-range segments not supported"
	ReasonMixedContent = "mixed content blocked"
)

// PolicyError marks an attempt as rejected by the playlist-only policy.
// It is terminal for the target: the orchestrator must not retry or fall
// through to another engine, because every engine would hit the same wall.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("playback policy: %s", e.Reason)
}

// IsPolicyError reports whether err is a policy rejection and returns it.
func IsPolicyError(err error) (*PolicyError, bool) {
	pe, ok := err.(*PolicyError)
	return pe, ok
}

// MediaSink is the playback surface an engine drives. Attach binds a source
// URL, Play starts playback (its error is a play-start rejection), and Stop
// tears playback down. Implementations must tolerate Stop without a prior
// Attach.
type MediaSink interface {
	Attach(sourceURL string) error
	Play() error
	Stop()
}

// ManifestFetcher retrieves manifest text for inspection. The URL it
// receives has already been through the loader policy rewrite.
type ManifestFetcher func(ctx context.Context, url string) (string, error)

// Attempt carries everything one playback attempt needs.
type Attempt struct {
	SourceURL  string
	Sink       MediaSink
	Policy     LoaderPolicy
	SecurePage bool
}

// Engine is a pluggable playback engine. Supports gates ladder membership
// per URL shape, Start runs one attempt to the point of playback, and
// Dispose releases everything the engine holds so the next attempt starts
// clean. Start returning an error means the attempt failed; a *PolicyError
// means the whole target is unsupported by policy.
type Engine interface {
	Kind() Kind
	Supports(rawURL string) bool
	Start(ctx context.Context, att Attempt) error
	Dispose()
}
