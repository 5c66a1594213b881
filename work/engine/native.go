package engine

import (
	"context"
	"fmt"
)

// Native hands the source URL straight to the sink and lets the underlying
// player figure it out. It is the last rung of every attempt ladder and
// supports any URL. Media bytes flow directly from the origin, so the URL
// is never rewritten through the relay.
type Native struct {
	sink MediaSink
}

// NewNative returns the native fallback engine.
func NewNative() *Native {
	return &Native{}
}

func (e *Native) Kind() Kind { return KindNative }

func (e *Native) Supports(rawURL string) bool { return true }

func (e *Native) Start(ctx context.Context, att Attempt) error {
	e.sink = att.Sink
	if err := att.Sink.Attach(att.SourceURL); err != nil {
		return fmt.Errorf("native attach: %w", err)
	}
	if err := att.Sink.Play(); err != nil {
		return fmt.Errorf("native play: %w", err)
	}
	return nil
}

func (e *Native) Dispose() {
	if e.sink != nil {
		e.sink.Stop()
		e.sink = nil
	}
}
