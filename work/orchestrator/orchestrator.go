package orchestrator

import (
	"context"
	"sync"

	"iptv-relay/work/engine"
	"iptv-relay/work/logger"
	"iptv-relay/work/playlist"

	"github.com/puzpuzpuz/xsync/v3"
)

// Status is the lifecycle of one playlist entry across playback attempts.
//
//	Untested → Pending → Playing → Ok
//	                   ↘ Failed
//
// Playing and Ok are sticky in the sense that an entry which once played
// keeps its known-good marker (Ok) even after the user switches away.
type Status int

const (
	Untested Status = iota
	Pending
	Playing
	Ok
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Playing:
		return "playing"
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	default:
		return "untested"
	}
}

// SessionToken identifies one playback selection. Tokens increase
// monotonically; a callback holding a stale token finds the orchestrator
// has moved on and does nothing. That compare-on-entry check is the whole
// cancellation mechanism, since in-flight engine work cannot be preempted.
type SessionToken uint64

// Orchestrator owns the single live playback session, the per-entry status
// registry, and the engine ladder. All mutation happens under mu; engine
// callbacks re-enter through Started/Ended/Fail with their token.
type Orchestrator struct {
	mu      sync.Mutex
	token   SessionToken
	current *session

	engines    []engine.Engine
	policy     engine.LoaderPolicy
	securePage bool

	status *xsync.MapOf[string, Status]
	reason *xsync.MapOf[string, string]
}

// session is the live attempt state for one selected entry.
type session struct {
	entry  playlist.Entry
	ladder []engine.Engine
	index  int
	active engine.Engine
	sink   engine.MediaSink
}

// New builds an orchestrator over the given engines. Ladder order follows
// engine order; the last engine should be the native fallback.
func New(engines []engine.Engine, policy engine.LoaderPolicy, securePage bool) *Orchestrator {
	return &Orchestrator{
		engines:    engines,
		policy:     policy,
		securePage: securePage,
		status:     xsync.NewMapOf[string, Status](),
		reason:     xsync.NewMapOf[string, string](),
	}
}

// Status returns the remembered status for an entry URI.
func (o *Orchestrator) Status(uri string) Status {
	s, _ := o.status.Load(uri)
	return s
}

// Reason returns the recorded failure reason for an entry URI, if any.
func (o *Orchestrator) Reason(uri string) string {
	r, _ := o.reason.Load(uri)
	return r
}

// Select starts playback of entry on sink. Any previous session is torn
// down first: its engine is disposed, and if its entry had reached Playing
// it is promoted to Ok. The returned token identifies this selection for
// the Started/Ended/Fail callbacks.
func (o *Orchestrator) Select(ctx context.Context, entry playlist.Entry, sink engine.MediaSink) SessionToken {
	o.mu.Lock()
	o.teardownLocked()

	o.token++
	tok := o.token

	ladder := o.buildLadder(entry.URI)
	o.current = &session{entry: entry, ladder: ladder, sink: sink}
	o.status.Store(entry.URI, Pending)
	o.reason.Delete(entry.URI)
	o.mu.Unlock()

	logger.Debug("{orchestrator - Select} %s with %d-engine ladder", entry.Label, len(ladder))
	o.attempt(ctx, tok)
	return tok
}

// buildLadder picks the engines eligible for this URL, in priority order.
func (o *Orchestrator) buildLadder(uri string) []engine.Engine {
	var ladder []engine.Engine
	for _, e := range o.engines {
		if e.Supports(uri) {
			ladder = append(ladder, e)
		}
	}
	return ladder
}

// attempt runs the current rung of the ladder for the session identified by
// tok. Policy rejections are terminal; other errors advance the ladder.
func (o *Orchestrator) attempt(ctx context.Context, tok SessionToken) {
	for {
		o.mu.Lock()
		if tok != o.token || o.current == nil {
			o.mu.Unlock()
			return
		}
		s := o.current
		if s.index >= len(s.ladder) {
			o.failLocked(s, "no engine could play this stream")
			o.mu.Unlock()
			return
		}
		eng := s.ladder[s.index]
		s.active = eng
		att := engine.Attempt{
			SourceURL:  s.entry.URI,
			Sink:       s.sink,
			Policy:     o.policy,
			SecurePage: o.securePage,
		}
		o.mu.Unlock()

		err := eng.Start(ctx, att)

		o.mu.Lock()
		if tok != o.token || o.current == nil {
			// a newer selection superseded us mid-attempt
			eng.Dispose()
			o.mu.Unlock()
			return
		}
		if err == nil {
			o.status.Store(s.entry.URI, Playing)
			o.mu.Unlock()
			return
		}

		eng.Dispose()
		s.active = nil

		if pe, ok := engine.IsPolicyError(err); ok {
			o.failLocked(s, pe.Reason)
			o.mu.Unlock()
			return
		}

		logger.Debug("{orchestrator - attempt} %s engine failed: %v", eng.Kind(), err)
		s.index++
		o.mu.Unlock()
	}
}

// Fail reports an engine failure that surfaced after Start returned (a
// media-element error event or fatal engine error). The session advances to
// the next rung; stale tokens are ignored.
func (o *Orchestrator) Fail(ctx context.Context, tok SessionToken, err error) {
	o.mu.Lock()
	if tok != o.token || o.current == nil {
		o.mu.Unlock()
		return
	}
	s := o.current
	if s.active != nil {
		s.active.Dispose()
		s.active = nil
	}
	if pe, ok := engine.IsPolicyError(err); ok {
		o.failLocked(s, pe.Reason)
		o.mu.Unlock()
		return
	}
	s.index++
	o.mu.Unlock()

	o.attempt(ctx, tok)
}

// Ended reports that playback stopped normally (pause or stream end). An
// entry that reached Playing is remembered as Ok; stale tokens are ignored.
func (o *Orchestrator) Ended(tok SessionToken) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if tok != o.token || o.current == nil {
		return
	}
	if st, _ := o.status.Load(o.current.entry.URI); st == Playing {
		o.status.Store(o.current.entry.URI, Ok)
	}
}

// Stop tears down the live session without starting a new one.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.teardownLocked()
	o.token++
}

// failLocked marks the current session's entry Failed with a reason and
// clears the session. Callers hold mu.
func (o *Orchestrator) failLocked(s *session, reason string) {
	o.status.Store(s.entry.URI, Failed)
	o.reason.Store(s.entry.URI, reason)
	logger.Warn("{orchestrator} %s failed: %s", s.entry.Label, reason)
	if s == o.current {
		o.current = nil
	}
}

// teardownLocked disposes the live session's engine and promotes a Playing
// entry to Ok. Callers hold mu.
func (o *Orchestrator) teardownLocked() {
	if o.current == nil {
		return
	}
	if o.current.active != nil {
		o.current.active.Dispose()
	}
	if st, _ := o.status.Load(o.current.entry.URI); st == Playing {
		o.status.Store(o.current.entry.URI, Ok)
	}
	o.current = nil
}
