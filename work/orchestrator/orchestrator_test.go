package orchestrator

import (
	"context"
	"errors"
	"testing"

	"iptv-relay/work/engine"
	"iptv-relay/work/playlist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	kind     engine.Kind
	supports func(string) bool
	startErr error
	starts   int
	disposed int
}

func (e *fakeEngine) Kind() engine.Kind { return e.kind }

func (e *fakeEngine) Supports(rawURL string) bool {
	if e.supports == nil {
		return true
	}
	return e.supports(rawURL)
}

func (e *fakeEngine) Start(context.Context, engine.Attempt) error {
	e.starts++
	return e.startErr
}

func (e *fakeEngine) Dispose() { e.disposed++ }

type nopSink struct{}

func (nopSink) Attach(string) error { return nil }
func (nopSink) Play() error         { return nil }
func (nopSink) Stop()               {}

func entry(uri string) playlist.Entry {
	return playlist.Entry{URI: uri, Label: uri}
}

func TestSelectSuccessMarksPlaying(t *testing.T) {
	eng := &fakeEngine{kind: engine.KindHLS}
	o := New([]engine.Engine{eng}, engine.LoaderPolicy{}, false)

	o.Select(context.Background(), entry("http://host/a.m3u8"), nopSink{})

	assert.Equal(t, Playing, o.Status("http://host/a.m3u8"))
	assert.Equal(t, 1, eng.starts)
}

func TestLadderRespectsSupports(t *testing.T) {
	hls := &fakeEngine{kind: engine.KindHLS, supports: func(u string) bool { return false }, startErr: errors.New("x")}
	native := &fakeEngine{kind: engine.KindNative}
	o := New([]engine.Engine{hls, native}, engine.LoaderPolicy{}, false)

	o.Select(context.Background(), entry("http://host/a.ts"), nopSink{})

	assert.Equal(t, 0, hls.starts, "unsupporting engine must not be probed")
	assert.Equal(t, 1, native.starts)
	assert.Equal(t, Playing, o.Status("http://host/a.ts"))
}

func TestFailureAdvancesLadder(t *testing.T) {
	first := &fakeEngine{kind: engine.KindHLS, startErr: errors.New("fatal")}
	second := &fakeEngine{kind: engine.KindNative}
	o := New([]engine.Engine{first, second}, engine.LoaderPolicy{}, false)

	o.Select(context.Background(), entry("u"), nopSink{})

	assert.Equal(t, 1, first.starts)
	assert.Equal(t, 1, first.disposed, "failed engine must be disposed before the next rung")
	assert.Equal(t, 1, second.starts)
	assert.Equal(t, Playing, o.Status("u"))
}

func TestExhaustedLadderFails(t *testing.T) {
	first := &fakeEngine{kind: engine.KindHLS, startErr: errors.New("a")}
	second := &fakeEngine{kind: engine.KindNative, startErr: errors.New("b")}
	o := New([]engine.Engine{first, second}, engine.LoaderPolicy{}, false)

	o.Select(context.Background(), entry("u"), nopSink{})

	assert.Equal(t, Failed, o.Status("u"))
	assert.NotEmpty(t, o.Reason("u"))
}

func TestPolicyRejectionIsTerminal(t *testing.T) {
	first := &fakeEngine{kind: engine.KindHLS, startErr: &engine.PolicyError{Reason: engine.ReasonEncrypted}}
	second := &fakeEngine{kind: engine.KindNative}
	o := New([]engine.Engine{first, second}, engine.LoaderPolicy{}, false)

	o.Select(context.Background(), entry("u"), nopSink{})

	assert.Equal(t, Failed, o.Status("u"))
	assert.Equal(t, engine.ReasonEncrypted, o.Reason("u"))
	assert.Equal(t, 0, second.starts, "policy rejection must not fall through to other engines")
}

func TestEndedPromotesPlayingToOk(t *testing.T) {
	eng := &fakeEngine{kind: engine.KindNative}
	o := New([]engine.Engine{eng}, engine.LoaderPolicy{}, false)

	tok := o.Select(context.Background(), entry("u"), nopSink{})
	require.Equal(t, Playing, o.Status("u"))

	o.Ended(tok)
	assert.Equal(t, Ok, o.Status("u"))
}

func TestStaleTokenCallbacksNoOp(t *testing.T) {
	eng := &fakeEngine{kind: engine.KindNative}
	o := New([]engine.Engine{eng}, engine.LoaderPolicy{}, false)

	stale := o.Select(context.Background(), entry("a"), nopSink{})
	o.Select(context.Background(), entry("b"), nopSink{})

	o.Ended(stale)
	assert.Equal(t, Playing, o.Status("b"), "stale Ended must not touch the live session")

	o.Fail(context.Background(), stale, errors.New("late error"))
	assert.Equal(t, Playing, o.Status("b"))
	assert.NotEqual(t, Failed, o.Status("a"))
}

func TestSwitchingAwayPromotesAndDisposes(t *testing.T) {
	eng := &fakeEngine{kind: engine.KindNative}
	o := New([]engine.Engine{eng}, engine.LoaderPolicy{}, false)

	o.Select(context.Background(), entry("a"), nopSink{})
	require.Equal(t, Playing, o.Status("a"))

	o.Select(context.Background(), entry("b"), nopSink{})

	assert.Equal(t, Ok, o.Status("a"), "entry that reached Playing keeps its known-good marker")
	assert.Equal(t, Playing, o.Status("b"))
	assert.GreaterOrEqual(t, eng.disposed, 1)
}

func TestLateFailureAdvancesLadder(t *testing.T) {
	first := &fakeEngine{kind: engine.KindHLS}
	second := &fakeEngine{kind: engine.KindNative}
	o := New([]engine.Engine{first, second}, engine.LoaderPolicy{}, false)

	tok := o.Select(context.Background(), entry("u"), nopSink{})
	require.Equal(t, Playing, o.Status("u"))

	// media element reported a fatal error after playback had started
	o.Fail(context.Background(), tok, errors.New("media error"))

	assert.Equal(t, 1, second.starts)
	assert.Equal(t, Playing, o.Status("u"))
}

func TestStopTearsDown(t *testing.T) {
	eng := &fakeEngine{kind: engine.KindNative}
	o := New([]engine.Engine{eng}, engine.LoaderPolicy{}, false)

	o.Select(context.Background(), entry("u"), nopSink{})
	o.Stop()

	assert.Equal(t, Ok, o.Status("u"))
	assert.GreaterOrEqual(t, eng.disposed, 1)
}

func TestUnknownEntryUntested(t *testing.T) {
	o := New(nil, engine.LoaderPolicy{}, false)
	assert.Equal(t, Untested, o.Status("never-seen"))
	assert.Empty(t, o.Reason("never-seen"))
}
