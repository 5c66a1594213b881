package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"iptv-relay/work/buffer"
	"iptv-relay/work/cache"
	"iptv-relay/work/client"
	"iptv-relay/work/config"
	"iptv-relay/work/guard"
	"iptv-relay/work/logger"
	"iptv-relay/work/metrics"
	"iptv-relay/work/utils"

	"github.com/grafana/regexp"
)

var (
	// ErrTooLarge means the upstream response exceeded the applicable byte
	// ceiling. The transfer is aborted; a partial body is never cached and
	// never served as success.
	ErrTooLarge = errors.New("response too large")

	// ErrUpstream covers transport-level fetch failures: DNS errors,
	// refused connections, timeouts, redirect loops.
	ErrUpstream = errors.New("upstream fetch failed")
)

// Classification decides how a relay target is handled: playlist bodies are
// buffered and cached, everything else streams through untouched.
type Classification int

const (
	Playlist Classification = iota // *.m3u / *.m3u8 manifests
	Binary                         // segments, keys, anything else
)

func (c Classification) String() string {
	if c == Playlist {
		return "playlist"
	}
	return "stream"
}

// playlistExt matches manifest path extensions. Classification is by URL
// shape only; the upstream content type is echoed but never trusted for
// caching decisions.
var playlistExt = regexp.MustCompile(`(?i)\.m3u8?$`)

// Classify derives the classification purely from the URL path extension.
func Classify(u *url.URL) Classification {
	if playlistExt.MatchString(u.Path) {
		return Playlist
	}
	return Binary
}

// Doer executes an outbound request. Satisfied by *client.Outbound in
// production and by plain http.Clients in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Engine performs the outbound fetch for the relay endpoint. Playlist
// targets are buffered fully (bounded by MaxCacheBytes) and cached per
// caller scope; binary targets are streamed chunk by chunk (bounded by
// MaxStreamBytes) without ever being buffered whole.
type Engine struct {
	cfg    *config.Config
	client Doer
	cache  *cache.PlaylistCache
	bufs   *buffer.Pool
	logger *logger.Logger
}

// NewEngine wires the fetch engine.
func NewEngine(cfg *config.Config, out Doer, pc *cache.PlaylistCache, bufs *buffer.Pool, lg *logger.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		client: out,
		cache:  pc,
		bufs:   bufs,
		logger: lg,
	}
}

// Playlist returns the playlist body for target, serving from the scope's
// cache when a fresh entry exists. The returned status is the upstream
// status; a status >= 400 carries the upstream error body through verbatim
// and is never cached.
func (e *Engine) Playlist(ctx context.Context, target *url.URL, scope string) (cache.Entry, int, error) {
	key := e.cache.Key(scope, target.String())

	if entry, ok := e.cache.Get(key); ok {
		metrics.CacheHits.Inc()
		e.logger.Debug("{fetch - Playlist} cache hit for %s", utils.LogURL(e.cfg.ObfuscateUrls, target.String()))
		return entry, http.StatusOK, nil
	}
	metrics.CacheMisses.Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return cache.Entry{}, 0, ErrUpstream
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return cache.Entry{}, 0, e.mapFetchError(err)
	}
	defer resp.Body.Close()

	// One byte past the cap is enough to know the response is oversized.
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxCacheBytes+1))
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("transport").Inc()
		return cache.Entry{}, 0, ErrUpstream
	}
	if int64(len(body)) > e.cfg.MaxCacheBytes {
		metrics.UpstreamErrors.WithLabelValues("too_large").Inc()
		return cache.Entry{}, 0, ErrTooLarge
	}

	metrics.UpstreamBytes.WithLabelValues(Playlist.String()).Add(float64(len(body)))

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	entry := cache.Entry{
		Body:        body,
		ContentType: contentType,
		StoredAt:    time.Now(),
	}

	if resp.StatusCode >= 400 {
		// Upstream errors pass through but are not worth remembering.
		return entry, resp.StatusCode, nil
	}

	e.cache.Set(key, entry)
	return entry, resp.StatusCode, nil
}

// ServePlaylist writes the playlist fetch result for target to w.
func (e *Engine) ServePlaylist(ctx context.Context, w http.ResponseWriter, target *url.URL, scope string) {
	entry, status, err := e.Playlist(ctx, target, scope)
	if err != nil {
		e.writeFetchError(w, err)
		return
	}

	w.Header().Set("Content-Type", entry.ContentType)
	w.WriteHeader(status)
	w.Write(entry.Body)
}

// ServeBinary streams the upstream body for target to w as it arrives.
// Responses are marked non-cacheable for intermediaries, flushed per chunk,
// and subject to a hard byte ceiling: exceeding it before any byte was
// written yields a 413; exceeding it mid-stream aborts the connection so the
// caller sees a failed transfer rather than a short success.
func (e *Engine) ServeBinary(ctx context.Context, w http.ResponseWriter, target *url.URL) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		e.writeFetchError(w, ErrUpstream)
		return
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.writeFetchError(w, e.mapFetchError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Status passthrough, no body: the relay does not mirror upstream
		// error pages for media requests.
		w.WriteHeader(resp.StatusCode)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	flusher, _ := w.(http.Flusher)
	buf := e.bufs.Get()
	defer e.bufs.Put(buf)

	var total int64
	started := false

	for {
		n, rerr := resp.Body.Read(buf.B)
		if n > 0 {
			total += int64(n)
			if total > e.cfg.MaxStreamBytes {
				metrics.UpstreamErrors.WithLabelValues("too_large").Inc()
				if !started {
					e.writeFetchError(w, ErrTooLarge)
					return
				}
				// Headers are long gone; abort the connection so the client
				// treats the transfer as failed, not as a short success.
				e.logger.Warn("{fetch - ServeBinary} aborting oversized stream from %s after %s",
					utils.LogURL(e.cfg.ObfuscateUrls, target.String()), utils.FormatBytes(total))
				panic(http.ErrAbortHandler)
			}

			if !started {
				w.Header().Set("Content-Type", contentType)
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusOK)
				started = true
			}

			if _, werr := w.Write(buf.B[:n]); werr != nil {
				// Client went away; nothing left to do.
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			metrics.UpstreamBytes.WithLabelValues(Binary.String()).Add(float64(n))
		}

		if rerr == io.EOF {
			return
		}
		if rerr != nil {
			metrics.UpstreamErrors.WithLabelValues("transport").Inc()
			if !started {
				e.writeFetchError(w, ErrUpstream)
				return
			}
			panic(http.ErrAbortHandler)
		}
	}
}

// mapFetchError folds transport errors into the relay's error kinds. A dial
// rejected by the SSRF guard keeps its identity so the endpoint can answer
// with the policy reason instead of a generic upstream failure.
func (e *Engine) mapFetchError(err error) error {
	if errors.Is(err, guard.ErrPrivatePeer) {
		return guard.ErrPrivatePeer
	}
	if errors.Is(err, client.ErrTooManyRedirects) {
		metrics.UpstreamErrors.WithLabelValues("redirect").Inc()
		return ErrUpstream
	}
	metrics.UpstreamErrors.WithLabelValues("transport").Inc()
	return ErrUpstream
}

// writeFetchError maps an error to its response. Reason strings are short
// and reveal nothing about relay internals.
func (e *Engine) writeFetchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, guard.ErrPrivatePeer):
		metrics.RelayRejections.WithLabelValues("private_peer").Inc()
		http.Error(w, "Refusing private address", http.StatusBadRequest)
	case errors.Is(err, ErrTooLarge):
		metrics.RelayRejections.WithLabelValues("too_large").Inc()
		http.Error(w, "Response too large", http.StatusRequestEntityTooLarge)
	default:
		metrics.RelayRejections.WithLabelValues("upstream").Inc()
		http.Error(w, "Failed to fetch", http.StatusBadGateway)
	}
}
