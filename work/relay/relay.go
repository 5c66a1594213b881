package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"iptv-relay/work/config"
	"iptv-relay/work/fetch"
	"iptv-relay/work/logger"
	"iptv-relay/work/metrics"
	"iptv-relay/work/playlist"
	"iptv-relay/work/ratelimit"
	"iptv-relay/work/session"
	"iptv-relay/work/utils"
)

// Validator decides whether a caller-supplied URL may be fetched. Satisfied
// by *guard.Guard.
type Validator interface {
	Validate(ctx context.Context, raw string) (*url.URL, error)
}

// Handler serves the relay endpoints. Every request walks the same gate
// sequence before a single upstream byte moves: method, authorization,
// transport security, target validation, classification, rate limit. The
// order matters: cheap checks first, and nothing that costs upstream
// bandwidth happens for a request that will be refused.
type Handler struct {
	cfg      *config.Config
	engine   *fetch.Engine
	guard    Validator
	limits   *ratelimit.Store
	sessions *session.Store
	logger   *logger.Logger
}

// New wires the relay handler.
func New(cfg *config.Config, eng *fetch.Engine, g Validator, limits *ratelimit.Store, sessions *session.Store, lg *logger.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		engine:   eng,
		guard:    g,
		limits:   limits,
		sessions: sessions,
		logger:   lg,
	}
}

// HandleProxy is GET /proxy?url=<target>. Playlist targets are buffered,
// cached and replayed; anything else streams through with a byte ceiling.
func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "X-Proxy-Token")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		metrics.RelayRejections.WithLabelValues("method").Inc()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		metrics.RelayRejections.WithLabelValues("auth").Inc()
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if h.cfg.RequireTLS && !h.secure(r) {
		metrics.RelayRejections.WithLabelValues("tls").Inc()
		http.Error(w, "TLS required", http.StatusForbidden)
		return
	}

	raw := r.URL.Query().Get("url")
	if raw == "" {
		metrics.RelayRejections.WithLabelValues("invalid_url").Inc()
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	target, err := h.guard.Validate(r.Context(), raw)
	if err != nil {
		metrics.RelayRejections.WithLabelValues("invalid_url").Inc()
		h.logger.Warn("{relay - HandleProxy} refused %s: %v", utils.LogURL(h.cfg.ObfuscateUrls, raw), err)
		http.Error(w, "Invalid or refused URL", http.StatusBadRequest)
		return
	}

	class := fetch.Classify(target)
	metrics.RelayRequests.WithLabelValues(class.String()).Inc()

	if !h.limits.Allow(bucketFor(class), h.callerKey(r)) {
		metrics.RelayRejections.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.RetryAfter.Seconds())))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if class == fetch.Playlist {
		h.engine.ServePlaylist(r.Context(), w, target, h.callerKey(r))
		return
	}
	h.engine.ServeBinary(r.Context(), w, target)
}

// channelEntry is the JSON shape of one parsed playlist entry.
type channelEntry struct {
	URI   string `json:"uri"`
	Label string `json:"label"`
	Group string `json:"group,omitempty"`
}

// HandleChannels is GET /channels?playlist=<url>. It fetches the manifest
// through the same gates as the relay, parses it, and returns the entry
// list as JSON. Only playlist-shaped URLs are accepted.
func (h *Handler) HandleChannels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		metrics.RelayRejections.WithLabelValues("auth").Inc()
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if h.cfg.RequireTLS && !h.secure(r) {
		metrics.RelayRejections.WithLabelValues("tls").Inc()
		http.Error(w, "TLS required", http.StatusForbidden)
		return
	}

	raw := r.URL.Query().Get("playlist")
	if raw == "" {
		http.Error(w, "Missing playlist parameter", http.StatusBadRequest)
		return
	}

	target, err := h.guard.Validate(r.Context(), raw)
	if err != nil {
		metrics.RelayRejections.WithLabelValues("invalid_url").Inc()
		http.Error(w, "Invalid or refused URL", http.StatusBadRequest)
		return
	}
	if fetch.Classify(target) != fetch.Playlist {
		http.Error(w, "Not a playlist URL", http.StatusBadRequest)
		return
	}

	if !h.limits.Allow(ratelimit.BucketPlaylist, h.callerKey(r)) {
		metrics.RelayRejections.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.RetryAfter.Seconds())))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	entry, status, err := h.engine.Playlist(r.Context(), target, h.callerKey(r))
	if err != nil {
		http.Error(w, "Failed to fetch playlist", http.StatusBadGateway)
		return
	}
	if status >= 400 {
		http.Error(w, "Upstream returned an error", http.StatusBadGateway)
		return
	}

	entries := playlist.Parse(target, string(entry.Body))
	out := make([]channelEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, channelEntry{URI: e.URI, Label: e.Label, Group: e.Group})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"entries": out})
}

// authorized accepts a valid session cookie or the shared proxy token. When
// neither auth mechanism is configured the relay is open, which is the
// single-user localhost posture.
func (h *Handler) authorized(r *http.Request) bool {
	if h.cfg.SessionPasswordHash == "" && h.cfg.ProxyToken == "" {
		return true
	}
	if h.sessions.Valid(r) {
		return true
	}
	if h.cfg.ProxyToken == "" {
		return false
	}
	token := r.Header.Get("X-Proxy-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.ProxyToken)) == 1
}

// secure reports whether the request arrived over TLS, directly or behind a
// trusted TLS-terminating proxy.
func (h *Handler) secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return h.cfg.TrustForwardedProto && r.Header.Get("X-Forwarded-Proto") == "https"
}

// callerKey scopes rate buckets and the playlist cache to one caller:
// client address plus session identity, so sessions on a shared IP do not
// starve each other and cached playlists never leak across callers.
func (h *Handler) callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if id := h.sessions.ID(r); id != "" {
		return host + "|" + id
	}
	return host
}

// bucketFor maps a fetch classification to its rate bucket.
func bucketFor(c fetch.Classification) ratelimit.Bucket {
	if c == fetch.Playlist {
		return ratelimit.BucketPlaylist
	}
	return ratelimit.BucketStream
}
