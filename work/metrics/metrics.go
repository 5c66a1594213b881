package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayRequests counts relay calls by classification ("playlist" or
// "stream"). Incremented once all gates have passed and a fetch is about to
// happen or be served from cache.
var RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_relay_requests_total",
	Help: "Relay requests by classification",
}, []string{"classification"})

// RelayRejections counts requests terminated by one of the relay's gates.
// The "reason" label distinguishes auth, tls, scheme, private address,
// rate limit, and size ceiling rejections.
var RelayRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_relay_rejections_total",
	Help: "Relay requests rejected before or during the fetch",
}, []string{"reason"})

// CacheHits and CacheMisses track the playlist cache. A hit means no
// upstream request was made.
var CacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_relay_cache_hits_total",
	Help: "Playlist cache hits",
})

var CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_relay_cache_misses_total",
	Help: "Playlist cache misses",
})

// UpstreamBytes counts bytes received from upstream servers, labeled by
// classification. This is the relay's bandwidth cost.
var UpstreamBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_relay_upstream_bytes_total",
	Help: "Bytes fetched from upstream servers",
}, []string{"classification"})

// UpstreamErrors counts failed upstream fetches by error type (transport,
// too_large, redirect).
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_relay_upstream_errors_total",
	Help: "Upstream fetch failures",
}, []string{"error_type"})

// ActiveStreams tracks binary responses currently being streamed through
// the relay.
var ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_relay_active_streams",
	Help: "Binary responses currently streaming",
})
