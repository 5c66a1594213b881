package client

import (
	"errors"
	"net"
	"net/http"
	"time"

	"iptv-relay/work/config"
	"iptv-relay/work/guard"

	uberratelimit "go.uber.org/ratelimit"
)

// ErrTooManyRedirects is returned when an upstream bounces the request
// through more hops than the configured ceiling.
var ErrTooManyRedirects = errors.New("too many redirects")

// Outbound is the HTTP client used for every upstream fetch. It differs from
// a plain http.Client in three ways: the dialer re-checks each connection's
// peer address through the SSRF guard (redirect hops included), requests are
// paced through a shared limiter so a burst of relay calls cannot hammer an
// upstream, and a fixed header set is injected on every request.
type Outbound struct {
	Client  *http.Client
	cfg     *config.Config
	limiter uberratelimit.Limiter
}

// New builds the outbound client. No overall request timeout is set; large
// media responses stream for longer than any sane fixed deadline, so only
// the dial and response-header phases are bounded.
func New(cfg *config.Config, g *guard.Guard) *Outbound {
	dialer := &net.Dialer{
		Timeout: cfg.ConnectTimeout,
		Control: g.DialControl,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
	}

	client := &http.Client{
		Timeout:   0,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}

	return &Outbound{
		Client:  client,
		cfg:     cfg,
		limiter: uberratelimit.New(cfg.OutboundRequestsPerSec),
	}
}

// Do paces, decorates and executes the request.
func (o *Outbound) Do(req *http.Request) (*http.Response, error) {
	o.limiter.Take()
	o.setHeaders(req)
	return o.Client.Do(req)
}

func (o *Outbound) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", o.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
}
