package engine

import "net/url"

// RequestKind classifies a resource an engine wants to load.
type RequestKind int

const (
	RequestManifest RequestKind = iota // master or level playlist
	RequestFragment                    // media segment
	RequestKey                         // decryption key
)

// LoaderPolicy decides, per resource kind, whether a request is rewritten
// through the relay or goes directly to the origin. Only manifests may be
// relayed; fragments and keys always go direct, which is the bandwidth
// boundary the whole system is built around. The decision is pure so it can
// be tested without an engine.
type LoaderPolicy struct {
	// ProxyBase is the relay endpoint, e.g. "/proxy".
	ProxyBase string
}

// Proxied reports whether requests of the given kind go through the relay.
func (p LoaderPolicy) Proxied(kind RequestKind) bool {
	return kind == RequestManifest
}

// Rewrite returns the URL an engine should actually fetch for the given
// resource. Manifest requests come back as relay URLs; everything else is
// returned untouched.
func (p LoaderPolicy) Rewrite(kind RequestKind, rawURL string) string {
	if !p.Proxied(kind) || p.ProxyBase == "" {
		return rawURL
	}
	return p.ProxyBase + "?url=" + url.QueryEscape(rawURL)
}
