// Package endpoint derives HTTP and WebSocket URLs for the pipeline backend
// from the configured base addresses.
package endpoint

import "strings"

// DefaultHTTPBase is used when no HTTP base is configured.
const DefaultHTTPBase = "http://localhost:8000"

// Resolver joins endpoint paths onto normalized base addresses.
type Resolver struct {
	httpBase string
	wsBase   string
}

// New builds a Resolver. wsBase may be empty, in which case the WebSocket
// base is derived from httpBase by scheme translation.
func New(httpBase, wsBase string) *Resolver {
	h := normalizeHTTP(httpBase)
	w := strings.TrimSpace(wsBase)
	if w == "" {
		w = h
	}
	return &Resolver{
		httpBase: h,
		wsBase:   toWebSocket(w),
	}
}

// HTTPBase returns the normalized HTTP base without a trailing slash.
func (r *Resolver) HTTPBase() string {
	return r.httpBase
}

// WebSocketBase returns the ws:// or wss:// base without a trailing slash.
func (r *Resolver) WebSocketBase() string {
	return r.wsBase
}

// HTTPURL joins path onto the HTTP base.
func (r *Resolver) HTTPURL(path string) string {
	return r.httpBase + leadingSlash(path)
}

// WebSocketURL joins path onto the WebSocket base.
func (r *Resolver) WebSocketURL(path string) string {
	return r.wsBase + leadingSlash(path)
}

func normalizeHTTP(base string) string {
	u := strings.TrimSpace(base)
	if u == "" {
		u = DefaultHTTPBase
	}
	return strings.TrimSuffix(u, "/")
}

// toWebSocket maps http(s) to ws(s); a bare host is assumed to be secure.
func toWebSocket(base string) string {
	u := base
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "ws://"), strings.HasPrefix(u, "wss://"):
	default:
		u = "wss://" + u
	}
	return strings.TrimSuffix(u, "/")
}

func leadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
