package transport

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/vietddude/scrapeback/internal/core/domain"
)

type proxyKey struct{}

func withProxy(ctx context.Context, p *domain.Proxy) context.Context {
	if p == nil || p.URL == "" {
		return ctx
	}
	return context.WithValue(ctx, proxyKey{}, p)
}

// ProxyFromRequest returns the proxy req is routed through, nil when it
// goes straight to the origin.
func ProxyFromRequest(req *http.Request) *domain.Proxy {
	p, _ := req.Context().Value(proxyKey{}).(*domain.Proxy)
	return p
}

// Signer attaches authentication to an outgoing request.
type Signer interface {
	Sign(req *http.Request) *http.Request
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(req *http.Request) *http.Request

func (f SignerFunc) Sign(req *http.Request) *http.Request { return f(req) }

// BasicProxyAuth authenticates plain-HTTP proxied requests. CONNECT tunnels
// take their credentials from the proxy URL instead, see Header. Requests
// sent directly or tunnelled to an https origin are left untouched so the
// credentials never reach the origin.
type BasicProxyAuth struct {
	Username string
	Password string
}

// Header returns the Proxy-Authorization value.
func (a BasicProxyAuth) Header() string {
	token := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	return "Basic " + token
}

func (a BasicProxyAuth) Sign(req *http.Request) *http.Request {
	if a.Username == "" || req.URL.Scheme != "http" || ProxyFromRequest(req) == nil {
		return req
	}
	req = req.Clone(req.Context())
	req.Header.Set("Proxy-Authorization", a.Header())
	return req
}
