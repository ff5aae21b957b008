package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/scrapeback/internal/core/domain"
)

// HTTP issues requests with net/http. Clients are cached per proxy and TLS
// setting so connections are reused across attempts.
type HTTP struct {
	mu      sync.Mutex
	clients map[clientKey]*http.Client

	signer    Signer
	ignorable ErrorSet
	log       *slog.Logger
}

type clientKey struct {
	proxy    string
	user     string
	secret   [sha256.Size]byte
	insecure bool
}

// HTTPOption configures the HTTP transport.
type HTTPOption func(*HTTP)

// WithSigner sets a signer applied to every request.
func WithSigner(s Signer) HTTPOption {
	return func(h *HTTP) { h.signer = s }
}

// WithIgnorable replaces the transient error set.
func WithIgnorable(set ErrorSet) HTTPOption {
	return func(h *HTTP) { h.ignorable = set }
}

// NewHTTP creates an HTTP transport.
func NewHTTP(opts ...HTTPOption) *HTTP {
	h := &HTTP{
		clients:   make(map[clientKey]*http.Client),
		ignorable: DefaultIgnorable,
		log:       slog.Default().With("component", "transport", "transport", "http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) Ignorable() ErrorSet { return h.ignorable }

// Send performs one request. Any status code is a response, only transport
// failures are errors.
func (h *HTTP) Send(ctx context.Context, spec domain.RequestSpec) (*domain.Response, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	req, err := newRequest(withProxy(ctx, spec.Proxy), spec)
	if err != nil {
		return nil, err
	}
	if h.signer != nil {
		req = h.signer.Sign(req)
	}

	client, err := h.client(spec.Proxy, !spec.VerifyTLS)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &domain.Response{
		StatusCode: resp.StatusCode,
		URL:        resp.Request.URL.String(),
		Header:     resp.Header,
	}
	if spec.RawBody {
		out.Raw = body
		return out, nil
	}
	out.Text = string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			out.JSON = v
		} else {
			h.log.Debug("Response is not valid json", "url", out.URL, "error", err)
		}
	}
	return out, nil
}

func newRequest(ctx context.Context, spec domain.RequestSpec) (*http.Request, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(spec.Query) > 0 {
		q := u.Query()
		for k, v := range spec.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	body, contentType, err := encodeBody(spec.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	for name, value := range spec.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req, nil
}

func encodeBody(b *domain.Body) (io.Reader, string, error) {
	if b.IsZero() {
		return nil, "", nil
	}
	switch {
	case b.JSON != nil:
		data, err := json.Marshal(b.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("marshal body: %w", err)
		}
		return bytes.NewReader(data), contentTypeOr(b, "application/json"), nil
	case len(b.Form) > 0:
		return strings.NewReader(b.Form.Encode()), contentTypeOr(b, "application/x-www-form-urlencoded"), nil
	default:
		return bytes.NewReader(b.Raw), b.ContentType, nil
	}
}

func contentTypeOr(b *domain.Body, def string) string {
	if b.ContentType != "" {
		return b.ContentType
	}
	return def
}

func (h *HTTP) client(proxy *domain.Proxy, insecure bool) (*http.Client, error) {
	key := clientKey{insecure: insecure}
	if proxy != nil {
		key.proxy = proxy.URL
		key.user = proxy.Username
		key.secret = sha256.Sum256([]byte(proxy.Password))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[key]; ok {
		return c, nil
	}

	tr := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: insecure},
	}
	if proxy != nil && proxy.URL != "" {
		pu, err := url.Parse(proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if proxy.Username != "" {
			auth := BasicProxyAuth{Username: proxy.Username, Password: proxy.Password}
			tr.ProxyConnectHeader = http.Header{"Proxy-Authorization": {auth.Header()}}
			pu.User = url.UserPassword(proxy.Username, proxy.Password)
		}
		tr.Proxy = http.ProxyURL(pu)
	}

	c := &http.Client{Transport: tr}
	h.clients[key] = c
	return c, nil
}

// CloseIdleConnections releases pooled connections of every cached client.
func (h *HTTP) CloseIdleConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.CloseIdleConnections()
	}
}
