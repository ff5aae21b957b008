package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/infra/transport"
)

const defaultFetchContentType = "application/json;charset=UTF-8"

// fetchResult is what the fetch script resolves to.
type fetchResult struct {
	Status      int    `json:"status"`
	URL         string `json:"url"`
	ContentType string `json:"type"`
	Body        string `json:"body"`
}

// FetchScript builds a JS expression that performs spec with the page's
// fetch and resolves to a JSON string {status,url,type,body}. Cookies are
// the page's own, spec.Cookies and spec.Proxy are not applicable.
func FetchScript(spec domain.RequestSpec) (string, error) {
	target, err := withQuery(spec.URL, spec.Query)
	if err != nil {
		return "", err
	}
	method := spec.Method
	if method == "" {
		method = "GET"
	}

	headers := map[string]string{}
	for k, v := range spec.Headers {
		headers[k] = v
	}

	var body string
	hasBody := !spec.Body.IsZero()
	if hasBody {
		var contentType string
		body, contentType, err = encodeBody(spec.Body)
		if err != nil {
			return "", err
		}
		if contentType != "" && !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = contentType
		}
	}
	if len(headers) == 0 {
		headers["Content-Type"] = defaultFetchContentType
	}

	var b strings.Builder
	b.WriteString("fetch(")
	b.WriteString(jsString(target))
	b.WriteString(", {method: ")
	b.WriteString(jsString(strings.ToUpper(method)))
	h, _ := json.Marshal(headers)
	b.WriteString(", headers: ")
	b.Write(h)
	if hasBody {
		b.WriteString(", body: ")
		b.WriteString(jsString(body))
	}
	b.WriteString(", credentials: \"include\"})")
	b.WriteString(".then(async r => JSON.stringify({status: r.status, url: r.url, type: r.headers.get(\"content-type\") || \"\", body: await r.text()}))")
	return b.String(), nil
}

func encodeBody(body *domain.Body) (string, string, error) {
	switch {
	case body.JSON != nil:
		data, err := json.Marshal(body.JSON)
		if err != nil {
			return "", "", fmt.Errorf("marshal body: %w", err)
		}
		return string(data), orDefault(body.ContentType, defaultFetchContentType), nil
	case len(body.Form) > 0:
		return body.Form.Encode(), orDefault(body.ContentType, "application/x-www-form-urlencoded"), nil
	default:
		return string(body.Raw), body.ContentType, nil
	}
}

func withQuery(raw string, query map[string]string) (string, error) {
	if len(query) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func hasHeader(h map[string]string, name string) bool {
	for k := range h {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// PageTransport issues requests from inside a page with fetch, so they carry
// the page's cookies, TLS fingerprint and origin.
type PageTransport struct {
	page      Page
	logScript bool
	log       *slog.Logger
}

// PageTransportOption configures a PageTransport.
type PageTransportOption func(*PageTransport)

// WithScriptLogging logs every generated script at info level.
func WithScriptLogging(enabled bool) PageTransportOption {
	return func(t *PageTransport) { t.logScript = enabled }
}

// NewPageTransport creates a transport bound to page.
func NewPageTransport(page Page, opts ...PageTransportOption) *PageTransport {
	t := &PageTransport{
		page: page,
		log:  slog.Default().With("component", "transport", "transport", "page"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *PageTransport) Name() string { return "page" }

// EvalError is a failed in-page evaluation, e.g. a navigation destroying
// the execution context or a rejected fetch.
type EvalError struct {
	Err error
}

func (e *EvalError) Error() string { return "evaluate fetch: " + e.Err.Error() }

func (e *EvalError) Unwrap() error { return e.Err }

// Ignorable treats evaluation failures as transient. Script building and
// result decoding fail the same way every time and stay fatal, as does
// context cancellation.
func (t *PageTransport) Ignorable() transport.ErrorSet {
	return transport.ErrorSet{func(err error) bool {
		var evalErr *EvalError
		return errors.As(err, &evalErr) && !errors.Is(err, context.Canceled)
	}}
}

func (t *PageTransport) Send(ctx context.Context, spec domain.RequestSpec) (*domain.Response, error) {
	if t.page == nil {
		return nil, domain.ErrPageNotOpened
	}
	script, err := FetchScript(spec)
	if err != nil {
		return nil, err
	}
	if t.logScript {
		t.log.Info("JS request", "script", script)
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	raw, err := t.page.Evaluate(ctx, script)
	if err != nil {
		return nil, &EvalError{Err: err}
	}
	return decodeFetchResult(raw, spec)
}

func decodeFetchResult(raw string, spec domain.RequestSpec) (*domain.Response, error) {
	var res fetchResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("decode fetch result: %w", err)
	}

	resp := &domain.Response{StatusCode: res.Status, URL: res.URL}
	if resp.URL == "" {
		resp.URL = spec.URL
	}
	if spec.RawBody {
		resp.Raw = []byte(res.Body)
		return resp, nil
	}
	resp.Text = res.Body
	if strings.Contains(res.ContentType, "json") {
		var v any
		if err := json.Unmarshal([]byte(res.Body), &v); err == nil {
			resp.JSON = v
		}
	}
	return resp, nil
}
