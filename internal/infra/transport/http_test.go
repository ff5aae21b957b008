package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/scrapeback/internal/core/domain"
)

func TestHTTP_SendGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("query not attached: %s", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("header not set: %q", r.Header.Get("User-Agent"))
		}
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			t.Errorf("cookie not set: %v", err)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"items":[1,2]}`))
	}))
	defer server.Close()

	h := NewHTTP()
	resp, err := h.Send(context.Background(), domain.RequestSpec{
		URL:     server.URL + "/list",
		Headers: map[string]string{"User-Agent": "test-agent"},
		Cookies: map[string]string{"session": "abc"},
		Query:   map[string]string{"page": "2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	obj, ok := resp.JSON.(map[string]any)
	if !ok || len(obj["items"].([]any)) != 2 {
		t.Errorf("json not decoded: %#v", resp.JSON)
	}
	if !strings.HasPrefix(resp.URL, server.URL+"/list") {
		t.Errorf("unexpected url %s", resp.URL)
	}
}

func TestHTTP_StatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("busy"))
	}))
	defer server.Close()

	resp, err := NewHTTP().Send(context.Background(), domain.RequestSpec{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 503 || resp.Text != "busy" || resp.JSON != nil {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHTTP_Bodies(t *testing.T) {
	tests := []struct {
		name     string
		body     *domain.Body
		wantType string
		wantBody string
	}{
		{"json", &domain.Body{JSON: map[string]int{"a": 1}}, "application/json", `{"a":1}`},
		{"form", &domain.Body{Form: url.Values{"q": {"go"}}}, "application/x-www-form-urlencoded", "q=go"},
		{"raw", &domain.Body{Raw: []byte("<x/>"), ContentType: "text/xml"}, "text/xml", "<x/>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				if got := r.Header.Get("Content-Type"); got != tt.wantType {
					t.Errorf("content type = %q, want %q", got, tt.wantType)
				}
				data, _ := io.ReadAll(r.Body)
				if string(data) != tt.wantBody {
					t.Errorf("body = %q, want %q", data, tt.wantBody)
				}
			}))
			defer server.Close()

			_, err := NewHTTP().Send(context.Background(), domain.RequestSpec{
				URL:    server.URL,
				Method: http.MethodPost,
				Body:   tt.body,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestHTTP_RawBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"a":1}`))
	}))
	defer server.Close()

	resp, err := NewHTTP().Send(context.Background(), domain.RequestSpec{URL: server.URL, RawBody: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Raw) != `{"a":1}` || resp.Text != "" || resp.JSON != nil {
		t.Errorf("raw mode should only fill Raw: %+v", resp)
	}
}

func TestHTTP_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := NewHTTP().Send(context.Background(), domain.RequestSpec{URL: server.URL + "/old"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.URL != server.URL+"/new" {
		t.Errorf("expected post-redirect url, got %s", resp.URL)
	}
}

func TestHTTP_TimeoutIsIgnorable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	h := NewHTTP()
	_, err := h.Send(context.Background(), domain.RequestSpec{URL: server.URL, Timeout: 20 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !h.Ignorable().Match(err) {
		t.Errorf("timeout should be ignorable: %v", err)
	}
}

func TestHTTP_ConnectionRefusedIsIgnorable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	h := NewHTTP()
	_, err = h.Send(context.Background(), domain.RequestSpec{URL: "http://" + addr, Timeout: time.Second})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !h.Ignorable().Match(err) {
		t.Errorf("connection refused should be ignorable: %v", err)
	}
}

func TestHTTP_ProxyCredentials(t *testing.T) {
	var gotAuth string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Proxy-Authorization")
		w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	resp, err := NewHTTP().Send(context.Background(), domain.RequestSpec{
		URL:   "http://target.invalid/page",
		Proxy: &domain.Proxy{URL: proxy.URL, Username: "user", Password: "pass"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "via proxy" {
		t.Errorf("request did not go through proxy: %q", resp.Text)
	}
	want := BasicProxyAuth{Username: "user", Password: "pass"}.Header()
	if gotAuth != want {
		t.Errorf("Proxy-Authorization = %q, want %q", gotAuth, want)
	}
}

func TestHTTP_Signer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sig": r.Header.Get("X-Signature")})
	}))
	defer server.Close()

	signer := SignerFunc(func(req *http.Request) *http.Request {
		req.Header.Set("X-Signature", "signed")
		return req
	})
	resp, err := NewHTTP(WithSigner(signer)).Send(context.Background(), domain.RequestSpec{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Text, "signed") {
		t.Errorf("signer not applied: %s", resp.Text)
	}
}

func TestBasicProxyAuth_StaysOffOrigin(t *testing.T) {
	var gotAuth string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Proxy-Authorization")
	}))
	defer origin.Close()

	h := NewHTTP(WithSigner(BasicProxyAuth{Username: "user", Password: "secret"}))
	if _, err := h.Send(context.Background(), domain.RequestSpec{URL: origin.URL}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("origin received Proxy-Authorization=%q", gotAuth)
	}
}

func TestBasicProxyAuth_Sign(t *testing.T) {
	auth := BasicProxyAuth{Username: "user", Password: "secret"}
	proxy := &domain.Proxy{URL: "http://proxy:8080"}
	tests := []struct {
		name   string
		url    string
		proxy  *domain.Proxy
		signed bool
	}{
		{"direct", "http://origin/page", nil, false},
		{"https through proxy", "https://origin/page", proxy, false},
		{"http through proxy", "http://origin/page", proxy, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequestWithContext(withProxy(context.Background(), tt.proxy), http.MethodGet, tt.url, nil)
			got := auth.Sign(req).Header.Get("Proxy-Authorization") != ""
			if got != tt.signed {
				t.Errorf("signed = %v, want %v", got, tt.signed)
			}
		})
	}
}

func TestHTTP_ClientCache(t *testing.T) {
	h := NewHTTP()
	a, _ := h.client(nil, false)
	b, _ := h.client(nil, false)
	c, _ := h.client(nil, true)
	if a != b {
		t.Error("expected cached client to be reused")
	}
	if a == c {
		t.Error("expected a distinct client for a different tls setting")
	}

	p1, _ := h.client(&domain.Proxy{URL: "http://proxy:8080", Username: "u", Password: "old"}, false)
	p2, _ := h.client(&domain.Proxy{URL: "http://proxy:8080", Username: "u", Password: "new"}, false)
	if p1 == p2 {
		t.Error("a changed proxy password must not reuse the cached client")
	}
}

func TestErrorSet(t *testing.T) {
	custom := errors.New("custom")
	tests := []struct {
		name string
		set  ErrorSet
		err  error
		want bool
	}{
		{"nil error", DefaultIgnorable, nil, false},
		{"deadline", DefaultIgnorable, context.DeadlineExceeded, true},
		{"canceled", ErrorSet{IsTimeout}, context.Canceled, false},
		{"proxyconnect", ErrorSet{IsProxyError}, &net.OpError{Op: "proxyconnect", Err: errors.New("refused")}, true},
		{"dns", ErrorSet{IsConnectionError}, &net.DNSError{Err: "no such host", Name: "x"}, true},
		{"eof", ErrorSet{IsConnectionError}, &url.Error{Op: "Get", URL: "http://x", Err: io.EOF}, true},
		{"unknown", DefaultIgnorable, errors.New("tls: bad certificate"), false},
		{"widened", DefaultIgnorable.With(Is(custom)), custom, true},
		{"narrowed", ErrorSet{}, context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if got := tt.set.Match(tt.err); got != tt.want {
			t.Errorf("%s: Match() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
