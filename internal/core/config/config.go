package config

import (
	"time"

	"github.com/vietddude/scrapeback/internal/infra/browser"
	redisclient "github.com/vietddude/scrapeback/internal/infra/redis"
	"github.com/vietddude/scrapeback/internal/infra/storage"
	"github.com/vietddude/scrapeback/internal/infra/storage/postgres"
	"github.com/vietddude/scrapeback/internal/scrape/backoff"
	"github.com/vietddude/scrapeback/internal/scrape/health"
	"github.com/vietddude/scrapeback/internal/scrape/rescan"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Backoff   backoff.Policy     `yaml:"backoff"`
	Transport TransportConfig    `yaml:"transport"`
	Browser   browser.Config     `yaml:"browser"`
	Fanout    FanoutConfig       `yaml:"fanout"`
	Ledger    storage.Config     `yaml:"ledger"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	Rescan    RescanConfig       `yaml:"rescan"`
	Health    health.Thresholds  `yaml:"health"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Transport kinds.
const (
	KindHTTP     = "http"
	KindRod      = "rod"
	KindChromedp = "chromedp"
)

// TransportConfig describes how requests are issued and which parameters
// they carry.
type TransportConfig struct {
	Kind      string            `yaml:"kind"` // http, rod, chromedp
	Method    string            `yaml:"method"`
	Timeout   time.Duration     `yaml:"timeout"`
	VerifyTLS *bool             `yaml:"verify_tls"` // default: true
	Query     map[string]string `yaml:"query"`
	RawBody   bool              `yaml:"raw_body"`

	// Predicate is an acceptance expression, see predicate.Parse.
	Predicate string `yaml:"predicate"`

	RandomUserAgent       bool     `yaml:"random_user_agent"`
	UserAgents            []string `yaml:"user_agents"`
	Proxies               []string `yaml:"proxies"`
	ProxyUsername         string   `yaml:"proxy_username"`
	ProxyPassword         string   `yaml:"proxy_password"`
	RotateProxyPerRequest bool     `yaml:"rotate_proxy_per_request"`

	Headers            []map[string]string `yaml:"headers"`
	Cookies            []map[string]string `yaml:"cookies"`
	PairHeadersCookies bool                `yaml:"pair_headers_cookies"`
	MatchHeadersToURLs bool                `yaml:"match_headers_to_urls"`
	MatchCookiesToURLs bool                `yaml:"match_cookies_to_urls"`

	// IgnoreErrors widens the transient error set with message substrings.
	IgnoreErrors []string `yaml:"ignore_errors"`
	LogScripts   bool     `yaml:"log_scripts"`
}

// Verify reports whether TLS certificates are checked.
func (t TransportConfig) Verify() bool {
	return t.VerifyTLS == nil || *t.VerifyTLS
}

// FanoutConfig bounds concurrent dispatch.
type FanoutConfig struct {
	Concurrency int           `yaml:"concurrency"` // 0 = unbounded
	ChunkSize   int           `yaml:"chunk_size"`  // 0 = one chunk
	ChunkDelay  time.Duration `yaml:"chunk_delay"`
}

// RescanConfig holds rescan worker settings.
type RescanConfig struct {
	Enabled             bool `yaml:"enabled"`
	rescan.WorkerConfig `yaml:",inline"`
	// Predicate overrides transport.predicate for rescans.
	Predicate string `yaml:"predicate"`
}
