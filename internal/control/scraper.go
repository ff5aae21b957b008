// Package control exposes the backoff request entry point and wires the
// long running service around it.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/infra/transport"
	"github.com/vietddude/scrapeback/internal/infra/useragent"
	"github.com/vietddude/scrapeback/internal/scrape/backoff"
	"github.com/vietddude/scrapeback/internal/scrape/fanout"
	"github.com/vietddude/scrapeback/internal/scrape/ledger"
	"github.com/vietddude/scrapeback/internal/scrape/params"
)

// DefaultTimeout bounds one attempt when the request sets none.
const DefaultTimeout = 30 * time.Second

// Request is one call of MakeBackoffRequest. List-valued parameters are
// resolved per unit by the params.Selector.
type Request struct {
	URLs      []string
	Method    string
	Query     map[string]string
	VerifyTLS bool
	Timeout   time.Duration
	RawBody   bool

	Headers params.OneOf[map[string]string]
	Cookies params.OneOf[map[string]string]
	Bodies  params.OneOf[*domain.Body]
	Proxies params.OneOf[*domain.Proxy]
	Match   params.Options

	RandomUserAgent       bool
	RotateProxyPerRequest bool

	Policy        backoff.Policy
	Predicate     backoff.Predicate
	PredicateArgs map[string]any

	// IgnoreErrors widens the transport's transient error set, or replaces
	// it when ReplaceIgnore is set.
	IgnoreErrors  transport.ErrorSet
	ReplaceIgnore bool

	Concurrency int
	ChunkSize   int
	ChunkDelay  time.Duration
}

// Result is the outcome for one unit, in input order. Response is nil only
// when every attempt failed in transport or Err is set.
type Result struct {
	URL      string           `json:"url"`
	Response *domain.Response `json:"response"`
	Failure  *domain.Failure  `json:"-"`
	Attempts int              `json:"attempts"`
	Err      error            `json:"-"`
}

// Scraper runs backoff requests against one transport and owns the bad
// URL ledger shared by all its calls.
type Scraper struct {
	transport transport.Transport
	ledger    ledger.Ledger
	selector  *params.Selector
	agents    useragent.Source
	sleep     backoff.Sleeper
	template  Request
	log       *slog.Logger
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithUserAgents sets the source used for RandomUserAgent.
func WithUserAgents(src useragent.Source) Option {
	return func(s *Scraper) { s.agents = src }
}

// WithSelector sets the parameter selector.
func WithSelector(sel *params.Selector) Option {
	return func(s *Scraper) { s.selector = sel }
}

// WithSleeper replaces backoff and chunk sleeps, mostly for tests.
func WithSleeper(sl backoff.Sleeper) Option {
	return func(s *Scraper) { s.sleep = sl }
}

// WithRescanRequest sets the request Refetch uses for everything but URLs.
func WithRescanRequest(req Request) Option {
	return func(s *Scraper) { s.template = req }
}

// NewScraper creates a scraper. A nil ledger keeps bad URLs in memory.
func NewScraper(t transport.Transport, lg ledger.Ledger, opts ...Option) *Scraper {
	if lg == nil {
		lg = ledger.NewMemory()
	}
	s := &Scraper{
		transport: t,
		ledger:    lg,
		selector:  params.NewSelector(nil),
		agents:    useragent.NewPool(nil, nil),
		sleep:     backoff.Sleep,
		log:       slog.Default().With("component", "scraper", "transport", t.Name()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ledger returns the bad URL ledger.
func (s *Scraper) Ledger() ledger.Ledger { return s.ledger }

// BadURLs lists URLs whose latest loop did not end in a clean success.
func (s *Scraper) BadURLs(ctx context.Context) ([]string, error) {
	return s.ledger.List(ctx)
}

// MakeBackoffRequest runs one backoff loop per unit and returns one result
// per unit in input order. The number of units is max(len(URLs), number
// of bodies); extra bodies reuse the last URL.
func (s *Scraper) MakeBackoffRequest(ctx context.Context, req Request) ([]Result, error) {
	if len(req.URLs) == 0 {
		return nil, domain.ErrNoURLs
	}

	total := max(len(req.URLs), req.Bodies.Len())
	batch := uuid.NewString()
	log := s.log.With("batch", batch)
	log.Debug("Backoff request", "units", total, "method", req.Method)

	ignorable := s.transport.Ignorable()
	if req.ReplaceIgnore {
		ignorable = req.IgnoreErrors
	} else if len(req.IgnoreErrors) > 0 {
		ignorable = ignorable.With(req.IgnoreErrors...)
	}

	loop := backoff.NewLoop(s.transport.Name(), s.transport,
		backoff.WithLedger(s.ledger),
		backoff.WithIgnorable(ignorable.Match),
		backoff.WithSleeper(s.sleep),
		backoff.WithLogger(slog.Default().With("component", "backoff", "transport", s.transport.Name(), "batch", batch)),
	)
	opts := backoff.Options{
		Policy:        req.Policy,
		Predicate:     req.Predicate,
		PredicateArgs: req.PredicateArgs,
	}

	// One proxy serves the whole batch unless rotation is requested.
	proxy := s.selector.ResolveProxy(req.Proxies)
	match := req.Match
	match.MatchBodiesToURLs = true

	urls := make([]string, total)
	units := make([]fanout.Unit[Result], total)
	for i := range total {
		spec := s.resolve(req, i, total, match)
		if req.RotateProxyPerRequest {
			spec.Proxy = s.selector.ResolveProxy(req.Proxies)
		} else {
			spec.Proxy = proxy
		}
		urls[i] = spec.URL

		units[i] = func(ctx context.Context) (Result, error) {
			out, err := loop.Run(ctx, spec, opts)
			return Result{
				URL:      spec.URL,
				Response: out.Response,
				Failure:  out.Failure,
				Attempts: out.Attempts,
			}, err
		}
	}

	var results []fanout.Result[Result]
	if req.ChunkSize > 0 {
		results = fanout.Series(ctx, fanout.ChunkByLen(units, req.ChunkSize), fanout.Config{
			Limit:      req.Concurrency,
			ChunkDelay: req.ChunkDelay,
			Sleep:      s.sleep,
		})
	} else {
		results = fanout.All(ctx, units, req.Concurrency)
	}

	out := make([]Result, total)
	for i, r := range results {
		out[i] = r.Value
		out[i].URL = urls[i]
		if r.Err != nil {
			out[i].Err = r.Err
			log.Warn("Backoff request failed", "url", urls[i], "error", r.Err)
		}
	}
	return out, nil
}

func (s *Scraper) resolve(req Request, i, total int, match params.Options) domain.RequestSpec {
	p := s.selector.Resolve(params.Pool{
		Headers: req.Headers,
		Cookies: req.Cookies,
		Bodies:  req.Bodies,
	}, i, total, match)

	if req.RandomUserAgent {
		ua := useragent.Desktop(s.agents)
		p.Headers["User-Agent"] = ua
		s.log.Debug("User agent", "user_agent", ua)
	}

	method := req.Method
	if method == "" {
		method = "GET"
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return domain.RequestSpec{
		URL:       req.URLs[min(i, len(req.URLs)-1)],
		Method:    method,
		Headers:   p.Headers,
		Cookies:   p.Cookies,
		Body:      p.Body,
		Query:     req.Query,
		VerifyTLS: req.VerifyTLS,
		Timeout:   timeout,
		RawBody:   req.RawBody,
	}
}

// Refetch re-requests urls with the rescan request. Successful loops clear
// their URL from the ledger. Unit errors are joined.
func (s *Scraper) Refetch(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	req := s.template
	req.URLs = urls
	req.Bodies = params.OneOf[*domain.Body]{}
	req.Policy.SaveBadURLs = true

	results, err := s.MakeBackoffRequest(ctx, req)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.URL, r.Err))
		}
	}
	return errors.Join(errs...)
}
