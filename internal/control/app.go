package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vietddude/scrapeback/internal/core/config"
	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/infra/browser"
	"github.com/vietddude/scrapeback/internal/infra/storage"
	"github.com/vietddude/scrapeback/internal/infra/transport"
	"github.com/vietddude/scrapeback/internal/infra/useragent"
	"github.com/vietddude/scrapeback/internal/scrape/health"
	"github.com/vietddude/scrapeback/internal/scrape/params"
	"github.com/vietddude/scrapeback/internal/scrape/predicate"
	"github.com/vietddude/scrapeback/internal/scrape/rescan"
)

// App is the long running service: a scraper, its ledger, the rescan
// worker and the health server.
type App struct {
	cfg          *config.AppConfig
	Scraper      *Scraper
	Store        *storage.Store
	worker       *rescan.Worker
	healthMon    *health.Monitor
	healthServer *health.Server
	closers      []func() error
	log          *slog.Logger
}

// NewApp creates the service with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	app := &App{cfg: cfg, log: slog.Default().With("component", "app")}

	store, err := storage.Open(ctx, cfg.Ledger, cfg.Redis, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	app.Store = store
	app.closers = append(app.closers, store.Close)

	tr, err := app.newTransport(ctx)
	if err != nil {
		app.close()
		return nil, err
	}

	rescanReq, err := NewRequest(cfg, nil)
	if err != nil {
		app.close()
		return nil, err
	}
	if cfg.Rescan.Predicate != "" {
		pred, err := predicate.Parse(cfg.Rescan.Predicate)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("rescan predicate: %w", err)
		}
		rescanReq.Predicate = pred
	}

	app.Scraper = NewScraper(tr, store.Ledger,
		WithUserAgents(useragent.NewPool(cfg.Transport.UserAgents, nil)),
		WithRescanRequest(rescanReq),
	)

	var locker rescan.Locker
	if store.Redis != nil {
		locker = store.Redis
	}
	if cfg.Rescan.Enabled {
		app.worker = rescan.NewWorker(cfg.Rescan.WorkerConfig, store.Ledger, store.Backend, app.Scraper, locker)
	}

	var pinger health.Pinger
	if store.Ping != nil {
		pinger = health.PingFunc(store.Ping)
	}
	app.healthMon = health.NewMonitor(store.Backend, store.Ledger, pinger, app.worker, cfg.Health)
	app.healthServer = health.NewServer(app.healthMon, cfg.Server.Port)
	return app, nil
}

func (a *App) newTransport(ctx context.Context) (transport.Transport, error) {
	tc := a.cfg.Transport
	ignorable := transport.DefaultIgnorable

	if tc.Kind == config.KindHTTP {
		h := transport.NewHTTP(transport.WithIgnorable(ignorable))
		a.closers = append(a.closers, func() error { h.CloseIdleConnections(); return nil })
		return h, nil
	}

	bcfg := a.cfg.Browser
	if bcfg.Proxy == "" && len(tc.Proxies) > 0 {
		bcfg.Proxy = tc.Proxies[0]
	}
	b, err := browser.New(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	a.closers = append(a.closers, b.Close)

	page, err := a.openStartPage(ctx, b)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, page.Close)
	return browser.NewPageTransport(page, browser.WithScriptLogging(tc.LogScripts)), nil
}

// openStartPage opens the tab in-page fetches run from. Without a start
// url the tab stays blank and cross-origin targets will reject the fetch.
func (a *App) openStartPage(ctx context.Context, b browser.Browser, opts ...browser.OpenerOption) (browser.Page, error) {
	startURL := a.cfg.Browser.StartURL
	if startURL == "" {
		a.log.Warn("browser.start_url is not set, fetching from a blank page")
		page, err := b.NewPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open page: %w", err)
		}
		return page, nil
	}

	open := browser.OpenOptions{
		MaxAttempts: a.cfg.Backoff.MaxAttempts,
		IncreaseBy:  a.cfg.Backoff.IncreaseBy,
		Loaded:      browser.DocumentReady,
	}
	if a.cfg.Transport.Predicate != "" {
		pred, err := predicate.Parse(a.cfg.Transport.Predicate)
		if err != nil {
			return nil, fmt.Errorf("transport predicate: %w", err)
		}
		open.Check = predicate.PageCheck(pred)
	}

	page, err := browser.NewOpener(b, opts...).Open(ctx, startURL, open)
	if err != nil {
		return nil, fmt.Errorf("failed to open start page: %w", err)
	}
	a.log.Info("Opened start page", "url", startURL)
	return page, nil
}

// NewRequest builds the request template described by cfg for urls.
func NewRequest(cfg *config.AppConfig, urls []string) (Request, error) {
	tc := cfg.Transport
	req := Request{
		URLs:      urls,
		Method:    strings.ToUpper(tc.Method),
		Query:     tc.Query,
		VerifyTLS: tc.Verify(),
		Timeout:   tc.Timeout,
		RawBody:   tc.RawBody,
		Match: params.Options{
			PairHeadersCookies: tc.PairHeadersCookies,
			MatchHeadersToURLs: tc.MatchHeadersToURLs,
			MatchCookiesToURLs: tc.MatchCookiesToURLs,
		},
		RandomUserAgent:       tc.RandomUserAgent,
		RotateProxyPerRequest: tc.RotateProxyPerRequest,
		Policy:                cfg.Backoff,
		Concurrency:           cfg.Fanout.Concurrency,
		ChunkSize:             cfg.Fanout.ChunkSize,
		ChunkDelay:            cfg.Fanout.ChunkDelay,
	}

	req.Headers = oneOf(tc.Headers)
	req.Cookies = oneOf(tc.Cookies)

	proxies := make([]*domain.Proxy, 0, len(tc.Proxies))
	for _, p := range tc.Proxies {
		proxies = append(proxies, &domain.Proxy{URL: p, Username: tc.ProxyUsername, Password: tc.ProxyPassword})
	}
	req.Proxies = oneOf(proxies)

	for _, msg := range tc.IgnoreErrors {
		req.IgnoreErrors = append(req.IgnoreErrors, messageContains(msg))
	}

	if tc.Predicate != "" {
		pred, err := predicate.Parse(tc.Predicate)
		if err != nil {
			return Request{}, fmt.Errorf("transport predicate: %w", err)
		}
		req.Predicate = pred
	}
	return req, nil
}

// oneOf keeps a single configured value single so it is reused for every
// unit; several values become a list.
func oneOf[T any](vs []T) params.OneOf[T] {
	switch len(vs) {
	case 0:
		var zero params.OneOf[T]
		return zero
	case 1:
		return params.Single(vs[0])
	default:
		return params.List(vs...)
	}
}

func messageContains(sub string) transport.ErrorMatcher {
	return func(err error) bool {
		return err != nil && strings.Contains(err.Error(), sub)
	}
}

// Start starts the rescan worker and the health server.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.worker != nil {
		go func() {
			if err := a.worker.Run(ctx); err != nil {
				a.log.Error("Rescan worker failed", "error", err)
			}
		}()
	}

	a.log.Info("Service started", "backend", a.Store.Backend, "port", a.cfg.Server.Port, "rescan", a.worker != nil)
	return nil
}

// RescanOnce runs a single rescan pass.
func (a *App) RescanOnce(ctx context.Context) (rescan.Pass, error) {
	if a.worker == nil {
		return rescan.Pass{}, fmt.Errorf("rescan is disabled")
	}
	return a.worker.RunOnce(ctx)
}

// Stop stops the health server and releases backends.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping service...")
	err := a.healthServer.Stop(ctx)
	a.close()
	return err
}

// Close releases backends without touching the health server. Used by
// one-shot commands.
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
