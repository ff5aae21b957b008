package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/scrape/backoff"
)

// LoadedFunc reports whether a page finished loading.
type LoadedFunc func(ctx context.Context, p Page) (bool, error)

// CheckFunc accepts or rejects a loaded page, e.g. a captcha wall.
type CheckFunc func(ctx context.Context, p Page, args map[string]any) (bool, error)

// OpenOptions tunes Opener.Open.
type OpenOptions struct {
	MaxAttempts int
	IncreaseBy  time.Duration

	Loaded       LoadedFunc
	LoadTimeout  time.Duration
	PollInterval time.Duration

	Check     CheckFunc
	CheckArgs map[string]any

	Observer func(RequestEvent)
}

func (o OpenOptions) withDefaults() OpenOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = backoff.DefaultPolicy.MaxAttempts
	}
	if o.IncreaseBy < 0 {
		o.IncreaseBy = 0
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// Opener opens pages with retries.
type Opener struct {
	browser Browser
	sleep   backoff.Sleeper
	log     *slog.Logger
}

// OpenerOption configures an Opener.
type OpenerOption func(*Opener)

// WithOpenerSleeper replaces the sleeper used for backoff and polling.
func WithOpenerSleeper(s backoff.Sleeper) OpenerOption {
	return func(o *Opener) { o.sleep = s }
}

// NewOpener creates an opener over b. b may be nil, Open then fails with
// domain.ErrBrowserNotInitialized.
func NewOpener(b Browser, opts ...OpenerOption) *Opener {
	o := &Opener{
		browser: b,
		sleep:   backoff.Sleep,
		log:     slog.Default().With("component", "browser"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open returns a fresh page showing url. A page whose loaded check never
// passes within LoadTimeout is still handed to Check. Rejected or failed
// pages are closed before the next attempt.
func (o *Opener) Open(ctx context.Context, url string, opts OpenOptions) (Page, error) {
	if o.browser == nil {
		return nil, domain.ErrBrowserNotInitialized
	}
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, ok, err := o.try(ctx, url, opts)
		switch {
		case err != nil:
			lastErr = err
			o.log.Debug("Backoff on page error", "error", err, "attempt", attempt, "url", url)
		case ok:
			return page, nil
		default:
			lastErr = nil
			o.log.Debug("Page rejected by check", "attempt", attempt, "url", url)
		}

		if attempt < opts.MaxAttempts {
			if err := o.sleep(ctx, time.Duration(attempt)*opts.IncreaseBy); err != nil {
				return nil, err
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrPageNotOpened, url, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrPageNotOpened, url)
}

func (o *Opener) try(ctx context.Context, url string, opts OpenOptions) (Page, bool, error) {
	page, err := o.browser.NewPage(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("new page: %w", err)
	}

	if opts.Observer != nil {
		if err := page.Intercept(opts.Observer); err != nil {
			o.closePage(page)
			return nil, false, fmt.Errorf("intercept: %w", err)
		}
	}
	if err := page.Navigate(ctx, url); err != nil {
		o.closePage(page)
		return nil, false, fmt.Errorf("navigate: %w", err)
	}
	if err := o.waitLoaded(ctx, page, opts); err != nil {
		o.closePage(page)
		return nil, false, err
	}

	if opts.Check == nil {
		return page, true, nil
	}
	ok, err := opts.Check(ctx, page, opts.CheckArgs)
	if err != nil {
		o.closePage(page)
		return nil, false, fmt.Errorf("check page: %w", err)
	}
	if !ok {
		o.closePage(page)
		return nil, false, nil
	}
	return page, true, nil
}

// waitLoaded polls the loaded check. Running out of time is not an error.
// Only context cancellation is returned.
func (o *Opener) waitLoaded(ctx context.Context, page Page, opts OpenOptions) error {
	if opts.Loaded == nil {
		return nil
	}
	polls := int(opts.LoadTimeout / opts.PollInterval)
	for range max(polls, 1) {
		loaded, err := opts.Loaded(ctx, page)
		if err != nil {
			o.log.Debug("Loaded check failed", "error", err)
		}
		if loaded {
			return nil
		}
		if err := o.sleep(ctx, opts.PollInterval); err != nil {
			return err
		}
	}
	o.log.Debug("Page load timeout, checking anyway", "timeout", opts.LoadTimeout)
	return nil
}

func (o *Opener) closePage(p Page) {
	if err := p.Close(); err != nil {
		o.log.Debug("Failed to close page", "error", err)
	}
}
