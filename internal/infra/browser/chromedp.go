package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Chromedp is a Browser backed by chromedp. Every page is a new tab of one
// browser context.
type Chromedp struct {
	ctx       context.Context
	cancel    context.CancelFunc
	userAgent string
	log       *slog.Logger
}

// NewChromedp connects to cfg.ControlURL, or launches a local browser.
func NewChromedp(ctx context.Context, cfg Config) (*Chromedp, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if cfg.ControlURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, cfg.ControlURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
		)
		if cfg.Proxy != "" {
			opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	// First Run starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	c := &Chromedp{
		ctx: browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
		userAgent: cfg.UserAgent,
		log:       slog.Default().With("component", "browser", "driver", "chromedp"),
	}
	c.log.Info("Browser started", "remote", cfg.ControlURL != "")
	return c, nil
}

func (c *Chromedp) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.ctx)
	p := &chromedpPage{ctx: tabCtx, cancel: cancel}

	var actions []chromedp.Action
	if c.userAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(c.userAgent))
	}
	if err := p.run(ctx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("create tab: %w", err)
	}
	return p, nil
}

func (c *Chromedp) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancel()
	return err
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, returning early when ctx ends.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromedpPage) Evaluate(ctx context.Context, script string) (string, error) {
	var out string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exc, err := runtime.Evaluate(script).
			WithAwaitPromise(true).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		switch obj.Type {
		case runtime.TypeUndefined:
			out = ""
		case runtime.TypeString:
			return json.Unmarshal([]byte(obj.Value), &out)
		default:
			out = string(obj.Value)
		}
		return nil
	}))
	return out, err
}

func (p *chromedpPage) Intercept(observer func(RequestEvent)) error {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		e, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		headers := make(map[string]string, len(e.Request.Headers))
		for k, v := range e.Request.Headers {
			headers[k] = fmt.Sprint(v)
		}
		observer(RequestEvent{
			URL:          e.Request.URL,
			Method:       e.Request.Method,
			Headers:      headers,
			ResourceType: string(e.Type),
		})
	})
	return chromedp.Run(p.ctx, network.Enable())
}

func (p *chromedpPage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
