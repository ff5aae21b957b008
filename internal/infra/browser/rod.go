package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Rod is a Browser backed by go-rod.
type Rod struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	stealth   bool
	userAgent string
	log       *slog.Logger
}

// NewRod connects to cfg.ControlURL, or launches a local browser.
func NewRod(ctx context.Context, cfg Config) (*Rod, error) {
	r := &Rod{
		stealth:   cfg.Stealth,
		userAgent: cfg.UserAgent,
		log:       slog.Default().With("component", "browser", "driver", "rod"),
	}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Proxy != "" {
			l = l.Proxy(cfg.Proxy)
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		r.launcher = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	r.browser = b
	r.log.Info("Browser connected", "control_url", controlURL, "stealth", cfg.Stealth)
	return r, nil
}

func (r *Rod) NewPage(ctx context.Context) (Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if r.stealth {
		page, err = stealth.Page(r.browser.Context(ctx))
	} else {
		page, err = r.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	// Detach from the creation context, each call passes its own.
	page = page.Context(context.Background())

	if r.userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.userAgent}); err != nil {
			r.log.Warn("Set user agent failed", "error", err)
		}
	}
	return &rodPage{page: page, log: r.log}, nil
}

func (r *Rod) Close() error {
	err := r.browser.Close()
	if r.launcher != nil {
		r.launcher.Cleanup()
	}
	return err
}

type rodPage struct {
	page *rod.Page
	log  *slog.Logger

	mu     sync.Mutex
	router *rod.HijackRouter
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

func (p *rodPage) Evaluate(ctx context.Context, script string) (string, error) {
	obj, err := p.page.Context(ctx).Evaluate(rod.Eval(script).ByPromise())
	if err != nil {
		return "", err
	}
	if obj.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return "", nil
	}
	return obj.Value.Str(), nil
}

func (p *rodPage) Intercept(observer func(RequestEvent)) error {
	router := p.page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		headers := make(map[string]string, len(h.Request.Headers()))
		for k, v := range h.Request.Headers() {
			headers[k] = v.Str()
		}
		observer(RequestEvent{
			URL:          h.Request.URL().String(),
			Method:       h.Request.Method(),
			Headers:      headers,
			ResourceType: string(h.Request.Type()),
		})
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return err
	}
	go router.Run()

	p.mu.Lock()
	p.router = router
	p.mu.Unlock()
	return nil
}

func (p *rodPage) Close() error {
	p.mu.Lock()
	router := p.router
	p.router = nil
	p.mu.Unlock()
	if router != nil {
		if err := router.Stop(); err != nil {
			p.log.Debug("Stop hijack router failed", "error", err)
		}
	}
	return p.page.Close()
}
