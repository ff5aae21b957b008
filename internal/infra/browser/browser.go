// Package browser drives pages of an automated browser: opening them under
// a backoff loop, issuing in-page fetches and scrolling. Concrete drivers
// live in rod.go and chromedp.go.
package browser

import (
	"context"
)

// Browser creates pages. Implementations must allow concurrent NewPage calls.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JS expression, awaiting it when it is a promise, and
	// returns the result as a string.
	Evaluate(ctx context.Context, script string) (string, error)
	// Intercept registers an observer called for every outgoing request.
	Intercept(observer func(RequestEvent)) error
	Close() error
}

// RequestEvent describes a request issued by a page.
type RequestEvent struct {
	URL          string
	Method       string
	Headers      map[string]string
	ResourceType string
}

// Config selects and tunes a driver.
type Config struct {
	Driver     string `yaml:"driver"`      // rod | chromedp
	ControlURL string `yaml:"control_url"` // connect to a running browser instead of launching one
	Headless   bool   `yaml:"headless"`
	Stealth    bool   `yaml:"stealth"`
	Proxy      string `yaml:"proxy"`
	UserAgent  string `yaml:"user_agent"`
	// StartURL is opened before any in-page fetch so requests carry the
	// target's origin and cookies.
	StartURL string `yaml:"start_url"`
}

// New starts the driver named in cfg.
func New(ctx context.Context, cfg Config) (Browser, error) {
	switch cfg.Driver {
	case "chromedp":
		return NewChromedp(ctx, cfg)
	default:
		return NewRod(ctx, cfg)
	}
}

// DocumentReady is a loaded check that waits for document.readyState.
func DocumentReady(ctx context.Context, p Page) (bool, error) {
	state, err := p.Evaluate(ctx, `document.readyState`)
	if err != nil {
		return false, err
	}
	return state == "complete", nil
}
