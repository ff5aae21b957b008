package control

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/scrapeback/internal/core/config"
	"github.com/vietddude/scrapeback/internal/infra/browser"
)

// stubPage renders html once navigated.
type stubPage struct {
	html      string
	navigated []string
	closed    bool
}

func (p *stubPage) Navigate(ctx context.Context, url string) error {
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *stubPage) Evaluate(ctx context.Context, script string) (string, error) {
	switch {
	case strings.Contains(script, "readyState"):
		return "complete", nil
	case strings.Contains(script, "outerHTML"):
		return p.html, nil
	case strings.Contains(script, "location.href"):
		if len(p.navigated) == 0 {
			return "about:blank", nil
		}
		return p.navigated[len(p.navigated)-1], nil
	}
	return "", errors.New("unexpected script")
}

func (p *stubPage) Intercept(func(browser.RequestEvent)) error { return nil }

func (p *stubPage) Close() error {
	p.closed = true
	return nil
}

type stubBrowser struct {
	pages []*stubPage
	next  int
}

func (b *stubBrowser) NewPage(ctx context.Context) (browser.Page, error) {
	if b.next >= len(b.pages) {
		return nil, errors.New("no more pages")
	}
	p := b.pages[b.next]
	b.next++
	return p, nil
}

func (b *stubBrowser) Close() error { return nil }

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestApp_OpenStartPage(t *testing.T) {
	walled := &stubPage{html: `<html><body><div id="challenge-form"></div></body></html>`}
	ready := &stubPage{html: `<html><body><div id="main">shop</div></body></html>`}
	b := &stubBrowser{pages: []*stubPage{walled, ready}}

	cfg := config.Default()
	cfg.Browser.StartURL = "https://shop.example/"
	cfg.Transport.Predicate = "selector:#main"
	cfg.Backoff.MaxAttempts = 3
	app := &App{cfg: cfg, log: slog.Default()}

	page, err := app.openStartPage(context.Background(), b, browser.WithOpenerSleeper(noSleep))
	if err != nil {
		t.Fatalf("openStartPage failed: %v", err)
	}
	if page != ready {
		t.Fatal("expected the page passing the check")
	}
	if len(ready.navigated) != 1 || ready.navigated[0] != "https://shop.example/" {
		t.Errorf("start page not navigated: %v", ready.navigated)
	}
	if !walled.closed {
		t.Error("rejected page should be closed")
	}
	if ready.closed {
		t.Error("returned page must stay open")
	}
}

func TestApp_OpenStartPage_Exhausted(t *testing.T) {
	b := &stubBrowser{pages: []*stubPage{{html: "<p>wall</p>"}, {html: "<p>wall</p>"}}}

	cfg := config.Default()
	cfg.Browser.StartURL = "https://shop.example/"
	cfg.Transport.Predicate = "selector:#main"
	cfg.Backoff.MaxAttempts = 2
	app := &App{cfg: cfg, log: slog.Default()}

	if _, err := app.openStartPage(context.Background(), b, browser.WithOpenerSleeper(noSleep)); err == nil {
		t.Fatal("expected an error when every attempt is rejected")
	}
	for i, p := range b.pages {
		if !p.closed {
			t.Errorf("page %d should be closed", i)
		}
	}
}

func TestApp_OpenStartPage_Blank(t *testing.T) {
	blank := &stubPage{}
	app := &App{cfg: config.Default(), log: slog.Default()}

	page, err := app.openStartPage(context.Background(), &stubBrowser{pages: []*stubPage{blank}})
	if err != nil {
		t.Fatalf("openStartPage failed: %v", err)
	}
	if page != blank || len(blank.navigated) != 0 {
		t.Errorf("without a start url the page should be handed over untouched: %v", blank.navigated)
	}
}
