package predicate

import (
	"context"
	"testing"

	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/infra/browser"
)

const productPage = `<html><head><title>Shoes</title></head>
<body><div class="item-cell"><a href="/p/1">Runner</a></div></body></html>`

const cloudflarePage = `<html><head><title>Just a moment...</title></head>
<body><div id="challenge-running"></div></body></html>`

const recaptchaPage = `<html><head><title>Search</title></head>
<body><div class="g-recaptcha" data-sitekey="x"></div></body></html>`

func resp(body string) *domain.Response {
	return &domain.Response{StatusCode: 200, Text: body, URL: "https://shop.example/list"}
}

func TestPredicates(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		expr string
		body string
		want bool
	}{
		{"selector present", "selector:.item-cell a", productPage, true},
		{"selector missing", "selector:.item-cell a", cloudflarePage, false},
		{"absent ok", "absent:.g-recaptcha", productPage, true},
		{"absent fails", "absent:.g-recaptcha", recaptchaPage, false},
		{"contains", "contains:Runner", productPage, true},
		{"not challenge", "not-challenge", productPage, true},
		{"cloudflare", "not-challenge", cloudflarePage, false},
		{"recaptcha", "not-challenge", recaptchaPage, false},
		{"combined", "not-challenge && selector:.item-cell", productPage, true},
		{"combined fails", "not-challenge && selector:.missing", productPage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.expr, err)
			}
			if got := pred(ctx, resp(tt.body), nil); got != tt.want {
				t.Errorf("predicate %q = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, expr := range []string{"unknown:x", "selector:", "contains"} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) should fail", expr)
		}
	}
	if p, err := Parse("  "); p != nil || err != nil {
		t.Errorf("empty expression should yield nil, nil")
	}
}

func TestNotChallenge_ExtraSelectors(t *testing.T) {
	args := map[string]any{"challenge_selectors": []string{".item-cell"}}
	if NotChallenge()(context.Background(), resp(productPage), args) {
		t.Error("extra selector should reject the page")
	}
}

type htmlPage struct{ html string }

func (p htmlPage) Navigate(context.Context, string) error { return nil }
func (p htmlPage) Evaluate(_ context.Context, script string) (string, error) {
	if script == `location.href` {
		return "https://shop.example/list", nil
	}
	return p.html, nil
}
func (p htmlPage) Intercept(func(browser.RequestEvent)) error { return nil }
func (p htmlPage) Close() error                                { return nil }

func TestPageCheck(t *testing.T) {
	check := PageCheck(NotChallenge())
	ok, err := check(context.Background(), htmlPage{html: productPage}, nil)
	if err != nil || !ok {
		t.Errorf("product page should pass: %v %v", ok, err)
	}
	ok, err = check(context.Background(), htmlPage{html: cloudflarePage}, nil)
	if err != nil || ok {
		t.Errorf("challenge page should fail: %v %v", ok, err)
	}
}
