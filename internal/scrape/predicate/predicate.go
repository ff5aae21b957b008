// Package predicate provides acceptance predicates that inspect a 200
// response body, mostly to reject challenge and captcha pages.
package predicate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/infra/browser"
	"github.com/vietddude/scrapeback/internal/scrape/backoff"
)

// challengeSelectors match common bot walls.
var challengeSelectors = []string{
	`#challenge-form`,
	`#challenge-running`,
	`.cf-browser-verification`,
	`iframe[src*="captcha"]`,
	`.g-recaptcha`,
	`.h-captcha`,
	`[id*="captcha"]`,
}

var challengeTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
	"are you a robot",
}

func document(resp *domain.Response) (*goquery.Document, error) {
	body := resp.Text
	if body == "" && len(resp.Raw) > 0 {
		body = string(resp.Raw)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

// SelectorPresent accepts a response whose HTML has a match for selector.
func SelectorPresent(selector string) backoff.Predicate {
	return func(_ context.Context, resp *domain.Response, _ map[string]any) bool {
		doc, err := document(resp)
		if err != nil {
			return false
		}
		return doc.Find(selector).Length() > 0
	}
}

// SelectorAbsent accepts a response whose HTML has no match for selector.
func SelectorAbsent(selector string) backoff.Predicate {
	return func(_ context.Context, resp *domain.Response, _ map[string]any) bool {
		doc, err := document(resp)
		if err != nil {
			return false
		}
		return doc.Find(selector).Length() == 0
	}
}

// TextContains accepts a response whose body contains s.
func TextContains(s string) backoff.Predicate {
	return func(_ context.Context, resp *domain.Response, _ map[string]any) bool {
		return strings.Contains(resp.Text, s)
	}
}

// NotChallenge rejects pages that look like a bot check. Extra selectors
// can be passed in args["challenge_selectors"] as []string.
func NotChallenge() backoff.Predicate {
	return func(_ context.Context, resp *domain.Response, args map[string]any) bool {
		doc, err := document(resp)
		if err != nil {
			return false
		}
		selectors := challengeSelectors
		if extra, ok := args["challenge_selectors"].([]string); ok {
			selectors = append(append([]string{}, selectors...), extra...)
		}
		for _, sel := range selectors {
			if doc.Find(sel).Length() > 0 {
				slog.Debug("Challenge detected", "component", "predicate", "selector", sel, "url", resp.URL)
				return false
			}
		}
		title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
		for _, t := range challengeTitles {
			if strings.Contains(title, t) {
				slog.Debug("Challenge detected", "component", "predicate", "title", title, "url", resp.URL)
				return false
			}
		}
		return true
	}
}

// All accepts when every predicate accepts.
func All(preds ...backoff.Predicate) backoff.Predicate {
	return func(ctx context.Context, resp *domain.Response, args map[string]any) bool {
		for _, p := range preds {
			if !p(ctx, resp, args) {
				return false
			}
		}
		return true
	}
}

// Parse builds a predicate from a short expression:
//
//	selector:<css>   element must exist
//	absent:<css>     element must not exist
//	contains:<text>  body must contain text
//	not-challenge    no bot check markers
//
// Expressions joined with " && " must all hold. An empty string yields nil.
func Parse(expr string) (backoff.Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	var preds []backoff.Predicate
	for _, part := range strings.Split(expr, "&&") {
		part = strings.TrimSpace(part)
		kind, arg, _ := strings.Cut(part, ":")
		arg = strings.TrimSpace(arg)
		switch kind {
		case "selector":
			preds = append(preds, SelectorPresent(arg))
		case "absent":
			preds = append(preds, SelectorAbsent(arg))
		case "contains":
			preds = append(preds, TextContains(arg))
		case "not-challenge":
			preds = append(preds, NotChallenge())
		default:
			return nil, fmt.Errorf("unknown predicate %q", part)
		}
		if kind != "not-challenge" && arg == "" {
			return nil, fmt.Errorf("predicate %q needs an argument", kind)
		}
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return All(preds...), nil
}

// PageCheck adapts a response predicate to a browser page check by reading
// the rendered document.
func PageCheck(pred backoff.Predicate) browser.CheckFunc {
	return func(ctx context.Context, p browser.Page, args map[string]any) (bool, error) {
		html, err := p.Evaluate(ctx, `document.documentElement.outerHTML`)
		if err != nil {
			return false, err
		}
		url, _ := p.Evaluate(ctx, `location.href`)
		return pred(ctx, &domain.Response{StatusCode: 200, Text: html, URL: url}, args), nil
	}
}
