// Package useragent provides random browser user agent strings.
package useragent

import (
	"math/rand/v2"
	"strings"
)

// Source yields a random user agent, desktop or mobile.
type Source interface {
	Random() string
}

// maxDesktopDraws bounds Desktop so a mobile-only source cannot spin forever.
const maxDesktopDraws = 100

// FallbackDesktop is returned when no desktop agent is drawn.
const FallbackDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

var builtin = []string{
	FallbackDesktop,
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.7; rv:132.0) Gecko/20100101 Firefox/132.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 17_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Mobile/15E148 Safari/604.1",
}

// Pool draws uniformly from a fixed list.
type Pool struct {
	agents []string
	intN   func(int) int
}

// NewPool creates a pool over agents. An empty list uses the built-in one.
// A nil rng uses the global source.
func NewPool(agents []string, rng *rand.Rand) *Pool {
	if len(agents) == 0 {
		agents = builtin
	}
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}
	return &Pool{agents: agents, intN: intN}
}

func (p *Pool) Random() string {
	return p.agents[p.intN(len(p.agents))]
}

// IsMobile reports whether ua names a phone or tablet.
func IsMobile(ua string) bool {
	return strings.Contains(ua, "Android") ||
		strings.Contains(ua, "iPhone") ||
		strings.Contains(ua, "iPad")
}

// Desktop redraws from src until a non-mobile agent comes up.
func Desktop(src Source) string {
	for range maxDesktopDraws {
		if ua := src.Random(); ua != "" && !IsMobile(ua) {
			return ua
		}
	}
	return FallbackDesktop
}
