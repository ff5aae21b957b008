// Package params resolves list-or-single request parameters into the
// concrete values used by one unit of work.
package params

import (
	"log/slog"
	"maps"
	"math/rand/v2"

	"github.com/vietddude/scrapeback/internal/core/domain"
)

// Pool is the caller supplied parameter set. It is read only.
type Pool struct {
	Headers OneOf[map[string]string]
	Cookies OneOf[map[string]string]
	Bodies  OneOf[*domain.Body]
	Proxies OneOf[*domain.Proxy]
}

// Options controls how list values are matched to units.
type Options struct {
	// PairHeadersCookies draws headers and cookies with one shared index.
	PairHeadersCookies bool
	// MatchHeadersToURLs / MatchCookiesToURLs pick by unit position when the
	// list length equals the unit count.
	MatchHeadersToURLs bool
	MatchCookiesToURLs bool
	// MatchBodiesToURLs picks bodies by unit position when lengths agree.
	MatchBodiesToURLs bool
}

// Resolved is the outcome for one unit.
type Resolved struct {
	Headers map[string]string
	Cookies map[string]string
	Body    *domain.Body

	HeaderIndex int
	CookieIndex int
}

// Selector resolves a Pool. It is safe for concurrent use when constructed
// with a nil source.
type Selector struct {
	intN func(n int) int
	log  *slog.Logger
}

// NewSelector creates a selector. A nil rng uses the global source.
func NewSelector(rng *rand.Rand) *Selector {
	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}
	return &Selector{
		intN: intN,
		log:  slog.Default().With("component", "params"),
	}
}

// Resolve picks the values for unit index out of total units.
func (s *Selector) Resolve(pool Pool, index, total int, opts Options) Resolved {
	res := Resolved{HeaderIndex: -1, CookieIndex: -1}

	// Pairing wins over matching to urls. Position is used only when both
	// lists would be matched by it.
	shared := -1
	if opts.PairHeadersCookies && pool.Headers.IsList() && pool.Cookies.IsList() {
		if positional(pool.Headers, total, opts.MatchHeadersToURLs) && positional(pool.Cookies, total, opts.MatchCookiesToURLs) {
			shared = index
		} else {
			shared = s.PairIndex(pool.Headers.Len(), pool.Cookies.Len())
		}
	}

	res.Headers, res.HeaderIndex = pick(s, pool.Headers, index, total, opts.MatchHeadersToURLs, shared)
	res.Cookies, res.CookieIndex = pick(s, pool.Cookies, index, total, opts.MatchCookiesToURLs, shared)
	res.Body, _ = pick(s, pool.Bodies, index, total, opts.MatchBodiesToURLs, -1)

	// Callers mutate headers (user agent), never hand out the pool's map.
	res.Headers = maps.Clone(res.Headers)
	if res.Headers == nil {
		res.Headers = map[string]string{}
	}
	res.Cookies = maps.Clone(res.Cookies)

	if res.HeaderIndex >= 0 {
		s.log.Debug("Headers index", "index", res.HeaderIndex)
	}
	if res.CookieIndex >= 0 {
		s.log.Debug("Cookies index", "index", res.CookieIndex)
	}
	return res
}

// ResolveProxy picks one proxy. Fan-out calls it once per batch unless
// rotation per request is requested.
func (s *Selector) ResolveProxy(proxies OneOf[*domain.Proxy]) *domain.Proxy {
	if !proxies.IsList() {
		return proxies.At(0)
	}
	if proxies.Len() == 0 {
		return nil
	}
	return proxies.At(s.intN(proxies.Len()))
}

// PairIndex returns a random index below min(headers, cookies), falling back
// to max(headers, cookies) when one side is empty, and 0 when both are.
func (s *Selector) PairIndex(headers, cookies int) int {
	upper := min(headers, cookies)
	if upper == 0 {
		upper = max(headers, cookies)
	}
	if upper <= 0 {
		return 0
	}
	return s.intN(upper)
}

func pick[T any](s *Selector, v OneOf[T], index, total int, match bool, shared int) (T, int) {
	if !v.IsList() {
		return v.At(0), -1
	}
	n := v.Len()
	if n == 0 {
		var zero T
		return zero, -1
	}
	switch {
	case shared >= 0 && shared < n:
		return v.At(shared), shared
	case positional(v, total, match):
		return v.At(index), index
	default:
		i := s.intN(n)
		return v.At(i), i
	}
}

func positional[T any](v OneOf[T], total int, match bool) bool {
	return match && v.IsList() && v.Len() == total
}
