// Package backoff drives one URL through repeated attempts, classifying each
// response and sleeping on a linear schedule between attempts.
package backoff

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/scrape/ledger"
	"github.com/vietddude/scrapeback/internal/scrape/metrics"
)

// Issuer performs exactly one attempt.
type Issuer interface {
	Send(ctx context.Context, spec domain.RequestSpec) (*domain.Response, error)
}

// Predicate can veto a 200 response, e.g. a challenge page served as OK.
type Predicate func(ctx context.Context, resp *domain.Response, args map[string]any) bool

// Options are the per-call settings of a loop.
type Options struct {
	Policy        Policy
	Predicate     Predicate
	PredicateArgs map[string]any
	// Ignorable replaces the loop's default transient-error matcher when set.
	Ignorable func(error) bool
}

// Outcome is the single final result of a loop.
type Outcome struct {
	Response *domain.Response
	State    State
	Attempts int
	Slept    time.Duration
	Failure  *domain.Failure
}

// Loop runs backoff loops against one issuer. A Loop holds no per-URL state
// and can run many loops concurrently.
type Loop struct {
	issuer    Issuer
	name      string
	ledger    ledger.Ledger
	ignorable func(error) bool
	sleep     Sleeper
	log       *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithSleeper replaces the sleeper, mostly for tests.
func WithSleeper(s Sleeper) LoopOption {
	return func(l *Loop) { l.sleep = s }
}

// WithLedger sets the bad URL ledger.
func WithLedger(lg ledger.Ledger) LoopOption {
	return func(l *Loop) { l.ledger = lg }
}

// WithIgnorable sets the default transient-error matcher.
func WithIgnorable(fn func(error) bool) LoopOption {
	return func(l *Loop) { l.ignorable = fn }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) LoopOption {
	return func(l *Loop) { l.log = log }
}

// NewLoop creates a loop around issuer. name labels metrics and logs.
func NewLoop(name string, issuer Issuer, opts ...LoopOption) *Loop {
	l := &Loop{
		issuer:    issuer,
		name:      name,
		ledger:    ledger.Discard{},
		ignorable: func(error) bool { return false },
		sleep:     Sleep,
		log:       slog.Default().With("component", "backoff", "transport", name),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run attempts spec until the classifier stops or the budget is spent.
// Ordinary HTTP failures and ignorable transport errors never surface as
// an error; the returned error is either a non-ignorable transport error,
// passed through unchanged, or a context error.
func (l *Loop) Run(ctx context.Context, spec domain.RequestSpec, opts Options) (Outcome, error) {
	p := opts.Policy.WithDefaults()
	ignorable := l.ignorable
	if opts.Ignorable != nil {
		ignorable = opts.Ignorable
	}
	var accept func(*domain.Response) bool
	if opts.Predicate != nil {
		accept = func(r *domain.Response) bool {
			return opts.Predicate(ctx, r, opts.PredicateArgs)
		}
	}

	out := Outcome{}
	serverErrorAttempt := 1
	var last *domain.Response
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out.Attempts = attempt
		if err := ctx.Err(); err != nil {
			out.Response = last
			return out, err
		}
		if err := l.jitter(ctx, p); err != nil {
			out.Response = last
			return out, err
		}

		start := time.Now()
		resp, err := l.issuer.Send(ctx, spec)
		metrics.AttemptLatency.WithLabelValues(l.name).Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil || !ignorable(err) {
				metrics.AttemptsTotal.WithLabelValues(l.name, "fatal").Inc()
				out.Response = last
				return out, err
			}
			metrics.AttemptsTotal.WithLabelValues(l.name, "transport_error").Inc()
			l.log.Debug("Backoff on transport error", "error", err, "attempt", attempt, "url", spec.URL)
			lastErr = err
			if p.SaveBadURLs {
				l.mark(ctx, spec.URL)
			}
			if attempt < p.MaxAttempts {
				if err := l.pause(ctx, &out, "generic", p.Delay(Continue, attempt)); err != nil {
					out.Response = last
					return out, err
				}
			}
			continue
		}

		last = resp
		metrics.AttemptsTotal.WithLabelValues(l.name, "response").Inc()
		metrics.ResponsesByStatus.WithLabelValues(l.name, metrics.StatusClass(resp.StatusCode)).Inc()

		v := Classify(Input{
			Response:               resp,
			Attempt:                attempt,
			MaxAttempts:            p.MaxAttempts,
			ServerErrorAttempt:     serverErrorAttempt,
			MaxServerErrorAttempts: p.MaxServerErrorAttempts,
			Ignore404:              p.Ignore404,
			LongWaitFor5xx:         p.LongWaitFor5xx,
		}, accept)

		if p.SaveBadURLs {
			switch {
			case v.ClearBad:
				l.unmark(ctx, spec.URL)
			case v.MarkBad:
				l.mark(ctx, spec.URL)
			}
		}

		switch v.State {
		case StopSuccess:
			out.Response = resp
			out.State = StopSuccess
			metrics.LoopOutcomes.WithLabelValues(l.name, StopSuccess.String()).Inc()
			return out, nil
		case StopExhausted:
			kind := domain.FailureExhausted
			if v.Rejected {
				kind = domain.FailureRejected
			}
			out.Response = resp
			out.State = StopExhausted
			out.Failure = &domain.Failure{Kind: kind, Attempts: attempt, Last: resp}
			metrics.LoopOutcomes.WithLabelValues(l.name, StopExhausted.String()).Inc()
			return out, nil
		case ContinueLong:
			serverErrorAttempt++
			l.log.Debug("Backoff on server error", "status", resp.StatusCode, "attempt", attempt, "url", spec.URL)
			if err := l.pause(ctx, &out, "server_error", p.Delay(ContinueLong, attempt)); err != nil {
				out.Response = last
				return out, err
			}
		default:
			if v.Rejected {
				l.log.Debug("Predicate rejected response", "attempt", attempt, "url", spec.URL)
			} else {
				l.log.Debug("Backoff on status code", "status", resp.StatusCode, "attempt", attempt, "url", spec.URL)
			}
			if err := l.pause(ctx, &out, "generic", p.Delay(Continue, attempt)); err != nil {
				out.Response = last
				return out, err
			}
		}
	}

	// Only reachable when the final attempt raised an ignorable error.
	out.State = StopExhausted
	out.Response = last
	if last != nil {
		out.Failure = &domain.Failure{Kind: domain.FailureExhausted, Attempts: out.Attempts, Last: last, Err: lastErr}
	} else {
		out.Failure = &domain.Failure{Kind: domain.FailureTransport, Attempts: out.Attempts, Err: lastErr}
	}
	metrics.LoopOutcomes.WithLabelValues(l.name, StopExhausted.String()).Inc()
	return out, nil
}

func (l *Loop) pause(ctx context.Context, out *Outcome, track string, d time.Duration) error {
	metrics.BackoffSleepSeconds.WithLabelValues(track).Observe(d.Seconds())
	out.Slept += d
	return l.sleep(ctx, d)
}

func (l *Loop) jitter(ctx context.Context, p Policy) error {
	if p.JitterMax <= 0 {
		return nil
	}
	d := p.JitterMin
	if span := p.JitterMax - p.JitterMin; span > 0 {
		d += time.Duration(rand.Int64N(int64(span) + 1))
	}
	return l.sleep(ctx, d)
}

func (l *Loop) mark(ctx context.Context, url string) {
	if err := l.ledger.Add(ctx, url); err != nil {
		l.log.Warn("Failed to add bad url", "url", url, "error", err)
	}
}

func (l *Loop) unmark(ctx context.Context, url string) {
	if err := l.ledger.Remove(ctx, url); err != nil {
		l.log.Warn("Failed to remove bad url", "url", url, "error", err)
	}
}
