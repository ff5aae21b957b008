package backoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/scrapeback/internal/core/domain"
	"github.com/vietddude/scrapeback/internal/scrape/ledger"
)

var errConn = errors.New("connection reset by peer")

// scriptedIssuer replays a fixed sequence of responses/errors, then keeps
// returning the last step.
type scriptedIssuer struct {
	mu    sync.Mutex
	calls int
	steps []step
}

type step struct {
	status int
	err    error
}

func (s *scriptedIssuer) Send(_ context.Context, spec domain.RequestSpec) (*domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	return &domain.Response{StatusCode: st.status, URL: spec.URL}, nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestLoop(issuer Issuer, rec *sleepRecorder, lg ledger.Ledger) *Loop {
	return NewLoop("test", issuer,
		WithSleeper(rec.Sleep),
		WithLedger(lg),
		WithIgnorable(func(err error) bool { return errors.Is(err, errConn) }),
	)
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts:            5,
		MaxServerErrorAttempts: 3,
		IncreaseBy:             time.Second,
		IncreaseBy5xx:          time.Minute,
		SaveBadURLs:            true,
	}
}

func TestRun_SuccessOnFirstAttempt(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{status: 200}}}
	rec := &sleepRecorder{}
	lg := ledger.NewMemory()

	out, err := newTestLoop(issuer, rec, lg).Run(context.Background(),
		domain.RequestSpec{URL: "http://example.com"}, Options{Policy: Policy{MaxAttempts: 1, SaveBadURLs: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Response == nil || out.Response.StatusCode != 200 {
		t.Fatalf("expected 200 response, got %+v", out.Response)
	}
	if out.Attempts != 1 || len(rec.sleeps) != 0 {
		t.Errorf("expected 1 attempt and no sleeps, got %d attempts, sleeps %v", out.Attempts, rec.sleeps)
	}
	if lg.Len() != 0 {
		t.Errorf("ledger should be empty")
	}
}

func TestRun_Ignore404StopsImmediately(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{status: 404}}}
	rec := &sleepRecorder{}
	lg := ledger.NewMemory()

	p := testPolicy()
	p.MaxAttempts = 10
	p.Ignore404 = true

	out, err := newTestLoop(issuer, rec, lg).Run(context.Background(),
		domain.RequestSpec{URL: "http://x/missing"}, Options{Policy: p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Response.StatusCode != 404 || issuer.calls != 1 {
		t.Fatalf("expected a single 404 attempt, got status %d after %d calls", out.Response.StatusCode, issuer.calls)
	}
	if out.State != StopSuccess {
		t.Errorf("expected success state, got %s", out.State)
	}
	if lg.Len() != 0 {
		t.Errorf("404 must not be recorded as bad")
	}
}

func TestRun_ServerErrorTrackIsBounded(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{status: 500}}}
	rec := &sleepRecorder{}

	p := testPolicy()
	p.MaxAttempts = 10
	p.MaxServerErrorAttempts = 2
	p.LongWaitFor5xx = true

	out, err := newTestLoop(issuer, rec, ledger.NewMemory()).Run(context.Background(),
		domain.RequestSpec{URL: "http://x"}, Options{Policy: p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issuer.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", issuer.calls)
	}
	want := []time.Duration{1 * time.Minute, 2 * time.Minute}
	if len(rec.sleeps) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, rec.sleeps)
	}
	for i := range want {
		if rec.sleeps[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, rec.sleeps[i], want[i])
		}
	}
	if out.Response.StatusCode != 500 || out.State != StopExhausted {
		t.Errorf("expected exhausted 500, got %d/%s", out.Response.StatusCode, out.State)
	}
	if out.Failure == nil || out.Failure.Kind != domain.FailureExhausted {
		t.Errorf("expected exhausted failure, got %+v", out.Failure)
	}
}

func TestRun_LedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	lg := ledger.NewMemory()
	rec := &sleepRecorder{}
	spec := domain.RequestSpec{URL: "http://x/page"}
	p := testPolicy()
	p.MaxAttempts = 1

	forbidden := &scriptedIssuer{steps: []step{{status: 403}}}
	if _, err := newTestLoop(forbidden, rec, lg).Run(ctx, spec, Options{Policy: p}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := lg.Contains(ctx, spec.URL); !ok {
		t.Fatal("url should be bad after 403")
	}

	ok200 := &scriptedIssuer{steps: []step{{status: 200}}}
	if _, err := newTestLoop(ok200, rec, lg).Run(ctx, spec, Options{Policy: p}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := lg.Contains(ctx, spec.URL); ok {
		t.Fatal("url should be cleared after 200")
	}
}

func TestRun_TransportErrorsThenSuccess(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{err: errConn}, {err: errConn}, {status: 200}}}
	rec := &sleepRecorder{}
	lg := ledger.NewMemory()

	p := testPolicy()
	p.IncreaseBy = 3 * time.Second

	out, err := newTestLoop(issuer, rec, lg).Run(context.Background(),
		domain.RequestSpec{URL: "http://x"}, Options{Policy: p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Response == nil || out.Response.StatusCode != 200 {
		t.Fatalf("expected 200, got %+v", out.Response)
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second}
	if len(rec.sleeps) != 2 || rec.sleeps[0] != want[0] || rec.sleeps[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", rec.sleeps, want)
	}
	if out.Slept != 9*time.Second {
		t.Errorf("slept = %v, want 9s", out.Slept)
	}
	if lg.Len() != 0 {
		t.Errorf("ledger should be cleared on success")
	}
}

func TestRun_AllTransportErrorsReturnsNil(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{err: errConn}}}
	rec := &sleepRecorder{}
	lg := ledger.NewMemory()

	p := testPolicy()
	p.MaxAttempts = 3

	out, err := newTestLoop(issuer, rec, lg).Run(context.Background(),
		domain.RequestSpec{URL: "http://x"}, Options{Policy: p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Response != nil {
		t.Fatalf("expected nil response, got %+v", out.Response)
	}
	if out.Failure == nil || out.Failure.Kind != domain.FailureTransport || !errors.Is(out.Failure, errConn) {
		t.Errorf("expected transport failure wrapping errConn, got %+v", out.Failure)
	}
	// no sleep after the final attempt
	if len(rec.sleeps) != 2 {
		t.Errorf("expected 2 sleeps, got %v", rec.sleeps)
	}
	if lg.Len() != 1 {
		t.Errorf("url should be recorded as bad")
	}
}

func TestRun_LastResponseSurvivesTrailingTransportError(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{status: 503}, {err: errConn}}}
	rec := &sleepRecorder{}

	p := testPolicy()
	p.MaxAttempts = 2

	out, err := newTestLoop(issuer, rec, ledger.NewMemory()).Run(context.Background(),
		domain.RequestSpec{URL: "http://x"}, Options{Policy: p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Response == nil || out.Response.StatusCode != 503 {
		t.Fatalf("expected the earlier 503 response, got %+v", out.Response)
	}
}

func TestRun_NonIgnorableErrorIsFatal(t *testing.T) {
	fatal := errors.New("tls: bad certificate")
	issuer := &scriptedIssuer{steps: []step{{err: fatal}}}
	rec := &sleepRecorder{}

	_, err := newTestLoop(issuer, rec, ledger.NewMemory()).Run(context.Background(),
		domain.RequestSpec{URL: "http://x"}, Options{Policy: testPolicy()})
	if err != fatal {
		t.Fatalf("expected the original error, got %v", err)
	}
	if issuer.calls != 1 || len(rec.sleeps) != 0 {
		t.Errorf("fatal error must stop immediately")
	}
}

func TestRun_IgnorableOverride(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{err: errConn}}}
	rec := &sleepRecorder{}

	opts := Options{
		Policy:    testPolicy(),
		Ignorable: func(error) bool { return false },
	}
	_, err := newTestLoop(issuer, rec, ledger.NewMemory()).Run(context.Background(), domain.RequestSpec{URL: "http://x"}, opts)
	if !errors.Is(err, errConn) {
		t.Fatalf("narrowed ignore set should surface the error, got %v", err)
	}
}

func TestRun_PredicateRejection(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{status: 200}}}
	rec := &sleepRecorder{}
	lg := ledger.NewMemory()

	var seen []any
	calls := 0
	pred := func(_ context.Context, _ *domain.Response, args map[string]any) bool {
		calls++
		seen = append(seen, args["marker"])
		return calls >= 3
	}

	p := testPolicy()
	p.LongWaitFor5xx = true
	out, err := newTestLoop(issuer, rec, lg).Run(context.Background(), domain.RequestSpec{URL: "http://x"}, Options{
		Policy:        p,
		Predicate:     pred,
		PredicateArgs: map[string]any{"marker": "captcha"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != StopSuccess || out.Attempts != 3 {
		t.Fatalf("expected success on attempt 3, got %s on %d", out.State, out.Attempts)
	}
	if len(rec.sleeps) != 2 || rec.sleeps[0] != time.Second || rec.sleeps[1] != 2*time.Second {
		t.Errorf("rejections must use the generic schedule, got %v", rec.sleeps)
	}
	if seen[0] != "captcha" {
		t.Errorf("predicate args not forwarded: %v", seen)
	}
	if lg.Len() != 0 {
		t.Errorf("accepted response should clear the ledger")
	}
}

func TestRun_PredicateRejectsFinalAttempt(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{status: 200}}}
	rec := &sleepRecorder{}
	lg := ledger.NewMemory()

	p := testPolicy()
	p.MaxAttempts = 2
	out, err := newTestLoop(issuer, rec, lg).Run(context.Background(), domain.RequestSpec{URL: "http://x"}, Options{
		Policy:    p,
		Predicate: func(context.Context, *domain.Response, map[string]any) bool { return false },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Response == nil || out.State != StopExhausted {
		t.Fatalf("expected exhausted with response, got %s / %+v", out.State, out.Response)
	}
	if out.Failure == nil || out.Failure.Kind != domain.FailureRejected {
		t.Errorf("expected rejected failure, got %+v", out.Failure)
	}
	if lg.Len() != 1 {
		t.Errorf("rejected url should stay bad")
	}
}

func TestRun_ContextCancelledDuringSleep(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{status: 429}}}
	ctx, cancel := context.WithCancel(context.Background())

	loop := NewLoop("test", issuer, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	out, err := loop.Run(ctx, domain.RequestSpec{URL: "http://x"}, Options{Policy: testPolicy()})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if out.Response == nil || out.Response.StatusCode != 429 {
		t.Errorf("last response should be kept, got %+v", out.Response)
	}
}

func TestRun_AttemptsNeverExceedBudget(t *testing.T) {
	for _, status := range []int{200, 301, 403, 404, 429, 500, 503} {
		for max := 1; max <= 6; max++ {
			issuer := &scriptedIssuer{steps: []step{{status: status}}}
			p := testPolicy()
			p.MaxAttempts = max
			p.LongWaitFor5xx = status >= 500
			out, err := newTestLoop(issuer, &sleepRecorder{}, ledger.NewMemory()).Run(
				context.Background(), domain.RequestSpec{URL: "http://x"}, Options{Policy: p})
			if err != nil {
				t.Fatalf("status %d: unexpected error %v", status, err)
			}
			if issuer.calls > max || out.Attempts > max {
				t.Fatalf("status %d max %d: %d calls", status, max, issuer.calls)
			}
			if !out.State.Terminal() {
				t.Fatalf("status %d: non-terminal final state %s", status, out.State)
			}
		}
	}
}

func TestRun_Jitter(t *testing.T) {
	issuer := &scriptedIssuer{steps: []step{{status: 200}}}
	rec := &sleepRecorder{}
	p := testPolicy()
	p.JitterMin = 100 * time.Millisecond
	p.JitterMax = 200 * time.Millisecond

	if _, err := newTestLoop(issuer, rec, ledger.NewMemory()).Run(context.Background(), domain.RequestSpec{URL: "http://x"}, Options{Policy: p}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.sleeps) != 1 || rec.sleeps[0] < p.JitterMin || rec.sleeps[0] > p.JitterMax {
		t.Errorf("jitter sleep out of range: %v", rec.sleeps)
	}
}
