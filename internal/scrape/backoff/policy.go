package backoff

import (
	"context"
	"time"
)

// Policy defines the attempt budget and delay schedule of one loop.
type Policy struct {
	MaxAttempts            int           `yaml:"max_attempts"`
	MaxServerErrorAttempts int           `yaml:"max_server_error_attempts"`
	IncreaseBy             time.Duration `yaml:"increase_by"`     // generic step, multiplied by attempt
	IncreaseBy5xx          time.Duration `yaml:"increase_by_5xx"` // server-error step, multiplied by attempt
	Ignore404              bool          `yaml:"ignore_404"`
	LongWaitFor5xx         bool          `yaml:"long_wait_for_5xx"`
	SaveBadURLs            bool          `yaml:"save_bad_urls"`
	JitterMin              time.Duration `yaml:"jitter_min"` // random pre-request delay, disabled when JitterMax is 0
	JitterMax              time.Duration `yaml:"jitter_max"`
}

// DefaultPolicy mirrors the historical defaults of the scraping clients.
var DefaultPolicy = Policy{
	MaxAttempts:            10,
	MaxServerErrorAttempts: 3,
	IncreaseBy:             10 * time.Second,
	IncreaseBy5xx:          20 * time.Minute,
}

// WithDefaults fills unset budget fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.MaxServerErrorAttempts <= 0 {
		p.MaxServerErrorAttempts = DefaultPolicy.MaxServerErrorAttempts
	}
	if p.IncreaseBy < 0 {
		p.IncreaseBy = 0
	}
	if p.IncreaseBy5xx < 0 {
		p.IncreaseBy5xx = 0
	}
	if p.JitterMax < p.JitterMin {
		p.JitterMin, p.JitterMax = p.JitterMax, p.JitterMin
	}
	return p
}

// Delay returns the sleep before the attempt following attempt. Growth is
// linear in the attempt number.
func (p Policy) Delay(state State, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch state {
	case ContinueLong:
		return time.Duration(attempt) * p.IncreaseBy5xx
	case Continue:
		return time.Duration(attempt) * p.IncreaseBy
	default:
		return 0
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
