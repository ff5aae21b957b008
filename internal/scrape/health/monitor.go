package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/scrapeback/internal/scrape/ledger"
	"github.com/vietddude/scrapeback/internal/scrape/metrics"
	"github.com/vietddude/scrapeback/internal/scrape/rescan"
)

// Pinger checks a storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Thresholds on the number of bad URLs.
type Thresholds struct {
	Degraded int `yaml:"degraded"`
	Critical int `yaml:"critical"`
}

// Monitor aggregates health status from the ledger and the rescan worker.
type Monitor struct {
	backend    string
	ledger     ledger.Ledger
	pinger     Pinger
	worker     *rescan.Worker
	thresholds Thresholds
	cacheFor   time.Duration

	lastCheck  time.Time
	lastReport map[string]LedgerHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. pinger and worker may be nil.
func NewMonitor(backend string, lg ledger.Ledger, pinger Pinger, worker *rescan.Worker, th Thresholds) *Monitor {
	return &Monitor{
		backend:    backend,
		ledger:     lg,
		pinger:     pinger,
		worker:     worker,
		thresholds: th,
		cacheFor:   10 * time.Second,
		lastReport: make(map[string]LedgerHealth),
	}
}

// CheckHealth reports on the ledger. Results are cached for 10s so that
// probes do not hammer the backend.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]LedgerHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < m.cacheFor && len(m.lastReport) > 0 {
		return m.lastReport
	}

	h := LedgerHealth{Backend: m.backend, Status: StatusHealthy}

	if m.pinger != nil {
		if err := m.pinger.Ping(ctx); err != nil {
			h.Status = StatusCritical
			h.Error = err.Error()
		}
	}

	if h.Status != StatusCritical {
		urls, err := m.ledger.List(ctx)
		if err != nil {
			h.Status = StatusCritical
			h.Error = err.Error()
		} else {
			h.BadURLs = len(urls)
			metrics.BadURLs.WithLabelValues(m.backend).Set(float64(h.BadURLs))
			switch {
			case m.thresholds.Critical > 0 && h.BadURLs >= m.thresholds.Critical:
				h.Status = StatusCritical
			case m.thresholds.Degraded > 0 && h.BadURLs >= m.thresholds.Degraded:
				h.Status = StatusDegraded
			}
		}
	}

	if m.worker != nil {
		if p := m.worker.LastPass(); !p.At.IsZero() {
			h.LastScan = &p
			if p.Err != "" && h.Status == StatusHealthy {
				h.Status = StatusDegraded
			}
		}
	}

	m.lastReport = map[string]LedgerHealth{"ledger": h}
	m.lastCheck = time.Now()
	return m.lastReport
}

// Report builds the aggregated report, worst status wins.
func (m *Monitor) Report(ctx context.Context) HealthReport {
	components := m.CheckHealth(ctx)
	status := StatusHealthy
	for _, c := range components {
		if c.Status == StatusCritical {
			status = StatusCritical
			break
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return HealthReport{SystemStatus: status, Components: components}
}
