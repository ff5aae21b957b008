// Package rescan periodically re-requests every URL in the bad URL ledger
// so that pages that recovered drop out of it.
package rescan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/scrapeback/internal/scrape/ledger"
	"github.com/vietddude/scrapeback/internal/scrape/metrics"
)

// Refetcher re-requests urls through the backoff loop. The loop itself
// clears recovered URLs from the ledger.
type Refetcher interface {
	Refetch(ctx context.Context, urls []string) error
}

// Locker serialises passes across instances sharing one ledger.
type Locker interface {
	AcquireLock(ctx context.Context, namespace, owner string, ttl time.Duration) (bool, error)
	RefreshLock(ctx context.Context, namespace string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, namespace, owner string) error
}

// WorkerConfig holds configuration for the rescan worker.
type WorkerConfig struct {
	Interval  time.Duration `yaml:"interval"`   // pause between passes (default: 10m)
	BatchSize int           `yaml:"batch_size"` // max URLs per pass, 0 means all
	LockTTL   time.Duration `yaml:"lock_ttl"`   // default: 30m
	Namespace string        `yaml:"-"`
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		Interval: 10 * time.Minute,
		LockTTL:  30 * time.Minute,
	}
}

// Pass summarises one rescan pass.
type Pass struct {
	Checked   int       `json:"checked"`
	Recovered int       `json:"recovered"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
	Err       string    `json:"error,omitempty"`
}

// Worker runs rescan passes.
type Worker struct {
	cfg     WorkerConfig
	ledger  ledger.Ledger
	backend string
	fetcher Refetcher
	locker  Locker
	owner   string
	log     *slog.Logger

	mu   sync.RWMutex
	last Pass
}

// NewWorker creates a new rescan worker. locker may be nil.
func NewWorker(cfg WorkerConfig, lg ledger.Ledger, backend string, fetcher Refetcher, locker Locker) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &Worker{
		cfg:     cfg,
		ledger:  lg,
		backend: backend,
		fetcher: fetcher,
		locker:  locker,
		owner:   uuid.NewString(),
		log:     slog.Default().With("component", "rescan", "backend", backend),
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting rescan worker", "interval", w.cfg.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Rescan worker stopped")
			return nil
		case <-timer.C:
		}

		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("Rescan pass failed", "error", err)
		}
		timer.Reset(w.cfg.Interval)
	}
}

// RunOnce performs a single pass. It returns a zero Pass when another
// instance holds the lock or the ledger is empty.
func (w *Worker) RunOnce(ctx context.Context) (Pass, error) {
	if w.locker != nil {
		locked, err := w.locker.AcquireLock(ctx, w.cfg.Namespace, w.owner, w.cfg.LockTTL)
		if err != nil {
			return Pass{}, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !locked {
			w.log.Debug("Rescan locked by another instance")
			return Pass{}, nil
		}
		defer func() {
			// Release even when ctx is done.
			if err := w.locker.ReleaseLock(context.WithoutCancel(ctx), w.cfg.Namespace, w.owner); err != nil {
				w.log.Warn("Failed to release lock", "error", err)
			}
		}()

		lockCtx, stop := context.WithCancel(ctx)
		defer stop()
		go w.keepLock(lockCtx)
	}

	pass, err := w.pass(ctx)
	pass.At = time.Now()
	if err != nil {
		pass.Err = err.Error()
	}
	w.mu.Lock()
	w.last = pass
	w.mu.Unlock()
	return pass, err
}

// keepLock refreshes the lock until ctx ends so long passes keep it.
func (w *Worker) keepLock(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.LockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.locker.RefreshLock(ctx, w.cfg.Namespace, w.cfg.LockTTL); err != nil {
				w.log.Warn("Failed to refresh lock", "error", err)
			}
		}
	}
}

func (w *Worker) pass(ctx context.Context) (Pass, error) {
	urls, err := w.ledger.List(ctx)
	if err != nil {
		return Pass{}, fmt.Errorf("failed to list bad urls: %w", err)
	}
	metrics.BadURLs.WithLabelValues(w.backend).Set(float64(len(urls)))
	if len(urls) == 0 {
		return Pass{}, nil
	}

	batch := urls
	if w.cfg.BatchSize > 0 && len(batch) > w.cfg.BatchSize {
		batch = batch[:w.cfg.BatchSize]
	}
	w.log.Info("Rescanning bad urls", "count", len(batch), "total", len(urls))

	pass := Pass{Checked: len(batch)}
	if err := w.fetcher.Refetch(ctx, batch); err != nil {
		return pass, fmt.Errorf("refetch: %w", err)
	}

	remaining, err := w.ledger.List(ctx)
	if err != nil {
		return pass, fmt.Errorf("failed to list bad urls: %w", err)
	}
	pass.Remaining = len(remaining)
	pass.Recovered = max(len(urls)-len(remaining), 0)
	metrics.BadURLs.WithLabelValues(w.backend).Set(float64(len(remaining)))

	w.log.Info("Rescan pass completed",
		"checked", pass.Checked,
		"recovered", pass.Recovered,
		"remaining", pass.Remaining,
	)
	return pass, nil
}

// LastPass returns the result of the latest pass.
func (w *Worker) LastPass() Pass {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}
