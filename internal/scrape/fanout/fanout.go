// Package fanout runs many independent units of work concurrently and
// returns their results in submission order.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/scrapeback/internal/scrape/metrics"
)

// Unit is one piece of work. Its error belongs to the unit alone and never
// cancels siblings.
type Unit[T any] func(ctx context.Context) (T, error)

// Result is the outcome of one unit.
type Result[T any] struct {
	Value T
	Err   error
}

// Config tunes chunked execution.
type Config struct {
	// Limit bounds concurrent units inside one chunk. 0 means unbounded.
	Limit int
	// ChunkDelay is slept between chunks, never after the last one.
	ChunkDelay time.Duration
	// Sleep replaces the ctx-aware timer, mostly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// All runs every unit concurrently and waits for all of them. results[i]
// always belongs to units[i].
func All[T any](ctx context.Context, units []Unit[T], limit int) []Result[T] {
	results := make([]Result[T], len(units))
	if len(units) == 0 {
		return results
	}

	// Plain group: a failing unit must not cancel the context of the others.
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, unit := range units {
		g.Go(func() error {
			metrics.InFlightUnits.Inc()
			defer metrics.InFlightUnits.Dec()
			results[i] = run(ctx, i, unit)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Series runs chunks strictly one after another, each chunk through All,
// sleeping cfg.ChunkDelay in between. When ctx ends during a pause, the
// remaining units report the context error.
func Series[T any](ctx context.Context, chunks [][]Unit[T], cfg Config) []Result[T] {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = wait
	}

	var results []Result[T]
	for n, chunk := range chunks {
		if n > 0 && cfg.ChunkDelay > 0 {
			slog.Debug("Sleeping between chunks", "component", "fanout", "chunk", n, "delay", cfg.ChunkDelay)
			if err := sleep(ctx, cfg.ChunkDelay); err != nil {
				for _, rest := range chunks[n:] {
					for range rest {
						results = append(results, Result[T]{Err: err})
					}
				}
				return results
			}
		}
		results = append(results, All(ctx, chunk, cfg.Limit)...)
	}
	return results
}

func run[T any](ctx context.Context, i int, unit Unit[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Unit panicked", "component", "fanout", "index", i, "panic", r)
			res = Result[T]{Err: fmt.Errorf("unit %d panicked: %v", i, r)}
		}
	}()
	v, err := unit(ctx)
	return Result[T]{Value: v, Err: err}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
