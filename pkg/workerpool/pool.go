// Package workerpool runs a fixed set of workers, one per input, each
// exactly once. There is no queue and no rescheduling: input i belongs to
// worker i for the whole run.
package workerpool

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type PoolOptions struct {
	// SpawnRate throttles how quickly workers are started. Nil means no limit.
	SpawnRate *rate.Limiter
	// OnDone is called after each worker returns successfully.
	OnDone func(idx int)
	// OnSpawned is called once every worker has been started.
	OnSpawned func()
}

type PoolOptionFunc func(*PoolOptions)

// WithSpawnRate limits worker start-up to perSecond workers with the given
// burst. Non-positive values disable the limit.
func WithSpawnRate(perSecond float64, burst int) PoolOptionFunc {
	return func(opts *PoolOptions) {
		if perSecond > 0 && burst > 0 {
			opts.SpawnRate = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithOnDone registers a completion hook. It may be called concurrently.
func WithOnDone(fn func(idx int)) PoolOptionFunc {
	return func(opts *PoolOptions) {
		opts.OnDone = fn
	}
}

// WithOnSpawned registers a hook run after the last worker is started and
// before Run starts waiting.
func WithOnSpawned(fn func()) PoolOptionFunc {
	return func(opts *PoolOptions) {
		opts.OnSpawned = fn
	}
}

// WorkerError identifies which worker failed.
type WorkerError struct {
	Index int
	Err   error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d: %v", e.Index, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Pool starts one goroutine per input.
// T is the per-worker input type.
type Pool[T any] struct {
	PoolOptions
}

// New creates a Pool with optional configuration.
func New[T any](opts ...PoolOptionFunc) *Pool[T] {
	var o PoolOptions
	for _, fn := range opts {
		fn(&o)
	}
	return &Pool[T]{PoolOptions: o}
}

// Run starts fn for every input concurrently and waits for all of them.
// The first failure cancels the context passed to the remaining workers and
// is returned as a *WorkerError. When Run returns, every worker it started
// has returned.
func (p *Pool[T]) Run(ctx context.Context, inputs []T, fn func(ctx context.Context, idx int, in T) error) error {
	g, gctx := errgroup.WithContext(ctx)

	for i, in := range inputs {
		if p.SpawnRate != nil {
			if err := p.SpawnRate.Wait(gctx); err != nil {
				// A worker failure cancels gctx; report that failure, not the wait.
				if werr := g.Wait(); werr != nil {
					return werr
				}
				return &WorkerError{Index: i, Err: fmt.Errorf("waiting to spawn: %w", err)}
			}
		}

		g.Go(func() error {
			if err := fn(gctx, i, in); err != nil {
				var we *WorkerError
				if errors.As(err, &we) {
					return err
				}
				return &WorkerError{Index: i, Err: err}
			}
			if p.OnDone != nil {
				p.OnDone(i)
			}
			return nil
		})
	}

	if p.OnSpawned != nil {
		p.OnSpawned()
	}
	return g.Wait()
}
