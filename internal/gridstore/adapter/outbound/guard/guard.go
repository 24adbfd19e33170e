// Package guard puts a circuit breaker, per-attempt timeouts and read
// retries in front of a port.Database.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/port"
	"github.com/anthanhphan/go-gridstore/pkg/document"
	"github.com/anthanhphan/go-gridstore/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

type Config struct {
	Name             string
	MaxRetries       int
	AttemptTimeout   time.Duration
	RetryBackoff     time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Guard dispatches to the wrapped database. Writes run exactly once;
// Query and CollectionStats are retried while they fail without being
// dispatched.
type Guard struct {
	db      port.Database
	cfg     Config
	breaker *resilience.CircuitBreaker
}

var _ port.Database = (*Guard)(nil)

func New(db port.Database, cfg Config) *Guard {
	if cfg.Name == "" {
		cfg.Name = "database"
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             cfg.Name,
		FailureThreshold: cfg.FailureThreshold,
		OpenTimeout:      cfg.OpenTimeout,
		IsFailure: func(err error) bool {
			return errors.Is(err, port.ErrNotDispatched)
		},
		OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
			logger.Warnw("Database circuit state changed", "name", name, "from", string(from), "to", string(to))
		},
	})
	return &Guard{db: db, cfg: cfg, breaker: breaker}
}

// State exposes the breaker state for health reporting.
func (g *Guard) State() resilience.CircuitBreakerState {
	return g.breaker.State()
}

func (g *Guard) RunWrite(ctx context.Context, cmd document.Document) (port.WriteResult, error) {
	var res port.WriteResult
	err := g.call(ctx, "write", false, func(ctx context.Context) error {
		var err error
		res, err = g.db.RunWrite(ctx, cmd)
		return err
	})
	return res, err
}

func (g *Guard) Query(ctx context.Context, collection string, filter document.Document, opts port.QueryOptions) (port.Cursor, error) {
	var cur port.Cursor
	err := g.retry(ctx, "query "+collection, func(ctx context.Context) error {
		var err error
		cur, err = g.db.Query(ctx, collection, filter, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (g *Guard) CreateCollection(ctx context.Context, name string) error {
	return g.call(ctx, "create collection "+name, false, func(ctx context.Context) error {
		return g.db.CreateCollection(ctx, name)
	})
}

func (g *Guard) EnsureIndex(ctx context.Context, collection string, model port.IndexModel) (bool, error) {
	var created bool
	err := g.call(ctx, "create index on "+collection, false, func(ctx context.Context) error {
		var err error
		created, err = g.db.EnsureIndex(ctx, collection, model)
		return err
	})
	return created, err
}

func (g *Guard) CollectionStats(ctx context.Context, collection string) (port.CollectionStats, error) {
	var stats port.CollectionStats
	err := g.retry(ctx, "stats "+collection, func(ctx context.Context) error {
		var err error
		stats, err = g.db.CollectionStats(ctx, collection)
		return err
	})
	return stats, err
}

// call makes one attempt through the breaker. An open circuit surfaces
// as a TransportError. So does a read that ran out of its own time
// budget; a timed-out write may already be applied and keeps its
// deadline error.
func (g *Guard) call(ctx context.Context, op string, read bool, fn func(context.Context) error) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		attemptCtx := ctx
		if g.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, g.cfg.AttemptTimeout)
			defer cancel()
		}
		err := fn(attemptCtx)
		if read && err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return &port.TransportError{Op: op, Err: err}
		}
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &port.TransportError{Op: op, Err: err}
	}
	return err
}

// retry repeats call with linear backoff while the failure is a
// TransportError, at most MaxRetries extra times.
func (g *Guard) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		err = g.call(ctx, op, true, fn)
		if err == nil || !errors.Is(err, port.ErrNotDispatched) || attempt == g.cfg.MaxRetries {
			return err
		}

		wait := time.Duration(attempt+1) * g.cfg.RetryBackoff
		var openErr *resilience.CircuitOpenError
		if errors.As(err, &openErr) && openErr.RetryAfter > wait {
			wait = openErr.RetryAfter
		}
		logger.Warnw("Database read not dispatched, retrying", "op", op, "attempt", attempt+1, "wait_ms", wait.Milliseconds(), "error", err.Error())
		if !sleepWithContext(ctx, wait) {
			return ctx.Err()
		}
	}
	return err
}

// sleepWithContext waits for delay or exits early if context is canceled.
func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
