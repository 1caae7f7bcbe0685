package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/identity-custody-backend/metrics"
	"golang.org/x/sync/errgroup"
)

// Task is a fire-and-forget unit of work. It must honor ctx.
type Task func(ctx context.Context) error

// Dispatcher runs downstream notifications in the background with a bound on
// in-flight tasks and a per-task timeout. Callers never wait for a task; failures
// and drops are logged.
type Dispatcher struct {
	group   errgroup.Group
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(maxInFlight int, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	d := &Dispatcher{
		timeout: timeout,
		log:     log,
	}
	d.group.SetLimit(maxInFlight)
	return d
}

// Dispatch starts task in the background. It reports false when the task was dropped
// because the dispatcher is saturated or closed.
func (d *Dispatcher) Dispatch(kind string, task Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("Dispatcher closed, dropping task", "kind", kind)
		metrics.Dispatches.WithLabelValues(kind, metrics.ResultDropped).Inc()
		return false
	}

	started := d.group.TryGo(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		err := task(ctx)
		metrics.Dispatches.WithLabelValues(kind, metrics.Result(err)).Inc()
		if err != nil {
			d.log.Warn("Downstream task failed", "kind", kind, "err", err, "duration", time.Since(start))
			return nil
		}
		d.log.Debug("Downstream task completed", "kind", kind, "duration", time.Since(start))
		return nil
	})
	if !started {
		d.log.Warn("Too many downstream tasks in flight, dropping task", "kind", kind)
		metrics.Dispatches.WithLabelValues(kind, metrics.ResultDropped).Inc()
		return false
	}
	return true
}

// Close stops accepting tasks and waits for in-flight ones until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
