package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/meetscribe/internal/observe"
)

// ErrInFlight is returned by [Pool.Go] when the session already has a task.
var ErrInFlight = errors.New("scheduler: session already in flight")

// Pool runs at most a fixed number of session tasks at once and never two
// tasks for the same session. All methods are safe for concurrent use.
type Pool struct {
	sem     *semaphore.Weighted
	size    int
	metrics *observe.Metrics

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

// NewPool creates a Pool with room for size concurrent tasks. A non-positive
// size uses [DefaultMaxConcurrency].
func NewPool(size int, m *observe.Metrics) *Pool {
	if size <= 0 {
		size = DefaultMaxConcurrency
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Pool{
		sem:      semaphore.NewWeighted(int64(size)),
		size:     size,
		metrics:  m,
		inFlight: make(map[uuid.UUID]struct{}),
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of running tasks.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// Has reports whether a task for id is running.
func (p *Pool) Has(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[id]
	return ok
}

// reserve adds id to the in-flight set. It reports false if id is present.
func (p *Pool) reserve(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlight[id]; ok {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pool) release(id uuid.UUID) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// Go runs fn for id once a slot is free, blocking until then or until ctx is
// done. fn receives ctx.
func (p *Pool) Go(ctx context.Context, id uuid.UUID, fn func(context.Context)) error {
	if !p.reserve(id) {
		return ErrInFlight
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.release(id)
		return err
	}
	p.start(ctx, id, fn)
	return nil
}

// TryGo runs fn for id if a slot is free right now. It reports whether fn
// was started.
func (p *Pool) TryGo(ctx context.Context, id uuid.UUID, fn func(context.Context)) bool {
	if !p.reserve(id) {
		return false
	}
	if !p.sem.TryAcquire(1) {
		p.release(id)
		return false
	}
	p.start(ctx, id, fn)
	return true
}

func (p *Pool) start(ctx context.Context, id uuid.UUID, fn func(context.Context)) {
	p.wg.Add(1)
	done := p.metrics.TrackSession(ctx)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.release(id)
		defer done()
		fn(ctx)
	}()
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
