package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPool_RejectsDuplicateSession(t *testing.T) {
	t.Parallel()

	p := NewPool(2, nil)
	id := uuid.New()
	release := make(chan struct{})

	if err := p.Go(context.Background(), id, func(context.Context) { <-release }); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if err := p.Go(context.Background(), id, func(context.Context) {}); !errors.Is(err, ErrInFlight) {
		t.Errorf("second Go error = %v, want ErrInFlight", err)
	}
	if p.TryGo(context.Background(), id, func(context.Context) {}) {
		t.Error("TryGo started a duplicate task")
	}
	if !p.Has(id) || p.InFlight() != 1 {
		t.Errorf("Has = %v, InFlight = %d", p.Has(id), p.InFlight())
	}

	close(release)
	p.Wait()
	if p.Has(id) || p.InFlight() != 0 {
		t.Error("task not released after completion")
	}
}

func TestPool_Capacity(t *testing.T) {
	t.Parallel()

	p := NewPool(1, nil)
	release := make(chan struct{})
	if !p.TryGo(context.Background(), uuid.New(), func(context.Context) { <-release }) {
		t.Fatal("TryGo on an empty pool failed")
	}
	if p.TryGo(context.Background(), uuid.New(), func(context.Context) {}) {
		t.Error("TryGo exceeded capacity")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	blocked := uuid.New()
	if err := p.Go(ctx, blocked, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Go on a full pool error = %v, want deadline exceeded", err)
	}
	if p.Has(blocked) {
		t.Error("failed Go left its reservation behind")
	}

	close(release)
	p.Wait()
}

func TestPool_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 3
	p := NewPool(size, nil)

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	for range 12 {
		err := p.Go(context.Background(), uuid.New(), func(context.Context) {
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Go: %v", err)
		}
	}
	p.Wait()
	if peak > size {
		t.Errorf("peak concurrency = %d, want <= %d", peak, size)
	}
}
