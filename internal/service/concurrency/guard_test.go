package concurrency

import (
	"context"
	"sync"
	"testing"
)

func TestOwnerSetExclusive(t *testing.T) {
	set := NewOwnerSet()
	ctx := context.Background()

	lease, ok, err := set.TryAcquire(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := set.TryAcquire(ctx, "u1"); ok {
		t.Fatalf("expected second acquire for same owner to be refused")
	}
	if _, ok, _ := set.TryAcquire(ctx, "u2"); !ok {
		t.Fatalf("expected other owner to acquire independently")
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if set.Active("u1") {
		t.Fatalf("expected u1 to be released")
	}
	if _, ok, _ := set.TryAcquire(ctx, "u1"); !ok {
		t.Fatalf("expected acquire after release to succeed")
	}
}

func TestOwnerSetDoubleReleaseKeepsNewHolder(t *testing.T) {
	set := NewOwnerSet()
	ctx := context.Background()

	first, _, _ := set.TryAcquire(ctx, "u1")
	_ = first.Release(ctx)
	second, ok, _ := set.TryAcquire(ctx, "u1")
	if !ok {
		t.Fatalf("expected reacquire")
	}
	_ = first.Release(ctx)
	if !set.Active("u1") {
		t.Fatalf("stale release must not drop the new holder")
	}
	_ = second.Release(ctx)
}

func TestOwnerSetConcurrentAcquire(t *testing.T) {
	set := NewOwnerSet()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := set.TryAcquire(ctx, "u1"); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 1 {
		t.Fatalf("expected exactly one grant, got %d", granted)
	}
}
