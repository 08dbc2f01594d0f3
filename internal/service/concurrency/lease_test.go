package concurrency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestLease(t *testing.T, ttl time.Duration) (*OwnerLease, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewOwnerLease(client, ttl, "test"), mr
}

func TestOwnerLeaseExclusive(t *testing.T) {
	guard, mr := newTestLease(t, time.Minute)
	ctx := context.Background()

	lease, ok, err := guard.TryAcquire(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	if !mr.Exists("test:u1:running") {
		t.Fatalf("expected lease key to be set")
	}
	if ttl := mr.TTL("test:u1:running"); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}

	if _, ok, err := guard.TryAcquire(ctx, "u1"); err != nil || ok {
		t.Fatalf("expected second acquire refused, ok=%v err=%v", ok, err)
	}
	if _, ok, err := guard.TryAcquire(ctx, "u2"); err != nil || !ok {
		t.Fatalf("expected other owner to acquire, ok=%v err=%v", ok, err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("test:u1:running") {
		t.Fatalf("expected key removed on release")
	}
	if _, ok, _ := guard.TryAcquire(ctx, "u1"); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestOwnerLeaseRefreshExtendsTTL(t *testing.T) {
	guard, mr := newTestLease(t, time.Minute)
	ctx := context.Background()

	lease, _, _ := guard.TryAcquire(ctx, "u1")
	mr.FastForward(40 * time.Second)
	if err := lease.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	mr.FastForward(40 * time.Second)
	if !mr.Exists("test:u1:running") {
		t.Fatalf("expected refreshed lease to outlive the original ttl")
	}
}

func TestOwnerLeaseLostAfterExpiry(t *testing.T) {
	guard, mr := newTestLease(t, time.Minute)
	ctx := context.Background()

	stale, _, _ := guard.TryAcquire(ctx, "u1")
	mr.FastForward(2 * time.Minute)

	current, ok, err := guard.TryAcquire(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected acquire after expiry, ok=%v err=%v", ok, err)
	}
	if err := stale.Refresh(ctx); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !mr.Exists("test:u1:running") {
		t.Fatalf("stale release must not remove the new holder's key")
	}
	if err := current.Refresh(ctx); err != nil {
		t.Fatalf("current refresh: %v", err)
	}
}

func TestOwnerLeaseUnavailable(t *testing.T) {
	guard, mr := newTestLease(t, time.Minute)
	mr.Close()

	if _, _, err := guard.TryAcquire(context.Background(), "u1"); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
