package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLock(client, "sweep:"), mr
}

func TestRedisLockExclusive(t *testing.T) {
	l, _ := newTestLock(t)
	ctx := context.Background()

	release, err := l.TryAcquire(ctx, "scheduled-tiers", time.Minute)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	if _, err := l.TryAcquire(ctx, "scheduled-tiers", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	release2, err := l.TryAcquire(ctx, "scheduled-tiers", time.Minute)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	_ = release2(ctx)
}

func TestRedisLockExpires(t *testing.T) {
	l, mr := newTestLock(t)
	ctx := context.Background()

	if _, err := l.TryAcquire(ctx, "expire-payments", time.Second); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := l.TryAcquire(ctx, "expire-payments", time.Second); err != nil {
		t.Fatalf("expected lock to be free after ttl, got %v", err)
	}
}

func TestRedisLockReleaseDoesNotStealNewHolder(t *testing.T) {
	l, mr := newTestLock(t)
	ctx := context.Background()

	staleRelease, err := l.TryAcquire(ctx, "expire-trials", time.Second)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := l.TryAcquire(ctx, "expire-trials", time.Minute); err != nil {
		t.Fatalf("second holder acquire failed: %v", err)
	}
	if err := staleRelease(ctx); err != nil {
		t.Fatalf("stale release errored: %v", err)
	}
	if !mr.Exists("sweep:expire-trials") {
		t.Fatal("stale release removed the new holder's lock")
	}
}
