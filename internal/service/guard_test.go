package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGuardTimesOutOnHeldKey(t *testing.T) {
	g := NewGuard(20 * time.Millisecond)
	ctx := context.Background()

	lease, err := g.Acquire(ctx, "A001", "account:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := g.Acquire(ctx, "A002", "account:1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	lease.Release()
	second, err := g.Acquire(ctx, "A002", "account:1")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	second.Release()
}

func TestGuardDifferentKeysDoNotContend(t *testing.T) {
	g := NewGuard(20 * time.Millisecond)
	ctx := context.Background()

	a, err := g.Acquire(ctx, "A001", "account:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer a.Release()
	b, err := g.Acquire(ctx, "B001", "account:2")
	if err != nil {
		t.Fatalf("second key blocked by first: %v", err)
	}
	defer b.Release()
}

func TestGuardContextCancel(t *testing.T) {
	g := NewGuard(0)
	lease, _ := g.Acquire(context.Background(), "A001", "card:1")
	defer lease.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := g.Acquire(ctx, "A002", "card:1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLeaseReleaseIsIdempotent(t *testing.T) {
	g := NewGuard(20 * time.Millisecond)
	ctx := context.Background()

	first, _ := g.Acquire(ctx, "A001", "account:1")
	first.Release()
	second, err := g.Acquire(ctx, "A002", "account:1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// a stale lease must not free someone else's lock
	first.Release()
	if _, err := g.Acquire(ctx, "A003", "account:1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("stale release freed the lock: %v", err)
	}
	second.Release()
}

func TestGuardForceRelease(t *testing.T) {
	g := NewGuard(20 * time.Millisecond)
	ctx := context.Background()

	leases, err := g.AcquireAll(ctx, "A001", "account:2", "account:1")
	if err != nil {
		t.Fatalf("acquire all: %v", err)
	}
	if n := g.ForceRelease("A001"); n != 2 {
		t.Fatalf("expected 2 released, got %d", n)
	}
	if len(g.Held()) != 0 {
		t.Fatalf("expected nothing held, got %+v", g.Held())
	}

	next, err := g.Acquire(ctx, "B001", "account:1")
	if err != nil {
		t.Fatalf("acquire after force release: %v", err)
	}
	releaseAll(leases)
	held := g.Held()
	if len(held) != 1 || held[0].Owner != "B001" {
		t.Fatalf("old leases released the new holder: %+v", held)
	}
	next.Release()
	if g.ForceRelease("nobody") != 0 {
		t.Fatalf("unknown owner released locks")
	}
}

func TestAcquireAllSortsAndDedups(t *testing.T) {
	g := NewGuard(time.Second)
	leases, err := g.AcquireAll(context.Background(), "A001", "account:9", "account:1", "account:9", "")
	if err != nil {
		t.Fatalf("acquire all: %v", err)
	}
	defer releaseAll(leases)

	if len(leases) != 2 || leases[0].Key != "account:1" || leases[1].Key != "account:9" {
		t.Fatalf("unexpected leases %+v", leases)
	}
	held := g.Held()
	if len(held) != 2 || held[0].Key != "account:1" {
		t.Fatalf("unexpected held %+v", held)
	}
}

func TestAcquireAllRollsBackOnFailure(t *testing.T) {
	g := NewGuard(20 * time.Millisecond)
	ctx := context.Background()

	blocker, _ := g.Acquire(ctx, "X", "account:b")
	defer blocker.Release()

	if _, err := g.AcquireAll(ctx, "A001", "account:a", "account:b"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	for _, l := range g.Held() {
		if l.Owner == "A001" {
			t.Fatalf("partial acquisition left %s held", l.Key)
		}
	}
}

func TestWithResourcesOppositeOrderNoDeadlock(t *testing.T) {
	g := NewGuard(0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		wg      sync.WaitGroup
		counter int
	)
	run := func(owner string, keys []string) {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			err := g.WithResources(ctx, owner, keys, func() error {
				counter++
				return nil
			})
			if err != nil {
				t.Errorf("%s: %v", owner, err)
				return
			}
		}
	}
	wg.Add(2)
	go run("T1", []string{"account:a", "account:b"})
	go run("T2", []string{"account:b", "account:a"})
	wg.Wait()

	if counter != 400 {
		t.Fatalf("expected 400 critical sections, got %d", counter)
	}
}

func TestWithResourcesReleasesOnError(t *testing.T) {
	g := NewGuard(20 * time.Millisecond)
	boom := errors.New("boom")
	err := g.WithResources(context.Background(), "A001", []string{"card:1"}, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if len(g.Held()) != 0 {
		t.Fatalf("lock leaked after error")
	}
}
