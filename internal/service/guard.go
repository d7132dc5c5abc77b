package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bank_turns/backend/internal/utils"
)

var ErrLockTimeout = errors.New("resource lock timeout")

const guardShards = 32

type resourceLock struct {
	sem    chan struct{}
	mu     sync.Mutex
	holder *Lease
}

type guardShard struct {
	mu    sync.Mutex
	locks map[string]*resourceLock
}

// Guard hands out per-resource locks (one per account, card or customer
// key). Locks for different keys never contend. A caller holding more than
// one key must take them through AcquireAll so the order is fixed.
type Guard struct {
	timeout time.Duration
	shards  [guardShards]guardShard

	ownersMu sync.Mutex
	owners   map[string]map[*Lease]struct{}
}

type Lease struct {
	Key        string
	Owner      string
	AcquiredAt time.Time

	guard *Guard
	lock  *resourceLock
}

type LeaseInfo struct {
	Key        string    `json:"key"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// NewGuard returns a guard whose acquisitions wait at most timeout. A zero
// timeout waits until the context is done.
func NewGuard(timeout time.Duration) *Guard {
	g := &Guard{
		timeout: timeout,
		owners:  map[string]map[*Lease]struct{}{},
	}
	for i := range g.shards {
		g.shards[i].locks = map[string]*resourceLock{}
	}
	return g
}

func (g *Guard) lockFor(key string) *resourceLock {
	shard := &g.shards[utils.Bucket(key, guardShards)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	l, ok := shard.locks[key]
	if !ok {
		l = &resourceLock{sem: make(chan struct{}, 1)}
		shard.locks[key] = l
	}
	return l
}

func (g *Guard) Acquire(ctx context.Context, owner, key string) (*Lease, error) {
	l := g.lockFor(key)

	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	select {
	case l.sem <- struct{}{}:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, key, g.timeout)
	}

	lease := &Lease{Key: key, Owner: owner, AcquiredAt: time.Now().UTC(), guard: g, lock: l}
	l.mu.Lock()
	l.holder = lease
	l.mu.Unlock()

	g.ownersMu.Lock()
	set, ok := g.owners[owner]
	if !ok {
		set = map[*Lease]struct{}{}
		g.owners[owner] = set
	}
	set[lease] = struct{}{}
	g.ownersMu.Unlock()
	return lease, nil
}

// AcquireAll takes every key in sorted order. On failure nothing is held.
func (g *Guard) AcquireAll(ctx context.Context, owner string, keys ...string) ([]*Lease, error) {
	ordered := sortedUnique(keys)
	leases := make([]*Lease, 0, len(ordered))
	for _, key := range ordered {
		lease, err := g.Acquire(ctx, owner, key)
		if err != nil {
			releaseAll(leases)
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

// WithResources runs fn while holding every key.
func (g *Guard) WithResources(ctx context.Context, owner string, keys []string, fn func() error) error {
	leases, err := g.AcquireAll(ctx, owner, keys...)
	if err != nil {
		return err
	}
	defer releaseAll(leases)
	return fn()
}

// Release frees the lock if this lease still holds it. Calling it twice, or
// after ForceRelease, is a no-op.
func (l *Lease) Release() {
	if l == nil || l.guard == nil {
		return
	}
	if !l.lock.release(l) {
		return
	}
	l.guard.forget(l)
}

func (r *resourceLock) release(l *Lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder != l {
		return false
	}
	r.holder = nil
	<-r.sem
	return true
}

func (g *Guard) forget(l *Lease) {
	g.ownersMu.Lock()
	defer g.ownersMu.Unlock()
	set := g.owners[l.Owner]
	delete(set, l)
	if len(set) == 0 {
		delete(g.owners, l.Owner)
	}
}

// ForceRelease frees every lock held by owner and returns how many were
// freed. Used when a stuck turn is failed from outside its worker.
func (g *Guard) ForceRelease(owner string) int {
	g.ownersMu.Lock()
	set := g.owners[owner]
	delete(g.owners, owner)
	g.ownersMu.Unlock()

	n := 0
	for lease := range set {
		if lease.lock.release(lease) {
			n++
		}
	}
	return n
}

func (g *Guard) Held() []LeaseInfo {
	g.ownersMu.Lock()
	out := []LeaseInfo{}
	for _, set := range g.owners {
		for lease := range set {
			out = append(out, LeaseInfo{Key: lease.Key, Owner: lease.Owner, AcquiredAt: lease.AcquiredAt})
		}
	}
	g.ownersMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key == out[j].Key {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func releaseAll(leases []*Lease) {
	for i := len(leases) - 1; i >= 0; i-- {
		leases[i].Release()
	}
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
