// Package gate implements a resizable counting-permit gate.
//
// A Gate hands out permits from its current pool. Resizing installs a fresh
// pool with an atomic swap; permits already issued by the previous pool stay
// valid and are returned to that pool, and callers already waiting on it keep
// waiting on it. New Acquire calls always target the pool that is current at
// the time of the call.
//
// Across a resize from M to M' slots the gate never holds more than
// max(M, M') permits: a permit from the current pool is only handed out while
// the total held across every generation is below the current capacity. A
// waiter on a superseded pool is admitted only while the total is below the
// larger of the two sizes.
package gate

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// pool is one generation of permits.
type pool struct {
	sem        *semaphore.Weighted
	size       int
	inUse      atomic.Int64
	superseded atomic.Bool
}

func newPool(n int) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Permit is a slot checked out from a Gate. Release must be called exactly
// once; extra calls are ignored.
type Permit struct {
	gate     *Gate
	pool     *pool
	released atomic.Bool
}

// Release returns the slot to the pool that issued it.
func (p *Permit) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.gate.inFlight.Add(-1)
	p.gate.released.Add(1)
	p.pool.inUse.Add(-1)
	p.pool.sem.Release(1)
	p.gate.wake()
}

// Gate bounds how many holders may be inside it at once.
type Gate struct {
	current  atomic.Pointer[pool]
	inFlight atomic.Int64
	acquired atomic.Int64
	released atomic.Int64

	// admitting counts holders of a current-pool slot that wait for the
	// total to drop below capacity. Releases only signal when it is non-zero.
	admitting atomic.Int64
	mu        sync.Mutex
	changed   chan struct{}
}

// New creates a gate with n slots. See Normalize for n <= 0.
func New(n int) *Gate {
	g := &Gate{changed: make(chan struct{})}
	g.current.Store(newPool(Normalize(n)))
	return g
}

// Normalize maps a non-positive capacity to the number of usable CPUs.
func Normalize(n int) int {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return max(n, 1)
}

// Acquire blocks until a slot in the current pool is free and the gate holds
// fewer permits than its capacity, or until ctx is done. It returns ctx.Err()
// when ctx ends first; no slot is consumed in that case.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := g.current.Load()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := g.admit(ctx, p); err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return g.issue(p), nil
}

// TryAcquire takes a slot without blocking. It returns nil when the current
// pool is full or the gate already holds its capacity.
func (g *Gate) TryAcquire() *Permit {
	p := g.current.Load()
	if !p.sem.TryAcquire(1) {
		return nil
	}
	if !g.tryAdmit(p) {
		p.sem.Release(1)
		return nil
	}
	return g.issue(p)
}

// tryAdmit counts p's new holder in the gate total. The total may reach the
// current capacity, or p's own size when p is a superseded pool: a superseded
// pool only frees a slot when one of its own holders leaves.
func (g *Gate) tryAdmit(p *pool) bool {
	for {
		limit := int64(g.current.Load().size)
		if p.superseded.Load() {
			limit = max(limit, int64(p.size))
		}
		n := g.inFlight.Load()
		if n >= limit {
			return false
		}
		if g.inFlight.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// admit waits until tryAdmit succeeds or ctx is done.
func (g *Gate) admit(ctx context.Context, p *pool) error {
	if g.tryAdmit(p) {
		return nil
	}

	g.admitting.Add(1)
	defer g.admitting.Add(-1)
	for {
		ch := g.signal()
		if g.tryAdmit(p) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gate) issue(p *pool) *Permit {
	p.inUse.Add(1)
	g.acquired.Add(1)
	return &Permit{gate: g, pool: p}
}

func (g *Gate) signal() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.changed
}

// wake unblocks holders waiting in admit.
func (g *Gate) wake() {
	if g.admitting.Load() == 0 {
		return
	}
	g.mu.Lock()
	close(g.changed)
	g.changed = make(chan struct{})
	g.mu.Unlock()
}

// Resize swaps in a fresh pool of n slots (normalized) and returns the
// effective capacity. Slots still held against the old pool drain as their
// holders release them, and the new pool only fills as far as they allow.
func (g *Gate) Resize(n int) int {
	n = Normalize(n)
	old := g.current.Swap(newPool(n))
	old.superseded.Store(true)
	g.wake()
	return n
}

// Capacity is the size of the current pool.
func (g *Gate) Capacity() int {
	return g.current.Load().size
}

// InUse is the number of slots held against the current pool.
func (g *Gate) InUse() int {
	return int(g.current.Load().inUse.Load())
}

// InFlight is the number of permits held across every pool generation.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Stats reports lifetime acquire and release counts.
func (g *Gate) Stats() (acquired, released int64) {
	return g.acquired.Load(), g.released.Load()
}
