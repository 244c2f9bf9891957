package engine

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/taskgate/internal/model"
)

// record is the engine's state for one run of a definition. Every field
// except status is assigned before the run starts or, for outcome, once
// before done is closed. settled closes after done, once the run has been
// journaled.
type record[K comparable, V any] struct {
	def     Definition[K, V]
	runID   string
	seq     uint64
	created time.Time
	cancel  context.CancelFunc
	status  atomic.Value // string
	done    chan struct{}
	settled chan struct{}
	outcome Outcome[V]
}

func newRecord[K comparable, V any](def Definition[K, V], cancel context.CancelFunc, seq uint64) *record[K, V] {
	r := &record[K, V]{
		def:     def,
		runID:   model.NewID(),
		seq:     seq,
		created: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		settled: make(chan struct{}),
	}
	r.status.Store(model.StatusQueued)
	return r
}

func (r *record[K, V]) state() string {
	return r.status.Load().(string)
}

// transition moves the record to status to when the move is allowed.
func (r *record[K, V]) transition(to string) bool {
	for {
		from := r.state()
		if !model.ValidTransition(from, to) {
			return false
		}
		if r.status.CompareAndSwap(from, to) {
			return true
		}
	}
}

// terminal reports whether the run has ended. The outcome is stored before
// the terminal status, so it is readable once this returns true.
func (r *record[K, V]) terminal() bool {
	return model.IsTerminal(r.state())
}

// wait blocks until the run ends or ctx is done.
func (r *record[K, V]) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitSettled blocks until the run's journal write is over or ctx is done.
func (r *record[K, V]) waitSettled(ctx context.Context) error {
	select {
	case <-r.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registry maps keys to their latest run. Writers replace the pointer for a
// key; readers see either the old or the new record, never a partial one.
type registry[K comparable, V any] struct {
	runs sync.Map // K -> *record[K, V]
}

func (g *registry[K, V]) store(r *record[K, V]) {
	g.runs.Store(r.def.Key, r)
}

func (g *registry[K, V]) load(key K) (*record[K, V], bool) {
	v, ok := g.runs.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*record[K, V]), true
}

// snapshot returns every record in start order. It is not a consistent view
// across keys.
func (g *registry[K, V]) snapshot() []*record[K, V] {
	var out []*record[K, V]
	g.runs.Range(func(_, v any) bool {
		out = append(out, v.(*record[K, V]))
		return true
	})
	slices.SortFunc(out, func(a, b *record[K, V]) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// queue holds registered definitions that have not been started. Registering
// a key that is already queued replaces its definition in place.
type queue[K comparable, V any] struct {
	mu    sync.Mutex
	order []K
	defs  map[K]Definition[K, V]
}

func newQueue[K comparable, V any]() *queue[K, V] {
	return &queue[K, V]{defs: make(map[K]Definition[K, V])}
}

func (q *queue[K, V]) push(def Definition[K, V]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.defs[def.Key]; !ok {
		q.order = append(q.order, def.Key)
	}
	q.defs[def.Key] = def
}

func (q *queue[K, V]) remove(key K) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.defs[key]; !ok {
		return
	}
	delete(q.defs, key)
	q.order = slices.DeleteFunc(q.order, func(k K) bool { return k == key })
}

func (q *queue[K, V]) contains(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.defs[key]
	return ok
}

func (q *queue[K, V]) keys() []K {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.order)
}

// drain empties the queue and returns its definitions in registration order.
func (q *queue[K, V]) drain() []Definition[K, V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Definition[K, V], 0, len(q.order))
	for _, k := range q.order {
		out = append(out, q.defs[k])
	}
	q.order = nil
	q.defs = make(map[K]Definition[K, V])
	return out
}

func (q *queue[K, V]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
