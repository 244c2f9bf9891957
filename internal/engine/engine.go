package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/taskgate/internal/gate"
	"github.com/seantiz/taskgate/internal/logging"
	"github.com/seantiz/taskgate/internal/model"
)

// Engine runs definitions under a shared concurrency gate and keeps the
// outcome of the latest run of every key. It is safe for concurrent use.
type Engine[K comparable, V any] struct {
	logger  logging.Logger
	gate    *gate.Gate
	queue   *queue[K, V]
	runs    registry[K, V]
	broker  *ProgressBroker
	metrics *metrics
	opts    options
	seq     atomic.Uint64
}

// New creates an engine that lets at most maxDegreeOfParallelism work
// functions run at once. A non-positive value means the number of CPUs.
// A nil logger discards messages.
func New[K comparable, V any](logger logging.Logger, maxDegreeOfParallelism int, opts ...Option) *Engine[K, V] {
	if logger == nil {
		logger = logging.Discard
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g := gate.New(maxDegreeOfParallelism)
	e := &Engine[K, V]{
		logger:  logger,
		gate:    g,
		queue:   newQueue[K, V](),
		broker:  NewProgressBroker(),
		metrics: newMetrics(g),
		opts:    o,
	}
	if o.registerer != nil {
		e.metrics.register(o.registerer)
	}
	return e
}

// RegisterTask queues def without starting it. A queued definition with the
// same key is replaced.
func (e *Engine[K, V]) RegisterTask(def Definition[K, V]) {
	e.queue.push(def)
	e.metrics.queued.Set(float64(e.queue.len()))
}

// RegisterAndRunTask starts def immediately and returns without waiting.
// Any queued definition with the same key is consumed.
func (e *Engine[K, V]) RegisterAndRunTask(def Definition[K, V]) {
	e.queue.remove(def.Key)
	e.metrics.queued.Set(float64(e.queue.len()))
	e.start(def)
}

// StartAll starts every queued definition and blocks until all of them reach
// a terminal status and are journaled, or ctx is done. Task failures are recorded as outcomes;
// the only error returned is ctx's.
func (e *Engine[K, V]) StartAll(ctx context.Context) error {
	defs := e.queue.drain()
	e.metrics.queued.Set(0)
	if len(defs) == 0 {
		e.logger.Info("no tasks registered")
		return nil
	}

	recs := make([]*record[K, V], 0, len(defs))
	for _, def := range defs {
		recs = append(recs, e.start(def))
	}

	if err := waitAll(ctx, recs); err != nil {
		return err
	}
	e.logger.Info("all tasks completed")
	return nil
}

// WaitAll blocks until every run started so far is terminal and journaled,
// or ctx is done.
func (e *Engine[K, V]) WaitAll(ctx context.Context) error {
	return waitAll(ctx, e.runs.snapshot())
}

// Wait is WaitAll without a deadline.
func (e *Engine[K, V]) Wait() {
	_ = e.WaitAll(context.Background())
}

// CancelTask signals the latest run of key. It is a logged no-op when the key
// has no run or the run has already ended.
func (e *Engine[K, V]) CancelTask(key K) {
	rec, ok := e.runs.load(key)
	if !ok {
		e.logger.Warning(fmt.Sprintf("no cancellation controller found for task %v", key))
		return
	}
	if rec.terminal() {
		e.logger.Warning(fmt.Sprintf("task %v has already finished with status %s", key, rec.state()))
		return
	}

	rec.cancel()
	e.logger.Info(fmt.Sprintf("cancel requested for task %v", key))
}

// CancelAll signals every run, then waits for all of them like WaitAll.
// Queued definitions are left in the queue.
func (e *Engine[K, V]) CancelAll(ctx context.Context) error {
	recs := e.runs.snapshot()
	for _, rec := range recs {
		rec.cancel()
	}
	if err := waitAll(ctx, recs); err != nil {
		return err
	}
	e.logger.Info("all tasks cancelled or completed")
	return nil
}

// SetMaxDegreeOfParallelism resizes the gate. A non-positive n means the
// number of CPUs. Runs already waiting for a slot keep waiting on the
// previous gate generation.
func (e *Engine[K, V]) SetMaxDegreeOfParallelism(n int) {
	n = e.gate.Resize(n)
	e.metrics.capacity.Set(float64(n))
	e.logger.Info(fmt.Sprintf("max degree of parallelism set to %d", n))
}

// MaxDegreeOfParallelism is the current gate capacity.
func (e *Engine[K, V]) MaxDegreeOfParallelism() int {
	return e.gate.Capacity()
}

// GetTaskStatus returns the status of key's latest run, or queued if the key
// is only registered. Unknown keys yield ErrNotFound.
func (e *Engine[K, V]) GetTaskStatus(key K) (string, error) {
	if rec, ok := e.runs.load(key); ok {
		return rec.state(), nil
	}
	if e.queue.contains(key) {
		return model.StatusQueued, nil
	}
	e.logger.Error(fmt.Sprintf("task %v not found", key))
	return "", fmt.Errorf("%w: %v", ErrNotFound, key)
}

// GetAllTaskStatuses snapshots every started run, followed by keys that are
// registered but not started.
func (e *Engine[K, V]) GetAllTaskStatuses() []TaskStatus[K] {
	recs := e.runs.snapshot()
	out := make([]TaskStatus[K], 0, len(recs))
	seen := make(map[K]struct{}, len(recs))
	for _, rec := range recs {
		out = append(out, TaskStatus[K]{Key: rec.def.Key, Status: rec.state()})
		seen[rec.def.Key] = struct{}{}
	}
	for _, key := range e.queue.keys() {
		if _, ok := seen[key]; !ok {
			out = append(out, TaskStatus[K]{Key: key, Status: model.StatusQueued})
		}
	}
	return out
}

// GetResult blocks until key's latest run is terminal and returns its
// outcome. It returns ErrNotFound for unknown keys, ErrNotStarted for keys
// that are only queued, and ctx's error if ctx ends first.
func (e *Engine[K, V]) GetResult(ctx context.Context, key K) (Outcome[V], error) {
	rec, ok := e.runs.load(key)
	if !ok {
		if e.queue.contains(key) {
			return Outcome[V]{}, fmt.Errorf("%w: %v", ErrNotStarted, key)
		}
		e.logger.Error(fmt.Sprintf("task %v not found", key))
		return Outcome[V]{}, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	if err := rec.wait(ctx); err != nil {
		return Outcome[V]{}, err
	}
	return rec.outcome, nil
}

// GetAllResults returns the outcomes of every terminal run. Runs still in
// progress are skipped.
func (e *Engine[K, V]) GetAllResults() []TaskResult[K, V] {
	recs := e.runs.snapshot()
	out := make([]TaskResult[K, V], 0, len(recs))
	for _, rec := range recs {
		if !rec.terminal() {
			e.logger.Debug(fmt.Sprintf("task %v has no result yet (status %s)", rec.def.Key, rec.state()))
			continue
		}
		out = append(out, TaskResult[K, V]{Key: rec.def.Key, Outcome: rec.outcome})
	}
	return out
}

// ContainsTask reports whether key has been started at least once.
func (e *Engine[K, V]) ContainsTask(key K) bool {
	_, ok := e.runs.load(key)
	return ok
}

// Len is the number of registered definitions waiting for StartAll.
func (e *Engine[K, V]) Len() int {
	return e.queue.len()
}

// SubscribeProgress streams progress reports of key's latest run. The channel
// is closed when the run ends.
func (e *Engine[K, V]) SubscribeProgress(key K) (<-chan model.ProgressInfo, func(), error) {
	rec, ok := e.runs.load(key)
	if !ok {
		if e.queue.contains(key) {
			return nil, nil, fmt.Errorf("%w: %v", ErrNotStarted, key)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	ch, unsub := e.broker.Subscribe(rec.runID)
	return ch, unsub, nil
}

// waitAll blocks until every record is terminal or ctx is done.
func waitAll[K comparable, V any](ctx context.Context, recs []*record[K, V]) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range recs {
		g.Go(func() error {
			return rec.waitSettled(gctx)
		})
	}
	return g.Wait()
}
