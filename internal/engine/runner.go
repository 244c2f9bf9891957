package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/seantiz/taskgate/internal/gate"
	"github.com/seantiz/taskgate/internal/model"
)

// journalTimeout bounds a single journal write.
const journalTimeout = 5 * time.Second

// Outcome messages.
const (
	msgFinished  = "task finished"
	msgTimedOut  = "task timed out"
	msgCancelled = "task cancelled"
	msgFailed    = "task failed"
)

type attempt[V any] struct {
	value V
	err   error
}

// start creates a run for def, publishes it under def.Key and launches it.
func (e *Engine[K, V]) start(def Definition[K, V]) *record[K, V] {
	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecord(def, cancel, e.seq.Add(1))
	e.runs.store(rec)

	rep := newRunReporter(rec.done)
	go e.deliverProgress(rec, rep)
	go e.run(ctx, rec, rep)
	return rec
}

// run drives one record to its terminal status and publishes the outcome.
// The terminal status, the outcome and done become visible together; the
// journal write follows and closes settled.
func (e *Engine[K, V]) run(ctx context.Context, rec *record[K, V], rep Reporter) {
	defer rec.cancel()

	out := e.execute(ctx, rec, rep)
	out.RunID = rec.runID
	out.FinishedAt = time.Now()

	rec.outcome = out
	rec.transition(out.Status)
	close(rec.done)

	e.metrics.observe(out.Status, out.Duration())
	e.journal(rec, out)
	close(rec.settled)
}

// execute waits for a slot, then races the work against the timeout and the
// run's cancellation. The slot is returned to the pool that issued it.
func (e *Engine[K, V]) execute(ctx context.Context, rec *record[K, V], rep Reporter) Outcome[V] {
	def := rec.def

	permit, err := e.acquire(ctx, def.Key)
	if err != nil {
		e.logger.Warning(fmt.Sprintf("task %v cancelled while waiting for a slot", def.Key))
		return Outcome[V]{Status: model.StatusCancelled, Err: err, Message: msgCancelled}
	}
	defer permit.Release()

	rec.transition(model.StatusRunning)
	start := time.Now()
	e.logger.Info(fmt.Sprintf("task %v started (concurrency: %d / max: %d)",
		def.Key, e.gate.InFlight(), e.gate.Capacity()))

	results := make(chan attempt[V], 1)
	go func() {
		v, err := invoke(ctx, def, rep)
		results <- attempt[V]{value: v, err: err}
	}()

	var deadline <-chan time.Time
	if def.Timeout > 0 {
		timer := time.NewTimer(def.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case res := <-results:
		out := e.classify(def, res)
		out.StartedAt = start
		return out

	case <-deadline:
		e.logger.Error(fmt.Sprintf("task %v timed out after %.2f ms",
			def.Key, float64(time.Since(start).Microseconds())/1000))
		if def.OnTimeout != nil {
			e.detach(def.Key, callbackTimeout, func() { def.OnTimeout(def.Key) })
		}
		// The work keeps running if it ignores ctx; its result is dropped.
		rec.cancel()
		return Outcome[V]{Status: model.StatusTimedOut, Err: ErrTimeout, Message: msgTimedOut, StartedAt: start}

	case <-ctx.Done():
		e.logger.Warning(fmt.Sprintf("task %v cancelled", def.Key))
		return Outcome[V]{Status: model.StatusCancelled, Err: ctx.Err(), Message: msgCancelled, StartedAt: start}
	}
}

// acquire takes a free slot without blocking when there is one and otherwise
// waits in line for the current pool.
func (e *Engine[K, V]) acquire(ctx context.Context, key K) (*gate.Permit, error) {
	if ctx.Err() == nil {
		if p := e.gate.TryAcquire(); p != nil {
			return p, nil
		}
	}
	e.logger.Debug(fmt.Sprintf("task %v waiting for a slot (in flight: %d / max: %d)",
		key, e.gate.InFlight(), e.gate.Capacity()))
	return e.gate.Acquire(ctx)
}

// classify maps what the work returned to an outcome.
func (e *Engine[K, V]) classify(def Definition[K, V], res attempt[V]) Outcome[V] {
	switch {
	case res.err == nil:
		e.logger.Info(fmt.Sprintf("task %v completed", def.Key))
		if def.OnCompleted != nil {
			e.detach(def.Key, callbackCompleted, func() { def.OnCompleted(def.Key, res.value) })
		}
		return Outcome[V]{Status: model.StatusFinished, Value: res.value, Message: msgFinished}

	case errors.Is(res.err, context.Canceled):
		e.logger.Warning(fmt.Sprintf("task %v cancelled: %v", def.Key, res.err))
		return Outcome[V]{Status: model.StatusCancelled, Err: res.err, Message: msgCancelled}

	case errors.Is(res.err, context.DeadlineExceeded), errors.Is(res.err, ErrTimeout):
		e.logger.Error(fmt.Sprintf("task %v timed out: %v", def.Key, res.err))
		return Outcome[V]{Status: model.StatusTimedOut, Err: res.err, Message: msgTimedOut}

	default:
		e.logger.Error(fmt.Sprintf("task %v failed: %v", def.Key, res.err))
		return Outcome[V]{Status: model.StatusFailed, Err: res.err, Message: msgFailed}
	}
}

// invoke calls the work function, turning a panic into an error.
func invoke[K comparable, V any](ctx context.Context, def Definition[K, V], rep Reporter) (V, error) {
	var (
		v   V
		err error
	)
	if def.Work == nil {
		return v, ErrNoWork
	}

	var pc panics.Catcher
	pc.Try(func() { v, err = def.Work(ctx, def.Key, rep) })
	if r := pc.Recovered(); r != nil {
		var zero V
		return zero, r.AsError()
	}
	return v, err
}

// detach runs a user callback in its own goroutine. Panics are recovered and
// logged; nothing is reported back to the run.
func (e *Engine[K, V]) detach(key K, name string, fn func()) {
	go func() {
		var pc panics.Catcher
		pc.Try(fn)
		if r := pc.Recovered(); r != nil {
			e.metrics.callbackPanics.WithLabelValues(name).Inc()
			e.logger.Error(fmt.Sprintf("task %v %s callback panicked: %v", key, name, r.Value))
		}
	}()
}

// journal writes the terminal run to the configured journal, if any.
func (e *Engine[K, V]) journal(rec *record[K, V], out Outcome[V]) {
	if e.opts.journal == nil {
		return
	}

	run := &model.Run{
		ID:         rec.runID,
		Key:        fmt.Sprint(rec.def.Key),
		Status:     out.Status,
		Message:    out.Message,
		DurationMS: out.Duration().Milliseconds(),
		CreatedAt:  rec.created.UTC(),
		FinishedAt: out.FinishedAt.UTC(),
	}
	if out.Err != nil {
		run.Error = out.Err.Error()
	}
	if rec.def.Timeout > 0 {
		ms := rec.def.Timeout.Milliseconds()
		run.TimeoutMS = &ms
	}
	if !out.StartedAt.IsZero() {
		started := out.StartedAt.UTC()
		run.StartedAt = &started
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := e.opts.journal.RecordRun(ctx, run); err != nil {
		e.logger.Error(fmt.Sprintf("task %v: record run %s: %v", rec.def.Key, rec.runID, err))
	}
}
