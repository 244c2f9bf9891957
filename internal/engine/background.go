package engine

import (
	"context"
	"time"

	"github.com/seantiz/taskgate/internal/logging"
	"github.com/seantiz/taskgate/internal/model"
)

// BackgroundDefinition describes work that produces no value.
type BackgroundDefinition[K comparable] struct {
	Key       K
	Work      func(ctx context.Context, key K, progress Reporter) error
	Timeout   time.Duration
	OnTimeout func(key K)
}

func (d BackgroundDefinition[K]) definition() Definition[K, struct{}] {
	def := Definition[K, struct{}]{
		Key:       d.Key,
		Timeout:   d.Timeout,
		OnTimeout: d.OnTimeout,
	}
	if d.Work != nil {
		work := d.Work
		def.Work = func(ctx context.Context, key K, progress Reporter) (struct{}, error) {
			return struct{}{}, work(ctx, key, progress)
		}
	}
	return def
}

// Background is the fire-and-forget engine: outcomes are logged and
// reflected in task statuses, but no values are kept for callers.
type Background[K comparable] struct {
	e *Engine[K, struct{}]
}

// NewBackground creates a fire-and-forget engine. See New.
func NewBackground[K comparable](logger logging.Logger, maxDegreeOfParallelism int, opts ...Option) *Background[K] {
	return &Background[K]{e: New[K, struct{}](logger, maxDegreeOfParallelism, opts...)}
}

// RegisterTask queues def until StartAll. A queued definition with the same
// key is replaced.
func (b *Background[K]) RegisterTask(def BackgroundDefinition[K]) {
	b.e.RegisterTask(def.definition())
}

// RegisterAndRunTask starts def immediately without waiting for it.
func (b *Background[K]) RegisterAndRunTask(def BackgroundDefinition[K]) {
	b.e.RegisterAndRunTask(def.definition())
}

// StartAll starts every queued definition and waits for them to finish.
func (b *Background[K]) StartAll(ctx context.Context) error { return b.e.StartAll(ctx) }

// WaitAll waits for every run started so far.
func (b *Background[K]) WaitAll(ctx context.Context) error { return b.e.WaitAll(ctx) }

// Wait is WaitAll without a deadline.
func (b *Background[K]) Wait() { b.e.Wait() }

// CancelTask signals the latest run of key.
func (b *Background[K]) CancelTask(key K) { b.e.CancelTask(key) }

// CancelAll signals every run and waits for them to end.
func (b *Background[K]) CancelAll(ctx context.Context) error { return b.e.CancelAll(ctx) }

// SetMaxDegreeOfParallelism resizes the gate; see Engine.SetMaxDegreeOfParallelism.
func (b *Background[K]) SetMaxDegreeOfParallelism(n int) { b.e.SetMaxDegreeOfParallelism(n) }

// MaxDegreeOfParallelism is the current gate capacity.
func (b *Background[K]) MaxDegreeOfParallelism() int { return b.e.MaxDegreeOfParallelism() }

// GetTaskStatus returns the status of key's latest run, or queued.
func (b *Background[K]) GetTaskStatus(key K) (string, error) { return b.e.GetTaskStatus(key) }

// GetAllTaskStatuses snapshots started runs followed by queued keys.
func (b *Background[K]) GetAllTaskStatuses() []TaskStatus[K] { return b.e.GetAllTaskStatuses() }

// ContainsTask reports whether key has been started at least once.
func (b *Background[K]) ContainsTask(key K) bool { return b.e.ContainsTask(key) }

// Len is the number of definitions waiting for StartAll.
func (b *Background[K]) Len() int { return b.e.Len() }

// SubscribeProgress streams progress reports of key's latest run.
func (b *Background[K]) SubscribeProgress(key K) (<-chan model.ProgressInfo, func(), error) {
	return b.e.SubscribeProgress(key)
}
