package engine

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/taskgate/internal/model"
)

var (
	// ErrNotFound is returned for keys the engine has never seen.
	ErrNotFound = errors.New("task not found")

	// ErrNotStarted is returned by calls that need a run for a key that is
	// registered but still waiting in the queue.
	ErrNotStarted = errors.New("task registered but not started")

	// ErrTimeout is the outcome error of a run whose timeout elapsed. Work
	// may also return it (or context.DeadlineExceeded) to report a timeout.
	ErrTimeout = errors.New("task timed out")

	// ErrNoWork is the outcome error of a definition without a work function.
	ErrNoWork = errors.New("task has no work function")
)

// Reporter receives progress from inside a running task. Delivery is
// best-effort and never blocks the caller.
type Reporter interface {
	Report(percentage int, message string)
}

// WorkFunc is the body of a task. It should return promptly once ctx is
// cancelled, but the engine does not rely on it.
type WorkFunc[K comparable, V any] func(ctx context.Context, key K, progress Reporter) (V, error)

// Definition describes one unit of work. The engine copies definitions and
// never modifies them.
type Definition[K comparable, V any] struct {
	Key  K
	Work WorkFunc[K, V]

	// Timeout bounds how long the work may run once it holds a slot.
	// Zero or negative means no timeout.
	Timeout time.Duration

	// OnTimeout runs in its own goroutine when the timeout elapses.
	OnTimeout func(key K)

	// OnCompleted runs in its own goroutine when the work finishes
	// without error.
	OnCompleted func(key K, value V)
}

// Outcome is the terminal record of a single run.
type Outcome[V any] struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Value   V      `json:"value,omitempty"`
	Err     error  `json:"-"`
	Message string `json:"message"`

	// StartedAt is zero when the run was cancelled before it got a slot.
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the run held a slot.
func (o Outcome[V]) Duration() time.Duration {
	if o.StartedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// TaskStatus pairs a key with its status at the time of the snapshot.
type TaskStatus[K comparable] struct {
	Key    K      `json:"key"`
	Status string `json:"status"`
}

// TaskResult pairs a key with the outcome of its latest run.
type TaskResult[K comparable, V any] struct {
	Key     K          `json:"key"`
	Outcome Outcome[V] `json:"outcome"`
}

// Journal persists terminal runs. See store.SQLiteStore.
type Journal interface {
	RecordRun(ctx context.Context, run *model.Run) error
}
