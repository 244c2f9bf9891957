package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seantiz/taskgate/internal/model"
)

// recordingLogger keeps every message for later assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *recordingLogger) Debug(msg string)   { l.add("DEBUG", msg) }
func (l *recordingLogger) Info(msg string)    { l.add("INFO", msg) }
func (l *recordingLogger) Warning(msg string) { l.add("WARN", msg) }
func (l *recordingLogger) Error(msg string)   { l.add("ERROR", msg) }
func (l *recordingLogger) Fatal(msg string)   { l.add("FATAL", msg) }

func (l *recordingLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			n++
		}
	}
	return n
}

// peakCounter tracks the highest number of concurrent holders.
type peakCounter struct {
	cur, peak atomic.Int64
}

func (p *peakCounter) enter() {
	n := p.cur.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			return
		}
	}
}

func (p *peakCounter) leave() { p.cur.Add(-1) }

// sleepWork ignores cancellation and returns v after d.
func sleepWork[V any](d time.Duration, v V) WorkFunc[string, V] {
	return func(context.Context, string, Reporter) (V, error) {
		time.Sleep(d)
		return v, nil
	}
}

// blockingWork waits for release or cancellation.
func blockingWork(release <-chan struct{}) WorkFunc[string, int] {
	return func(ctx context.Context, _ string, _ Reporter) (int, error) {
		select {
		case <-release:
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func waitStatus[V any](t *testing.T, e *Engine[string, V], key, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := e.GetTaskStatus(key)
		return err == nil && got == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", key, want)
}

func resultOf[V any](t *testing.T, e *Engine[string, V], key string) Outcome[V] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := e.GetResult(ctx, key)
	require.NoError(t, err)
	require.True(t, model.IsTerminal(out.Status))
	return out
}
