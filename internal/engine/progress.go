package engine

import (
	"fmt"
	"sync"

	"github.com/seantiz/taskgate/internal/model"
)

const (
	// subscriberBufferSize is the channel buffer for each progress subscriber.
	// Reports are dropped if a subscriber falls this far behind.
	subscriberBufferSize = 64

	// reportBufferSize bounds reports waiting to be delivered for one run.
	reportBufferSize = 64
)

// ProgressBroker fans progress reports out to subscribers, one topic per run.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan model.ProgressInfo
	nextID int
	closed bool
}

// NewProgressBroker creates an empty broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Subscribe returns a channel that receives progress for the given run and an
// unsubscribe function. If the run has already ended, the channel is closed.
func (b *ProgressBroker) Subscribe(runID string) (<-chan model.ProgressInfo, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan model.ProgressInfo)}
		b.topics[runID] = t
	}

	ch := make(chan model.ProgressInfo, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends info to every subscriber of the run, dropping it for
// subscribers whose buffers are full.
func (b *ProgressBroker) Publish(runID string, info model.ProgressInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- info:
		default:
		}
	}
}

// Close ends the run's topic. Subscriber channels are closed and future
// Subscribe calls return a closed channel.
func (b *ProgressBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		b.topics[runID] = &progressTopic{subs: make(map[int]chan model.ProgressInfo), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// runReporter is the Reporter handed to a run's work function. Reports are
// buffered and delivered by a separate goroutine so work never blocks on the
// logger or on subscribers.
type runReporter struct {
	ch   chan model.ProgressInfo
	done <-chan struct{}
}

func newRunReporter(done <-chan struct{}) *runReporter {
	return &runReporter{
		ch:   make(chan model.ProgressInfo, reportBufferSize),
		done: done,
	}
}

func (r *runReporter) Report(percentage int, message string) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.ch <- model.ProgressInfo{Percentage: percentage, Message: message}:
	default:
	}
}

// deliverProgress logs and publishes reports for one run until it ends, then
// flushes what is still buffered and closes the run's topic.
func (e *Engine[K, V]) deliverProgress(rec *record[K, V], rep *runReporter) {
	defer e.broker.Close(rec.runID)

	deliver := func(info model.ProgressInfo) {
		e.logger.Info(fmt.Sprintf("task %v progress: %s", rec.def.Key, info))
		e.broker.Publish(rec.runID, info)
	}

	for {
		select {
		case info := <-rep.ch:
			deliver(info)
		case <-rec.done:
			for {
				select {
				case info := <-rep.ch:
					deliver(info)
				default:
					return
				}
			}
		}
	}
}
