package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueStopped is returned by Do when the queue is not running.
var ErrQueueStopped = errors.New("idle queue stopped")

// DefaultSettle is how long the worker waits after being woken before draining.
const DefaultSettle = 100 * time.Millisecond

type queuedJob struct {
	key    string // "" = never coalesced
	job    func() error
	result chan error // non-nil for Do
}

// IdleQueue runs deferred jobs one at a time on a single worker goroutine.
// Watcher handlers enqueue here instead of fixing files on the delivery
// goroutine. A job whose key is already pending is dropped: the pending run
// reads the file's latest content anyway.
type IdleQueue struct {
	settle time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending []queuedJob
	keys    map[string]struct{}
	wake    chan struct{}
	done    chan struct{}
	exited  chan struct{}
	running bool

	coalesced atomic.Uint64
	ran       atomic.Uint64
	failed    atomic.Uint64
}

// QueueStats counts queue activity since construction.
type QueueStats struct {
	Pending   int    `json:"pending"`
	Ran       uint64 `json:"ran"`
	Failed    uint64 `json:"failed"`
	Coalesced uint64 `json:"coalesced"`
}

// NewIdleQueue creates a stopped queue. A negative settle disables the wait.
func NewIdleQueue(settle time.Duration, logger *slog.Logger) *IdleQueue {
	if settle == 0 {
		settle = DefaultSettle
	}
	if settle < 0 {
		settle = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleQueue{
		settle: settle,
		logger: logger.With("component", "queue"),
		keys:   make(map[string]struct{}),
	}
}

// Start launches the worker. Calling Start on a running queue is a no-op.
func (q *IdleQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.wake = make(chan struct{}, 1)
	q.done = make(chan struct{})
	q.exited = make(chan struct{})
	q.running = true
	go q.loop(q.wake, q.done, q.exited)
	if len(q.pending) > 0 {
		q.signalLocked()
	}
}

// Stop halts the worker after the job in progress finishes. Jobs still
// pending are discarded. Safe to call more than once.
func (q *IdleQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.done)
	exited := q.exited
	dropped := q.pending
	q.pending = nil
	q.keys = make(map[string]struct{})
	q.mu.Unlock()

	<-exited
	for _, j := range dropped {
		if j.result != nil {
			j.result <- ErrQueueStopped
		}
	}
}

// Defer enqueues job under key. It reports false when the job was coalesced
// into an already pending job with the same key. Jobs deferred while the queue
// is stopped wait for the next Start.
func (q *IdleQueue) Defer(key string, job func() error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if key != "" {
		if _, ok := q.keys[key]; ok {
			q.coalesced.Add(1)
			return false
		}
		q.keys[key] = struct{}{}
	}
	q.pending = append(q.pending, queuedJob{key: key, job: job})
	if q.running {
		q.signalLocked()
	}
	return true
}

// Do enqueues job behind everything already pending and waits for its result.
// Do jobs are never coalesced.
func (q *IdleQueue) Do(job func() error) error {
	result := make(chan error, 1)
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	q.pending = append(q.pending, queuedJob{job: job, result: result})
	q.signalLocked()
	q.mu.Unlock()
	return <-result
}

// Flush blocks until every job queued before the call has run.
func (q *IdleQueue) Flush() error {
	return q.Do(func() error { return nil })
}

// Stats returns a snapshot of the queue counters.
func (q *IdleQueue) Stats() QueueStats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()
	return QueueStats{
		Pending:   pending,
		Ran:       q.ran.Load(),
		Failed:    q.failed.Load(),
		Coalesced: q.coalesced.Load(),
	}
}

func (q *IdleQueue) signalLocked() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *IdleQueue) loop(wake <-chan struct{}, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	for {
		select {
		case <-done:
			return
		case <-wake:
		}
		if q.settle > 0 {
			select {
			case <-done:
				return
			case <-time.After(q.settle):
			}
		}
		if !q.drain(done) {
			return
		}
	}
}

// drain runs pending jobs until the queue is empty. It reports false when
// the queue was stopped mid-drain.
func (q *IdleQueue) drain(done <-chan struct{}) bool {
	for {
		select {
		case <-done:
			return false
		default:
		}

		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return true
		}
		j := q.pending[0]
		q.pending = q.pending[1:]
		if j.key != "" {
			// Released before running so an event during the run queues a fresh pass.
			delete(q.keys, j.key)
		}
		q.mu.Unlock()

		err := q.exec(j)
		q.ran.Add(1)
		if err != nil {
			q.failed.Add(1)
			q.logger.Error("deferred job failed", "key", j.key, "error", err)
		}
		if j.result != nil {
			j.result <- err
		}
	}
}

func (q *IdleQueue) exec(j queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.job()
}
