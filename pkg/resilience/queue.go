package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
)

// ErrQueueClosed rejects requests still pending when the queue shuts down
var ErrQueueClosed = stderrors.New("request queue closed")

// QueueConfig holds the drain timing
type QueueConfig struct {
	// InitialPoll is the wait before the first breaker check
	InitialPoll time.Duration
	// DrainInterval is the wait between later checks
	DrainInterval time.Duration
}

// DefaultQueueConfig polls after 1s and then every 100ms
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		InitialPoll:   time.Second,
		DrainInterval: 100 * time.Millisecond,
	}
}

// Future is the pending result of a queued request
type Future struct {
	once  sync.Once
	done  chan struct{}
	value interface{}
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value interface{}, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done is closed once the request has been resolved or rejected
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the request completes or ctx is done. Abandoning the wait
// does not remove the request; the drain loop rejects it later.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type queuedRequest struct {
	ctx    context.Context
	op     Operation
	opts   ExecuteOptions
	future *Future
}

type submitFunc func(ctx context.Context, op Operation, opts ExecuteOptions) (interface{}, error)

// RequestQueue holds calls deferred while the circuit is open and replays
// them in FIFO order, one at a time, once the circuit allows.
type RequestQueue struct {
	initialPoll   time.Duration
	drainInterval time.Duration
	allow         func() bool
	submit        submitFunc
	logger        *logging.Logger

	mu       sync.Mutex
	items    []*queuedRequest
	draining bool
	closed   bool
	stop     chan struct{}
}

func newRequestQueue(config QueueConfig, allow func() bool, submit submitFunc, logger *logging.Logger) *RequestQueue {
	defaults := DefaultQueueConfig()
	if config.InitialPoll <= 0 {
		config.InitialPoll = defaults.InitialPoll
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = defaults.DrainInterval
	}

	return &RequestQueue{
		initialPoll:   config.InitialPoll,
		drainInterval: config.DrainInterval,
		allow:         allow,
		submit:        submit,
		logger:        logger,
		stop:          make(chan struct{}),
	}
}

// Enqueue appends a request and starts the drain loop if it is idle
func (q *RequestQueue) Enqueue(ctx context.Context, op Operation, opts ExecuteOptions) *Future {
	future := newFuture()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		future.resolve(nil, ErrQueueClosed)
		return future
	}

	q.items = append(q.items, &queuedRequest{ctx: ctx, op: op, opts: opts, future: future})
	if !q.draining {
		q.draining = true
		go q.drain()
	}
	q.mu.Unlock()

	return future
}

// Len returns the number of pending requests
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops draining and rejects every pending request with ErrQueueClosed
func (q *RequestQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.items
	q.items = nil
	close(q.stop)
	q.mu.Unlock()

	for _, req := range pending {
		req.future.resolve(nil, ErrQueueClosed)
	}
}

func (q *RequestQueue) drain() {
	wait := q.initialPoll

	for {
		timer := time.NewTimer(wait)
		select {
		case <-q.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		wait = q.drainInterval

		if q.idle() {
			return
		}
		if !q.allow() {
			continue
		}

		req := q.popFront()
		if req == nil {
			return
		}

		if err := req.ctx.Err(); err != nil {
			req.future.resolve(nil, err)
			continue
		}

		opts := req.opts
		opts.QueueWhenOpen = false
		value, err := q.submit(req.ctx, req.op, opts)

		if errors.IsType(err, errors.ErrorTypeCircuitOpen) {
			if !q.pushFront(req) {
				req.future.resolve(nil, ErrQueueClosed)
			}
			q.logger.Debug("Queued request met an open circuit, requeued")
			continue
		}

		req.future.resolve(value, err)
		q.logger.Debug("Queued request drained", "success", err == nil, "remaining", q.Len())
	}
}

// idle marks the loop stopped when nothing is pending
func (q *RequestQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || q.closed {
		q.draining = false
		return true
	}
	return false
}

func (q *RequestQueue) popFront() *queuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.draining = false
		return nil
	}

	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return req
}

// pushFront returns a request to the head after it met an open circuit again
func (q *RequestQueue) pushFront(req *queuedRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append([]*queuedRequest{req}, q.items...)
	return true
}
