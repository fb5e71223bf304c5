package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interop/fault"
)

// Task is a unit of deferred work run by the Loop.
type Task func(ctx context.Context)

// Loop is the cooperative event queue. Nothing runs in the background: tasks
// execute only when a caller pumps the loop, normally from Future.Await.
type Loop struct {
	logger *zap.Logger
	signal chan struct{}
	queue  []Task
	mu     sync.Mutex
	closed bool
}

// NewLoop creates an empty loop.
func NewLoop(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger: logger,
		signal: make(chan struct{}, 1),
	}
}

// Post queues task. It returns false once the loop is closed.
func (l *Loop) Post(task Task) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// Pump runs the oldest queued task, if any, and reports whether one ran.
func (l *Loop) Pump(ctx context.Context) bool {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	l.mu.Unlock()

	if cbe := fault.Guard(func() error { task(ctx); return nil }); cbe != nil {
		l.logger.Error("loop task panicked",
			zap.String("kind", cbe.Kind),
			zap.String("message", cbe.Message))
	}
	return true
}

// Drain pumps until the queue is empty and returns the number of tasks run.
func (l *Loop) Drain(ctx context.Context) int {
	n := 0
	for l.Pump(ctx) {
		n++
	}
	return n
}

// Wait returns a channel that receives after a task is posted.
func (l *Loop) Wait() <-chan struct{} {
	return l.signal
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting tasks and discards the queue.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.queue = nil
}
