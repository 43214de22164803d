// Package subutils contains Listener decorators for use with the project client.
package subutils

import (
	"context"
	"errors"
	"sync"

	"github.com/tsarna/runwire/pkg/runwire"
	"go.uber.org/zap"
)

var (
	ErrQueueFull      = errors.New("listener queue is full")
	ErrListenerClosed = errors.New("listener is closed")
)

type queuedMessage struct {
	ctx context.Context
	msg runwire.Message
}

// AsyncListener wraps another listener and delivers messages to it from a
// background goroutine through a buffered queue, so a slow observer never
// holds up the client's dispatch. When the queue is full OnMessage fails with
// ErrQueueFull and the message is not delivered.
//
// Example:
//
//	async := subutils.NewAsyncListener(printer, 100).Start()
//	defer async.Close()
//	c.Subscribe(async)
type AsyncListener struct {
	wrapped   runwire.Listener
	logger    *zap.Logger
	queue     chan queuedMessage
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncListener creates an AsyncListener with the given queue size.
// Start must be called before messages are processed.
func NewAsyncListener(wrapped runwire.Listener, queueSize int) *AsyncListener {
	if queueSize <= 0 {
		queueSize = 100
	}

	return &AsyncListener{
		wrapped: wrapped,
		logger:  zap.NewNop(),
		queue:   make(chan queuedMessage, queueSize),
		done:    make(chan struct{}),
	}
}

// WithLogger sets the logger used to report errors from the wrapped listener.
func (a *AsyncListener) WithLogger(logger *zap.Logger) *AsyncListener {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Start begins processing queued messages in a background goroutine.
func (a *AsyncListener) Start() *AsyncListener {
	a.wg.Add(1)
	go a.processQueue()
	return a
}

func (a *AsyncListener) processQueue() {
	defer a.wg.Done()

	for {
		select {
		case m := <-a.queue:
			a.deliver(m)
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncListener) drainQueue() {
	for {
		select {
		case m := <-a.queue:
			a.deliver(m)
		default:
			return
		}
	}
}

func (a *AsyncListener) deliver(m queuedMessage) {
	if err := a.wrapped.OnMessage(m.ctx, m.msg); err != nil {
		a.logger.Warn("Queued listener failed",
			zap.String("topic", m.msg.Topic()),
			zap.Int64("event_id", m.msg.EventID),
			zap.Error(err),
		)
	}
}

// OnMessage queues msg and returns immediately.
func (a *AsyncListener) OnMessage(ctx context.Context, msg runwire.Message) error {
	if a.IsClosed() {
		return ErrListenerClosed
	}

	select {
	case a.queue <- queuedMessage{ctx: ctx, msg: msg}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the background goroutine after delivering everything already
// queued.
func (a *AsyncListener) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

// QueueSize returns the current number of messages in the queue
func (a *AsyncListener) QueueSize() int {
	return len(a.queue)
}

// QueueCapacity returns the maximum capacity of the queue
func (a *AsyncListener) QueueCapacity() int {
	return cap(a.queue)
}

func (a *AsyncListener) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
