// Package client implements the console side of a project channel: a
// long-lived connection that performs the handshake, correlates replies with
// the requests that caused them, broadcasts everything else to listeners and
// reconnects on its own after an unexpected drop.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/o11y"
	"github.com/tsarna/runwire/pkg/runwire/subutils"
	"github.com/tsarna/runwire/pkg/runwire/transport"
	"go.uber.org/zap"
)

var (
	ErrNotConnected   = errors.New("client is not connected")
	ErrClientClosed   = errors.New("client is closed")
	ErrNotStarted     = errors.New("client is not started")
	ErrAlreadyStarted = errors.New("client is already started")
)

// State is the connection state of a Client.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is a reconnecting connection to one project's channel.
//
// All mutable state (pending requests, listeners, state and the current
// session) is guarded by a single mutex. Reply callbacks, listeners, the
// project log sink and the notifier are always invoked without it held.
type Client struct {
	url            string
	project        runwire.Project
	logger         *zap.Logger
	notifier       runwire.Notifier
	dialer         transport.Dialer
	reconnectDelay time.Duration
	metrics        *clientMetrics
	tracer         o11y.TracingProvider

	ready  *runwire.Value[bool]
	closed chan struct{}

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	started        bool
	closeRequested bool
	state          State
	current        *sessionHandler
	session        transport.Session
	reconnectTimer *time.Timer
	nextID         int64
	pending        *pendingTable
	listeners      listenerSet
}

// newIDSeed places each client at a random offset so ids from different
// clients talking to the same server are unlikely to collide.
func newIDSeed() int64 {
	return rand.Int64N(100_000_000) * 1000
}

// Start opens the first connection. It returns immediately; connection
// failures are retried in the background and reported through the notifier.
// Cancelling ctx closes the client.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closeRequested {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.ctx, c.cancel = runCtx, cancel
	c.mu.Unlock()

	context.AfterFunc(runCtx, func() { _ = c.Close() })

	c.connect(false)
	return nil
}

// Close terminates the current connection and stops reconnecting, including
// a reconnect that is already scheduled. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closeRequested {
		c.mu.Unlock()
		return nil
	}
	c.closeRequested = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.setStateLocked(StateClosed)
	session := c.session
	cancel := c.cancel
	c.mu.Unlock()

	close(c.closed)
	c.logger.Info("Closing project client")

	if session != nil {
		_ = session.Close()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) Project() runwire.Project {
	return c.project
}

// Ready exposes the connectivity flag: true between a successful handshake
// and the next disconnection. Watch callbacks run synchronously during the
// client's state change and must not call back into the Client.
func (c *Client) Ready() runwire.ReadOnly[bool] {
	return c.ready
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingCount returns the number of requests still waiting for a reply.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.len()
}

// WaitReady blocks until the client is ready, ctx is done or the client is
// closed.
func (c *Client) WaitReady(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	stop := c.ready.Watch(func(bool) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer stop()

	for {
		if c.ready.Get() {
			return nil
		}
		select {
		case <-changed:
		case <-c.closed:
			return ErrClientClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send assigns msg a fresh event id, binds it to the client's project and
// writes it. Any EventID or ProjectID set by the caller is overwritten. If
// onReply is non-nil it is registered before the write and called once with
// the reply. Sending is only possible once the handshake has completed.
func (c *Client) Send(ctx context.Context, msg runwire.Message, onReply runwire.ReplyFunc) (int64, error) {
	c.mu.Lock()
	switch {
	case c.closeRequested:
		c.mu.Unlock()
		return 0, ErrClientClosed
	case !c.started:
		c.mu.Unlock()
		return 0, ErrNotStarted
	case c.state != StateReady || c.session == nil:
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	session := c.session
	id := c.allocateIDLocked()
	c.mu.Unlock()

	if err := c.sendOn(ctx, session, id, msg, onReply); err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			return 0, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return 0, err
	}
	return id, nil
}

// Request sends msg and waits for its reply. If ctx ends first the pending
// entry is withdrawn, so a late reply is delivered to listeners as an event.
func (c *Client) Request(ctx context.Context, msg runwire.Message) (runwire.Message, error) {
	replies := make(chan runwire.Message, 1)
	id, err := c.Send(ctx, msg, func(reply runwire.Message) {
		replies <- reply
	})
	if err != nil {
		return runwire.Message{}, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-c.closed:
		err = ErrClientClosed
	}

	if !c.withdraw(id) {
		// The reply won the race and its callback is already running.
		return <-replies, nil
	}
	return runwire.Message{}, fmt.Errorf("request %d abandoned: %w", id, err)
}

// Subscribe registers a listener for every future event. Replies to pending
// requests are never delivered to listeners.
func (c *Client) Subscribe(listener runwire.Listener) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeners.add(listener)
}

// SubscribeTopic registers a listener for events whose topic matches an
// MQTT-style pattern, e.g. "log/#" or "scalar/+".
func (c *Client) SubscribeTopic(pattern string, listener runwire.Listener) Handle {
	return c.Subscribe(subutils.NewPatternListener(pattern, listener))
}

// Unsubscribe removes a listener. It may be called from inside a listener;
// the removed listener receives nothing further, including the rest of the
// event being dispatched.
func (c *Client) Unsubscribe(handle Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeners.remove(handle)
}

func (c *Client) allocateIDLocked() int64 {
	c.nextID++
	return c.nextID
}

func (c *Client) setStateLocked(state State) {
	c.state = state
	ready := state == StateReady
	if c.ready.Set(ready) {
		c.metrics.setConnected(ready)
	}
}

func (c *Client) withdraw(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending.take(id)
	c.metrics.setPending(c.pending.len())
	return ok
}

func (c *Client) sendOn(ctx context.Context, session transport.Session, id int64, msg runwire.Message, onReply runwire.ReplyFunc) error {
	msg.EventID = id
	msg.ProjectID = c.project.ID()

	ctx, span := c.tracer.StartSpan(ctx, spanSend)
	defer span.End()
	span.SetAttributes(
		o11y.Label{Key: "event_type", Value: string(msg.EventType)},
		o11y.Label{Key: "event_id", Value: strconv.FormatInt(id, 10)},
	)

	data, err := runwire.EncodeMessage(msg)
	if err != nil {
		span.SetStatus(o11y.SpanStatusError, err.Error())
		return err
	}

	if onReply != nil {
		onReply = c.timeReply(msg.EventType, onReply)
		c.mu.Lock()
		err = c.pending.register(id, onReply)
		c.metrics.setPending(c.pending.len())
		c.mu.Unlock()
		if err != nil {
			span.SetStatus(o11y.SpanStatusError, err.Error())
			return err
		}
	}

	if err := session.Send(ctx, data); err != nil {
		if onReply != nil {
			c.withdraw(id)
		}
		span.SetStatus(o11y.SpanStatusError, err.Error())
		return fmt.Errorf("failed to send %s message: %w", msg.EventType, err)
	}

	c.metrics.messageSent(string(msg.EventType))
	c.logger.Debug("Message sent",
		zap.String("event_type", string(msg.EventType)),
		zap.Int64("event_id", id),
		zap.Bool("expects_reply", onReply != nil),
	)
	span.SetStatus(o11y.SpanStatusOK, "")
	return nil
}

func (c *Client) connect(reconnect bool) {
	c.mu.Lock()
	if c.closeRequested {
		c.mu.Unlock()
		return
	}
	h := &sessionHandler{client: c, reconnect: reconnect}
	c.current = h
	c.session = nil
	c.reconnectTimer = nil
	c.setStateLocked(StateConnecting)
	ctx := c.ctx
	c.mu.Unlock()

	if reconnect {
		c.metrics.reconnecting()
	}
	c.logger.Info("Connecting to project channel", zap.Bool("reconnect", reconnect))

	session := c.dialer.Open(ctx, c.url, h)

	c.mu.Lock()
	if c.current == h && c.session == nil {
		c.session = session
	}
	abandon := c.closeRequested && c.current == h
	c.mu.Unlock()

	if abandon {
		_ = session.Close()
	}
}

// timeReply wraps onReply so the time until the reply arrives is recorded.
func (c *Client) timeReply(eventType runwire.EventType, onReply runwire.ReplyFunc) runwire.ReplyFunc {
	sent := time.Now()
	return func(reply runwire.Message) {
		c.metrics.replyReceived(string(eventType), time.Since(sent))
		onReply(reply)
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeRequested || c.current != nil || c.reconnectTimer != nil {
		return
	}
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		c.connect(true)
	})
}

func (c *Client) notify(severity runwire.Severity, title string) {
	c.notifier.Notify(runwire.Notice{
		ID:       runwire.ConnectionNoticeID,
		Severity: severity,
		Title:    title,
		Content:  fmt.Sprintf("project \"%s\"", c.project.NameOrID()),
	})
}

// sessionHandler receives the callbacks of one transport session. Callbacks
// from a handler that is no longer the client's current one are ignored.
type sessionHandler struct {
	client    *Client
	reconnect bool
}

func (h *sessionHandler) OnOpen(s transport.Session) {
	c := h.client

	c.mu.Lock()
	if c.current != h || c.closeRequested {
		c.mu.Unlock()
		_ = s.Close()
		return
	}
	c.session = s
	id := c.allocateIDLocked()
	ctx := c.ctx
	c.mu.Unlock()

	c.logger.Info("Project channel opened, sending handshake", zap.Int64("event_id", id))

	handshake := runwire.Message{
		EventType:    runwire.EventTypeHandshake,
		IdentityType: runwire.IdentityWeb,
	}
	if err := c.sendOn(ctx, s, id, handshake, h.onHandshake); err != nil {
		c.logger.Error("Failed to send handshake", zap.Error(err))
		_ = s.Close()
	}
}

func (h *sessionHandler) onHandshake(reply runwire.Message) {
	c := h.client

	c.mu.Lock()
	if c.current != h || c.closeRequested {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateReady)
	c.mu.Unlock()

	c.logger.Info("Project channel ready", zap.Bool("reconnect", h.reconnect))
	if h.reconnect {
		c.notify(runwire.SeveritySuccess, "WebSocket reconnected")
	}
}

func (h *sessionHandler) OnFrame(s transport.Session, data []byte) {
	c := h.client

	msg, err := runwire.DecodeMessage(data)
	var payloadErr *runwire.PayloadError
	switch {
	case errors.As(err, &payloadErr):
		c.metrics.payloadMismatch(string(msg.EventType))
		c.logger.Warn("Keeping frame with unexpected payload",
			zap.String("event_type", string(msg.EventType)),
			zap.Int64("event_id", msg.EventID),
			zap.Error(err),
		)
	case err != nil:
		c.metrics.decodeFailed()
		c.logger.Warn("Dropping undecodable frame", zap.Int("size", len(data)), zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.current != h || c.closeRequested {
		c.mu.Unlock()
		return
	}
	callback, isReply := c.pending.take(msg.EventID)
	var regs []*registration
	if isReply {
		c.metrics.setPending(c.pending.len())
	} else {
		regs = c.listeners.snapshot()
	}
	ctx := c.ctx
	c.mu.Unlock()

	if isReply {
		c.metrics.messageReceived("reply")
		c.logger.Debug("Reply received",
			zap.String("event_type", string(msg.EventType)),
			zap.Int64("event_id", msg.EventID),
		)
		callback(msg)
		return
	}

	c.metrics.messageReceived("event")
	c.logger.Debug("Event received",
		zap.String("topic", msg.Topic()),
		zap.Int64("event_id", msg.EventID),
		zap.Int("listeners", len(regs)),
	)
	dispatch(ctx, c.logger, c.project, regs, msg)
}

func (h *sessionHandler) OnClose(s transport.Session, err error) {
	c := h.client

	c.mu.Lock()
	if c.current != h {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.session = nil
	intentional := c.closeRequested
	if intentional {
		c.setStateLocked(StateClosed)
	} else {
		c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()

	if intentional {
		c.logger.Info("Project channel closed")
		return
	}

	c.logger.Warn("Project channel disconnected",
		zap.Duration("reconnect_delay", c.reconnectDelay),
		zap.Error(err),
	)
	c.notify(runwire.SeverityError, "WebSocket disconnected")
	c.scheduleReconnect()
}
