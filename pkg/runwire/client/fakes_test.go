package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/transport"
)

var errConnectionReset = errors.New("connection reset by peer")

// fakeSession is a transport.Session driven by the test: the test decides
// when it opens, what frames arrive and when it drops.
type fakeSession struct {
	handler transport.Handler

	mu      sync.Mutex
	open    bool
	ended   bool
	sent    []runwire.Message
	sendErr error
}

func (s *fakeSession) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	if !s.open {
		return transport.ErrNotOpen
	}
	msg, err := runwire.DecodeMessage(data)
	if err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSession) Close() error {
	if s.end() {
		s.handler.OnClose(s, transport.ErrClosed)
	}
	return nil
}

func (s *fakeSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSession) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.open = false
	return true
}

// accept completes the connection.
func (s *fakeSession) accept() {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	s.handler.OnOpen(s)
}

// drop ends the session as if the network failed.
func (s *fakeSession) drop() {
	if s.end() {
		s.handler.OnClose(s, errConnectionReset)
	}
}

func (s *fakeSession) deliver(t *testing.T, msg runwire.Message) {
	t.Helper()
	data, err := runwire.EncodeMessage(msg)
	require.NoError(t, err)
	s.handler.OnFrame(s, data)
}

func (s *fakeSession) deliverRaw(data []byte) {
	s.handler.OnFrame(s, data)
}

func (s *fakeSession) setSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *fakeSession) sentMessages() []runwire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]runwire.Message(nil), s.sent...)
}

func (s *fakeSession) lastSent(t *testing.T) runwire.Message {
	t.Helper()
	sent := s.sentMessages()
	require.NotEmpty(t, sent, "nothing was sent on this session")
	return sent[len(sent)-1]
}

// handshake answers the handshake the client sent when the session opened.
func (s *fakeSession) handshake(t *testing.T) runwire.Message {
	t.Helper()
	sent := s.sentMessages()
	require.NotEmpty(t, sent)
	hs := sent[0]
	require.Equal(t, runwire.EventTypeHandshake, hs.EventType)
	s.deliver(t, runwire.Message{
		EventType:    runwire.EventTypeHandshake,
		EventID:      hs.EventID,
		IdentityType: runwire.IdentityWeb,
		Payload:      runwire.RawPayload{Raw: json.RawMessage(`{"result":200}`)},
	})
	return hs
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	urls     []string
	opened   chan *fakeSession
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{opened: make(chan *fakeSession, 16)}
}

func (d *fakeDialer) Open(ctx context.Context, url string, handler transport.Handler) transport.Session {
	s := &fakeSession{handler: handler}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	d.opened <- s
	return s
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) next(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-d.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection attempt")
		return nil
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []runwire.Notice
}

func (n *recordingNotifier) Notify(notice runwire.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []runwire.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]runwire.Notice(nil), n.notices...)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type recordingLogSink struct {
	mu      sync.Mutex
	records []runwire.LogRecord
}

func (r *recordingLogSink) handle(record runwire.LogRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *recordingLogSink) all() []runwire.LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runwire.LogRecord(nil), r.records...)
}

type recordingListener struct {
	mu       sync.Mutex
	messages []runwire.Message
	onMsg    func(msg runwire.Message)
	err      error
}

func (l *recordingListener) OnMessage(ctx context.Context, msg runwire.Message) error {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	onMsg := l.onMsg
	l.mu.Unlock()
	if onMsg != nil {
		onMsg(msg)
	}
	return l.err
}

func (l *recordingListener) all() []runwire.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]runwire.Message(nil), l.messages...)
}

type harness struct {
	client   *Client
	dialer   *fakeDialer
	notifier *recordingNotifier
	logs     *recordingLogSink
}

func newHarness(t *testing.T, configure ...func(*ClientBuilder)) *harness {
	t.Helper()
	h := &harness{
		dialer:   newFakeDialer(),
		notifier: &recordingNotifier{},
		logs:     &recordingLogSink{},
	}
	builder := NewClient().
		WithURL("ws://console.test/ws").
		WithProject(&runwire.StaticProject{ProjectID: "p1", Name: "demo", LogSink: h.logs.handle}).
		WithDialer(h.dialer).
		WithNotifier(h.notifier).
		WithReconnectDelay(10 * time.Millisecond)
	for _, fn := range configure {
		fn(builder)
	}

	c, err := builder.Build()
	require.NoError(t, err)
	h.client = c
	t.Cleanup(func() { _ = c.Close() })
	return h
}

// connect starts the client and completes the first handshake.
func (h *harness) connect(t *testing.T) *fakeSession {
	t.Helper()
	require.NoError(t, h.client.Start(context.Background()))
	s := h.dialer.next(t)
	s.accept()
	s.handshake(t)
	require.True(t, h.client.Ready().Get())
	return s
}
