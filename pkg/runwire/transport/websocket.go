package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	DefaultDialTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 1 << 20
)

// WebSocketDialer opens sessions over github.com/coder/websocket.
//
// Example:
//
//	dialer := transport.NewWebSocketDialer().
//	    WithLogger(logger).
//	    WithDialTimeout(5 * time.Second)
type WebSocketDialer struct {
	logger       *zap.Logger
	dialTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64
	headers      http.Header
}

func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		logger:       zap.NewNop(),
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
}

func (d *WebSocketDialer) WithLogger(logger *zap.Logger) *WebSocketDialer {
	if logger != nil {
		d.logger = logger
	}
	return d
}

func (d *WebSocketDialer) WithDialTimeout(timeout time.Duration) *WebSocketDialer {
	if timeout > 0 {
		d.dialTimeout = timeout
	}
	return d
}

func (d *WebSocketDialer) WithWriteTimeout(timeout time.Duration) *WebSocketDialer {
	if timeout > 0 {
		d.writeTimeout = timeout
	}
	return d
}

// WithReadLimit caps the size of a single inbound frame.
func (d *WebSocketDialer) WithReadLimit(limit int64) *WebSocketDialer {
	if limit > 0 {
		d.readLimit = limit
	}
	return d
}

// WithHeader adds an HTTP header to the upgrade request.
func (d *WebSocketDialer) WithHeader(key, value string) *WebSocketDialer {
	if d.headers == nil {
		d.headers = make(http.Header)
	}
	d.headers.Add(key, value)
	return d
}

func (d *WebSocketDialer) Open(ctx context.Context, url string, handler Handler) Session {
	sessCtx, cancel := context.WithCancel(ctx)
	s := &wsSession{
		dialer:  d,
		url:     url,
		handler: handler,
		logger:  d.logger.With(zap.String("url", url)),
		ctx:     sessCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

type wsSession struct {
	dialer  *WebSocketDialer
	url     string
	handler Handler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool

	open       atomic.Bool
	finishOnce sync.Once
	done       chan struct{}
}

func (s *wsSession) run() {
	dialCtx, dialCancel := context.WithTimeout(s.ctx, s.dialer.dialTimeout)
	var opts *websocket.DialOptions
	if s.dialer.headers != nil {
		opts = &websocket.DialOptions{HTTPHeader: s.dialer.headers.Clone()}
	}
	conn, _, err := websocket.Dial(dialCtx, s.url, opts)
	dialCancel()
	if err != nil {
		s.logger.Debug("WebSocket dial failed", zap.Error(err))
		s.finish(fmt.Errorf("failed to connect to WebSocket: %w", err))
		return
	}
	conn.SetReadLimit(s.dialer.readLimit)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session closed")
		s.finish(ErrClosed)
		return
	}
	s.conn = conn
	s.open.Store(true)
	s.mu.Unlock()

	s.logger.Debug("WebSocket session open")
	s.handler.OnOpen(s)

	s.readLoop(conn)
}

func (s *wsSession) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				s.logger.Debug("WebSocket closed by peer", zap.Int("close_status", int(status)))
			} else if s.ctx.Err() == nil {
				s.logger.Error("Failed to read from WebSocket", zap.Error(err))
			}
			s.finish(err)
			return
		}

		if len(data) == 0 {
			continue
		}
		s.handler.OnFrame(s, data)
	}
}

func (s *wsSession) finish(err error) {
	s.finishOnce.Do(func() {
		s.open.Store(false)
		s.cancel()
		s.handler.OnClose(s, err)
		close(s.done)
	})
}

func (s *wsSession) Send(ctx context.Context, data []byte) error {
	if !s.open.Load() {
		return ErrNotOpen
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	if ctx == nil {
		ctx = s.ctx
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.dialer.writeTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write to WebSocket: %w", err)
	}
	return nil
}

func (s *wsSession) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	conn := s.conn
	s.mu.Unlock()

	s.open.Store(false)
	if conn == nil {
		// Still dialing: cancelling aborts the dial and run() reports the close.
		s.cancel()
		return nil
	}

	go func() {
		if err := conn.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
			s.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
		}
		s.cancel()
	}()
	return nil
}

func (s *wsSession) IsOpen() bool {
	return s.open.Load()
}

// Done is closed once the session has ended and its close notification was delivered.
func (s *wsSession) Done() <-chan struct{} {
	return s.done
}
