// Package wstest provides an in-process WebSocket peer that speaks the project
// channel protocol, for tests that need a real transport.
package wstest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/runwire/pkg/runwire"
)

var ErrNoConnection = errors.New("no client connected")

// Server accepts client connections, answers handshakes (unless disabled)
// and records every decoded message it receives.
type Server struct {
	httpServer *httptest.Server

	autoHandshake atomic.Bool
	accepted      atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn

	received chan runwire.Message
}

func NewServer() *Server {
	s := &Server{
		received: make(chan runwire.Message, 256),
	}
	s.autoHandshake.Store(true)
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the ws:// address of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

// SetAutoHandshake controls whether handshake requests are answered.
func (s *Server) SetAutoHandshake(enabled bool) {
	s.autoHandshake.Store(enabled)
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Received delivers messages sent by clients, in arrival order.
func (s *Server) Received() <-chan runwire.Message {
	return s.received
}

// Next waits for the next received message.
func (s *Server) Next(timeout time.Duration) (runwire.Message, bool) {
	select {
	case msg := <-s.received:
		return msg, true
	case <-time.After(timeout):
		return runwire.Message{}, false
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	s.accepted.Add(1)

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.forget(conn)
			return
		}

		msg, err := runwire.DecodeMessage(data)
		if err != nil {
			continue
		}

		select {
		case s.received <- msg:
		default:
		}

		if msg.EventType == runwire.EventTypeHandshake && s.autoHandshake.Load() {
			reply := runwire.Message{
				EventType:    runwire.EventTypeHandshake,
				EventID:      msg.EventID,
				ProjectID:    msg.ProjectID,
				IdentityType: runwire.IdentityWeb,
				Payload:      runwire.RawPayload{Raw: json.RawMessage(`{"result":200}`)},
			}
			_ = s.write(ctx, conn, reply)
		}
	}
}

func (s *Server) forget(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.conns {
		if c == conn {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

func (s *Server) latest() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg runwire.Message) error {
	data, err := runwire.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return s.WriteRaw(ctx, conn, data)
}

// WriteRaw writes data as-is to conn.
func (s *Server) WriteRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Push sends msg to the most recently connected client.
func (s *Server) Push(ctx context.Context, msg runwire.Message) error {
	conn := s.latest()
	if conn == nil {
		return ErrNoConnection
	}
	return s.write(ctx, conn, msg)
}

// PushRaw sends an arbitrary frame to the most recently connected client.
func (s *Server) PushRaw(ctx context.Context, data []byte) error {
	conn := s.latest()
	if conn == nil {
		return ErrNoConnection
	}
	return s.WriteRaw(ctx, conn, data)
}

// DropAll closes every open connection as if the server went away.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, conn := range conns {
		conn.CloseNow()
	}
}

func (s *Server) Close() {
	s.DropAll()
	s.httpServer.Close()
}
