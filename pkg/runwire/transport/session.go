// Package transport owns the physical connection underneath a project client.
//
// A Session wraps exactly one connection attempt. Opening is asynchronous:
// the Handler is told when the session is open, receives every inbound frame
// in order, and is notified exactly once when the session ends, whatever the
// cause. All Handler callbacks for one session run on the same goroutine.
package transport

import (
	"context"
	"errors"
)

var (
	ErrNotOpen = errors.New("transport session is not open")
	ErrClosed  = errors.New("transport session is closed")
)

// Handler receives the lifecycle notifications and frames of a Session.
type Handler interface {
	OnOpen(s Session)
	OnFrame(s Session, data []byte)
	// OnClose is called once per session. It does not tell a local Close
	// apart from a remote or network failure; err is informational only.
	OnClose(s Session, err error)
}

// Session is one physical connection.
type Session interface {
	// Send writes a frame. It fails with ErrNotOpen before OnOpen and after
	// the session ends.
	Send(ctx context.Context, data []byte) error
	// Close requests termination. It is idempotent and does not block on the
	// closing handshake.
	Close() error
	IsOpen() bool
}

// Dialer opens sessions. Open returns immediately; completion is signalled
// through the handler.
type Dialer interface {
	Open(ctx context.Context, url string, handler Handler) Session
}
