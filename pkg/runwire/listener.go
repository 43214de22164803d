// Package runwire defines the wire envelope and the collaborator interfaces of
// the console side of a project channel: the project handle, user notices,
// the observable connectivity flag and broadcast listeners.
package runwire

import "context"

// Listener receives every inbound message that is not a reply to a pending
// request.
type Listener interface {
	OnMessage(ctx context.Context, msg Message) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, msg Message) error

func (f ListenerFunc) OnMessage(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// ReplyFunc is a one-shot callback invoked with the reply to a request.
type ReplyFunc func(reply Message)
