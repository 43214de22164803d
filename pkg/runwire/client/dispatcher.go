package client

import (
	"context"
	"sync/atomic"

	"github.com/tsarna/runwire/pkg/runwire"
	"go.uber.org/zap"
)

// Handle identifies a listener registration.
type Handle uint64

type registration struct {
	handle   Handle
	listener runwire.Listener
	removed  atomic.Bool
}

// listenerSet is a copy-on-write list of registrations. A snapshot taken for
// one dispatch is never mutated, so listeners may subscribe or unsubscribe
// from inside OnMessage. A registration removed mid-dispatch is flagged and
// skipped by the rest of that dispatch.
//
// Like pendingTable it relies on the client's mutex.
type listenerSet struct {
	next    Handle
	entries []*registration
}

func (s *listenerSet) add(listener runwire.Listener) Handle {
	s.next++
	entries := make([]*registration, len(s.entries), len(s.entries)+1)
	copy(entries, s.entries)
	s.entries = append(entries, &registration{handle: s.next, listener: listener})
	return s.next
}

func (s *listenerSet) remove(handle Handle) bool {
	for i, r := range s.entries {
		if r.handle != handle {
			continue
		}
		r.removed.Store(true)
		entries := make([]*registration, 0, len(s.entries)-1)
		entries = append(entries, s.entries[:i]...)
		s.entries = append(entries, s.entries[i+1:]...)
		return true
	}
	return false
}

func (s *listenerSet) snapshot() []*registration {
	return s.entries
}

func (s *listenerSet) len() int {
	return len(s.entries)
}

// dispatch delivers an event to the project's log sink when it is a log
// event and then to every registration in regs exactly once.
func dispatch(ctx context.Context, logger *zap.Logger, project runwire.Project, regs []*registration, msg runwire.Message) {
	if msg.EventType == runwire.EventTypeLog {
		project.HandleLog(msg.LogRecord())
	}

	for _, r := range regs {
		if r.removed.Load() {
			continue
		}
		if err := r.listener.OnMessage(ctx, msg); err != nil {
			logger.Warn("Listener failed",
				zap.Uint64("handle", uint64(r.handle)),
				zap.String("topic", msg.Topic()),
				zap.Int64("event_id", msg.EventID),
				zap.Error(err),
			)
		}
	}
}
