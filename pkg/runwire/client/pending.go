package client

import (
	"fmt"

	"github.com/tsarna/runwire/pkg/runwire"
)

// pendingTable maps outstanding request ids to their one-shot reply
// callbacks. Entries have no expiry: a request whose reply never arrives
// stays registered until it is withdrawn or the client is discarded.
//
// pendingTable is not safe for concurrent use; the client guards it with
// its own mutex.
type pendingTable struct {
	callbacks map[int64]runwire.ReplyFunc
}

func newPendingTable() *pendingTable {
	return &pendingTable{callbacks: make(map[int64]runwire.ReplyFunc)}
}

func (t *pendingTable) register(id int64, callback runwire.ReplyFunc) error {
	if _, exists := t.callbacks[id]; exists {
		return fmt.Errorf("event id %d is already pending", id)
	}
	t.callbacks[id] = callback
	return nil
}

// take removes and returns the callback registered for id. The second result
// is false when id is not pending, meaning the message is an event.
func (t *pendingTable) take(id int64) (runwire.ReplyFunc, bool) {
	callback, ok := t.callbacks[id]
	if ok {
		delete(t.callbacks, id)
	}
	return callback, ok
}

func (t *pendingTable) len() int {
	return len(t.callbacks)
}
