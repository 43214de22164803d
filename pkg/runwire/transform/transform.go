package transform

import (
	"sync"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/tsarna/runwire/pkg/runwire"
	"golang.org/x/time/rate"
)

// MessageTransformFunc modifies, replaces or drops a message before it is
// shown. Returning nil drops the message; returning false stops the pipeline
// after this step.
type MessageTransformFunc func(msg *runwire.Message) (*runwire.Message, bool)

// DropTopicPattern drops messages whose topic matches the MQTT-style pattern,
// e.g. "log/#" or "scalar/+".
func DropTopicPattern(pattern string) MessageTransformFunc {
	return func(msg *runwire.Message) (*runwire.Message, bool) {
		if mqttpattern.Matches(pattern, msg.Topic()) {
			return nil, false
		}
		return msg, true
	}
}

// KeepRun drops messages that belong to a run other than runID. Messages
// without a run id are kept.
func KeepRun(runID string) MessageTransformFunc {
	return func(msg *runwire.Message) (*runwire.Message, bool) {
		if msg.RunID != "" && msg.RunID != runID {
			return nil, false
		}
		return msg, true
	}
}

// RateLimitByTopic lets at most one message per topic through every
// minInterval.
func RateLimitByTopic(minInterval time.Duration) MessageTransformFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(msg *runwire.Message) (*runwire.Message, bool) {
		topic := msg.Topic()

		mu.Lock()
		limiter, ok := limiters[topic]
		if !ok {
			limiter = rate.NewLimiter(rate.Every(minInterval), 1)
			limiters[topic] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			return nil, false
		}
		return msg, true
	}
}

// ChainTransforms combines transforms into one.
func ChainTransforms(transforms ...MessageTransformFunc) MessageTransformFunc {
	return func(msg *runwire.Message) (*runwire.Message, bool) {
		return ApplyTransforms(msg, transforms)
	}
}

// ApplyTransforms runs msg through transforms in order and returns the
// result, or nil if some step dropped it.
func ApplyTransforms(msg *runwire.Message, transforms []MessageTransformFunc) (*runwire.Message, bool) {
	current := msg
	for _, transform := range transforms {
		next, cont := transform(current)
		if next == nil {
			return nil, false
		}
		current = next
		if !cont {
			return current, false
		}
	}
	return current, true
}
