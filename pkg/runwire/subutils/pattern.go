package subutils

import (
	"context"
	"strings"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/tsarna/runwire/pkg/runwire"
)

type fieldsKey struct{}

// FieldsFromContext returns the values a PatternListener extracted from the
// message topic, or nil.
func FieldsFromContext(ctx context.Context) map[string]string {
	fields, _ := ctx.Value(fieldsKey{}).(map[string]string)
	return fields
}

// PatternListener forwards only messages whose topic (see Message.Topic)
// matches an MQTT-style pattern such as "log/#" or "scalar/+". Named
// wildcards ("scalar/+metric") are extracted and made available to the
// wrapped listener through FieldsFromContext.
type PatternListener struct {
	pattern string
	match   func(topic string) (bool, map[string]string)
	wrapped runwire.Listener
}

func NewPatternListener(pattern string, wrapped runwire.Listener) *PatternListener {
	return &PatternListener{
		pattern: pattern,
		match:   makeMatcher(pattern),
		wrapped: wrapped,
	}
}

func makeMatcher(pattern string) func(topic string) (bool, map[string]string) {
	switch {
	case mqttpattern.HasExtractions(pattern):
		return func(topic string) (bool, map[string]string) {
			if mqttpattern.Matches(pattern, topic) {
				return true, mqttpattern.Extract(pattern, topic)
			}
			return false, nil
		}
	case strings.ContainsAny(pattern, "#+"):
		return func(topic string) (bool, map[string]string) {
			return mqttpattern.Matches(pattern, topic), nil
		}
	default:
		return func(topic string) (bool, map[string]string) {
			return topic == pattern, nil
		}
	}
}

// Pattern returns the topic pattern this listener filters on.
func (p *PatternListener) Pattern() string {
	return p.pattern
}

func (p *PatternListener) OnMessage(ctx context.Context, msg runwire.Message) error {
	ok, fields := p.match(msg.Topic())
	if !ok {
		return nil
	}
	if len(fields) > 0 {
		ctx = context.WithValue(ctx, fieldsKey{}, fields)
	}
	return p.wrapped.OnMessage(ctx, msg)
}
