package client

import (
	"context"
	"time"

	"github.com/tsarna/runwire/pkg/runwire/o11y"
)

const (
	metricMessagesSent     = "runwire_messages_sent_total"
	metricMessagesReceived = "runwire_messages_received_total"
	metricDecodeErrors     = "runwire_decode_errors_total"
	metricPayloadMismatch  = "runwire_payload_mismatches_total"
	metricReplySeconds     = "runwire_reply_seconds"
	metricReconnects       = "runwire_reconnects_total"
	metricPendingRequests  = "runwire_pending_requests"
	metricConnected        = "runwire_connected"

	spanSend = "runwire.send"
)

type clientMetrics struct {
	project o11y.Label

	sent         o11y.Counter
	received     o11y.Counter
	decodeErrors o11y.Counter
	mismatches   o11y.Counter
	replyLatency o11y.Histogram
	reconnects   o11y.Counter
	pending      o11y.Gauge
	connected    o11y.Gauge
}

func newClientMetrics(provider o11y.MetricsProvider, projectID string) *clientMetrics {
	if provider == nil {
		provider = o11y.NopProvider{}
	}
	return &clientMetrics{
		project:      o11y.Label{Key: "project", Value: projectID},
		sent:         provider.Counter(metricMessagesSent),
		received:     provider.Counter(metricMessagesReceived),
		decodeErrors: provider.Counter(metricDecodeErrors),
		mismatches:   provider.Counter(metricPayloadMismatch),
		replyLatency: provider.Histogram(metricReplySeconds),
		reconnects:   provider.Counter(metricReconnects),
		pending:      provider.Gauge(metricPendingRequests),
		connected:    provider.Gauge(metricConnected),
	}
}

func (m *clientMetrics) messageSent(eventType string) {
	m.sent.Add(context.Background(), 1, m.project, o11y.Label{Key: "event_type", Value: eventType})
}

func (m *clientMetrics) messageReceived(kind string) {
	m.received.Add(context.Background(), 1, m.project, o11y.Label{Key: "kind", Value: kind})
}

func (m *clientMetrics) decodeFailed() {
	m.decodeErrors.Add(context.Background(), 1, m.project)
}

func (m *clientMetrics) payloadMismatch(eventType string) {
	m.mismatches.Add(context.Background(), 1, m.project, o11y.Label{Key: "event_type", Value: eventType})
}

func (m *clientMetrics) replyReceived(eventType string, elapsed time.Duration) {
	m.replyLatency.Record(context.Background(), elapsed.Seconds(), m.project, o11y.Label{Key: "event_type", Value: eventType})
}

func (m *clientMetrics) reconnecting() {
	m.reconnects.Add(context.Background(), 1, m.project)
}

func (m *clientMetrics) setPending(n int) {
	m.pending.Set(context.Background(), float64(n), m.project)
}

func (m *clientMetrics) setConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.Set(context.Background(), v, m.project)
}
