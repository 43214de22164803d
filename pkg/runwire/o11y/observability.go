// Package o11y holds the metrics and tracing abstractions used by the client.
// Implementations live elsewhere (see the otel package); NopProvider and
// MemoryProvider are provided here.
package o11y

import "context"

// MetricsProvider abstracts metrics collection.
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider abstracts distributed tracing.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter represents a monotonically increasing metric
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records distribution of values
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge represents a value that can go up and down
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label represents a key-value pair for metrics and tracing
type Label struct {
	Key   string
	Value string
}

type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// NopProvider discards everything. It stands in when no provider is configured.
type NopProvider struct{}

func (NopProvider) Counter(string) Counter     { return nopInstrument{} }
func (NopProvider) Histogram(string) Histogram { return nopInstrument{} }
func (NopProvider) Gauge(string) Gauge         { return nopInstrument{} }

func (NopProvider) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopInstrument{}
}

type nopInstrument struct{}

func (nopInstrument) Add(context.Context, int64, ...Label)      {}
func (nopInstrument) Record(context.Context, float64, ...Label) {}
func (nopInstrument) Set(context.Context, float64, ...Label)    {}
func (nopInstrument) SetAttributes(...Label)                    {}
func (nopInstrument) SetStatus(SpanStatusCode, string)          {}
func (nopInstrument) End()                                      {}
