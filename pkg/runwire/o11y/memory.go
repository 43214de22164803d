package o11y

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of everything a MemoryProvider collected.
// Series keys are the metric name followed by its sorted labels, e.g.
// `runwire_messages_received_total{kind=event}`.
type Snapshot struct {
	Timestamp  time.Time            `json:"timestamp"`
	Counters   map[string]int64     `json:"counters"`
	Histograms map[string][]float64 `json:"histograms"`
	Gauges     map[string]float64   `json:"gauges"`
}

// MemoryProvider keeps metrics in process. The console prints its snapshots
// on a schedule and tests assert against them.
type MemoryProvider struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string][]float64
	gauges     map[string]float64
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		counters:   make(map[string]int64),
		histograms: make(map[string][]float64),
		gauges:     make(map[string]float64),
	}
}

func (p *MemoryProvider) Counter(name string) Counter {
	return &memoryCounter{provider: p, name: name}
}

func (p *MemoryProvider) Histogram(name string) Histogram {
	return &memoryHistogram{provider: p, name: name}
}

func (p *MemoryProvider) Gauge(name string) Gauge {
	return &memoryGauge{provider: p, name: name}
}

// CounterValue returns the current value of one counter series.
func (p *MemoryProvider) CounterValue(name string, labels ...Label) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[seriesKey(name, labels)]
}

// GaugeValue returns the last value set on one gauge series.
func (p *MemoryProvider) GaugeValue(name string, labels ...Label) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gauges[seriesKey(name, labels)]
}

func (p *MemoryProvider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Timestamp:  time.Now(),
		Counters:   make(map[string]int64, len(p.counters)),
		Histograms: make(map[string][]float64, len(p.histograms)),
		Gauges:     make(map[string]float64, len(p.gauges)),
	}
	for k, v := range p.counters {
		snap.Counters[k] = v
	}
	for k, v := range p.histograms {
		snap.Histograms[k] = append([]float64(nil), v...)
	}
	for k, v := range p.gauges {
		snap.Gauges[k] = v
	}
	return snap
}

func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Key + "=" + l.Value
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

type memoryCounter struct {
	provider *MemoryProvider
	name     string
}

func (c *memoryCounter) Add(_ context.Context, value int64, labels ...Label) {
	key := seriesKey(c.name, labels)
	c.provider.mu.Lock()
	c.provider.counters[key] += value
	c.provider.mu.Unlock()
}

type memoryHistogram struct {
	provider *MemoryProvider
	name     string
}

func (h *memoryHistogram) Record(_ context.Context, value float64, labels ...Label) {
	key := seriesKey(h.name, labels)
	h.provider.mu.Lock()
	h.provider.histograms[key] = append(h.provider.histograms[key], value)
	h.provider.mu.Unlock()
}

type memoryGauge struct {
	provider *MemoryProvider
	name     string
}

func (g *memoryGauge) Set(_ context.Context, value float64, labels ...Label) {
	key := seriesKey(g.name, labels)
	g.provider.mu.Lock()
	g.provider.gauges[key] = value
	g.provider.mu.Unlock()
}
