package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/o11y"
	"go.uber.org/zap"
)

type noOpListener struct{}

func (noOpListener) OnMessage(ctx context.Context, msg runwire.Message) error {
	return nil
}

// newBenchClient returns a started client whose handshake has completed.
func newBenchClient(b *testing.B, metrics o11y.MetricsProvider) (*Client, *fakeSession) {
	b.Helper()

	dialer := newFakeDialer()
	builder := NewClient().
		WithURL("ws://bench.test/ws").
		WithProject(&runwire.StaticProject{ProjectID: "bench"}).
		WithLogger(zap.NewNop()).
		WithDialer(dialer)
	if metrics != nil {
		builder.WithMetrics(metrics)
	}
	c, err := builder.Build()
	if err != nil {
		b.Fatalf("Build() returned error: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		b.Fatalf("Start() returned error: %v", err)
	}
	b.Cleanup(func() { _ = c.Close() })

	s := <-dialer.opened
	s.accept()
	hs := s.sentMessages()[0]
	reply, _ := runwire.EncodeMessage(runwire.Message{EventType: runwire.EventTypeHandshake, EventID: hs.EventID})
	s.deliverRaw(reply)

	if c.State() != StateReady {
		b.Fatalf("client not ready after handshake: %s", c.State())
	}
	return c, s
}

func benchmarkInboundEvent(b *testing.B, metrics o11y.MetricsProvider) {
	c, s := newBenchClient(b, metrics)
	c.Subscribe(noOpListener{})

	frame, err := runwire.EncodeMessage(runwire.Message{
		EventType: runwire.EventTypeScalar,
		Name:      "loss",
		EventID:   1,
		ProjectID: "bench",
		Payload:   runwire.ScalarPayload{Series: "loss", X: 1, Y: 0.25},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		s.deliverRaw(frame)
	}
}

func BenchmarkInboundEventNoObservability(b *testing.B) {
	benchmarkInboundEvent(b, nil)
}

func BenchmarkInboundEventWithMemoryMetrics(b *testing.B) {
	benchmarkInboundEvent(b, o11y.NewMemoryProvider())
}

func BenchmarkInboundEventListeners(b *testing.B) {
	for _, n := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("listeners=%d", n), func(b *testing.B) {
			c, s := newBenchClient(b, nil)
			for i := 0; i < n; i++ {
				c.Subscribe(noOpListener{})
			}
			frame, _ := runwire.EncodeMessage(runwire.Message{EventType: runwire.EventTypeImage, EventID: 1, ProjectID: "bench"})

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				s.deliverRaw(frame)
			}
		})
	}
}

func BenchmarkSendWithReply(b *testing.B) {
	c, s := newBenchClient(b, nil)
	ctx := context.Background()
	msg := runwire.Message{EventType: runwire.EventTypeAction, Payload: runwire.ActionPayload{Name: "noop"}}
	noReply := func(runwire.Message) {}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		id, err := c.Send(ctx, msg, noReply)
		if err != nil {
			b.Fatalf("Send() returned error: %v", err)
		}
		reply, _ := runwire.EncodeMessage(runwire.Message{EventType: runwire.EventTypeAction, EventID: id})
		s.deliverRaw(reply)
	}
}
