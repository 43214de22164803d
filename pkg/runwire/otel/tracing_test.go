package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/runwire/pkg/runwire/o11y"
)

func TestSetupTracing(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(func() { _, _ = SetupTracing("none", nil) })

	t.Run("stdout exporter writes finished spans", func(t *testing.T) {
		var buf bytes.Buffer
		shutdown, err := SetupTracing("stdout", &buf)
		require.NoError(t, err)

		_, span := NewProvider("runwire", "test").StartSpan(ctx, "runwire.send")
		span.SetAttributes(o11y.Label{Key: "event_type", Value: "action"})
		span.SetStatus(o11y.SpanStatusOK, "")
		span.End()

		require.NoError(t, shutdown(ctx))
		assert.Contains(t, buf.String(), "runwire.send")
		assert.Contains(t, buf.String(), "event_type")
	})

	t.Run("none", func(t *testing.T) {
		shutdown, err := SetupTracing("none", nil)
		require.NoError(t, err)
		assert.NoError(t, shutdown(ctx))
	})

	t.Run("unknown exporter", func(t *testing.T) {
		_, err := SetupTracing("jaeger", nil)
		assert.Error(t, err)
	})
}
