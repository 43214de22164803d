package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/o11y"
	"github.com/tsarna/runwire/pkg/runwire/transport"
	"go.uber.org/zap"
)

var testProject = &runwire.StaticProject{ProjectID: "p1", Name: "demo"}

func TestClientBuilder(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		b := NewClient()
		assert.Equal(t, DefaultReconnectDelay, b.reconnectDelay)
		assert.Equal(t, 5*time.Second, b.reconnectDelay)
		assert.Equal(t, transport.DefaultDialTimeout, b.dialTimeout)
		assert.Equal(t, transport.DefaultWriteTimeout, b.writeTimeout)
		assert.NotNil(t, b.logger)
	})

	t.Run("missing URL", func(t *testing.T) {
		_, err := NewClient().WithProject(testProject).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "URL is required")
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := NewClient().WithURL("ws://localhost/ws").Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project is required")
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		b := NewClient().
			WithLogger(nil).
			WithReconnectDelay(-time.Second).
			WithDialTimeout(0).
			WithWriteTimeout(-1)
		assert.Equal(t, DefaultReconnectDelay, b.reconnectDelay)
		assert.Equal(t, transport.DefaultDialTimeout, b.dialTimeout)
		assert.Equal(t, transport.DefaultWriteTimeout, b.writeTimeout)
		assert.NotNil(t, b.logger)
	})

	t.Run("fluent interface", func(t *testing.T) {
		b := NewClient()
		assert.Same(t, b, b.WithURL("ws://localhost/ws"))
		assert.Same(t, b, b.WithProject(testProject))
		assert.Same(t, b, b.WithLogger(zap.NewNop()))
		assert.Same(t, b, b.WithNotifier(&recordingNotifier{}))
		assert.Same(t, b, b.WithDialer(newFakeDialer()))
		assert.Same(t, b, b.WithReconnectDelay(time.Second))
		assert.Same(t, b, b.WithDialTimeout(time.Second))
		assert.Same(t, b, b.WithWriteTimeout(time.Second))
		assert.Same(t, b, b.WithHeader("X-Console", "web"))
		assert.Same(t, b, b.WithMetrics(o11y.NewMemoryProvider()))
		assert.Same(t, b, b.WithTracing(o11y.NopProvider{}))
		assert.Same(t, b, b.WithObservability(o11y.NopProvider{}, o11y.NopProvider{}))
		assert.Equal(t, map[string]string{"X-Console": "web"}, b.headers)
	})

	t.Run("build applies defaults", func(t *testing.T) {
		c, err := NewClient().WithURL("ws://localhost/ws").WithProject(testProject).Build()
		require.NoError(t, err)

		assert.Equal(t, "ws://localhost/ws", c.URL())
		assert.Same(t, testProject, c.Project())
		assert.IsType(t, &transport.WebSocketDialer{}, c.dialer)
		assert.IsType(t, &runwire.LoggingNotifier{}, c.notifier)
		assert.Equal(t, DefaultReconnectDelay, c.reconnectDelay)
		assert.Equal(t, StateConnecting, c.State())
		assert.False(t, c.Ready().Get())
		assert.Equal(t, 0, c.PendingCount())
	})

	t.Run("id seed is randomized and scaled", func(t *testing.T) {
		seeds := map[int64]bool{}
		for i := 0; i < 20; i++ {
			c, err := NewClient().WithURL("ws://localhost/ws").WithProject(testProject).Build()
			require.NoError(t, err)
			assert.Zero(t, c.nextID%1000)
			assert.GreaterOrEqual(t, c.nextID, int64(0))
			assert.Less(t, c.nextID, int64(100_000_000_000))
			seeds[c.nextID] = true
		}
		assert.Greater(t, len(seeds), 1)
	})

	t.Run("unstarted client can be closed", func(t *testing.T) {
		c, err := NewClient().WithURL("ws://localhost/ws").WithProject(testProject).Build()
		require.NoError(t, err)
		assert.NoError(t, c.Close())
		assert.Equal(t, StateClosed, c.State())
		assert.ErrorIs(t, c.Start(context.Background()), ErrClientClosed)
	})
}

func TestPendingTable(t *testing.T) {
	table := newPendingTable()
	var got []int64

	require.NoError(t, table.register(1, func(m runwire.Message) { got = append(got, m.EventID) }))
	require.NoError(t, table.register(2, func(runwire.Message) {}))
	assert.Error(t, table.register(1, func(runwire.Message) {}))
	assert.Equal(t, 2, table.len())

	cb, ok := table.take(1)
	require.True(t, ok)
	cb(runwire.Message{EventID: 1})
	assert.Equal(t, []int64{1}, got)

	_, ok = table.take(1)
	assert.False(t, ok, "consumed exactly once")
	_, ok = table.take(99)
	assert.False(t, ok)
	assert.Equal(t, 1, table.len())
}

func TestListenerSet(t *testing.T) {
	var set listenerSet
	a, b := &recordingListener{}, &recordingListener{}

	ha := set.add(a)
	hb := set.add(b)
	assert.NotEqual(t, ha, hb)
	assert.Equal(t, 2, set.len())

	snap := set.snapshot()
	assert.True(t, set.remove(ha))
	assert.False(t, set.remove(ha))

	assert.Len(t, snap, 2, "earlier snapshot is untouched")
	assert.True(t, snap[0].removed.Load())
	assert.False(t, snap[1].removed.Load())
	assert.Equal(t, 1, set.len())

	set.add(&recordingListener{})
	assert.Len(t, snap, 2)
}

func TestDispatch(t *testing.T) {
	logs := &recordingLogSink{}
	project := &runwire.StaticProject{ProjectID: "p1", LogSink: logs.handle}

	var set listenerSet
	l := &recordingListener{}
	set.add(l)

	dispatch(context.Background(), zap.NewNop(), project, set.snapshot(), runwire.Message{
		EventType: runwire.EventTypeLog,
		Timestamp: "T",
	})
	dispatch(context.Background(), zap.NewNop(), project, set.snapshot(), runwire.Message{
		EventType: runwire.EventTypeScalar,
	})

	assert.Equal(t, []runwire.LogRecord{{Timestamp: "T"}}, logs.all())
	assert.Len(t, l.all(), 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
