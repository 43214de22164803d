package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/runwire/internal/wstest"
	"github.com/tsarna/runwire/pkg/runwire"
)

func TestClientOverWebSocket(t *testing.T) {
	server := wstest.NewServer()
	defer server.Close()

	notifier := &recordingNotifier{}
	logs := &recordingLogSink{}
	c, err := NewClient().
		WithURL(server.URL()).
		WithProject(&runwire.StaticProject{ProjectID: "p1", Name: "demo", LogSink: logs.handle}).
		WithNotifier(notifier).
		WithReconnectDelay(20 * time.Millisecond).
		WithDialTimeout(time.Second).
		Build()
	require.NoError(t, err)
	defer c.Close()

	listener := &recordingListener{}
	c.Subscribe(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.WaitReady(ctx))

	hs, ok := server.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, runwire.EventTypeHandshake, hs.EventType)
	assert.Equal(t, runwire.IdentityWeb, hs.IdentityType)
	assert.Equal(t, "p1", hs.ProjectID)

	t.Run("request and reply", func(t *testing.T) {
		go func() {
			req, ok := server.Next(2 * time.Second)
			if !ok {
				return
			}
			_ = server.Push(context.Background(), runwire.Message{
				EventType: req.EventType,
				Name:      req.Name,
				EventID:   req.EventID,
				ProjectID: req.ProjectID,
			})
		}()

		reply, err := c.Request(ctx, runwire.Message{
			EventType: runwire.EventTypeAction,
			Name:      "pause",
			Payload:   runwire.ActionPayload{Name: "pause"},
		})
		require.NoError(t, err)
		assert.Equal(t, "pause", reply.Name)
		assert.Empty(t, listener.all())
	})

	t.Run("pushed log event", func(t *testing.T) {
		require.NoError(t, server.Push(ctx, runwire.Message{
			EventType: runwire.EventTypeLog,
			EventID:   999,
			ProjectID: "p1",
			Timestamp: "2024-01-01T00:00:00Z",
			Payload:   runwire.LogPayload{Message: "epoch 1 done", Series: "train", Whom: "trainer"},
		}))

		assert.Eventually(t, func() bool { return len(listener.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, []runwire.LogRecord{{
			Timestamp: "2024-01-01T00:00:00Z",
			Message:   "epoch 1 done",
			Series:    "train",
			Whom:      "trainer",
		}}, logs.all())
	})

	t.Run("garbage frame is skipped", func(t *testing.T) {
		require.NoError(t, server.PushRaw(ctx, []byte("not json")))
		require.NoError(t, server.Push(ctx, runwire.Message{EventType: runwire.EventTypeScalar, EventID: 1000}))
		assert.Eventually(t, func() bool { return len(listener.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
		assert.True(t, c.Ready().Get())
	})

	t.Run("server drop reconnects", func(t *testing.T) {
		server.DropAll()

		assert.Eventually(t, func() bool { return server.Accepted() == 2 }, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, c.WaitReady(ctx))

		assert.Eventually(t, func() bool { return notifier.count() == 2 }, 2*time.Second, 5*time.Millisecond)
		notices := notifier.all()
		assert.Equal(t, runwire.SeverityError, notices[0].Severity)
		assert.Equal(t, runwire.SeveritySuccess, notices[1].Severity)
		assert.Equal(t, `project "demo"`, notices[1].Content)
	})

	t.Run("close stops reconnecting", func(t *testing.T) {
		require.NoError(t, c.Close())
		assert.Equal(t, StateClosed, c.State())

		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 2, server.Accepted())
		assert.Equal(t, 2, notifier.count())
	})
}
