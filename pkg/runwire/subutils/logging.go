package subutils

import (
	"context"

	"github.com/tsarna/runwire/pkg/runwire"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingListener logs every message it sees and then passes it to the
// wrapped listener, if any.
type LoggingListener struct {
	wrapped  runwire.Listener
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

// NewLoggingListener creates a LoggingListener. If wrapped is nil it acts as
// a standalone logging listener.
func NewLoggingListener(wrapped runwire.Listener, logger *zap.Logger, logLevel zapcore.Level) *LoggingListener {
	return NewNamedLoggingListener(wrapped, logger, logLevel, "LoggingListener")
}

func NewNamedLoggingListener(wrapped runwire.Listener, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingListener{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingListener) OnMessage(ctx context.Context, msg runwire.Message) error {
	fields := []zap.Field{
		zap.String("listener", l.name),
		zap.String("event_type", string(msg.EventType)),
		zap.Int64("event_id", msg.EventID),
		zap.String("project_id", msg.ProjectID),
	}
	if msg.Name != "" {
		fields = append(fields, zap.String("name", msg.Name))
	}
	if msg.RunID != "" {
		fields = append(fields, zap.String("run_id", msg.RunID))
	}
	if msg.Series != "" {
		fields = append(fields, zap.String("series", msg.Series))
	}
	if extracted := FieldsFromContext(ctx); len(extracted) > 0 {
		fields = append(fields, zap.Any("fields", extracted))
	}

	l.logger.Log(l.logLevel, "Message received", fields...)

	if l.wrapped != nil {
		return l.wrapped.OnMessage(ctx, msg)
	}
	return nil
}
