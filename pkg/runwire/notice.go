package runwire

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConnectionNoticeID is shared by every connectivity notice so a UI can show
// them in a single slot.
const ConnectionNoticeID = "ws-connection-state"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is a user-facing notification.
type Notice struct {
	ID       string
	Severity Severity
	Title    string
	Content  string
}

type Notifier interface {
	Notify(notice Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(notice Notice)

func (f NotifierFunc) Notify(notice Notice) {
	f(notice)
}

// LoggingNotifier renders notices as log entries, for consoles without a UI.
type LoggingNotifier struct {
	logger *zap.Logger
}

func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingNotifier{logger: logger}
}

func (n *LoggingNotifier) Notify(notice Notice) {
	level := zapcore.InfoLevel
	switch notice.Severity {
	case SeverityWarning:
		level = zapcore.WarnLevel
	case SeverityError:
		level = zapcore.ErrorLevel
	}

	n.logger.Log(level, notice.Title,
		zap.String("notice_id", notice.ID),
		zap.String("severity", string(notice.Severity)),
		zap.String("content", notice.Content),
	)
}
