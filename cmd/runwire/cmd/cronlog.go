package cmd

import (
	"go.uber.org/zap"
)

// ZapCronLogger lets the status scheduler report through zap. Routine cron
// chatter goes to debug so it does not drown out event output.
type ZapCronLogger struct {
	logger *zap.Logger
}

func NewZapCronLogger(logger *zap.Logger) *ZapCronLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapCronLogger{logger: logger.Named("cron")}
}

func (z *ZapCronLogger) Info(msg string, keysAndValues ...any) {
	z.logger.Debug(msg, cronFields(keysAndValues)...)
}

func (z *ZapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	z.logger.Error(msg, append(cronFields(keysAndValues), zap.Error(err))...)
}

// cronFields pairs up keysAndValues; entries with a non-string key are skipped.
func cronFields(keysAndValues []any) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}
