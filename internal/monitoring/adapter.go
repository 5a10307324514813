package monitoring

import "go.uber.org/zap"

// FieldLogger bridges a Zap logger into components that take the minimal
// map-based logging interface, keeping them free of a Zap dependency.
type FieldLogger struct {
	logger *zap.Logger
}

// NewFieldLogger wraps a Zap logger.
func NewFieldLogger(logger *zap.Logger) *FieldLogger {
	return &FieldLogger{logger: logger}
}

func (fl *FieldLogger) Error(msg string, fields map[string]interface{}) {
	fl.logger.Error(msg, zapFields(fields)...)
}

func (fl *FieldLogger) Warn(msg string, fields map[string]interface{}) {
	fl.logger.Warn(msg, zapFields(fields)...)
}

func (fl *FieldLogger) Info(msg string, fields map[string]interface{}) {
	fl.logger.Info(msg, zapFields(fields)...)
}

func zapFields(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
