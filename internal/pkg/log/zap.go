package log

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// zapLogger is the default implementation of the Logger interface.
type zapLogger struct {
	*zap.SugaredLogger
}

func loggerFromZap(l *zap.Logger) *zapLogger {
	return &zapLogger{SugaredLogger: l.Sugar()}
}

func (l *zapLogger) Debug(_ context.Context, message string) {
	l.SugaredLogger.Debug(message)
}

func (l *zapLogger) Info(_ context.Context, message string) {
	l.SugaredLogger.Info(message)
}

func (l *zapLogger) Warn(_ context.Context, message string) {
	l.SugaredLogger.Warn(message)
}

func (l *zapLogger) Error(_ context.Context, message string) {
	l.SugaredLogger.Error(message)
}

func (l *zapLogger) Debugf(_ context.Context, template string, args ...any) {
	l.SugaredLogger.Debugf(template, args...)
}

func (l *zapLogger) Infof(_ context.Context, template string, args ...any) {
	l.SugaredLogger.Infof(template, args...)
}

func (l *zapLogger) Warnf(_ context.Context, template string, args ...any) {
	l.SugaredLogger.Warnf(template, args...)
}

func (l *zapLogger) Errorf(_ context.Context, template string, args ...any) {
	l.SugaredLogger.Errorf(template, args...)
}

func (l *zapLogger) With(attrs ...attribute.KeyValue) Logger {
	return &zapLogger{SugaredLogger: l.SugaredLogger.With(attrsToZap(attrs)...)}
}

func (l *zapLogger) WithComponent(component string) Logger {
	return &zapLogger{SugaredLogger: l.SugaredLogger.With(zap.String("component", component))}
}

func (l *zapLogger) WithDuration(v time.Duration) Logger {
	return &zapLogger{SugaredLogger: l.SugaredLogger.With(zap.Duration("duration", v))}
}

func attrsToZap(attrs []attribute.KeyValue) []any {
	out := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, zap.Any(string(attr.Key), attr.Value.AsInterface()))
	}
	return out
}
