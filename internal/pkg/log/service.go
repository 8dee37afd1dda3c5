package log

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewServiceLogger creates a JSON logger for a service process.
func NewServiceLogger(writer io.Writer, level zapcore.Level) Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(writer),
		level,
	)
	return loggerFromZap(zap.New(core))
}

// NewNopLogger creates a logger that drops all messages.
func NewNopLogger() Logger {
	return loggerFromZap(zap.NewNop())
}
