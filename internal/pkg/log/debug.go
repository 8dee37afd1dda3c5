package log

import (
	"bytes"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type debugLogger struct {
	*zapLogger
	recorder *recorder
}

type recorder struct {
	lock  *sync.Mutex
	lines []recordedLine
}

type recordedLine struct {
	level   zapcore.Level
	message string
}

// NewDebugLogger creates a logger that records all messages in memory.
func NewDebugLogger() DebugLogger {
	r := &recorder{lock: &sync.Mutex{}}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderConfig()),
		zapcore.AddSync(&bytes.Buffer{}),
		DebugLevel,
	)
	core = zapcore.RegisterHooks(core, func(entry zapcore.Entry) error {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.lines = append(r.lines, recordedLine{level: entry.Level, message: entry.Message})
		return nil
	})
	return &debugLogger{zapLogger: loggerFromZap(zap.New(core)), recorder: r}
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	return cfg
}

func (l *debugLogger) Truncate() {
	l.recorder.lock.Lock()
	defer l.recorder.lock.Unlock()
	l.recorder.lines = nil
}

func (l *debugLogger) AllMessages() string {
	return l.messages(DebugLevel, InfoLevel, WarnLevel, ErrorLevel)
}

func (l *debugLogger) DebugMessages() string {
	return l.messages(DebugLevel)
}

func (l *debugLogger) InfoMessages() string {
	return l.messages(InfoLevel)
}

func (l *debugLogger) WarnMessages() string {
	return l.messages(WarnLevel)
}

func (l *debugLogger) ErrorMessages() string {
	return l.messages(ErrorLevel)
}

func (l *debugLogger) WarnAndErrorMessages() string {
	return l.messages(WarnLevel, ErrorLevel)
}

func (l *debugLogger) messages(levels ...zapcore.Level) string {
	l.recorder.lock.Lock()
	defer l.recorder.lock.Unlock()
	var out strings.Builder
	for _, line := range l.recorder.lines {
		for _, level := range levels {
			if line.level == level {
				out.WriteString(strings.ToUpper(level.String()))
				out.WriteString("  ")
				out.WriteString(line.message)
				out.WriteString("\n")
				break
			}
		}
	}
	return out.String()
}
