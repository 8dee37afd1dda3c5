package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Pepsiplaya/hyternal-cluster/internal/pkg/log"
)

func TestDebugLogger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := log.NewDebugLogger()

	logger.Debug(ctx, "a debug message")
	logger.Infof(ctx, "an %s message", "info")
	logger.Warn(ctx, "a warn message")
	logger.Error(ctx, "an error message")

	assert.Equal(t, "DEBUG  a debug message\n", logger.DebugMessages())
	assert.Equal(t, "INFO  an info message\n", logger.InfoMessages())
	assert.Equal(t, "WARN  a warn message\nERROR  an error message\n", logger.WarnAndErrorMessages())
	assert.Equal(t, "DEBUG  a debug message\nINFO  an info message\nWARN  a warn message\nERROR  an error message\n", logger.AllMessages())

	logger.Truncate()
	assert.Empty(t, logger.AllMessages())
}

func TestLogger_WithAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := log.NewDebugLogger()

	// Attribute scoping must not detach the shared recorder.
	logger.WithComponent("registry").Info(ctx, "component message")
	assert.Equal(t, "INFO  component message\n", logger.InfoMessages())
}
