package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	assert.True(t, NewLogger(true).Core().Enabled(zapcore.DebugLevel))
	assert.False(t, NewLogger(false).Core().Enabled(zapcore.DebugLevel))
	assert.True(t, NewLogger(false).Core().Enabled(zapcore.InfoLevel))
	assert.True(t, NewLoggerWithVerbose(false, true).Core().Enabled(zapcore.DebugLevel))
}

func TestJobFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Job(zap.New(core), "job-1", "deepl").Info("job started")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "job-1", fields["job_id"])
		assert.Equal(t, "deepl", fields["provider"])
	}
}
