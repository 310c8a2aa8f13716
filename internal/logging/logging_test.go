package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/straja-ai/apiguard/internal/config"
)

func TestNewHonoursLevelAndFormat(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = New(config.LoggingConfig{Level: "nonsense", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestFailureFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Failure(zap.New(core), "/v1/analyze", errors.New("dial failed: password=hunter2"), "goroutine 1 [running]")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, EventError, fields["event"])
	assert.Equal(t, "/v1/analyze", fields["path"])
	assert.NotContains(t, fields["error"], "hunter2")
	assert.Equal(t, "goroutine 1 [running]", fields["trace"])
}

func TestRequestCompletedFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	RequestCompleted(zap.New(core), "/healthz", "GET", 200, 1500*time.Microsecond, "10.0.0.1")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, EventRequest, fields["event"])
	assert.Equal(t, "GET", fields["method"])
	assert.EqualValues(t, 200, fields["status"])
	assert.InDelta(t, 1.5, fields["duration_ms"], 0.001)
	assert.Equal(t, "10.0.0.1", fields["client"])
}

func TestSuspiciousFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Suspicious(zap.New(core), "/v1/analyze", "POST", "curl/8.4.0", "127.0.0.1")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, EventSuspicious, entry.ContextMap()["event"])
	assert.Equal(t, "curl/8.4.0", entry.ContextMap()["user_agent"])
}

func TestHelpersTolerateNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Failure(nil, "/x", nil, "")
		RequestCompleted(nil, "/x", "GET", 200, 0, "")
		Suspicious(nil, "/x", "GET", "wget", "")
	})
}
