package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSystemLogger(t *testing.T) {
	l, err := NewSystemLogger(nil, Config{Level: "debug", Environment: "development", Service: "paygate"})
	require.NoError(t, err)
	require.NotNil(t, l)

	// Logging without OpenSearch must not panic.
	assert.NotPanics(t, func() {
		l.Debug("debug message")
		l.Info("info message", LogContext{Gateway: "click", OrderID: "42"})
		l.Warn("warn message", LogContext{Fields: map[string]any{"key": "value"}})
		l.Error("error message", errors.New("boom"), LogContext{RequestID: "req-1"})
		l.Sync()
	})
}

func TestNewSystemLoggerInvalidLevel(t *testing.T) {
	_, err := NewSystemLogger(nil, Config{Level: "nope", Environment: "development", Service: "paygate"})
	require.Error(t, err)
}

func TestGlobalLoggerFallback(t *testing.T) {
	l := GetGlobalLogger()
	require.NotNil(t, l)

	assert.NotPanics(t, func() {
		Info("global info")
		Warn("global warn", LogContext{Gateway: "payme"})
		Error("global error", errors.New("boom"))
	})
}
