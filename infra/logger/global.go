package logger

import (
	"sync"

	"github.com/richgarden/paygate/infra/config"
	"github.com/richgarden/paygate/infra/opensearch"
)

var (
	globalLogger *SystemLogger
	once         sync.Once
)

// InitGlobalLogger initializes the global system logger. osLogger may be nil
// when OpenSearch shipping is disabled.
func InitGlobalLogger(osLogger *opensearch.Logger) error {
	var initErr error
	once.Do(func() {
		cfg := Config{
			Level:       config.GetEnv("LOG_LEVEL", "info"),
			Environment: config.GetEnv("ENVIRONMENT", "development"),
			Service:     "paygate",
		}
		globalLogger, initErr = NewSystemLogger(osLogger, cfg)
	})
	return initErr
}

// GetGlobalLogger returns the global logger, building a console-only
// fallback when InitGlobalLogger has not run (tests rely on this).
func GetGlobalLogger() *SystemLogger {
	if globalLogger == nil {
		fallback, err := NewSystemLogger(nil, Config{
			Level:       "info",
			Environment: "development",
			Service:     "paygate",
		})
		if err != nil {
			panic(err)
		}
		globalLogger = fallback
	}
	return globalLogger
}

// Debug logs a debug message using the global logger
func Debug(message string, ctx ...LogContext) {
	GetGlobalLogger().Debug(message, ctx...)
}

// Info logs an info message using the global logger
func Info(message string, ctx ...LogContext) {
	GetGlobalLogger().Info(message, ctx...)
}

// Warn logs a warning message using the global logger
func Warn(message string, ctx ...LogContext) {
	GetGlobalLogger().Warn(message, ctx...)
}

// Error logs an error message using the global logger
func Error(message string, err error, ctx ...LogContext) {
	GetGlobalLogger().Error(message, err, ctx...)
}

// Fatal logs a fatal message using the global logger and exits
func Fatal(message string, err error, ctx ...LogContext) {
	GetGlobalLogger().Fatal(message, err, ctx...)
}
