package logger

import (
	"context"
	"time"

	"github.com/richgarden/paygate/infra/opensearch"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogContext holds contextual information attached to a log entry
type LogContext struct {
	Gateway   string
	OrderID   string
	RequestID string
	Fields    map[string]any
}

// SystemLog is the structured entry shipped to OpenSearch
type SystemLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Gateway   string         `json:"gateway,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Service   string         `json:"service"`
}

// SystemLogger writes structured logs to the console through zap and,
// when configured, ships the same entries to OpenSearch.
type SystemLogger struct {
	zap      *zap.Logger
	osLogger *opensearch.Logger
	service  string
}

// Config represents system logger configuration
type Config struct {
	Level       string
	Environment string
	Service     string
}

// NewSystemLogger creates a new system logger. osLogger may be nil.
func NewSystemLogger(osLogger *opensearch.Logger, cfg Config) (*SystemLogger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = level
	if cfg.Environment == "development" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.Level = level
	}

	zl, err := zapCfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}

	return &SystemLogger{zap: zl, osLogger: osLogger, service: cfg.Service}, nil
}

// Sync flushes buffered console output
func (l *SystemLogger) Sync() {
	_ = l.zap.Sync()
}

func (l *SystemLogger) log(level zapcore.Level, message string, err error, ctx ...LogContext) {
	fields := make([]zap.Field, 0, 8)
	entry := SystemLog{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   message,
		Service:   l.service,
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		entry.Error = err.Error()
	}

	if len(ctx) > 0 {
		c := ctx[0]
		entry.Gateway = c.Gateway
		entry.OrderID = c.OrderID
		entry.RequestID = c.RequestID
		entry.Fields = c.Fields
		if c.Gateway != "" {
			fields = append(fields, zap.String("gateway", c.Gateway))
		}
		if c.OrderID != "" {
			fields = append(fields, zap.String("order_id", c.OrderID))
		}
		if c.RequestID != "" {
			fields = append(fields, zap.String("request_id", c.RequestID))
		}
		for key, value := range c.Fields {
			fields = append(fields, zap.Any(key, value))
		}
	}

	if ce := l.zap.Check(level, message); ce != nil {
		ce.Write(fields...)
	}

	if l.osLogger != nil && level >= zapcore.InfoLevel {
		// Shipping must not block the caller's request path.
		go func() {
			shipCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.osLogger.LogSystem(shipCtx, entry)
		}()
	}
}

// Debug logs a debug message
func (l *SystemLogger) Debug(message string, ctx ...LogContext) {
	l.log(zapcore.DebugLevel, message, nil, ctx...)
}

// Info logs an info message
func (l *SystemLogger) Info(message string, ctx ...LogContext) {
	l.log(zapcore.InfoLevel, message, nil, ctx...)
}

// Warn logs a warning message
func (l *SystemLogger) Warn(message string, ctx ...LogContext) {
	l.log(zapcore.WarnLevel, message, nil, ctx...)
}

// Error logs an error message
func (l *SystemLogger) Error(message string, err error, ctx ...LogContext) {
	l.log(zapcore.ErrorLevel, message, err, ctx...)
}

// Fatal logs a fatal message and exits
func (l *SystemLogger) Fatal(message string, err error, ctx ...LogContext) {
	fields := []zap.Field{}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.zap.Fatal(message, fields...)
}
