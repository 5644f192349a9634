package core

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts go.uber.org/zap to the Logger interface. It is the
// production logger for the runtime; components that are handed no logger
// fall back to NoOpLogger instead.
//
// Usage:
//
//	logger, err := core.NewProductionLogger()
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//	limiter := ratelimit.NewLimiter(nil, ratelimit.WithLogger(logger))
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps an existing zap.Logger. Useful when the host
// application already owns a configured zap instance.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// NewProductionLogger returns a JSON logger at info level.
func NewProductionLogger() (*ZapLogger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build production logger: %w", err)
	}
	return &ZapLogger{logger: z}, nil
}

// NewDevelopmentLogger returns a human-readable console logger at debug
// level.
func NewDevelopmentLogger() (*ZapLogger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("failed to build development logger: %w", err)
	}
	return &ZapLogger{logger: z}, nil
}

// NewLoggerFromConfig builds a logger honoring LoggingConfig.
// Unknown levels are rejected; unknown formats fall back to JSON.
func NewLoggerFromConfig(cfg LoggingConfig) (*ZapLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, ErrInvalidConfiguration)
	}

	encoding := "json"
	if cfg.Format == "text" || cfg.Format == "console" {
		encoding = "console"
	}

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{output},
	}

	z, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &ZapLogger{logger: z}, nil
}

// WithComponent returns a child logger that stamps every entry with a
// component name, e.g. "ratelimit" or "escalation".
func (l *ZapLogger) WithComponent(name string) *ZapLogger {
	return &ZapLogger{logger: l.logger.With(zap.String("component", name))}
}

// Sync flushes buffered log entries. Call before process exit.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.logger.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]interface{}) {
	l.logger.Error(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.logger.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.logger.Debug(msg, toZapFields(fields)...)
}

// toZapFields converts a fields map to zap fields with deterministic key
// order so log lines are stable under test.
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

var _ Logger = (*ZapLogger)(nil)
