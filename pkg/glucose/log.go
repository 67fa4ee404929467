package glucose

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger denotes a generic log interface that logging service must provide
type Logger interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
}

var (
	_ Logger = NullLogger{}
	_ Logger = (*zap.SugaredLogger)(nil)
)

// NullLogger discards everything
type NullLogger struct{}

func (NullLogger) Error(...interface{})          {}
func (NullLogger) Errorf(string, ...interface{}) {}
func (NullLogger) Warn(...interface{})           {}
func (NullLogger) Warnf(string, ...interface{})  {}
func (NullLogger) Info(...interface{})           {}
func (NullLogger) Infof(string, ...interface{})  {}
func (NullLogger) Debug(...interface{})          {}
func (NullLogger) Debugf(string, ...interface{}) {}

// NewLogger instantiates a console logger for the given level (debug, info, warn or error),
// named after the (optional) component path. Use Named() on the result to derive loggers
// for sub-components
func NewLogger(level string, component ...string) (*zap.SugaredLogger, error) {

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logCfg := zap.NewDevelopmentConfig()
	logCfg.DisableStacktrace = true
	logCfg.DisableCaller = lvl > zapcore.DebugLevel
	logCfg.Level = zap.NewAtomicLevelAt(lvl)
	zapLogger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate logger: %w", err)
	}

	for _, name := range component {
		zapLogger = zapLogger.Named(name)
	}

	return zapLogger.Sugar(), nil
}
