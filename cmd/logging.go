// cmd/logging.go
package cmd

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger: human-readable with --debug, JSON otherwise.
func newLogger() *zap.Logger {
	if debugMode {
		zapConfig := zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if l, err := zapConfig.Build(); err == nil {
			return l
		}
	} else if l, err := zap.NewProduction(); err == nil {
		return l
	}
	return zap.NewNop()
}

// logFn adapts a logger to the LogFn callback the internal packages take.
func logFn(logger *zap.Logger, component string) func(level, msg string) {
	l := logger.With(zap.String("component", component))
	return func(level, msg string) {
		switch level {
		case "debug":
			l.Debug(msg)
		case "warning", "warn":
			l.Warn(msg)
		case "error":
			l.Error(msg)
		default:
			l.Info(msg)
		}
	}
}

// debugFn adapts a logger to printf-style debug callbacks.
func debugFn(logger *zap.Logger, component string) func(format string, args ...any) {
	s := logger.With(zap.String("component", component)).Sugar()
	return s.Debugf
}
