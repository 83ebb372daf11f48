package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"optionsurface/pkg/errors"
)

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Logger wraps zap.SugaredLogger and forwards error-level entries to a tracker
type Logger struct {
	*zap.SugaredLogger
	errorTracker errors.Tracker
}

// Init initializes the global logger.
// Production builds a JSON encoder, anything else a colored console encoder.
func Init(level string, env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	built, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return errors.Wrap(err, "failed to build zap logger")
	}

	globalMu.Lock()
	globalLogger = &Logger{SugaredLogger: built.Sugar()}
	globalMu.Unlock()
	return nil
}

// SetErrorTracker attaches an error tracker to the global logger
func SetErrorTracker(tracker errors.Tracker) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger != nil {
		globalLogger.errorTracker = tracker
	}
}

// Get returns the global logger, falling back to a development logger before Init
func Get() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		dev, _ := zap.NewDevelopment()
		globalLogger = &Logger{SugaredLogger: dev.Sugar()}
	}
	return globalLogger
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// With creates a child logger with additional fields
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(args...),
		errorTracker:  l.errorTracker,
	}
}

// WithFields creates a child logger with a map of fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.With(args...)
}

// Error logs an error and sends it to the error tracker
func (l *Logger) Error(args ...interface{}) {
	l.SugaredLogger.Error(args...)
	l.capture(context.Background(), errors.Wrapf(errors.ErrInternal, "%v", fmt.Sprint(args...)), nil)
}

// Errorf logs a formatted error and sends it to the error tracker
func (l *Logger) Errorf(template string, args ...interface{}) {
	l.SugaredLogger.Errorf(template, args...)
	l.capture(context.Background(), fmt.Errorf(template, args...), nil)
}

// Errorw logs a message with key/value pairs and sends it to the error tracker.
// An "error" key, when present, is captured as the tracked error.
func (l *Logger) Errorw(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)

	if l.errorTracker == nil {
		return
	}

	tags := map[string]string{"message": msg}
	var tracked error
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr && key == "error" {
			tracked = err
			continue
		}
		tags[key] = fmt.Sprint(keysAndValues[i+1])
	}
	if tracked == nil {
		tracked = errors.Wrap(errors.ErrInternal, msg)
	}
	l.capture(context.Background(), tracked, tags)
}

// ErrorWithContext logs an error with context and sends it to the error tracker
func (l *Logger) ErrorWithContext(ctx context.Context, err error, tags map[string]string) {
	l.SugaredLogger.Error(err)
	l.capture(ctx, err, tags)
}

func (l *Logger) capture(ctx context.Context, err error, tags map[string]string) {
	if l.errorTracker == nil {
		return
	}
	if tags == nil {
		tags = map[string]string{"component": "logger"}
	}
	_ = l.errorTracker.CaptureError(ctx, err, tags)
}

// Convenience functions that use the global logger
func Debug(args ...interface{})                   { Get().Debug(args...) }
func Debugf(template string, args ...interface{}) { Get().Debugf(template, args...) }
func Info(args ...interface{})                    { Get().Info(args...) }
func Infof(template string, args ...interface{})  { Get().Infof(template, args...) }
func Warn(args ...interface{})                    { Get().Warn(args...) }
func Warnf(template string, args ...interface{})  { Get().Warnf(template, args...) }
func Error(args ...interface{})                   { Get().Error(args...) }
func Errorf(template string, args ...interface{}) { Get().Errorf(template, args...) }
func Fatalf(template string, args ...interface{}) { Get().Fatalf(template, args...) }

// Sync flushes any buffered log entries
func Sync() error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}
