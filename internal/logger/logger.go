package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with key/value helpers. Children created with
// With or Named share the parent's level.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// LogConfig contains logging configuration.
//
// Output is a comma separated list of sinks. "stdout" and "stderr" are
// passed through, anything else is treated as a file path whose parent
// directory is created on demand.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// New creates a new logger based on configuration
func New(cfg LogConfig) (*Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	outputs, err := resolveOutputs(cfg.Output)
	if err != nil {
		return nil, err
	}
	sink, _, err := zap.Open(outputs...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log outputs: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, sink, level)
	zl := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(sink),
	)
	return &Logger{Logger: zl, level: level}, nil
}

// SetLevel changes the level of this logger and every child
func (l *Logger) SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	l.level.SetLevel(lvl)
	return nil
}

// Level returns the current level name
func (l *Logger) Level() string {
	return l.level.Level().String()
}

func parseLevel(name string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func resolveOutputs(output string) ([]string, error) {
	var outputs []string
	for _, sink := range strings.Split(output, ",") {
		sink = strings.TrimSpace(sink)
		if sink == "" {
			continue
		}
		if sink != "stdout" && sink != "stderr" {
			if dir := filepath.Dir(sink); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
				}
			}
		}
		outputs = append(outputs, sink)
	}
	if len(outputs) == 0 {
		return []string{"stdout"}, nil
	}
	return outputs, nil
}

// Sync flushes buffered entries
func (l *Logger) Sync() {
	_ = l.Logger.Sync()
}

func (l *Logger) child(zl *zap.Logger) *Logger {
	return &Logger{Logger: zl, level: l.level}
}

// WithFields creates a child logger with zap fields
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return l.child(l.Logger.With(fields...))
}

// With creates a child logger from key/value pairs
func (l *Logger) With(kv ...interface{}) *Logger {
	return l.child(l.Logger.With(convertFields(kv...)...))
}

// Named returns a child logger tagged with the component name
func (l *Logger) Named(component string) *Logger {
	return l.child(l.Logger.Named(component).With(zap.String("component", component)))
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	l.Logger.Info(msg, convertFields(kv...)...)
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	l.Logger.Error(msg, convertFields(kv...)...)
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	l.Logger.Warn(msg, convertFields(kv...)...)
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	l.Logger.Debug(msg, convertFields(kv...)...)
}

// Fatal logs and exits the process
func (l *Logger) Fatal(msg string, kv ...interface{}) {
	l.Logger.Fatal(msg, convertFields(kv...)...)
}

// convertFields turns alternating key/value pairs into zap fields.
// Errors are attached with zap.NamedError; non-string keys are skipped.
func convertFields(kv ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, isErr := kv[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}

// NewNopLogger creates a no-op logger for tests
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}
