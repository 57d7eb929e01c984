// Package log provides structured logging with publication attempt context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the pipeline (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
package log

import (
	"io"
	"os"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/aipfs/types"
)

// Logger provides structured logging with attempt context.
// Entries carry attempt_id, account, chain_id and attempt when built from
// an AttemptMeta.
type Logger struct {
	zap *zap.Logger
	// context is replayed when the output changes.
	context []zap.Field
	level   zapcore.Level
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

func newCore(w io.Writer, level zapcore.Level) zapcore.Core {
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), level)
}

// NewLogger creates a logger for one attempt writing to os.Stderr.
func NewLogger(meta *types.AttemptMeta) *Logger {
	return NewLoggerWithWriter(meta, os.Stderr, zapcore.DebugLevel)
}

// NewLoggerWithWriter creates a logger for meta writing to w at level.
// A nil meta yields a logger without attempt fields.
func NewLoggerWithWriter(meta *types.AttemptMeta, w io.Writer, level zapcore.Level) *Logger {
	var fields []zap.Field
	if meta != nil {
		fields = attemptFields(meta)
	}
	return &Logger{zap: zap.New(newCore(w, level)).With(fields...), context: fields, level: level}
}

func attemptFields(meta *types.AttemptMeta) []zap.Field {
	fields := []zap.Field{
		zap.String("attempt_id", meta.AttemptID),
		zap.String("account", meta.Account),
		zap.Int64("chain_id", meta.ChainID),
		zap.Int("attempt", meta.Attempt),
	}
	if meta.ResumeOf != nil {
		fields = append(fields, zap.String("resume_of", *meta.ResumeOf))
	}
	return fields
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), level: zapcore.FatalLevel}
}

// WithOutput returns a logger with the same context writing to w.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return &Logger{
		zap:     zap.New(newCore(w, l.level)).With(l.context...),
		context: l.context,
		level:   l.level,
	}
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Logger{
		zap:     l.zap.With(zf...),
		context: append(slices.Clip(l.context), zf...),
		level:   l.level,
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
