package observe

import (
	"context"
	"io"
	"os"
	"slices"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: the span in ctx, if any, is attached to the entry.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a string log level. Unknown levels are info.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// zapLogger adapts a *zap.Logger to Logger.
type zapLogger struct {
	z *zap.Logger
}

// NewLogger creates a JSON logger on stderr at the given level.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a JSON logger writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(enc),
		zapcore.Lock(zapcore.AddSync(w)),
		ParseLogLevel(level).zapLevel(),
	)
	return &zapLogger{z: zap.New(core)}
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		return NopLogger()
	}
	return &zapLogger{z: z}
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(zapFields(fields)...)}
}

func (l *zapLogger) log(ctx context.Context, level zapcore.Level, msg string, fields []Field) {
	ce := l.z.Check(level, msg)
	if ce == nil {
		return
	}
	zf := zapFields(fields)
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			zf = append(zf,
				zap.String("trace_id", sc.TraceID().String()),
				zap.String("span_id", sc.SpanID().String()),
			)
		}
	}
	ce.Write(zf...)
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	for _, f := range fields {
		if isRedactedField(f.Key) {
			out = append(out, zap.String(f.Key, "[REDACTED]"))
			continue
		}
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// isRedactedField returns true if the field should be redacted.
func isRedactedField(key string) bool {
	return slices.Contains(RedactedFields, key)
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (l noopLogger) With(...Field) Logger                  { return l }
