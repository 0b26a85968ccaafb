package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct {
	l *zap.Logger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{
		l: l,
	}
}

// Options selects the sink and verbosity of a zap-backed logger.
type Options struct {
	// OutputPath is a file path; empty writes to stderr.
	OutputPath string
	Debug      bool
}

// NewZapLoggerFromOptions builds a JSON zap logger and returns a cleanup func that flushes it.
func NewZapLoggerFromOptions(opts Options) (*ZapLogger, func(), error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006.01.02 15:04:05")
	cfg.Sampling = nil
	if opts.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if path := strings.TrimSpace(opts.OutputPath); path != "" {
		cfg.OutputPaths = []string{path}
		cfg.ErrorOutputPaths = []string{path}
	}
	base, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}
	cleanup := func() { _ = base.Sync() }
	return NewZapLogger(base), cleanup, nil
}

func (z *ZapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, toZap(fields...)...) }
func (z *ZapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, toZap(fields...)...) }
func (z *ZapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, toZap(fields...)...) }
func (z *ZapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, toZap(fields...)...) }
func (z *ZapLogger) Fatal(msg string, fields ...Field) { z.l.Fatal(msg, toZap(fields...)...) }

func (z *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{l: z.l.With(toZap(fields...)...)}
}

func toZap(fs ...Field) []zap.Field {
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
