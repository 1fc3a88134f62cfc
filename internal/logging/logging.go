// Package logging builds the zap logger shared by the CLI and passed down to
// every component.
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects sinks and verbosity.
type Options struct {
	// Verbose enables debug level.
	Verbose bool
	// Format is "json" or "console" (default).
	Format string
	// File, if set, also writes JSON logs to a rotating file.
	File string
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.TimeKey = "timestamp"
	return cfg
}

func defaultOptions() []zap.Option {
	var stackTraceLevel zap.LevelEnablerFunc = func(level zapcore.Level) bool {
		return level >= zapcore.DPanicLevel
	}
	return []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(stackTraceLevel),
	}
}

func rotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:  path,
		MaxSize:   200,
		LocalTime: true,
		Compress:  true,
	}
}

// New builds a logger writing to w (normally stderr) and, when opts.File is
// set, to a rotating file. The returned closer flushes and closes the file;
// it is never nil.
func New(w io.Writer, opts Options) (*zap.Logger, io.Closer) {
	level := zapcore.InfoLevel
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	enabler := zap.NewAtomicLevelAt(level)

	var enc zapcore.Encoder
	if opts.Format == "json" {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	} else {
		cc := encoderConfig()
		cc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cc)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), enabler)}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		f := rotatingFile(opts.File)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(f), enabler))
		closer = f
	}

	return zap.New(zapcore.NewTee(cores...), defaultOptions()...), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
