package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates a new logger writing to stderr, or to the given file
// when logFileName is not empty. Stdout stays free for metric output.
func New(level slog.Level, isJSON bool, logFileName string) (*Logger, error) {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var writer io.Writer = os.Stderr
	var logFile *os.File

	if logFileName != "" {
		f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		logFile = f
		writer = f
	}

	var handler slog.Handler
	if isJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return &Logger{Logger: slog.New(handler), file: logFile}, nil
}

// NewFromSettings builds a logger from the textual log settings as they
// appear in the configuration file.
func NewFromSettings(levelStr, format, fileName string) (*Logger, error) {
	return New(parseLevel(levelStr), format == "json", fileName)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), file: l.file}
}

// Debug with additional information
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info with additional information
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warning with additional information
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error with error information
func (l *Logger) Error(ctx context.Context, err error, msg string, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.log(ctx, slog.LevelError, msg, args...)
}

// log internal logging method
func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip log, public function, and this function

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)

	_ = l.Handler().Handle(ctx, r)
}

func parseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
