package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Format represents the log output format
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Options configures a ZerologLogger
type Options struct {
	// Format is json or console
	Format Format
	// Level is the minimum level written
	Level Level
	// Console receives log lines (nil = no console output)
	Console io.Writer
	// FilePath enables a rotated log file when set
	FilePath string
	// MaxSizeMB rotates the file when it grows past this size
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept
	MaxBackups int
	// MaxAgeDays removes rotated files older than this (0 = keep)
	MaxAgeDays int
}

// ZerologLogger implements Logger on top of zerolog
type ZerologLogger struct {
	zl   zerolog.Logger
	file *lumberjack.Logger
}

// NewZerologLogger creates a logger writing to the console writer and/or a
// rotated file
func NewZerologLogger(opts Options) (*ZerologLogger, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	if opts.Format != FormatJSON && opts.Format != FormatConsole {
		return nil, fmt.Errorf("invalid log format %q (use: json, console)", opts.Format)
	}

	var writers []io.Writer
	if opts.Console != nil {
		writers = append(writers, formatWriter(opts.Format, opts.Console, false))
	}

	var file *lumberjack.Logger
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 10
		}
		file = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			LocalTime:  true,
		}
		writers = append(writers, formatWriter(opts.Format, file, true))
	}

	if len(writers) == 0 {
		return nil, fmt.Errorf("no log output configured")
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(toZerolog(opts.Level)).
		With().
		Timestamp().
		Logger()

	return &ZerologLogger{zl: zl, file: file}, nil
}

func formatWriter(format Format, w io.Writer, noColor bool) io.Writer {
	if format == FormatConsole {
		return zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: time.RFC3339}
	}
	return w
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs a debug message
func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.zl.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Info logs an info message
func (l *ZerologLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.zl.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Warn logs a warning message
func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.zl.Warn().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Error logs an error message
func (l *ZerologLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	l.zl.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

// WithFields returns a child logger carrying fields on every line. The
// child shares the parent's file; only the parent should be closed.
func (l *ZerologLogger) WithFields(fields Fields) Logger {
	return &ZerologLogger{zl: l.zl.With().Fields(map[string]interface{}(fields)).Logger()}
}

// Close closes the log file, if any
func (l *ZerologLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
