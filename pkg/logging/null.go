package logging

import "context"

// NullLogger drops every entry. One-shot commands get it unless logging is
// enabled in the configuration or --verbose is set.
type NullLogger struct{}

// NewNullLogger returns a logger that records nothing
func NewNullLogger() *NullLogger {
	return &NullLogger{}
}

func (l *NullLogger) Debug(ctx context.Context, msg string, fields Fields) {}

func (l *NullLogger) Info(ctx context.Context, msg string, fields Fields) {}

func (l *NullLogger) Warn(ctx context.Context, msg string, fields Fields) {}

func (l *NullLogger) Error(ctx context.Context, msg string, err error, fields Fields) {}

// WithFields returns l; there is no context to attach fields to
func (l *NullLogger) WithFields(fields Fields) Logger {
	return l
}

// Close has nothing to flush
func (l *NullLogger) Close() error {
	return nil
}
