// Package logger builds the process-wide zap logger.
package logger

import "go.uber.org/zap"

// New returns a development logger (console, debug level) when debug is true
// and a production logger (JSON, info level) otherwise.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Must is New for main; it falls back to a no-op logger rather than exiting.
func Must(debug bool) *zap.Logger {
	l, err := New(debug)
	if err != nil {
		return zap.NewNop()
	}
	return l
}
