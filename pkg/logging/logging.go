// Package logging defines the logger used across the pipeline and adapters
// for logrus and log/slog.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a set of structured key/value pairs.
type Fields = map[string]interface{}

// Logger is the structured logger the pipeline components accept.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// Options configures New.
type Options struct {
	// Level is a logrus level name. Empty means info.
	Level string
	// JSON switches to the JSON formatter.
	JSON bool
	// Output defaults to stderr.
	Output io.Writer
}

// New builds a logrus-backed Logger. An unparseable level falls back to info.
func New(opts Options) Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	}
	logger.SetLevel(logrus.InfoLevel)
	if opts.Level != "" {
		if lvl, err := logrus.ParseLevel(opts.Level); err == nil {
			logger.SetLevel(lvl)
		}
	}
	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return NewLogrusAdapter(logger)
}

// Discard returns a Logger that drops everything. Components use it when the
// caller does not supply one.
func Discard() Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewLogrusAdapter(logger)
}

// Component returns l scoped to a named component, or a discarding logger
// scoped the same way when l is nil.
func Component(l Logger, name string) Logger {
	if l == nil {
		l = Discard()
	}
	return l.WithField("component", name)
}
