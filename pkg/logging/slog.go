package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// SlogLogger implements Logger on top of log/slog, for embedders that have
// standardized on slog handlers.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger builds a text-handler logger at the given level. A nil
// writer means stderr.
func NewSlogLogger(level slog.Level, w io.Writer) *SlogLogger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &SlogLogger{logger: slog.New(handler)}
}

// NewSlogLoggerFromLogger wraps an existing slog.Logger.
func NewSlogLoggerFromLogger(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

func (s *SlogLogger) WithField(key string, value interface{}) Logger {
	return &SlogLogger{logger: s.logger.With(key, value)}
}

func (s *SlogLogger) WithFields(fields Fields) Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &SlogLogger{logger: s.logger.With(args...)}
}

func (s *SlogLogger) WithError(err error) Logger {
	return s.WithField("error", err)
}

func (s *SlogLogger) Debugf(format string, args ...interface{}) {
	s.logger.Debug(fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Infof(format string, args ...interface{}) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Warnf(format string, args ...interface{}) {
	s.logger.Warn(fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Errorf(format string, args ...interface{}) {
	s.logger.Error(fmt.Sprintf(format, args...))
}

func (s *SlogLogger) Debug(args ...interface{}) { s.logger.Debug(fmt.Sprint(args...)) }
func (s *SlogLogger) Info(args ...interface{})  { s.logger.Info(fmt.Sprint(args...)) }
func (s *SlogLogger) Warn(args ...interface{})  { s.logger.Warn(fmt.Sprint(args...)) }
func (s *SlogLogger) Error(args ...interface{}) { s.logger.Error(fmt.Sprint(args...)) }
