// Package logging builds the logrus loggers used across chemdyn.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// ParseLevel maps a level name to a logrus.Level. Supported values are
// "error", "warn", "info", "debug" and "trace" (case-insensitive). Unknown
// values default to info.
func ParseLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return logrus.ErrorLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	case "trace":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogger creates a leveled logger writing text lines with full
// timestamps to w.
func NewLogger(level string, w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(ParseLevel(level))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		DisableColors:   true,
	})
	return l
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}
