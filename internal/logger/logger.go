// Package logger wraps logrus with the structured, component-tagged
// logging style used across this gateway: every long-lived actor logs
// through a *logger.Log or *logger.Entry, never through fmt or the
// standard library log package.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields has the same shape as logrus.Fields and is converted to it
// internally, so callers never need to import logrus directly.
type Fields map[string]interface{}

// Log wraps a logrus.Logger.
type Log struct {
	*logrus.Logger
}

// Entry wraps a logrus.Entry so chained field calls keep returning our
// own type instead of leaking logrus into call sites.
type Entry struct {
	*logrus.Entry
}

var global *Log

func init() {
	global = New()
}

// New builds a logger with sane defaults: info level, JSON output to
// stdout, caller reporting fixed up to skip this package's frames.
func New() *Log {
	l := logrus.New()
	l.SetReportCaller(true)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(jsonFormatter())
	l.SetOutput(os.Stdout)
	l.AddHook(&callerHook{})
	return &Log{Logger: l}
}

// Global returns the process-wide default logger.
func Global() *Log {
	return global
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: prettyCaller,
	}
}

func prettyCaller(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

// Configure applies level/format/output settings, typically sourced from
// Config. An empty output means stdout.
func (l *Log) Configure(level, format, output string, maxAgeDays int) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.SetLevel(lvl)
	l.SetReportCaller(true)

	switch format {
	case "", "json":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyCaller,
		})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	switch output {
	case "", "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if maxAgeDays > 0 {
			l.SetOutput(&lumberjack.Logger{Filename: output, MaxAge: maxAgeDays, MaxSize: 100, Compress: true})
		} else {
			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file %q: %w", output, err)
			}
			l.SetOutput(f)
		}
	}
	return nil
}

// WithComponent tags the entry with a component name, the unit logging
// convention used throughout the gateway (session, store, broadcast,
// coordinator, latency).
func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(f Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(f))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(f Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(f))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

// SetOutput exposes the underlying writer for callers that need to
// redirect output outside Configure (tests, mainly).
func (l *Log) SetOutput(w io.Writer) { l.Logger.SetOutput(w) }
