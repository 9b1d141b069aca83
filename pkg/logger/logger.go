// Package logger provides the process-wide logrus logger for prism-check.
// Standard output carries check results in one-shot mode, so log output
// defaults to standard error.
package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/prism-check/pkg/types"
)

var (
	log            = newDefault()
	mu             sync.RWMutex
	currentLogFile io.Closer
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stderr)
	return l
}

// Initialize reconfigures the global logger. The logger instance is kept,
// so hooks and entries created earlier stay attached.
//   - level: debug, info, warn or error
//   - format: json or text
//   - output: stdout, stderr or file
//   - outputFile: file path when output is "file"
func Initialize(level, format, output string, outputFile string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var formatter logrus.Formatter
	switch format {
	case "json":
		formatter = &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		}
	case "text":
		formatter = &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
	default:
		return fmt.Errorf("invalid log format %q: must be json or text", format)
	}

	mu.Lock()
	defer mu.Unlock()

	var (
		writer  io.Writer
		newFile io.Closer
	)
	switch output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	case "file":
		if outputFile == "" {
			return fmt.Errorf("logFile must be specified when logOutput is 'file'")
		}
		file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", outputFile, err)
		}
		buffered := &bufferedFileWriter{
			Writer: bufio.NewWriterSize(file, 64*1024),
			file:   file,
		}
		writer, newFile = buffered, buffered
	default:
		return fmt.Errorf("invalid log output %q: must be stdout, stderr, or file", output)
	}

	if currentLogFile != nil {
		if err := currentLogFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close previous log file: %v\n", err)
		}
	}
	currentLogFile = newFile

	log.SetLevel(lvl)
	log.SetFormatter(formatter)
	log.SetOutput(writer)
	return nil
}

// InitializeFromSettings applies the logging fields of the global settings.
func InitializeFromSettings(settings *types.GlobalSettings) error {
	if settings == nil {
		return fmt.Errorf("settings cannot be nil")
	}
	return Initialize(settings.LogLevel, settings.LogFormat, settings.LogOutput, settings.LogFile)
}

// bufferedFileWriter flushes its buffer before closing the file.
type bufferedFileWriter struct {
	*bufio.Writer
	file *os.File
}

func (w *bufferedFileWriter) Close() error {
	if err := w.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	return w.file.Close()
}

// Get returns the global logger instance
func Get() *logrus.Logger {
	return log
}

// WithFields returns a logger entry with structured fields.
//
//	logger.WithFields(logrus.Fields{
//	    "component": "engine",
//	    "host":      "ntnx-cluster-01",
//	}).Info("Cycle complete")
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// WithField returns a logger entry with a single structured field
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// WithError returns a logger entry with an error field
func WithError(err error) *logrus.Entry {
	return log.WithError(err)
}

// ForComponent returns an entry tagged with the component field.
func ForComponent(name string) *logrus.Entry {
	return log.WithField("component", name)
}

// Debug logs a message at level Debug
func Debug(args ...interface{}) {
	log.Debug(args...)
}

// Info logs a message at level Info
func Info(args ...interface{}) {
	log.Info(args...)
}

// Warn logs a message at level Warn
func Warn(args ...interface{}) {
	log.Warn(args...)
}

// Error logs a message at level Error
func Error(args ...interface{}) {
	log.Error(args...)
}

// Infof logs a formatted message at level Info
func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warnf logs a formatted message at level Warn
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Errorf logs a formatted message at level Error
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// SetLevel sets the log level programmatically
func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}

// GetLevel returns the current log level
func GetLevel() logrus.Level {
	return log.GetLevel()
}

// Close flushes and closes the log file if one is open. Output falls back
// to standard error. It is safe to call more than once.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if currentLogFile == nil {
		return nil
	}
	err := currentLogFile.Close()
	currentLogFile = nil
	log.SetOutput(os.Stderr)
	return err
}

// Flush writes buffered log data to the output.
func Flush() error {
	mu.RLock()
	defer mu.RUnlock()

	if flusher, ok := log.Out.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}
