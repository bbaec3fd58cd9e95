// Package termlog is a thin wrapper around the standard library
// logger: a file sink, a screen sink, and independent severity
// thresholds for each.
package termlog

import (
	"io"
	"log"
	"os"
)

type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	default:
		return LevelError
	}
}

// Logger writes to a screen logger and an optional file logger, each
// gated by its own level.
type Logger struct {
	screen      *log.Logger
	file        *log.Logger
	screenLevel Level
	fileLevel   Level
	fileHandle  *os.File
}

// New opens path (if non-empty) and returns a Logger writing to stdout
// at screenLevel and to the file at fileLevel.
func New(path string, screenLevel, fileLevel Level) (*Logger, error) {
	l := &Logger{
		screen:      log.New(os.Stdout, "", log.LstdFlags),
		screenLevel: screenLevel,
		fileLevel:   fileLevel,
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		l.fileHandle = f
		l.file = log.New(f, "", log.LstdFlags)
	}
	return l, nil
}

func (l *Logger) Close() error {
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

func (l *Logger) log(level Level, prefix, format string, args ...interface{}) {
	if level <= l.screenLevel {
		l.screen.Printf(prefix+format, args...)
	}
	if l.file != nil && level <= l.fileLevel {
		l.file.Printf(prefix+format, args...)
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, "[ERROR] ", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, "[WARN] ", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, "[INFO] ", format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, "[DEBUG] ", format, args...) }

// Discard is a Logger that drops everything, useful in tests.
func Discard() *Logger {
	return &Logger{
		screen:      log.New(io.Discard, "", 0),
		screenLevel: LevelError,
	}
}
