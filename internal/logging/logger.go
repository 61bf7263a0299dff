package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// Components depend on this interface instead of a concrete logger so tests
// can substitute a no-op or capture sink.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func levelString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level; unknown names default to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	rootInstance *fileLogger
	rootOnce     sync.Once
)

// fileLogger writes formatted, redacted lines to codecoder-debug.log.
type fileLogger struct {
	mu        sync.Mutex
	file      *os.File
	sink      *log.Logger
	level     Level
	component string
	echo      bool
}

func root() *fileLogger {
	rootOnce.Do(func() {
		rootInstance = newFileLogger("", ParseLevel(os.Getenv("CODECODER_LOG_LEVEL")))
	})
	return rootInstance
}

func newFileLogger(component string, level Level) *fileLogger {
	l := &fileLogger{
		level:     level,
		component: component,
		echo:      os.Getenv("CODECODER_LOG_STDERR") != "",
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return l
	}
	path := filepath.Join(home, "codecoder-debug.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return l
	}
	l.file = file
	l.sink = log.New(file, "", 0)
	return l
}

// NewComponentLogger returns the process logger scoped to a component name.
func NewComponentLogger(component string) Logger {
	r := root()
	return &fileLogger{
		file:      r.file,
		sink:      r.sink,
		level:     r.level,
		component: component,
		echo:      r.echo,
	}
}

// SetLevel adjusts the minimum level of the process logger.
func SetLevel(level Level) {
	r := root()
	r.mu.Lock()
	r.level = level
	r.mu.Unlock()
}

// Close flushes and closes the process log file.
func Close() error {
	r := root()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func (l *fileLogger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	component := l.component
	if component == "" {
		component = "CODECODER"
	}

	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		time.Now().Format("2006-01-02 15:04:05"), levelString(level), component, file, line, message)

	sanitized := Redact(logLine)

	if l.sink != nil {
		l.sink.Print(sanitized)
	}
	if l.echo {
		fmt.Fprint(os.Stderr, sanitized)
	}
}

func (l *fileLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *fileLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *fileLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *fileLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
