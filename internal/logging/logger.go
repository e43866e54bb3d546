package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger is the minimal printf-style logging contract used across the module.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger { return nopLogger{} }

var (
	sinkOnce sync.Once
	sink     *fileSink
)

// fileSink appends formatted lines to the shared debug log file
// (~/.retrace/retrace-debug.log).
type fileSink struct {
	mu     sync.Mutex
	logger *log.Logger
	level  Level
}

func defaultSink() *fileSink {
	sinkOnce.Do(func() {
		sink = &fileSink{level: DEBUG}
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		dir := filepath.Join(home, ".retrace")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return
		}
		file, err := os.OpenFile(filepath.Join(dir, "retrace-debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		sink.logger = log.New(file, "", 0)
	})
	return sink
}

// SetLevel sets the minimum level written to the shared log file.
func SetLevel(level Level) {
	s := defaultSink()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

func (s *fileSink) write(level Level, component, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logger == nil || level < s.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s [%s] [%s] %s", time.Now().UTC().Format(time.RFC3339), level, component, msg)
}

type componentLogger struct {
	component string
	sink      *fileSink
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component, sink: defaultSink()}
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.sink.write(DEBUG, l.component, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.sink.write(INFO, l.component, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.sink.write(WARN, l.component, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.sink.write(ERROR, l.component, format, args...)
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
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
		if logger == nil {
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
