// Package logger provides component-tagged structured logging for agentc.
//
// Every call names the component that produced it ("bus", "turn", "voice",
// "stream", ...) plus an optional field map. Output goes through a log/slog
// handler; hooks see every entry regardless of the configured level, which
// is what tests use to assert on recoverable anomalies.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a config string ("debug", "info", ...) to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Entry is a single log record as seen by hooks.
type Entry struct {
	Time      time.Time
	Level     LogLevel
	Component string
	Message   string
	Fields    map[string]interface{}
}

// Hook receives every entry, including ones below the output level.
type Hook func(Entry)

var (
	mu           sync.RWMutex
	currentLevel = INFO
	handler      slog.Handler = newHandler(os.Stderr, "text")
	hooks                     = make(map[int]Hook)
	nextHookID   int
)

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetLevel sets the minimum level written to the output.
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel returns the current output level.
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetOutput redirects log output. format is "text" or "json".
func SetOutput(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()
	handler = newHandler(w, format)
}

// AddHook registers a hook and returns a function that removes it.
func AddHook(h Hook) func() {
	mu.Lock()
	defer mu.Unlock()
	id := nextHookID
	nextHookID++
	hooks[id] = h
	return func() {
		mu.Lock()
		defer mu.Unlock()
		delete(hooks, id)
	}
}

func logMessage(level LogLevel, component, message string, fields map[string]interface{}) {
	entry := Entry{
		Time:      time.Now(),
		Level:     level,
		Component: component,
		Message:   message,
		Fields:    fields,
	}

	mu.RLock()
	h := handler
	enabled := level >= currentLevel
	active := make([]Hook, 0, len(hooks))
	for _, hook := range hooks {
		active = append(active, hook)
	}
	mu.RUnlock()

	for _, hook := range active {
		hook(entry)
	}

	if !enabled {
		return
	}

	record := slog.NewRecord(entry.Time, level.slogLevel(), message, 0)
	if component != "" {
		record.AddAttrs(slog.String("component", component))
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			record.AddAttrs(slog.Any(k, fields[k]))
		}
	}
	_ = h.Handle(context.Background(), record)
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }

func Info(message string) { logMessage(INFO, "", message, nil) }

func Warn(message string) { logMessage(WARN, "", message, nil) }

func Error(message string) { logMessage(ERROR, "", message, nil) }

func DebugC(component string, message string) { logMessage(DEBUG, component, message, nil) }

func DebugCF(component string, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoC(component string, message string) { logMessage(INFO, component, message, nil) }

func InfoCF(component string, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnC(component string, message string) { logMessage(WARN, component, message, nil) }

func WarnCF(component string, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorC(component string, message string) { logMessage(ERROR, component, message, nil) }

func ErrorCF(component string, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}
