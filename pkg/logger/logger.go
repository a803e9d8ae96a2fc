package logger

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Log levels, lowest to highest severity.
const (
	DEBUG = iota
	INFO
	WARN
	ERROR
)

var currentLevel atomic.Int32

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelDebug,
}))

func init() {
	currentLevel.Store(INFO)
}

// SetLevel sets the minimum level that will be emitted.
func SetLevel(level int) {
	currentLevel.Store(int32(level))
}

func enabled(level int) bool {
	return int32(level) >= currentLevel.Load()
}

func fieldsToAttrs(component string, fields map[string]interface{}) []any {
	attrs := make([]any, 0, 2+len(fields)*2)
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// DebugC logs a debug message for a component.
func DebugC(component, format string, args ...interface{}) {
	if !enabled(DEBUG) {
		return
	}
	base.Debug(fmt.Sprintf(format, args...), "component", component)
}

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	if !enabled(DEBUG) {
		return
	}
	base.Debug(msg, fieldsToAttrs(component, fields)...)
}

// InfoC logs an info message for a component.
func InfoC(component, format string, args ...interface{}) {
	if !enabled(INFO) {
		return
	}
	base.Info(fmt.Sprintf(format, args...), "component", component)
}

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	if !enabled(INFO) {
		return
	}
	base.Info(msg, fieldsToAttrs(component, fields)...)
}

// WarnC logs a warning for a component.
func WarnC(component, format string, args ...interface{}) {
	if !enabled(WARN) {
		return
	}
	base.Warn(fmt.Sprintf(format, args...), "component", component)
}

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	if !enabled(WARN) {
		return
	}
	base.Warn(msg, fieldsToAttrs(component, fields)...)
}

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	if !enabled(ERROR) {
		return
	}
	base.Error(msg, fieldsToAttrs(component, fields)...)
}
