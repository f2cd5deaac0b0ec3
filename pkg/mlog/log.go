// Package mlog defines the logging interface used throughout the execution
// core. Every host-call boundary and the kernel entry log through this
// interface rather than the standard library logger directly, so the
// backing implementation (zap in production, a no-op in tests that don't
// care) can be swapped without touching call sites.
package mlog

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Logger is the common interface for log implementations used across the
// core: the executor, the runtime bridge, the kernel and bootstrap all
// accept or return one of these instead of depending on zap directly.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)
	Infoln(args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)
	Errorln(args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)
	Warnln(args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)
	Debugln(args ...any)

	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Fatalln(args ...any)

	WithFields(fields ...any) Logger

	Sync() error
}

// LogLevel represents the level of the log system.
type LogLevel int8

const (
	PanicLevel LogLevel = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

// ParseLevel takes a string level and returns a LogLevel constant.
func ParseLevel(lvl string) (LogLevel, error) {
	switch strings.ToLower(lvl) {
	case "fatal":
		return FatalLevel, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	}

	var l LogLevel

	return l, fmt.Errorf("not a valid LogLevel: %q", lvl)
}

// GoLogger is the stdlib (log package) fallback implementation of Logger,
// used by tests and tools that don't need structured output. Fields
// accumulated through WithFields are rendered as a key=value suffix on
// every line.
type GoLogger struct {
	Level  LogLevel
	fields []any
}

func (l *GoLogger) enabled(level LogLevel) bool { return l.Level >= level }

// suffix renders the accumulated WithFields pairs. An odd trailing key
// stays visible rather than being dropped.
func (l *GoLogger) suffix() string {
	if len(l.fields) == 0 {
		return ""
	}

	var sb strings.Builder

	for i := 0; i < len(l.fields); i += 2 {
		sb.WriteByte(' ')
		fmt.Fprintf(&sb, "%v", l.fields[i])
		sb.WriteByte('=')

		if i+1 < len(l.fields) {
			fmt.Fprintf(&sb, "%v", l.fields[i+1])
		} else {
			sb.WriteString("<missing>")
		}
	}

	return sb.String()
}

func (l *GoLogger) print(level LogLevel, args ...any) {
	if l.enabled(level) {
		log.Print(fmt.Sprint(args...) + l.suffix())
	}
}

func (l *GoLogger) printf(level LogLevel, format string, args ...any) {
	if l.enabled(level) {
		log.Print(fmt.Sprintf(format, args...) + l.suffix())
	}
}

func (l *GoLogger) println(level LogLevel, args ...any) {
	if l.enabled(level) {
		line := fmt.Sprintln(args...)
		log.Print(line[:len(line)-1] + l.suffix())
	}
}

func (l *GoLogger) Info(args ...any)                  { l.print(InfoLevel, args...) }
func (l *GoLogger) Infof(format string, args ...any)  { l.printf(InfoLevel, format, args...) }
func (l *GoLogger) Infoln(args ...any)                { l.println(InfoLevel, args...) }
func (l *GoLogger) Error(args ...any)                 { l.print(ErrorLevel, args...) }
func (l *GoLogger) Errorf(format string, args ...any) { l.printf(ErrorLevel, format, args...) }
func (l *GoLogger) Errorln(args ...any)               { l.println(ErrorLevel, args...) }
func (l *GoLogger) Warn(args ...any)                  { l.print(WarnLevel, args...) }
func (l *GoLogger) Warnf(format string, args ...any)  { l.printf(WarnLevel, format, args...) }
func (l *GoLogger) Warnln(args ...any)                { l.println(WarnLevel, args...) }
func (l *GoLogger) Debug(args ...any)                 { l.print(DebugLevel, args...) }
func (l *GoLogger) Debugf(format string, args ...any) { l.printf(DebugLevel, format, args...) }
func (l *GoLogger) Debugln(args ...any)               { l.println(DebugLevel, args...) }
func (l *GoLogger) Fatal(args ...any)                 { l.print(FatalLevel, args...) }
func (l *GoLogger) Fatalf(format string, args ...any) { l.printf(FatalLevel, format, args...) }
func (l *GoLogger) Fatalln(args ...any)               { l.println(FatalLevel, args...) }

// WithFields returns a child logger whose lines carry both the parent's
// fields and the new pairs.
//
//nolint:ireturn
func (l *GoLogger) WithFields(fields ...any) Logger {
	merged := make([]any, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)

	return &GoLogger{Level: l.Level, fields: merged}
}

func (l *GoLogger) Sync() error { return nil }

// NoneLogger discards everything. Used as the zero value returned from
// context when no logger has been installed.
type NoneLogger struct{}

func (l *NoneLogger) Info(args ...any)                  {}
func (l *NoneLogger) Infof(format string, args ...any)  {}
func (l *NoneLogger) Infoln(args ...any)                {}
func (l *NoneLogger) Error(args ...any)                 {}
func (l *NoneLogger) Errorf(format string, args ...any) {}
func (l *NoneLogger) Errorln(args ...any)               {}
func (l *NoneLogger) Warn(args ...any)                  {}
func (l *NoneLogger) Warnf(format string, args ...any)  {}
func (l *NoneLogger) Warnln(args ...any)                {}
func (l *NoneLogger) Debug(args ...any)                 {}
func (l *NoneLogger) Debugf(format string, args ...any) {}
func (l *NoneLogger) Debugln(args ...any)               {}
func (l *NoneLogger) Fatal(args ...any)                 {}
func (l *NoneLogger) Fatalf(format string, args ...any) {}
func (l *NoneLogger) Fatalln(args ...any)               {}

//nolint:ireturn
func (l *NoneLogger) WithFields(fields ...any) Logger { return l }
func (l *NoneLogger) Sync() error                     { return nil }

type loggerContextKey string

const loggerKey loggerContextKey = "logger"

// ContextWithLogger returns a context carrying the given Logger.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the Logger carried by ctx, or a NoneLogger if none
// was installed.
//
//nolint:ireturn
func FromContext(ctx context.Context) Logger {
	if logger := ctx.Value(loggerKey); logger != nil {
		if l, ok := logger.(Logger); ok {
			return l
		}
	}

	return &NoneLogger{}
}
