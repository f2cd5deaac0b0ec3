// Package mzap backs pkg/mlog.Logger with go.uber.org/zap.
package mzap

import (
	"go.uber.org/zap"

	"github.com/jstz-dev/jstz-core/pkg/mlog"
)

// Logger wraps a zap.SugaredLogger to satisfy mlog.Logger.
type Logger struct {
	s *zap.SugaredLogger
}

func New(s *zap.SugaredLogger) *Logger { return &Logger{s: s} }

func (l *Logger) Info(args ...any)                  { l.s.Info(args...) }
func (l *Logger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *Logger) Infoln(args ...any)                { l.s.Info(args...) }
func (l *Logger) Error(args ...any)                 { l.s.Error(args...) }
func (l *Logger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }
func (l *Logger) Errorln(args ...any)               { l.s.Error(args...) }
func (l *Logger) Warn(args ...any)                  { l.s.Warn(args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *Logger) Warnln(args ...any)                { l.s.Warn(args...) }
func (l *Logger) Debug(args ...any)                 { l.s.Debug(args...) }
func (l *Logger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *Logger) Debugln(args ...any)               { l.s.Debug(args...) }
func (l *Logger) Fatal(args ...any)                 { l.s.Fatal(args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.s.Fatalf(format, args...) }
func (l *Logger) Fatalln(args ...any)               { l.s.Fatal(args...) }

//nolint:ireturn
func (l *Logger) WithFields(fields ...any) mlog.Logger {
	return New(l.s.With(fields...))
}

func (l *Logger) Sync() error { return l.s.Sync() }
