// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides a small leveled-logging facade, in the style of the
// kratos log package: a minimal Logger interface, a std-out/std-err
// implementation, a level Filter, and a Helper offering printf-style
// convenience methods. Parsers throughout this module log recoverable,
// per-entry decoding issues through a *Helper at Warn rather than failing
// the whole read.
package log

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Level is a logging severity.
type Level int8

// Severities, increasing.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String renders the level's short name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "?"
	}
}

// Logger is the minimal sink every logging backend implements.
type Logger interface {
	Log(level Level, msg string)
}

// stdLogger writes to an io.Writer via the standard library's log package.
type stdLogger struct {
	mu  sync.Mutex
	log *log.Logger
}

// NewStdLogger returns a Logger that writes timestamped lines to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{log: log.New(w, "", log.LstdFlags)}
}

func (l *stdLogger) Log(level Level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Printf("[%s] %s", level, msg)
}

// filter wraps a Logger and drops records below a minimum level.
type filter struct {
	next Logger
	min  Level
}

// FilterOption configures a Filter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level a record must reach to pass through.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.min = level }
}

// NewFilter wraps next with the given options.
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &filter{next: next, min: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, msg string) {
	if level < f.min {
		return
	}
	f.next.Log(level, msg)
}

// Helper adds printf-style convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger with Debugf/Infof/Warnf/Errorf helpers.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	if len(args) == 0 {
		h.logger.Log(level, format)
		return
	}
	h.logger.Log(level, fmt.Sprintf(format, args...))
}

// Debug logs its arguments at LevelDebug.
func (h *Helper) Debug(args ...interface{}) { h.log(LevelDebug, fmt.Sprint(args...)) }

// Debugf logs a formatted message at LevelDebug.
func (h *Helper) Debugf(format string, args ...interface{}) { h.log(LevelDebug, format, args...) }

// Infof logs a formatted message at LevelInfo.
func (h *Helper) Infof(format string, args ...interface{}) { h.log(LevelInfo, format, args...) }

// Warn logs its arguments at LevelWarn.
func (h *Helper) Warn(args ...interface{}) { h.log(LevelWarn, fmt.Sprint(args...)) }

// Warnf logs a formatted message at LevelWarn.
func (h *Helper) Warnf(format string, args ...interface{}) { h.log(LevelWarn, format, args...) }

// Errorf logs a formatted message at LevelError.
func (h *Helper) Errorf(format string, args ...interface{}) { h.log(LevelError, format, args...) }
