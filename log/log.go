// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log is the small structured logger pecore's image loader and
// directory parsers log through. It mirrors the level/filter/helper shape
// used across the decoder: a Logger sink, a severity Filter in front of it,
// and a Helper that callers format messages through.
package log

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Level is a log severity.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

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
		return "UNKNOWN"
	}
}

// Logger is the sink every log call ultimately reaches.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

type stdLogger struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdLogger returns a Logger that writes "time level msg" lines to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{out: w}
}

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format(time.RFC3339)
	fmt.Fprintf(l.out, "%s level=%s", ts, level)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			fmt.Fprintf(l.out, " %v=%v", keyvals[i], keyvals[i+1])
		}
	}
	fmt.Fprintln(l.out)
	return nil
}

// filterLogger drops any record below its configured minimum level.
type filterLogger struct {
	next Logger
	min  Level
}

// FilterOption configures a filter built by NewFilter.
type FilterOption func(*filterLogger)

// FilterLevel sets the minimum level a record must reach to pass through.
func FilterLevel(level Level) FilterOption {
	return func(f *filterLogger) { f.min = level }
}

// NewFilter wraps next with a severity threshold.
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &filterLogger{next: next, min: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filterLogger) Log(level Level, keyvals ...interface{}) error {
	if level < f.min {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

// Helper is the ergonomic front-end callers format messages through; it is
// what pecore's Image type holds onto.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger with the Debugf/Warnf/Errorf convenience methods.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	h.logger.Log(level, "msg", fmt.Sprintf(format, args...))
}

// Debugf logs at LevelDebug.
func (h *Helper) Debugf(format string, args ...interface{}) { h.log(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (h *Helper) Infof(format string, args ...interface{}) { h.log(LevelInfo, format, args...) }

// Warnf logs at LevelWarn.
func (h *Helper) Warnf(format string, args ...interface{}) { h.log(LevelWarn, format, args...) }

// Warn logs a single message at LevelWarn.
func (h *Helper) Warn(args ...interface{}) { h.log(LevelWarn, "%s", fmt.Sprint(args...)) }

// Errorf logs at LevelError.
func (h *Helper) Errorf(format string, args ...interface{}) { h.log(LevelError, format, args...) }

// Discard is a Logger that drops every record. It is not the default: an
// Image loaded without Options.Logger logs errors to stdout.
var Discard Logger = discardLogger{}

type discardLogger struct{}

func (discardLogger) Log(Level, ...interface{}) error { return nil }

// NewNopHelper returns a Helper that discards everything, handy for tests
// that don't want stray stdout output.
func NewNopHelper() *Helper { return NewHelper(Discard) }
