// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only one line at the last iteration
	LogLast LogLevel = 0
	// LogEval print also f and |proj g| every iteration
	LogEval LogLevel = 1
	// LogTrace print details of every iteration except n-vectors
	LogTrace LogLevel = 99
	// LogChange print also the changes of active set and final x
	LogChange LogLevel = 100
	// LogVerbose print details of every iteration including x and g
	LogVerbose LogLevel = 101
)

// Logger routes the iteration trace of a session to a logrus logger.
// Messages up to LogEval are logged at info level, the others at debug level.
type Logger struct {
	Level LogLevel
	Sink  logrus.FieldLogger // defaults to logrus.StandardLogger()
}

// tracer is the logger bound to one session.
type tracer struct {
	level LogLevel
	entry *logrus.Entry
}

func newTracer(l *Logger, session string) tracer {
	if l == nil || l.Level < LogLast {
		return tracer{level: LogNoop}
	}
	sink := l.Sink
	if sink == nil {
		sink = logrus.StandardLogger()
	}
	return tracer{level: l.Level, entry: sink.WithField("session", session)}
}

func (t tracer) enable(level LogLevel) bool {
	return t.entry != nil && t.level >= level
}

func (t tracer) log(level LogLevel, format string, a ...any) {
	if !t.enable(level) {
		return
	}
	msg := format
	if len(a) > 0 {
		msg = fmt.Sprintf(format, a...)
	}
	if level <= LogEval {
		t.entry.Info(msg)
	} else {
		t.entry.Debug(msg)
	}
}

func (t tracer) fields(level LogLevel, fields logrus.Fields, msg string) {
	if !t.enable(level) {
		return
	}
	if level <= LogEval {
		t.entry.WithFields(fields).Info(msg)
	} else {
		t.entry.WithFields(fields).Debug(msg)
	}
}

func (t tracer) warn(format string, a ...any) {
	if t.enable(LogLast) {
		t.entry.Warnf(format, a...)
	}
}
