// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger implements the driver's ambient logging stack: a leveled,
// component-scoped sink so topology transitions, server selection waits,
// and connection pool events are observable without forcing a dependency on
// any particular logging library.
package logger

import (
	"fmt"
	"os"
)

// Sink is the interface a host application implements to receive driver log
// messages, deliberately narrow (one method) so adapting any existing
// logging library is a one-line shim.
type Sink interface {
	Info(level int, component Component, msg string, keysAndValues ...interface{})
}

const jobBufferSize = 100

type job struct {
	level     Level
	component Component
	msg       string
	kv        []interface{}
}

// Logger is the driver's logger. Messages are queued onto a buffered
// channel and printed by a single background goroutine so that a slow or
// blocking Sink cannot stall command execution or topology updates.
type Logger struct {
	ComponentLevels map[Component]Level
	Sink            Sink

	jobs chan job
	done chan struct{}
}

// New constructs a Logger. A nil sink disables all output regardless of
// ComponentLevels.
func New(sink Sink, componentLevels map[Component]Level) *Logger {
	if componentLevels == nil {
		componentLevels = map[Component]Level{}
	}
	l := &Logger{
		ComponentLevels: componentLevels,
		Sink:            sink,
		jobs:            make(chan job, jobBufferSize),
		done:            make(chan struct{}),
	}
	go l.run()
	return l
}

// Close stops the background printer goroutine. It is safe to call Close
// more than once.
func (l *Logger) Close() {
	select {
	case <-l.done:
		return
	default:
		close(l.jobs)
		<-l.done
	}
}

// Is reports whether level is enabled for component.
func (l *Logger) Is(level Level, component Component) bool {
	return l.ComponentLevels[component] >= level
}

// Print enqueues a log message. If the queue is full the message is
// dropped rather than blocking the caller -- logging must never become a
// bottleneck on the command or topology hot path.
func (l *Logger) Print(level Level, component Component, msg string, keysAndValues ...interface{}) {
	if l == nil || !l.Is(level, component) {
		return
	}
	select {
	case l.jobs <- job{level, component, msg, keysAndValues}:
	default:
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for j := range l.jobs {
		if l.Sink == nil {
			continue
		}
		l.Sink.Info(int(j.level), j.component, j.msg, j.kv...)
	}
}

// StderrSink is a minimal Sink implementation that writes each message to
// os.Stderr. A caller must pass it to New explicitly; a Logger built with a
// nil sink prints nothing.
type StderrSink struct{}

// Info implements Sink.
func (StderrSink) Info(level int, component Component, msg string, keysAndValues ...interface{}) {
	fmt.Fprintf(os.Stderr, "[%s] %s %v\n", component, msg, keysAndValues)
}
