// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"sync"
	"testing"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Info(level int, component Component, msg string, keysAndValues ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Level
	}{
		{"off", LevelOff},
		{"INFO", LevelInfo},
		{"Debug", LevelDebug},
		{"bogus", LevelOff},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLoggerIs(t *testing.T) {
	t.Parallel()

	l := New(nil, map[Component]Level{ComponentTopology: LevelDebug})

	if !l.Is(LevelInfo, ComponentTopology) {
		t.Error("expected LevelInfo enabled for ComponentTopology")
	}
	if !l.Is(LevelDebug, ComponentTopology) {
		t.Error("expected LevelDebug enabled for ComponentTopology")
	}
	if l.Is(LevelInfo, ComponentCommand) {
		t.Error("expected ComponentCommand to be unconfigured (off)")
	}
	l.Close()
}

func TestLoggerPrintDeliversToSink(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	l := New(sink, map[Component]Level{ComponentServerSelection: LevelInfo})

	l.Print(LevelInfo, ComponentServerSelection, "waiting for a suitable server")
	l.Print(LevelDebug, ComponentServerSelection, "suppressed, below configured level")

	l.Close()

	if got := sink.count(); got != 1 {
		t.Fatalf("expected exactly 1 delivered message, got %d", got)
	}
}

func TestNilLoggerPrintIsNoop(t *testing.T) {
	t.Parallel()

	var l *Logger
	l.Print(LevelInfo, ComponentTopology, "should not panic")
}

func TestLoggerCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	l := New(&recordingSink{}, nil)
	l.Close()
	l.Close()
}

func TestComponentString(t *testing.T) {
	t.Parallel()

	tests := map[Component]string{
		ComponentCommand:         "command",
		ComponentTopology:        "topology",
		ComponentServerSelection: "serverSelection",
		ComponentConnection:      "connection",
		Component(99):            "unknown",
	}
	for c, want := range tests {
		if got := c.String(); got != want {
			t.Errorf("Component(%d).String() = %q, want %q", c, got, want)
		}
	}
}
