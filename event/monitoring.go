// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event defines the callback-based monitoring hooks an
// application wires into a Client to observe command execution and
// topology/SDAM changes (spec.md glossary: "command monitoring events"),
// without this driver depending on any particular logging or metrics
// library itself.
package event

import "time"

// CommandStartedEvent is sent immediately before a command is written to
// the wire.
type CommandStartedEvent struct {
	Command      []byte
	DatabaseName string
	CommandName  string
	RequestID    int64
	ConnectionID string
}

// CommandSucceededEvent is sent once a command's reply decodes with ok: 1.
type CommandSucceededEvent struct {
	Duration     time.Duration
	CommandName  string
	RequestID    int64
	ConnectionID string
	Reply        []byte
}

// CommandFailedEvent is sent when a command's reply is ok: 0, or the round
// trip itself fails (a network error).
type CommandFailedEvent struct {
	Duration     time.Duration
	CommandName  string
	Failure      string
	RequestID    int64
	ConnectionID string
}

// CommandMonitor lets an application observe every command this driver
// sends. Each field is optional; a nil field is simply not called.
type CommandMonitor struct {
	Started   func(CommandStartedEvent)
	Succeeded func(CommandSucceededEvent)
	Failed    func(CommandFailedEvent)
}
