// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import "strings"

// ChildEvent is a bitmask of process-state transitions a watch can
// subscribe to. Exactly one bit is set on the event delivered to a
// handler.
type ChildEvent uint

const (
	// ChildExited: the process exited normally. The dispatched status
	// is its exit code.
	ChildExited ChildEvent = 1 << iota

	// ChildKilled: the process was killed by a signal. The dispatched
	// status is the signal number.
	ChildKilled

	// ChildDumped: the process was killed by a signal and dumped core.
	// The dispatched status is the signal number.
	ChildDumped

	// ChildTrapped: the process stopped in a trace trap with no ptrace
	// event bits. The dispatched status is the raw trap status.
	ChildTrapped

	// ChildPtrace: the process reported a ptrace event (the trap
	// status carries SIGTRAP plus encoded event bits). The dispatched
	// status is the event bits shifted out of the encoding.
	ChildPtrace

	// ChildStopped: the process was stopped by job control. The
	// dispatched status is the stop signal.
	ChildStopped

	// ChildContinued: a stopped process was resumed. The dispatched
	// status is zero.
	ChildContinued
)

// ChildAll subscribes a watch to every event.
const ChildAll = ChildExited | ChildKilled | ChildDumped | ChildTrapped |
	ChildPtrace | ChildStopped | ChildContinued

// terminal reports whether dispatching this event makes a specific-pid
// watch eligible for automatic removal: after it the process no longer
// exists in any waitable state (or, for ptrace events, the tracer has
// taken over).
func (e ChildEvent) terminal() bool {
	return e&(ChildExited|ChildKilled|ChildDumped|ChildPtrace) != 0
}

var childEventNames = []struct {
	event ChildEvent
	name  string
}{
	{ChildExited, "exited"},
	{ChildKilled, "killed"},
	{ChildDumped, "dumped"},
	{ChildTrapped, "trapped"},
	{ChildPtrace, "ptrace"},
	{ChildStopped, "stopped"},
	{ChildContinued, "continued"},
}

// String renders the event set for logs, e.g. "exited|killed".
func (e ChildEvent) String() string {
	var parts []string
	for _, entry := range childEventNames {
		if e&entry.event != 0 {
			parts = append(parts, entry.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
