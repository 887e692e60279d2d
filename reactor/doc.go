// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reactor implements the two event sources of a single-threaded
// supervision reactor: a child-process watch registry that turns kernel
// process-state transitions into callback dispatch, and a timer registry
// that turns wall-clock deadlines into callback dispatch.
//
// The registries are explicit objects with no process-wide state.
// [Loop] composes one of each into the canonical reactor iteration:
// compute the next timer deadline, block until a SIGCHLD or that
// deadline, then run [ChildWatcher.PollChildren] and
// [Timers.PollTimers].
//
// # Threading model
//
// The package is single-threaded by contract. Both poll functions run
// to completion on the calling goroutine, and every registry mutation
// (registration by callers, removal by handlers, removal by the poll
// loop itself) happens inside those synchronous calls. No locking is
// used and no concurrent access is supported; with Loop, that means
// all registration and removal happens on the loop goroutine, normally
// from inside handlers. Calling a poll function from within one of its
// own handlers panics.
//
// # Dispatch safety
//
// A handler invoked during a poll may remove any watch or timer,
// including itself or one not yet visited in the same pass. Dispatch
// iterates a snapshot of the registry and revalidates each entry's
// membership immediately before invoking it, so removed entries are
// never dispatched and removal never corrupts the scan.
//
// # Child status handling
//
// PollChildren peeks each pending child-status change without consuming
// it (waitid with WNOWAIT), dispatches every matching watch, and only
// then reaps. Every watch therefore observes the status before the
// kernel releases it, and stop/continue notifications are observed
// before being cleared.
package reactor
