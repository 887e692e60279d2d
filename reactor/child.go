// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// AnyChild is the wildcard pid: a watch registered for it matches
// status changes from every child. Wildcard watches are never removed
// automatically.
const AnyChild = -1

// ChildHandler is called once per matching status change. pid is the
// reporting process, event has exactly one bit set, and status is the
// event-specific code described on the ChildEvent constants.
type ChildHandler func(pid int, event ChildEvent, status int)

// Watch is a registered interest in process-state transitions for one
// pid or for all children. Obtain one from [ChildWatcher.Watch]; cancel
// it with [ChildWatcher.Remove].
type Watch struct {
	pid     int
	events  ChildEvent
	handler ChildHandler
}

// Pid returns the watched pid, or AnyChild.
func (w *Watch) Pid() int { return w.pid }

// Events returns the subscribed event mask.
func (w *Watch) Events() ChildEvent { return w.events }

// ChildWatcher holds child watches and dispatches kernel child-status
// changes to them. Create one with NewChildWatcher; it starts empty.
//
// ChildWatcher is not safe for concurrent use. See the package comment
// for the threading model.
type ChildWatcher struct {
	logger *slog.Logger
	wait   childWaiter

	// watches holds entries in registration order; registered is the
	// membership set dispatch revalidates against after snapshotting.
	watches    []*Watch
	registered map[*Watch]struct{}

	dispatching bool
}

// NewChildWatcher returns an empty watch registry backed by the
// platform waitid implementation.
func NewChildWatcher(logger *slog.Logger) *ChildWatcher {
	return &ChildWatcher{
		logger:     logger,
		wait:       defaultWaiter,
		registered: make(map[*Watch]struct{}),
	}
}

// Watch registers handler to be called by PollChildren whenever an
// event in events occurs to the process with the given pid, or to any
// child if pid is AnyChild.
//
// A specific-pid watch is removed automatically after it is dispatched
// for a terminal event (exited, killed, dumped, or a classified ptrace
// event). Wildcard watches and non-terminal dispatches leave the watch
// registered. Any watch may also be cancelled at any time with Remove.
//
// pid zero and a nil handler are contract violations and panic: the
// kernel reserves pid 0 for process-group semantics this registry does
// not support.
func (c *ChildWatcher) Watch(pid int, events ChildEvent, handler ChildHandler) *Watch {
	if pid == 0 {
		panic("reactor: Watch called with pid 0")
	}
	if handler == nil {
		panic("reactor: Watch called with nil handler")
	}

	watch := &Watch{pid: pid, events: events, handler: handler}
	c.watches = append(c.watches, watch)
	c.registered[watch] = struct{}{}
	return watch
}

// Remove cancels a watch. Removing a watch that is not registered
// (already auto-removed, or removed by another handler) is a no-op.
// Safe to call from inside a handler, including for the watch being
// dispatched.
func (c *ChildWatcher) Remove(watch *Watch) {
	if _, ok := c.registered[watch]; !ok {
		return
	}
	delete(c.registered, watch)
	for i, candidate := range c.watches {
		if candidate == watch {
			c.watches = append(c.watches[:i], c.watches[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered watches.
func (c *ChildWatcher) Len() int { return len(c.registered) }

// PollChildren drains every pending child-status change and dispatches
// matching watches. Call it after the reactor wakes; a spurious call
// finds nothing pending and returns immediately.
//
// For each pending change the kernel reports, the status is peeked
// without being consumed, classified into exactly one event, dispatched
// to every matching watch, and only then reaped so the kernel can
// release the process. The drain continues until no change is pending.
//
// Calling PollChildren from inside a child handler panics.
func (c *ChildWatcher) PollChildren() {
	if c.dispatching {
		panic("reactor: PollChildren called from inside a child handler")
	}
	c.dispatching = true
	defer func() { c.dispatching = false }()

	for {
		pending, ok, err := c.wait.peek()
		if err != nil {
			// No retry policy: a failed peek ends the drain for this
			// call, same as finding nothing pending.
			c.logger.Warn("child status peek failed", "error", err)
			return
		}
		if !ok {
			return
		}

		event, status := classifyStatus(pending)
		c.logger.Debug("child status change",
			"pid", pending.pid, "event", event, "status", status)

		// Snapshot, then revalidate each entry before invoking it: a
		// handler may remove any watch, including one not yet visited.
		snapshot := append([]*Watch(nil), c.watches...)
		for _, watch := range snapshot {
			if _, live := c.registered[watch]; !live {
				continue
			}
			if watch.pid != pending.pid && watch.pid != AnyChild {
				continue
			}
			if watch.events&event == 0 {
				continue
			}

			watch.handler(pending.pid, event, status)

			if event.terminal() && watch.pid != AnyChild {
				c.Remove(watch)
			}
		}

		c.wait.reap(pending.pid)
	}
}

// classifyStatus maps a peeked kernel status to exactly one event and
// its status code. The mapping is total over the codes waitid can
// report for a child; anything else is a broken kernel contract and
// panics.
func classifyStatus(pending childStatus) (ChildEvent, int) {
	switch pending.code {
	case cldExited:
		return ChildExited, pending.status
	case cldKilled:
		return ChildKilled, pending.status
	case cldDumped:
		return ChildDumped, pending.status
	case cldTrapped:
		// A ptrace event encodes SIGTRAP in the low signal bits plus
		// the event number above them. A plain trap carries SIGTRAP
		// alone (or another signal while traced).
		if pending.status&0x7f == int(unix.SIGTRAP) && pending.status&^0x7f != 0 {
			return ChildPtrace, pending.status >> 8
		}
		return ChildTrapped, pending.status
	case cldStopped:
		return ChildStopped, pending.status
	case cldContinued:
		return ChildContinued, 0
	}
	panic(fmt.Sprintf("reactor: unclassifiable child status code %d for pid %d",
		pending.code, pending.pid))
}
