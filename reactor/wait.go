// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

// childStatus is one pending process-state change reported by the
// kernel: the reporting pid, the CLD_* classification code, and the
// raw si_status value.
type childStatus struct {
	pid    int
	code   int
	status int
}

// childWaiter abstracts the two waitid(2) operations PollChildren
// needs, so tests can script a fake kernel.
type childWaiter interface {
	// peek reports the next pending status change across all
	// children without consuming it. ok is false when nothing is
	// pending; err is an unexpected waitid failure.
	peek() (pending childStatus, ok bool, err error)

	// reap destructively consumes the pending status change for pid,
	// releasing the kernel's bookkeeping for it. Failures are
	// ignored: the change was already peeked, so the only errors are
	// races with external reapers, which leave nothing to do.
	reap(pid int)
}
