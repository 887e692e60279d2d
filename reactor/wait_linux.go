// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// defaultWaiter is the production waitid implementation.
var defaultWaiter childWaiter = linuxWaiter{}

// waitid idtype values from linux/wait.h.
const (
	idAll = 0 // P_ALL: wait for any child
	idPid = 1 // P_PID: wait for a specific child
)

// SIGCHLD si_code values from asm-generic/siginfo.h, which
// x/sys/unix does not export.
const (
	cldExited    = 1 // CLD_EXITED: child has exited
	cldKilled    = 2 // CLD_KILLED: child was killed by a signal
	cldDumped    = 3 // CLD_DUMPED: child terminated abnormally with a core
	cldTrapped   = 4 // CLD_TRAPPED: traced child has trapped
	cldStopped   = 5 // CLD_STOPPED: child has stopped
	cldContinued = 6 // CLD_CONTINUED: stopped child has continued
)

// waitEvents selects which state changes waitid reports: exits,
// job-control stops, and continues.
const waitEvents = unix.WEXITED | unix.WSTOPPED | unix.WCONTINUED

// siginfo mirrors the kernel's siginfo_t for the SIGCHLD layout on
// 64-bit targets: the three-field header, alignment padding, then the
// child fields of the union. x/sys/unix keeps the union opaque, so the
// decode is done here. Padded to the full 128 bytes the kernel writes.
type siginfo struct {
	signo  int32
	errno  int32
	code   int32
	_      int32
	pid    int32
	uid    uint32
	status int32
	_      [100]byte
}

// waitid wraps the raw syscall. info must be zeroed by the caller: the
// native syscall zeroes it before returning but the compat syscall
// does not, so portable callers cannot rely on the kernel doing it.
func waitid(idType, id int, info *siginfo, options int) error {
	_, _, errno := unix.Syscall6(unix.SYS_WAITID,
		uintptr(idType), uintptr(id),
		uintptr(unsafe.Pointer(info)), uintptr(options), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// linuxWaiter implements childWaiter with waitid(2). Peeking uses
// WNOWAIT so the status change stays pending until reap consumes it.
type linuxWaiter struct{}

func (linuxWaiter) peek() (childStatus, bool, error) {
	var info siginfo
	for {
		err := waitid(idAll, 0, &info, waitEvents|unix.WNOHANG|unix.WNOWAIT)
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.ECHILD:
			// No children at all: nothing pending.
			return childStatus{}, false, nil
		default:
			return childStatus{}, false, err
		}
		break
	}

	if info.pid == 0 {
		// WNOHANG with no pending change succeeds with si_pid zero.
		return childStatus{}, false, nil
	}
	return childStatus{
		pid:    int(info.pid),
		code:   int(info.code),
		status: int(info.status),
	}, true, nil
}

func (linuxWaiter) reap(pid int) {
	var info siginfo
	for {
		if err := waitid(idPid, pid, &info, waitEvents); err != unix.EINTR {
			return
		}
	}
}
