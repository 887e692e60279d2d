// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/sys/unix"
)

// fakeWaiter scripts the kernel for PollChildren tests. peek reports
// the head of the pending queue without consuming it; reap consumes
// the first pending entry for the pid, mirroring WNOWAIT semantics.
type fakeWaiter struct {
	pending []childStatus
	peekErr error
	reaped  []int
}

func (f *fakeWaiter) peek() (childStatus, bool, error) {
	if f.peekErr != nil {
		err := f.peekErr
		f.peekErr = nil
		return childStatus{}, false, err
	}
	if len(f.pending) == 0 {
		return childStatus{}, false, nil
	}
	return f.pending[0], true, nil
}

func (f *fakeWaiter) reap(pid int) {
	for i, pending := range f.pending {
		if pending.pid == pid {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	f.reaped = append(f.reaped, pid)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestWatcher returns a watcher wired to a scripted kernel.
func newTestWatcher(pending ...childStatus) (*ChildWatcher, *fakeWaiter) {
	fake := &fakeWaiter{pending: pending}
	watcher := NewChildWatcher(testLogger())
	watcher.wait = fake
	return watcher, fake
}

// dispatched records one handler invocation.
type dispatched struct {
	pid    int
	event  ChildEvent
	status int
}

// recorder collects handler invocations for assertions.
func recorder(calls *[]dispatched) ChildHandler {
	return func(pid int, event ChildEvent, status int) {
		*calls = append(*calls, dispatched{pid, event, status})
	}
}

func exited(pid, code int) childStatus {
	return childStatus{pid: pid, code: cldExited, status: code}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		status     int
		wantEvent  ChildEvent
		wantStatus int
	}{
		{"exited", cldExited, 3, ChildExited, 3},
		{"killed", cldKilled, int(unix.SIGTERM), ChildKilled, int(unix.SIGTERM)},
		{"dumped", cldDumped, int(unix.SIGSEGV), ChildDumped, int(unix.SIGSEGV)},
		{"plain_trap", cldTrapped, int(unix.SIGTRAP), ChildTrapped, int(unix.SIGTRAP)},
		{"trap_other_signal", cldTrapped, int(unix.SIGILL), ChildTrapped, int(unix.SIGILL)},
		{"ptrace_event", cldTrapped, int(unix.SIGTRAP) | 1<<8, ChildPtrace, 1},
		{"ptrace_event_high", cldTrapped, int(unix.SIGTRAP) | 6<<8, ChildPtrace, 6},
		{"stopped", cldStopped, int(unix.SIGSTOP), ChildStopped, int(unix.SIGSTOP)},
		{"continued", cldContinued, int(unix.SIGCONT), ChildContinued, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			event, status := classifyStatus(childStatus{pid: 100, code: test.code, status: test.status})
			if event != test.wantEvent {
				t.Errorf("event = %v, want %v", event, test.wantEvent)
			}
			if status != test.wantStatus {
				t.Errorf("status = %d, want %d", status, test.wantStatus)
			}
		})
	}
}

func TestClassifyStatusUnknownCodePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("unknown si_code did not panic")
		}
	}()
	classifyStatus(childStatus{pid: 100, code: 99})
}

func TestSpecificWatchTerminalEventAutoRemoves(t *testing.T) {
	watcher, fake := newTestWatcher(exited(42, 0))

	var calls []dispatched
	watcher.Watch(42, ChildAll, recorder(&calls))

	watcher.PollChildren()

	if len(calls) != 1 {
		t.Fatalf("handler called %d times, want 1", len(calls))
	}
	want := dispatched{42, ChildExited, 0}
	if calls[0] != want {
		t.Errorf("dispatch = %+v, want %+v", calls[0], want)
	}
	if watcher.Len() != 0 {
		t.Errorf("watch still registered after terminal event")
	}
	if len(fake.reaped) != 1 || fake.reaped[0] != 42 {
		t.Errorf("reaped = %v, want [42]", fake.reaped)
	}
}

func TestSpecificWatchNonTerminalEventPersists(t *testing.T) {
	watcher, _ := newTestWatcher(
		childStatus{pid: 42, code: cldStopped, status: int(unix.SIGSTOP)},
	)

	var calls []dispatched
	watcher.Watch(42, ChildAll, recorder(&calls))

	watcher.PollChildren()

	if len(calls) != 1 {
		t.Fatalf("handler called %d times, want 1", len(calls))
	}
	if watcher.Len() != 1 {
		t.Fatal("watch removed after non-terminal event")
	}

	// The same watch observes the continue and then the exit, after
	// which it is gone.
	watcher.wait.(*fakeWaiter).pending = []childStatus{
		{pid: 42, code: cldContinued, status: int(unix.SIGCONT)},
		exited(42, 7),
	}
	watcher.PollChildren()

	if len(calls) != 3 {
		t.Fatalf("handler called %d times total, want 3", len(calls))
	}
	if calls[1].event != ChildContinued || calls[1].status != 0 {
		t.Errorf("second dispatch = %+v, want continued with status 0", calls[1])
	}
	if calls[2].event != ChildExited || calls[2].status != 7 {
		t.Errorf("third dispatch = %+v, want exited with status 7", calls[2])
	}
	if watcher.Len() != 0 {
		t.Error("watch still registered after exit")
	}
}

func TestPtraceEventIsTerminalForSpecificWatch(t *testing.T) {
	watcher, _ := newTestWatcher(
		childStatus{pid: 42, code: cldTrapped, status: int(unix.SIGTRAP) | 4<<8},
	)

	var calls []dispatched
	watcher.Watch(42, ChildAll, recorder(&calls))

	watcher.PollChildren()

	if len(calls) != 1 || calls[0].event != ChildPtrace || calls[0].status != 4 {
		t.Fatalf("dispatch = %+v, want ptrace with status 4", calls)
	}
	if watcher.Len() != 0 {
		t.Error("watch still registered after ptrace event")
	}
}

func TestPlainTrapIsNotTerminal(t *testing.T) {
	watcher, _ := newTestWatcher(
		childStatus{pid: 42, code: cldTrapped, status: int(unix.SIGTRAP)},
	)

	var calls []dispatched
	watcher.Watch(42, ChildAll, recorder(&calls))

	watcher.PollChildren()

	if len(calls) != 1 || calls[0].event != ChildTrapped {
		t.Fatalf("dispatch = %+v, want trapped", calls)
	}
	if watcher.Len() != 1 {
		t.Error("watch removed after plain trap")
	}
}

func TestWildcardWatchMatchesEveryPidAndPersists(t *testing.T) {
	watcher, _ := newTestWatcher(
		exited(10, 0),
		exited(20, 1),
		childStatus{pid: 30, code: cldKilled, status: int(unix.SIGKILL)},
	)

	var calls []dispatched
	watcher.Watch(AnyChild, ChildAll, recorder(&calls))

	watcher.PollChildren()

	if len(calls) != 3 {
		t.Fatalf("handler called %d times, want 3", len(calls))
	}
	for i, want := range []dispatched{
		{10, ChildExited, 0},
		{20, ChildExited, 1},
		{30, ChildKilled, int(unix.SIGKILL)},
	} {
		if calls[i] != want {
			t.Errorf("dispatch %d = %+v, want %+v", i, calls[i], want)
		}
	}
	if watcher.Len() != 1 {
		t.Error("wildcard watch was removed")
	}
}

func TestEventMaskFilters(t *testing.T) {
	watcher, fake := newTestWatcher(
		childStatus{pid: 42, code: cldKilled, status: int(unix.SIGTERM)},
	)

	var calls []dispatched
	watcher.Watch(42, ChildExited, recorder(&calls))

	watcher.PollChildren()

	if len(calls) != 0 {
		t.Fatalf("handler called %d times for unsubscribed event, want 0", len(calls))
	}
	// The status is still consumed even when nothing matched.
	if len(fake.reaped) != 1 {
		t.Errorf("reaped = %v, want the unmatched child reaped", fake.reaped)
	}
}

func TestPidMismatchDoesNotDispatch(t *testing.T) {
	watcher, _ := newTestWatcher(exited(99, 0))

	var calls []dispatched
	watcher.Watch(42, ChildAll, recorder(&calls))

	watcher.PollChildren()

	if len(calls) != 0 {
		t.Fatalf("handler called %d times for other pid, want 0", len(calls))
	}
	if watcher.Len() != 1 {
		t.Error("watch for unrelated pid was removed")
	}
}

func TestDrainIsIdempotent(t *testing.T) {
	watcher, _ := newTestWatcher(exited(42, 0))

	var calls []dispatched
	watcher.Watch(AnyChild, ChildAll, recorder(&calls))

	watcher.PollChildren()
	watcher.PollChildren() // spurious: nothing pending now

	if len(calls) != 1 {
		t.Fatalf("handler called %d times across two polls, want 1", len(calls))
	}
}

func TestSpuriousPollFindsNothing(t *testing.T) {
	watcher, fake := newTestWatcher()

	var calls []dispatched
	watcher.Watch(AnyChild, ChildAll, recorder(&calls))

	watcher.PollChildren()

	if len(calls) != 0 || len(fake.reaped) != 0 {
		t.Errorf("spurious poll dispatched calls=%v reaped=%v", calls, fake.reaped)
	}
}

func TestPeekErrorEndsDrain(t *testing.T) {
	watcher, fake := newTestWatcher(exited(42, 0))
	fake.peekErr = errors.New("waitid: bad address")

	var calls []dispatched
	watcher.Watch(AnyChild, ChildAll, recorder(&calls))

	watcher.PollChildren()
	if len(calls) != 0 {
		t.Fatal("dispatch happened despite peek error")
	}

	// The error was transient; the next poll drains normally.
	watcher.PollChildren()
	if len(calls) != 1 {
		t.Fatalf("handler called %d times after recovery, want 1", len(calls))
	}
}

func TestHandlerRemovesNotYetVisitedWatch(t *testing.T) {
	watcher, _ := newTestWatcher(
		childStatus{pid: 42, code: cldStopped, status: int(unix.SIGSTOP)},
	)

	var secondCalls []dispatched
	var second *Watch
	watcher.Watch(42, ChildAll, func(pid int, event ChildEvent, status int) {
		watcher.Remove(second)
	})
	second = watcher.Watch(42, ChildAll, recorder(&secondCalls))

	watcher.PollChildren()

	if len(secondCalls) != 0 {
		t.Fatalf("removed watch was dispatched: %+v", secondCalls)
	}
	if watcher.Len() != 1 {
		t.Errorf("Len() = %d, want 1", watcher.Len())
	}
}

func TestHandlerRemovesItself(t *testing.T) {
	watcher, _ := newTestWatcher(
		childStatus{pid: 42, code: cldStopped, status: int(unix.SIGSTOP)},
		childStatus{pid: 42, code: cldContinued, status: 0},
	)

	calls := 0
	var self *Watch
	self = watcher.Watch(42, ChildAll, func(pid int, event ChildEvent, status int) {
		calls++
		watcher.Remove(self)
	})

	watcher.PollChildren()

	if calls != 1 {
		t.Fatalf("self-removing handler called %d times, want 1", calls)
	}
	if watcher.Len() != 0 {
		t.Error("self-removed watch still registered")
	}
}

func TestHandlerRegistersNewWatch(t *testing.T) {
	watcher, _ := newTestWatcher(
		exited(10, 0),
		exited(20, 0),
	)

	var lateCalls []dispatched
	watcher.Watch(10, ChildAll, func(pid int, event ChildEvent, status int) {
		watcher.Watch(20, ChildAll, recorder(&lateCalls))
	})

	watcher.PollChildren()

	// The watch registered mid-drain sees the later status change.
	if len(lateCalls) != 1 || lateCalls[0].pid != 20 {
		t.Fatalf("late watch dispatches = %+v, want one for pid 20", lateCalls)
	}
}

func TestMultipleWatchesSamePid(t *testing.T) {
	watcher, _ := newTestWatcher(exited(42, 5))

	var first, second []dispatched
	watcher.Watch(42, ChildAll, recorder(&first))
	watcher.Watch(42, ChildExited, recorder(&second))

	watcher.PollChildren()

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("dispatch counts = %d, %d, want 1, 1", len(first), len(second))
	}
	if watcher.Len() != 0 {
		t.Error("both specific watches should be removed after exit")
	}
}

func TestWatchPidZeroPanics(t *testing.T) {
	watcher, _ := newTestWatcher()
	defer func() {
		if recover() == nil {
			t.Fatal("Watch(0, ...) did not panic")
		}
	}()
	watcher.Watch(0, ChildAll, func(int, ChildEvent, int) {})
}

func TestWatchNilHandlerPanics(t *testing.T) {
	watcher, _ := newTestWatcher()
	defer func() {
		if recover() == nil {
			t.Fatal("Watch with nil handler did not panic")
		}
	}()
	watcher.Watch(42, ChildAll, nil)
}

func TestReentrantPollChildrenPanics(t *testing.T) {
	watcher, _ := newTestWatcher(exited(42, 0))

	panicked := make(chan any, 1)
	watcher.Watch(42, ChildAll, func(int, ChildEvent, int) {
		defer func() { panicked <- recover() }()
		watcher.PollChildren()
	})

	watcher.PollChildren()

	select {
	case value := <-panicked:
		if value == nil {
			t.Fatal("reentrant PollChildren did not panic")
		}
	default:
		t.Fatal("handler never ran")
	}
}

func TestRemoveUnregisteredWatchIsNoOp(t *testing.T) {
	watcher, _ := newTestWatcher()
	watch := watcher.Watch(42, ChildAll, func(int, ChildEvent, int) {})
	watcher.Remove(watch)
	watcher.Remove(watch) // second removal: no-op
	if watcher.Len() != 0 {
		t.Errorf("Len() = %d, want 0", watcher.Len())
	}
}

func TestIndependentWatchers(t *testing.T) {
	first, _ := newTestWatcher(exited(42, 0))
	second, _ := newTestWatcher()

	var firstCalls, secondCalls []dispatched
	first.Watch(AnyChild, ChildAll, recorder(&firstCalls))
	second.Watch(AnyChild, ChildAll, recorder(&secondCalls))

	first.PollChildren()

	if len(firstCalls) != 1 {
		t.Errorf("first watcher dispatched %d times, want 1", len(firstCalls))
	}
	if len(secondCalls) != 0 {
		t.Errorf("second watcher dispatched %d times, want 0", len(secondCalls))
	}
}

func TestChildEventString(t *testing.T) {
	tests := []struct {
		event ChildEvent
		want  string
	}{
		{ChildExited, "exited"},
		{ChildExited | ChildKilled, "exited|killed"},
		{0, "none"},
	}
	for _, test := range tests {
		if got := test.event.String(); got != test.want {
			t.Errorf("String(%b) = %q, want %q", test.event, got, test.want)
		}
	}
}
