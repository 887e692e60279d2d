// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import (
	"log/slog"
	"time"

	"github.com/bureau-foundation/reactord/lib/clock"
	"github.com/bureau-foundation/reactord/lib/cron"
)

// TimerKind discriminates the three timer variants.
type TimerKind int

const (
	// OneShot fires once and is removed.
	OneShot TimerKind = iota
	// Periodic fires every period, rescheduled from the fire time.
	Periodic
	// Calendar fires per a cron schedule, rescheduled from the fire
	// time.
	Calendar
)

// String returns the kind name for logs.
func (k TimerKind) String() string {
	switch k {
	case OneShot:
		return "one-shot"
	case Periodic:
		return "periodic"
	case Calendar:
		return "calendar"
	}
	return "unknown"
}

// TimerCallback is called when a timer fires. The timer argument lets
// one callback serve several timers and supports self-removal.
type TimerCallback func(timer *Timer)

// Timer is a scheduled future callback. Obtain one from AddTimeout,
// AddPeriodic, or AddScheduled; cancel it with [Timers.Remove].
type Timer struct {
	kind     TimerKind
	due      time.Time
	timeout  time.Duration // OneShot: the requested delay
	period   time.Duration // Periodic: the interval
	schedule cron.Schedule // Calendar: the recurrence
	callback TimerCallback
}

// Kind returns the timer's variant.
func (t *Timer) Kind() TimerKind { return t.kind }

// Due returns the absolute time at or after which the timer fires.
// Due is computed at registration and on reschedule, never during a
// scan.
func (t *Timer) Due() time.Time { return t.due }

// Timers holds registered timers and dispatches the due ones. Create
// one with NewTimers; it starts empty.
//
// The registry is an unsorted linear scan by contract: NextDue and
// PollTimers visit every entry. Registries stay small enough in a
// supervision daemon that a priority queue would buy nothing.
//
// Timers is not safe for concurrent use. See the package comment for
// the threading model.
type Timers struct {
	logger *slog.Logger
	clock  clock.Clock

	timers     []*Timer
	registered map[*Timer]struct{}

	dispatching bool
}

// NewTimers returns an empty timer registry reading time from clk.
func NewTimers(logger *slog.Logger, clk clock.Clock) *Timers {
	return &Timers{
		logger:     logger,
		clock:      clk,
		registered: make(map[*Timer]struct{}),
	}
}

// AddTimeout registers a one-shot timer due after the given delay.
// A zero or negative delay means the timer is due on the very next
// PollTimers call. A nil callback panics.
func (ts *Timers) AddTimeout(timeout time.Duration, callback TimerCallback) *Timer {
	if callback == nil {
		panic("reactor: AddTimeout called with nil callback")
	}
	return ts.add(&Timer{
		kind:     OneShot,
		timeout:  timeout,
		due:      ts.clock.Now().Add(timeout),
		callback: callback,
	})
}

// AddPeriodic registers a timer that fires every period, first due one
// period from now. A non-positive period or nil callback panics.
func (ts *Timers) AddPeriodic(period time.Duration, callback TimerCallback) *Timer {
	if callback == nil {
		panic("reactor: AddPeriodic called with nil callback")
	}
	if period <= 0 {
		panic("reactor: AddPeriodic called with non-positive period")
	}
	return ts.add(&Timer{
		kind:     Periodic,
		period:   period,
		due:      ts.clock.Now().Add(period),
		callback: callback,
	})
}

// AddScheduled registers a calendar timer firing per the cron
// schedule, first due at the schedule's next occurrence after now.
// Returns an error when the schedule has no future occurrence (for
// example February 31st). A nil callback panics.
func (ts *Timers) AddScheduled(schedule cron.Schedule, callback TimerCallback) (*Timer, error) {
	if callback == nil {
		panic("reactor: AddScheduled called with nil callback")
	}
	due, err := schedule.Next(ts.clock.Now())
	if err != nil {
		return nil, err
	}
	return ts.add(&Timer{
		kind:     Calendar,
		schedule: schedule,
		due:      due,
		callback: callback,
	}), nil
}

func (ts *Timers) add(timer *Timer) *Timer {
	ts.timers = append(ts.timers, timer)
	ts.registered[timer] = struct{}{}
	return timer
}

// Remove cancels a timer. Removing a timer that is not registered is a
// no-op. Safe to call from inside a timer callback, including for the
// timer being dispatched.
func (ts *Timers) Remove(timer *Timer) {
	if _, ok := ts.registered[timer]; !ok {
		return
	}
	delete(ts.registered, timer)
	for i, candidate := range ts.timers {
		if candidate == timer {
			ts.timers = append(ts.timers[:i], ts.timers[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered timers.
func (ts *Timers) Len() int { return len(ts.registered) }

// NextDue returns the timer with the earliest due time, or nil when
// the registry is empty. Ties go to the earliest-registered timer.
// The reactor subtracts Now from the result's Due to size its sleep.
func (ts *Timers) NextDue() *Timer {
	var next *Timer
	for _, timer := range ts.timers {
		if next == nil || timer.due.Before(next.due) {
			next = timer
		}
	}
	return next
}

// PollTimers fires every timer whose due time has arrived, then
// applies the kind's reschedule rule: one-shot timers are removed,
// periodic timers become due one period after the fire time, and
// calendar timers become due at the schedule's next occurrence after
// the fire time.
//
// The fire time is read once per call, so a periodic timer whose
// callback runs late slips by the lateness instead of catching up.
// That non-catch-up drift is a contract, not a defect: supervision
// periods mark "at least this long since last time", not absolute
// points.
//
// A callback may remove any timer; a timer removed by its own callback
// is not rescheduled. Calling PollTimers from inside a callback
// panics.
func (ts *Timers) PollTimers() {
	if ts.dispatching {
		panic("reactor: PollTimers called from inside a timer callback")
	}
	ts.dispatching = true
	defer func() { ts.dispatching = false }()

	now := ts.clock.Now()
	snapshot := append([]*Timer(nil), ts.timers...)
	for _, timer := range snapshot {
		if _, live := ts.registered[timer]; !live {
			continue
		}
		if timer.due.After(now) {
			continue
		}

		timer.callback(timer)

		// The callback may have removed this timer (or any other);
		// a removed timer must not be rescheduled.
		if _, live := ts.registered[timer]; !live {
			continue
		}

		switch timer.kind {
		case OneShot:
			ts.Remove(timer)
		case Periodic:
			timer.due = now.Add(timer.period)
		case Calendar:
			next, err := timer.schedule.Next(now)
			if err != nil {
				// The schedule ran out of occurrences. Nothing left
				// to fire; drop the timer.
				ts.logger.Warn("calendar timer has no next occurrence, removing",
					"schedule", timer.schedule.String(), "error", err)
				ts.Remove(timer)
				continue
			}
			timer.due = next
		}
	}
}
