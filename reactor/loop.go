// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reactor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/reactord/lib/clock"
)

// idleSleep caps the block when no timer is registered. SIGCHLD wakes
// the loop early, so the cap only bounds how long a registration made
// from outside a handler waits before the loop notices its deadline.
const idleSleep = time.Minute

// Loop is the single-threaded reactor: one ChildWatcher, one Timers,
// and the iteration that drives them. Each pass computes the next
// timer deadline, blocks until a SIGCHLD arrives or the deadline
// passes, then polls both registries on the loop goroutine.
//
// Register watches and timers from the loop goroutine only — in
// practice, from inside handlers, or before Run is called.
type Loop struct {
	logger   *slog.Logger
	clock    clock.Clock
	children *ChildWatcher
	timers   *Timers
}

// NewLoop returns a reactor loop with empty registries.
func NewLoop(logger *slog.Logger, clk clock.Clock) *Loop {
	return &Loop{
		logger:   logger,
		clock:    clk,
		children: NewChildWatcher(logger),
		timers:   NewTimers(logger, clk),
	}
}

// Children returns the loop's child watch registry.
func (l *Loop) Children() *ChildWatcher { return l.children }

// Timers returns the loop's timer registry.
func (l *Loop) Timers() *Timers { return l.timers }

// Run blocks running reactor iterations until ctx is cancelled, then
// returns ctx's error. SIGCHLD delivery is subscribed for the duration
// of the call; the buffered subscription means signals are collapsed,
// not queued, which is sufficient because PollChildren drains every
// pending status change per wakeup.
func (l *Loop) Run(ctx context.Context) error {
	childSignal := make(chan os.Signal, 1)
	signal.Notify(childSignal, unix.SIGCHLD)
	defer signal.Stop(childSignal)

	l.logger.Info("reactor loop started", "pid", os.Getpid())

	for {
		horizon := idleSleep
		if next := l.timers.NextDue(); next != nil {
			horizon = next.Due().Sub(l.clock.Now())
			if horizon < 0 {
				horizon = 0
			}
		}

		select {
		case <-ctx.Done():
			l.logger.Info("reactor loop stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-childSignal:
		case <-l.clock.After(horizon):
		}

		l.children.PollChildren()
		l.timers.PollTimers()
	}
}
