// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/reactord/lib/clock"
	"github.com/bureau-foundation/reactord/lib/cron"
	"github.com/bureau-foundation/reactord/reactor"
)

// stateFileName is the persisted state file inside the state
// directory.
const stateFileName = "reactord-state.cbor"

// terminalEvents is what a supervised process's watch subscribes to:
// the three ways a child stops existing.
const terminalEvents = reactor.ChildExited | reactor.ChildKilled | reactor.ChildDumped

// Supervisor owns a reactor loop and the services and jobs it drives.
// Create one with New, then call Run.
type Supervisor struct {
	logger    *slog.Logger
	clock     clock.Clock
	loop      *reactor.Loop
	config    *Config
	statePath string
	state     *State

	// spawn starts a command and returns its pid. Tests replace it;
	// production uses spawnCommand.
	spawn func(command []string) (int, error)

	services map[string]*managedService
}

// managedService is the runtime record for one configured service.
type managedService struct {
	config ServiceConfig
	pid    int
}

// New builds a supervisor from a validated config. Persisted state is
// loaded from stateDir, which must exist.
func New(logger *slog.Logger, clk clock.Clock, config *Config, stateDir string) (*Supervisor, error) {
	statePath := filepath.Join(stateDir, stateFileName)
	state, err := loadState(statePath)
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		logger:    logger,
		clock:     clk,
		loop:      reactor.NewLoop(logger, clk),
		config:    config,
		statePath: statePath,
		state:     state,
		spawn:     spawnCommand,
		services:  make(map[string]*managedService, len(config.Services)),
	}, nil
}

// Run starts every configured service, schedules every job, and
// blocks driving the reactor until ctx is cancelled. A service that
// fails to spawn at startup aborts Run; failures after startup are
// retried on the restart timer instead.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.startAll(); err != nil {
		return err
	}
	return s.loop.Run(ctx)
}

// startAll spawns the configured services and registers the job
// timers.
func (s *Supervisor) startAll() error {
	for _, config := range s.config.Services {
		service := &managedService{config: config}
		s.services[config.Name] = service
		if err := s.startService(service); err != nil {
			return err
		}
	}
	for _, job := range s.config.Jobs {
		if err := s.scheduleJob(job); err != nil {
			return err
		}
	}
	return nil
}

// startService spawns the service and watches the new pid for
// terminal events. The watch auto-removes when it fires, so each
// incarnation of the service carries exactly one watch.
func (s *Supervisor) startService(service *managedService) error {
	name := service.config.Name

	pid, err := s.spawn(service.config.Command)
	if err != nil {
		return fmt.Errorf("starting service %q: %w", name, err)
	}
	service.pid = pid
	s.logger.Info("service started", "service", name, "pid", pid)

	s.loop.Children().Watch(pid, terminalEvents,
		func(pid int, event reactor.ChildEvent, status int) {
			s.handleServiceDeath(service, pid, event, status)
		})
	return nil
}

// handleServiceDeath records the death and arms the restart timeout.
// Runs inside PollChildren dispatch, on the loop goroutine.
func (s *Supervisor) handleServiceDeath(service *managedService, pid int, event reactor.ChildEvent, status int) {
	name := service.config.Name
	s.logger.Info("service died",
		"service", name, "pid", pid, "event", event, "status", status)

	s.state.Restarts[name]++
	if err := saveState(s.statePath, s.state); err != nil {
		// State is advisory; supervision continues without it.
		s.logger.Warn("persisting state failed", "error", err)
	}

	s.armRestart(service, service.config.restartDelay())
}

// armRestart schedules the next start attempt. A failed attempt logs
// and re-arms with the same delay rather than giving up.
func (s *Supervisor) armRestart(service *managedService, delay time.Duration) {
	name := service.config.Name
	s.logger.Info("restart scheduled", "service", name, "delay", delay)

	s.loop.Timers().AddTimeout(delay, func(*reactor.Timer) {
		if err := s.startService(service); err != nil {
			s.logger.Error("restart failed", "service", name, "error", err)
			s.armRestart(service, delay)
		}
	})
}

// scheduleJob registers the job's calendar timer.
func (s *Supervisor) scheduleJob(job JobConfig) error {
	// The expression was validated with the config; parse errors here
	// are impossible, schedule exhaustion (no future occurrence) is
	// not.
	schedule, err := cron.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("job %q: %w", job.Name, err)
	}

	timer, err := s.loop.Timers().AddScheduled(schedule, func(*reactor.Timer) {
		s.runJob(job)
	})
	if err != nil {
		return fmt.Errorf("scheduling job %q: %w", job.Name, err)
	}
	s.logger.Info("job scheduled",
		"job", job.Name, "schedule", job.Schedule, "next", timer.Due())
	return nil
}

// runJob spawns one occurrence of a job and watches it to log the
// outcome. Job failures never abort the daemon; the calendar timer
// fires again regardless.
func (s *Supervisor) runJob(job JobConfig) {
	pid, err := s.spawn(job.Command)
	if err != nil {
		s.logger.Error("job spawn failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Info("job started", "job", job.Name, "pid", pid)

	s.loop.Children().Watch(pid, terminalEvents,
		func(pid int, event reactor.ChildEvent, status int) {
			s.logger.Info("job finished",
				"job", job.Name, "pid", pid, "event", event, "status", status)
		})
}

// spawnCommand starts command detached from the runtime's process
// tracking: the reactor reaps through waitid, so nothing else may
// hold a wait handle on the child.
func spawnCommand(command []string) (int, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return 0, fmt.Errorf("releasing process handle for pid %d: %w", pid, err)
	}
	return pid, nil
}
