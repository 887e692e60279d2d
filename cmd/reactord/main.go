// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command reactord supervises the services and scheduled jobs named in
// its configuration file. It restarts services when they die and runs
// jobs on their cron schedules, all from a single reactor loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/reactord/lib/clock"
	"github.com/bureau-foundation/reactord/lib/process"
	"github.com/bureau-foundation/reactord/supervisor"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the configuration file (required)")
	stateDir := flag.String("state-dir", "/var/lib/reactord", "directory for persisted supervisor state")
	flag.Parse()

	if *configPath == "" {
		return errors.New("--config is required")
	}

	level := slog.LevelInfo
	if os.Getenv("REACTOR_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	config, err := supervisor.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*stateDir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	sup, err := supervisor.New(logger, clock.Real(), config, *stateDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	logger.Info("reactord starting",
		"config", *configPath,
		"services", len(config.Services),
		"jobs", len(config.Jobs))

	err = sup.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("reactord shutting down")
		return nil
	}
	return err
}
