// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/reactord/lib/cron"
)

// Config describes everything reactord supervises. It is loaded from a
// single yaml file given explicitly on the command line; there are no
// search paths or hidden overrides.
type Config struct {
	// Services are long-running processes kept alive by the
	// supervisor.
	Services []ServiceConfig `yaml:"services"`

	// Jobs are commands run on a cron schedule.
	Jobs []JobConfig `yaml:"jobs"`
}

// ServiceConfig describes one supervised long-running process.
type ServiceConfig struct {
	// Name identifies the service in logs and persisted state. Must
	// be unique across services.
	Name string `yaml:"name"`

	// Command is the argv to spawn, absolute path first.
	Command []string `yaml:"command"`

	// RestartDelaySeconds is how long to wait after the process dies
	// before restarting it. Zero restarts on the next reactor pass.
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`
}

// restartDelay returns the configured delay as a duration.
func (c ServiceConfig) restartDelay() time.Duration {
	return time.Duration(c.RestartDelaySeconds) * time.Second
}

// JobConfig describes one scheduled command.
type JobConfig struct {
	// Name identifies the job in logs. Must be unique across jobs.
	Name string `yaml:"name"`

	// Command is the argv to spawn, absolute path first.
	Command []string `yaml:"command"`

	// Schedule is a standard 5-field cron expression, UTC.
	Schedule string `yaml:"schedule"`
}

// LoadConfig reads and validates a config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Validate checks the config for structural problems: missing or
// duplicate names, empty commands, negative delays, and unparseable
// schedules.
func (c *Config) Validate() error {
	serviceNames := make(map[string]bool, len(c.Services))
	for i, service := range c.Services {
		if service.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
		if serviceNames[service.Name] {
			return fmt.Errorf("service %q: duplicate name", service.Name)
		}
		serviceNames[service.Name] = true

		if len(service.Command) == 0 {
			return fmt.Errorf("service %q: command is required", service.Name)
		}
		if service.RestartDelaySeconds < 0 {
			return fmt.Errorf("service %q: restart_delay_seconds must not be negative", service.Name)
		}
	}

	jobNames := make(map[string]bool, len(c.Jobs))
	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job %d: name is required", i)
		}
		if jobNames[job.Name] {
			return fmt.Errorf("job %q: duplicate name", job.Name)
		}
		jobNames[job.Name] = true

		if len(job.Command) == 0 {
			return fmt.Errorf("job %q: command is required", job.Name)
		}
		if _, err := cron.Parse(job.Schedule); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}

	return nil
}
