// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bureau-foundation/reactord/lib/codec"
)

// State is the supervisor's persisted record, surviving daemon
// restarts so restart counts reflect service history rather than
// daemon uptime.
type State struct {
	// Restarts counts, per service name, how many times the service
	// has died and been rescheduled.
	Restarts map[string]int `cbor:"restarts"`
}

// loadState reads a state file. A missing file is a fresh start, not
// an error.
func loadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &State{Restarts: make(map[string]int)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding state file: %w", err)
	}
	if state.Restarts == nil {
		state.Restarts = make(map[string]int)
	}
	return &state, nil
}

// saveState writes the state file atomically: temporary file in the
// same directory, fsync, rename. Readers never see a partial write.
func saveState(path string, state *State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	// Write, sync, close, rename — in that order. Any failure removes
	// the temporary file and reports the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}
	return nil
}
