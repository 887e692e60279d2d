// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs configured services and scheduled jobs on a
// reactor loop.
//
// Each service gets a child watch for its terminal events; when the
// process dies, the death is logged with its classified cause, the
// restart count is persisted, and a one-shot restart timeout is armed.
// Each job gets a calendar timer from its cron expression; when the
// timer fires, the job command is spawned and watched to log its
// completion.
//
// All supervision state changes happen on the loop goroutine, inside
// reactor handlers. The only cross-goroutine input is context
// cancellation.
package supervisor
