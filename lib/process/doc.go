// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. Fatal is the one
// legitimate raw-stderr write in non-CLI code: reporting an error from
// main() before the structured logger exists.
package process
