// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides CBOR encoding and decoding with deterministic
// output. It is the serialization used for persisted daemon state.
//
// Consumers import only this package, never fxamacker/cbor directly,
// so the encoder configuration stays in one place.
package codec
