// Slipmetrics - Slippi Replay Statistics and Match Analytics
// Copyright 2026 Slipmetrics Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/slipmetrics/slipmetrics

package replay

import "fmt"

// DecodeError reports a malformed, truncated, or inconsistent replay.
// Decoding is all-or-nothing, so a DecodeError means no Game was produced.
// The error is fatal for the single file only; batch sweeps log and skip it.
type DecodeError struct {
	// Offset is the byte position where decoding failed.
	Offset int

	// Reason is a short human-readable description.
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("replay decode failed at offset %d: %s", e.Offset, e.Reason)
}

func decodeErrorf(offset int, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
