// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package wantlist

import "errors"

// Error taxonomy per spec §7. ParseError and IOError are the stream
// driver's concern (package stream); the engine returns the sentinels
// below (InvariantViolation, ConfigError, MissingFullFlag,
// MissingConnectionEvent), and only ever logs StateWarning-class conditions
// rather than returning them.
var (
	// ErrInvariantViolation marks a condition the protocol should never
	// produce: connection_count going negative, an unknown want_type, or
	// similar. Fatal — indicates a bug in the monitor or in this engine.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConfig marks an invalid Config, detected at construction
	// time (e.g. a zero-length sliding window).
	ErrConfig = errors.New("invalid engine configuration")

	// ErrMissingFullFlag is returned when a wantlist message has no
	// full_want_list flag and AllowEmptyFullWantlist is false.
	ErrMissingFullFlag = errors.New("missing full_want_list flag")

	// ErrMissingConnectionEvent is returned when a message has neither
	// wantlist entries nor a recognizable connection event and
	// AllowEmptyConnectionEvent is false.
	ErrMissingConnectionEvent = errors.New("message has no wantlist entries and no connection event")
)
