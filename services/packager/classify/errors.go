// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"errors"
	"fmt"
)

// Sentinel errors for rule compilation.
var (
	// ErrMalformedRule is returned when an externalization rule cannot be
	// compiled into a matcher. This is a configuration error and aborts the
	// build before any bundling pass runs.
	ErrMalformedRule = errors.New("malformed externalization rule")

	// ErrUserRule is returned when a user-provided rule function fails.
	// The build never silently degrades to an empty rule set.
	ErrUserRule = errors.New("user externalization rule failed")
)

// RuleError carries the offending pattern alongside the compile failure.
type RuleError struct {
	// Pattern is the rule text that failed to compile.
	Pattern string

	// Reason describes why compilation failed.
	Reason string
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: %s", e.Pattern, e.Reason)
}

// Unwrap ties RuleError into the ErrMalformedRule sentinel.
func (e *RuleError) Unwrap() error { return ErrMalformedRule }
