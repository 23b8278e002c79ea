// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bundle runs the two-pass bundling pipeline.
//
// Bundling itself is delegated to a Bundler collaborator (production builds
// use the esbuild API); this package owns the ordering and failure contract:
//
//	Pass 1 (application)  server entry + manifest module, externals from the
//	                      compiled rule set
//	Pass 2 (runtime glue) glue entry only, externals = Pass 1's rules plus
//	                      Pass 1's output directory
//
// Pass 2 never starts before Pass 1's write completes. If either pass fails
// the staging directory is removed, so a partial tree is never left looking
// like a runnable deployable unit.
package bundle

import (
	"context"
	"errors"
	"fmt"
)

// ErrBundling is the sentinel for a failed bundling pass. No descriptor is
// emitted once it is returned.
var ErrBundling = errors.New("bundling pass failed")

// Format selects the output module format of a pass.
type Format int

const (
	// FormatESM emits a standard ES module graph.
	FormatESM Format = iota

	// FormatCommonJS is accepted for projects that opt out of ESM.
	FormatCommonJS
)

// Unit describes one bundling pass. Created per pass, discarded after the
// pass's write completes.
type Unit struct {
	// Name labels the pass in logs and errors ("application", "runtime").
	Name string

	// Entries maps output entry names to input file paths.
	Entries map[string]string

	// OutDir is the directory the pass writes into.
	OutDir string

	// Format is the output module format.
	Format Format

	// Rules is the compiled externalization rule set for this pass.
	Rules ExternalPolicy

	// NodePaths are additional module resolution roots. Pass 2 uses this so
	// the adapter's own runtime-support libraries resolve even when the
	// target project never installed them.
	NodePaths []string
}

// ExternalPolicy is the slice of the classifier's RuleSet the bundler needs.
type ExternalPolicy interface {
	Matches(ref string) bool
}

// Result reports one completed pass.
type Result struct {
	// EntryPoints maps entry names to their written output paths.
	EntryPoints map[string]string

	// Files lists every file the pass wrote, chunks and source maps included.
	Files []string
}

// Bundler is the external bundling collaborator. Implementations may
// parallelize internally; the orchestrator only observes pass completion.
type Bundler interface {
	Bundle(ctx context.Context, u Unit) (*Result, error)
}

// PassError wraps a collaborator failure with the pass it occurred in.
type PassError struct {
	Pass string
	Err  error
}

// Error implements the error interface.
func (e *PassError) Error() string {
	return fmt.Sprintf("bundle pass %s: %v", e.Pass, e.Err)
}

// Unwrap exposes both the cause and the ErrBundling sentinel.
func (e *PassError) Unwrap() error { return e.Err }

// Is ties PassError into errors.Is(err, ErrBundling).
func (e *PassError) Is(target error) bool { return target == ErrBundling }
