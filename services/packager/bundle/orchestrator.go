// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/stevedore/services/packager/classify"
)

// Inputs describes everything the two passes consume.
type Inputs struct {
	// ServerEntry is the generated server entry module.
	ServerEntry string

	// ManifestEntry is the generated manifest module.
	ManifestEntry string

	// InstrumentationEntry is an optional instrumentation entry reported by
	// the build collaborator. Empty means none was detected.
	InstrumentationEntry string

	// GlueEntry is the runtime glue entry module.
	GlueEntry string

	// StageDir is the staging directory both passes write under. Removed
	// wholesale on any failure.
	StageDir string

	// AdapterDepsDir is the adapter-local dependency directory searched
	// during Pass 2 module resolution. Empty disables the extra search root.
	AdapterDepsDir string

	// Rules is the compiled externalization rule set shared by both passes.
	Rules *classify.RuleSet

	// Format is the output module format for both passes.
	Format Format
}

// Artifacts reports where the completed passes landed.
type Artifacts struct {
	// ServerDir is Pass 1's output directory (StageDir/server).
	ServerDir string

	// ServerEntry is the written application entry path.
	ServerEntry string

	// GlueEntry is the written runtime glue entry path.
	GlueEntry string

	// GlueRules is the rule set Pass 2 ran with. Retained so callers can
	// verify the superset contract.
	GlueRules *classify.RuleSet
}

// Orchestrator sequences the two bundling passes.
type Orchestrator struct {
	bundler Bundler
	log     *slog.Logger
}

// NewOrchestrator wires an Orchestrator around a Bundler collaborator.
// A nil logger falls back to slog.Default().
func NewOrchestrator(b Bundler, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{bundler: b, log: log}
}

// Run executes Pass 1 then Pass 2.
//
// The passes are strictly sequential: Pass 2's unit is not even constructed
// until Pass 1's result is in hand, because its rule set embeds Pass 1's
// output directory. On any failure the staging directory is removed and a
// PassError wrapping ErrBundling is returned.
func (o *Orchestrator) Run(ctx context.Context, in Inputs) (*Artifacts, error) {
	if in.Rules == nil {
		return nil, fmt.Errorf("%w: nil rule set", ErrBundling)
	}

	serverDir := filepath.Join(in.StageDir, "server")

	pass1 := Unit{
		Name:    "application",
		Entries: map[string]string{"index": in.ServerEntry, "manifest": in.ManifestEntry},
		OutDir:  serverDir,
		Format:  in.Format,
		Rules:   in.Rules,
	}
	if in.InstrumentationEntry != "" {
		pass1.Entries["instrumentation"] = in.InstrumentationEntry
	}

	o.log.Info("bundling application", "entries", len(pass1.Entries), "out", serverDir)
	res1, err := o.runPass(ctx, pass1, in.StageDir)
	if err != nil {
		return nil, err
	}

	glueRules := in.Rules.WithPathPrefix(serverDir)
	pass2 := Unit{
		Name:    "runtime",
		Entries: map[string]string{"index": in.GlueEntry},
		OutDir:  in.StageDir,
		Format:  in.Format,
		Rules:   glueRules,
	}
	if in.AdapterDepsDir != "" {
		pass2.NodePaths = []string{in.AdapterDepsDir}
	}

	o.log.Info("bundling runtime glue", "out", in.StageDir)
	res2, err := o.runPass(ctx, pass2, in.StageDir)
	if err != nil {
		return nil, err
	}

	return &Artifacts{
		ServerDir:   serverDir,
		ServerEntry: res1.EntryPoints["index"],
		GlueEntry:   res2.EntryPoints["index"],
		GlueRules:   glueRules,
	}, nil
}

// runPass invokes the collaborator and enforces the no-partial-output
// contract on failure.
func (o *Orchestrator) runPass(ctx context.Context, u Unit, stageDir string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		o.discard(stageDir)
		return nil, &PassError{Pass: u.Name, Err: err}
	}
	res, err := o.bundler.Bundle(ctx, u)
	if err != nil {
		o.discard(stageDir)
		return nil, &PassError{Pass: u.Name, Err: err}
	}
	return res, nil
}

// discard removes the staging directory so a failed build can never be
// mistaken for a complete deployable unit.
func (o *Orchestrator) discard(stageDir string) {
	if stageDir == "" {
		return
	}
	if err := os.RemoveAll(stageDir); err != nil {
		o.log.Warn("failed to remove staging directory", "dir", stageDir, "error", err)
	}
}
