// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package packager drives a full build: classify dependencies, run the two
// bundling passes, emit the package descriptor, and stage static assets into
// the deployable unit.
package packager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/stevedore/services/packager/assets"
	"github.com/AleutianAI/stevedore/services/packager/bundle"
	"github.com/AleutianAI/stevedore/services/packager/classify"
	"github.com/AleutianAI/stevedore/services/packager/descriptor"
	"github.com/AleutianAI/stevedore/services/packager/manifest"
)

// Pipeline owns one build configuration and its collaborators.
type Pipeline struct {
	opts    Options
	bundler bundle.Bundler
	log     *slog.Logger
}

// New builds a Pipeline. A nil bundler selects the esbuild collaborator; a
// nil logger falls back to slog.Default().
func New(opts Options, bundler bundle.Bundler, log *slog.Logger) *Pipeline {
	if bundler == nil {
		bundler = bundle.NewEsbuildBundler()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{opts: opts, bundler: bundler, log: log}
}

// Run executes one complete build.
//
// Order matters: classification precedes both passes, the descriptor is only
// emitted after both passes complete, and assets are staged last. Any error
// aborts packaging with nothing a user could mistake for a runnable unit.
func (p *Pipeline) Run(ctx context.Context) error {
	opts := p.opts

	m, err := manifest.Load(opts.ProjectRoot)
	if err != nil {
		return fmt.Errorf("load project manifest: %w", err)
	}

	var user classify.UserRule
	if len(opts.External) > 0 {
		user = classify.ListRule(opts.External)
	}
	rules, err := classify.Compile(classify.Config{
		RuntimeSupport: descriptor.RuntimeSupportNames(),
		Manifest:       m,
		User:           user,
		BundleAll:      opts.BundleAll,
	})
	if err != nil {
		return fmt.Errorf("compile externalization rules: %w", err)
	}
	p.log.Info("classified dependencies", "rules", rules.Len(), "bundle_all", opts.BundleAll)

	if err := assets.Clean(opts.OutDir); err != nil {
		return err
	}

	orch := bundle.NewOrchestrator(p.bundler, p.log)
	art, err := orch.Run(ctx, bundle.Inputs{
		ServerEntry:          opts.ServerEntry,
		ManifestEntry:        opts.ManifestEntry,
		InstrumentationEntry: detectInstrumentation(opts.InstrumentationEntry),
		GlueEntry:            opts.GlueEntry,
		StageDir:             opts.OutDir,
		AdapterDepsDir:       opts.AdapterDepsDir,
		Rules:                rules,
		Format:               bundle.FormatESM,
	})
	if err != nil {
		return err
	}

	entry, err := filepath.Rel(opts.OutDir, art.GlueEntry)
	if err != nil {
		entry = filepath.Base(art.GlueEntry)
	}
	d, err := descriptor.Build(m, entry)
	if err != nil {
		return fmt.Errorf("build descriptor: %w", err)
	}
	if err := descriptor.Write(d, opts.OutDir); err != nil {
		return err
	}
	p.log.Info("emitted descriptor", "name", d.Name, "version", d.Version, "deps", len(d.Dependencies))

	// Deployment templates (launcher scripts, unit files) are staged with
	// their placeholders resolved against this build.
	if err := assets.RenderTree(opts.TemplatesDir, opts.OutDir, map[string]string{
		"NAME":    d.Name,
		"VERSION": d.Version,
		"ENTRY":   entry,
	}); err != nil {
		return fmt.Errorf("stage deployment templates: %w", err)
	}

	clientDir := filepath.Join(opts.OutDir, "client")
	if err := assets.CopyTree(opts.ClientAssetsDir, clientDir); err != nil {
		return fmt.Errorf("stage client assets: %w", err)
	}
	prerenderedDir := filepath.Join(opts.OutDir, "prerendered")
	if err := assets.CopyTree(opts.PrerenderedDir, prerenderedDir); err != nil {
		return fmt.Errorf("stage prerendered pages: %w", err)
	}
	if opts.Precompress {
		if err := assets.Precompress(clientDir); err != nil {
			return fmt.Errorf("precompress client assets: %w", err)
		}
		if err := assets.Precompress(prerenderedDir); err != nil {
			return fmt.Errorf("precompress prerendered pages: %w", err)
		}
	}

	p.log.Info("build complete", "out", opts.OutDir)
	return nil
}

// detectInstrumentation is the collaborator hook for an optional
// instrumentation entry: present on disk means bundle it.
func detectInstrumentation(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
