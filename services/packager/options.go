// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package packager

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional per-project build configuration file.
const ConfigFileName = "stevedore.yaml"

// Options is the resolved build configuration.
//
// Sources, later overriding earlier: defaults, stevedore.yaml at the project
// root, CLI flags.
type Options struct {
	// ProjectRoot is the directory holding the project manifest.
	ProjectRoot string `yaml:"-"`

	// OutDir receives the deployable unit.
	OutDir string `yaml:"out"`

	// ServerEntry, ManifestEntry and GlueEntry are the generated input
	// modules produced by the compile step that precedes packaging.
	ServerEntry   string `yaml:"server_entry"`
	ManifestEntry string `yaml:"manifest_entry"`
	GlueEntry     string `yaml:"glue_entry"`

	// InstrumentationEntry, when present on disk, is bundled into Pass 1.
	InstrumentationEntry string `yaml:"instrumentation_entry"`

	// ClientAssetsDir and PrerenderedDir are the compiled asset roots.
	ClientAssetsDir string `yaml:"client_assets"`
	PrerenderedDir  string `yaml:"prerendered"`

	// AdapterDepsDir is the adapter-local dependency directory searched
	// during the runtime glue pass.
	AdapterDepsDir string `yaml:"adapter_deps"`

	// TemplatesDir holds deployment templates (launcher scripts, unit
	// files) staged into the output with {{NAME}}/{{VERSION}}/{{ENTRY}}
	// placeholders resolved.
	TemplatesDir string `yaml:"templates"`

	// External is the explicit externalization list. Empty means "use the
	// project's declared production dependencies".
	External []string `yaml:"external"`

	// BundleAll embeds everything except platform built-ins.
	BundleAll bool `yaml:"bundle_all"`

	// Precompress writes .gz/.br variants of staged assets.
	Precompress bool `yaml:"precompress"`
}

// DefaultOptions returns the conventional layout under a project root.
func DefaultOptions(projectRoot string) Options {
	gen := filepath.Join(projectRoot, ".stevedore", "output")
	return Options{
		ProjectRoot:          projectRoot,
		OutDir:               filepath.Join(projectRoot, "build"),
		ServerEntry:          filepath.Join(gen, "server", "index.js"),
		ManifestEntry:        filepath.Join(gen, "server", "manifest.js"),
		GlueEntry:            filepath.Join(gen, "glue", "index.js"),
		InstrumentationEntry: filepath.Join(gen, "server", "instrumentation.server.js"),
		ClientAssetsDir:      filepath.Join(gen, "client"),
		PrerenderedDir:       filepath.Join(gen, "prerendered"),
		TemplatesDir:         filepath.Join(projectRoot, ".stevedore", "templates"),
		Precompress:          true,
	}
}

// LoadOptions resolves defaults plus the optional stevedore.yaml overlay.
func LoadOptions(projectRoot string) (Options, error) {
	opts := DefaultOptions(projectRoot)

	path := filepath.Join(projectRoot, ConfigFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return opts, nil
	}
	if err != nil {
		return opts, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parse %s: %w", path, err)
	}

	// Relative paths in the config file are project-root relative.
	opts.OutDir = absolutize(projectRoot, opts.OutDir)
	opts.ServerEntry = absolutize(projectRoot, opts.ServerEntry)
	opts.ManifestEntry = absolutize(projectRoot, opts.ManifestEntry)
	opts.GlueEntry = absolutize(projectRoot, opts.GlueEntry)
	opts.InstrumentationEntry = absolutize(projectRoot, opts.InstrumentationEntry)
	opts.ClientAssetsDir = absolutize(projectRoot, opts.ClientAssetsDir)
	opts.PrerenderedDir = absolutize(projectRoot, opts.PrerenderedDir)
	opts.AdapterDepsDir = absolutize(projectRoot, opts.AdapterDepsDir)
	opts.TemplatesDir = absolutize(projectRoot, opts.TemplatesDir)
	return opts, nil
}

func absolutize(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
