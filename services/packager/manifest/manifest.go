// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest reads the source project's package manifest.
//
// The manifest is the single input surface for everything Stevedore needs to
// know about the project being packaged: its name and version (used as
// defaults for the emitted descriptor), its module type, and its declared
// dependencies (the default externalization set and the base layer of the
// descriptor's dependency map).
//
// # Thread Safety
//
// A loaded Manifest is immutable by convention. Callers must not mutate the
// dependency maps after Load returns.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Sentinel errors for manifest loading.
var (
	// ErrNotFound is returned when the project has no package.json.
	ErrNotFound = errors.New("project manifest not found")

	// ErrMalformed is returned when package.json exists but cannot be parsed.
	ErrMalformed = errors.New("project manifest is malformed")
)

// FileName is the manifest file name expected at the project root.
const FileName = "package.json"

// Manifest is the parsed view of a project's package.json.
//
// Only the fields Stevedore consumes are modeled; unknown fields are ignored
// on load and never round-tripped.
type Manifest struct {
	// Name is the project name. May be empty; the descriptor emitter
	// substitutes a fixed default.
	Name string `json:"name"`

	// Version is the project version. May be empty.
	Version string `json:"version"`

	// Type is the module-type marker ("module" or "commonjs").
	Type string `json:"type"`

	// Dependencies are the declared production dependencies (name -> range).
	Dependencies map[string]string `json:"dependencies"`

	// DevDependencies are declared development dependencies. Stevedore only
	// consults these to decide whether optional observability libraries are
	// already referenced by the project.
	DevDependencies map[string]string `json:"devDependencies"`
}

// Load reads and parses the manifest at the given project root.
//
// Inputs:
//
//	projectRoot - Directory containing package.json.
//
// Outputs:
//
//	*Manifest - Parsed manifest. Dependency maps are never nil.
//	error - ErrNotFound if the file is absent, ErrMalformed (wrapped) if it
//	        cannot be parsed.
func Load(projectRoot string) (*Manifest, error) {
	path := filepath.Join(projectRoot, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	if m.DevDependencies == nil {
		m.DevDependencies = map[string]string{}
	}
	return &m, nil
}

// ProductionDeps returns the sorted names of declared production dependencies.
func (m *Manifest) ProductionDeps() []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// References reports whether the project declares the named package in either
// production or development dependencies.
func (m *Manifest) References(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}
